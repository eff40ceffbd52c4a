package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRegistries = `
registries:
  - ecosystem: cargo
    url: https://github.com/rust-lang/crates.io-index
    hosts: ["crates.io", "*.crates.io"]
    downloads:
      - name: crate-api-download
        path_regex: "^/api/v1/crates/(?P<name>[^/]+)/(?P<version>[^/]+)/download$"
      - name: static-crate
        path_regex: "^/crates/(?P<package>[^/]+)/(?P<file>[^/]+)\\.crate$"
        extract:
          version_from_file_regex: "^[^-]+-(?P<version>.+)$"
  - ecosystem: npm
    url: https://registry.npmjs.org
    hosts: ["registry.npmjs.org", "*.npmjs.org"]
    downloads:
      - name: npm-tarball
        path_regex: "^/(?P<package>[^/@]+)/-/(?P<file>[^/]+)\\.tgz$"
        extract:
          version_from_file_regex: "^[^-]+-(?P<version>.+)$"
      - name: npm-scoped-tarball
        path_regex: "^/(?P<scope>@[^/]+)%2[Ff](?P<name>[^/]+)/-/(?P<file>[^/]+)\\.tgz$"
        extract:
          version_from_file_regex: "^[^-]+-(?P<version>.+)$"
  - ecosystem: gem
    url: https://rubygems.org
    hosts: ["rubygems.org"]
    downloads:
      - name: gem-download
        path_regex: "^/downloads/(?P<file>[^/]+)\\.gem$"
        extract:
          name_version_from_file_regex: "^(?P<name>.+)-(?P<version>[0-9][^-]+)$"
`

func loadTestConfig(t *testing.T) *Config {
	t.Helper()
	config, err := Load("", []byte(testRegistries))
	require.NoError(t, err)
	return config
}

func TestDetector_Detect(t *testing.T) {
	detector := NewDetector(loadTestConfig(t))

	tests := []struct {
		name string
		host string
		path string
		want *Identity
	}{
		{
			name: "crates api download",
			host: "crates.io",
			path: "/api/v1/crates/secp256k1/0.27.0/download",
			want: &Identity{Ecosystem: "cargo", Name: "secp256k1", Version: "0.27.0"},
		},
		{
			name: "static crate with extension",
			host: "static.crates.io",
			path: "/crates/revm/revm-14.0.0.crate",
			want: &Identity{Ecosystem: "cargo", Name: "revm", Version: "14.0.0"},
		},
		{
			name: "npm tarball",
			host: "registry.npmjs.org",
			path: "/lodash/-/lodash-4.17.21.tgz",
			want: &Identity{Ecosystem: "npm", Name: "lodash", Version: "4.17.21"},
		},
		{
			name: "npm scoped tarball",
			host: "registry.npmjs.org",
			path: "/@babel%2Fcore/-/core-7.20.0.tgz",
			want: &Identity{Ecosystem: "npm", Name: "@babel/core", Version: "7.20.0"},
		},
		{
			name: "gem download",
			host: "rubygems.org",
			path: "/downloads/rails-7.1.0.gem",
			want: &Identity{Ecosystem: "gem", Name: "rails", Version: "7.1.0"},
		},
		{
			name: "host with port",
			host: "crates.io:443",
			path: "/api/v1/crates/serde/1.0.200/download",
			want: &Identity{Ecosystem: "cargo", Name: "serde", Version: "1.0.200"},
		},
		{
			name: "unknown host",
			host: "example.com",
			path: "/api/v1/crates/serde/1.0.200/download",
			want: nil,
		},
		{
			name: "metadata request without version",
			host: "registry.npmjs.org",
			path: "/lodash",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detector.Detect(tt.host, tt.path)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestDetector_KnownHost(t *testing.T) {
	detector := NewDetector(loadTestConfig(t))

	assert.True(t, detector.KnownHost("crates.io"))
	assert.True(t, detector.KnownHost("static.crates.io:443"))
	assert.True(t, detector.KnownHost("registry.npmjs.org"))
	assert.False(t, detector.KnownHost("evil-crates.io"))
	assert.False(t, detector.KnownHost("example.com"))
}

func TestConfig_Known(t *testing.T) {
	config := loadTestConfig(t)

	assert.True(t, config.Known("https://github.com/rust-lang/crates.io-index"))
	assert.True(t, config.Known("https://registry.npmjs.org/"))
	assert.False(t, config.Known("https://my-company.example.com/registry"))
}

func TestConfig_DefaultURL(t *testing.T) {
	config := loadTestConfig(t)

	assert.Equal(t, "https://registry.npmjs.org", config.DefaultURL("npm"))
	assert.Empty(t, config.DefaultURL("nuget"))
}

func TestLoad_ExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registries.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testRegistries), 0o644))

	config, err := Load(path, nil)
	require.NoError(t, err)
	assert.Len(t, config.Registries, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestLoad_InvalidPattern(t *testing.T) {
	bad := `
registries:
  - ecosystem: npm
    url: https://registry.npmjs.org
    hosts: ["registry.npmjs.org"]
    downloads:
      - name: broken
        path_regex: "^/(?P<name"
`
	_, err := Load("", []byte(bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid pattern broken")
}
