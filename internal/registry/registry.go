// Package registry describes the package registries denygate recognizes:
// their canonical URLs, the hosts they serve downloads from, and how to read
// a package identity out of a download request.
package registry

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Identity is a package pinned to an ecosystem, name and version
type Identity struct {
	Ecosystem string `json:"ecosystem"`
	Name      string `json:"name"`
	Version   string `json:"version"`
}

func (id Identity) String() string {
	return id.Ecosystem + ":" + id.Name + "@" + id.Version
}

// Config holds all registry definitions
type Config struct {
	Registries []Definition `yaml:"registries"`
}

// Definition describes one registry
type Definition struct {
	Ecosystem string `yaml:"ecosystem"`
	// URL is the canonical registry URL used when classifying dependency
	// origins and matching policy allow lists.
	URL       string            `yaml:"url"`
	Hosts     []string          `yaml:"hosts"`
	Downloads []DownloadPattern `yaml:"downloads"`
}

// DownloadPattern matches one download request shape
type DownloadPattern struct {
	Name      string     `yaml:"name"`
	PathRegex string     `yaml:"path_regex"`
	Extract   Extraction `yaml:"extract"`

	compiled *regexp.Regexp
}

// Extraction describes how to pull name and version out of a matched request
// when the path groups alone do not carry them
type Extraction struct {
	VersionFromFileRegex     string `yaml:"version_from_file_regex"`
	NameVersionFromFileRegex string `yaml:"name_version_from_file_regex"`

	versionRegex     *regexp.Regexp
	nameVersionRegex *regexp.Regexp
}

// Load reads the registry configuration with a 3-level fallback:
// an explicit path, then ~/.denygate/registries.yaml, then the embedded
// default passed as defaultData.
func Load(path string, defaultData []byte) (*Config, error) {
	data, err := resolveData(path, defaultData)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, "failed to parse registry configuration")
	}
	if err := config.compile(); err != nil {
		return nil, err
	}
	return &config, nil
}

func resolveData(path string, defaultData []byte) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read registry configuration %s", path)
		}
		return data, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		homeConfig := filepath.Join(home, ".denygate", "registries.yaml")
		if data, err := os.ReadFile(homeConfig); err == nil {
			return data, nil
		}
	}

	return defaultData, nil
}

func (c *Config) compile() error {
	for i := range c.Registries {
		reg := &c.Registries[i]
		for j := range reg.Downloads {
			pattern := &reg.Downloads[j]
			compiled, err := regexp.Compile(pattern.PathRegex)
			if err != nil {
				return errors.Wrapf(err, "registry %s: invalid pattern %s", reg.Ecosystem, pattern.Name)
			}
			pattern.compiled = compiled

			if expr := pattern.Extract.VersionFromFileRegex; expr != "" {
				if pattern.Extract.versionRegex, err = regexp.Compile(expr); err != nil {
					return errors.Wrapf(err, "registry %s: invalid version regex in %s", reg.Ecosystem, pattern.Name)
				}
			}
			if expr := pattern.Extract.NameVersionFromFileRegex; expr != "" {
				if pattern.Extract.nameVersionRegex, err = regexp.Compile(expr); err != nil {
					return errors.Wrapf(err, "registry %s: invalid name-version regex in %s", reg.Ecosystem, pattern.Name)
				}
			}
		}
	}
	return nil
}

// Known reports whether the given URL is the canonical URL of a configured
// registry. Comparison ignores a trailing slash.
func (c *Config) Known(url string) bool {
	url = strings.TrimSuffix(url, "/")
	for _, reg := range c.Registries {
		if strings.TrimSuffix(reg.URL, "/") == url {
			return true
		}
	}
	return false
}

// DefaultURL returns the canonical registry URL for an ecosystem, or empty
// when the ecosystem is not configured
func (c *Config) DefaultURL(ecosystem string) string {
	for _, reg := range c.Registries {
		if reg.Ecosystem == ecosystem {
			return reg.URL
		}
	}
	return ""
}
