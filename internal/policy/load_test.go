package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullPolicy = `
[advisories]
vulnerability = "deny"
unmaintained = "warn"
unsound = "warn"
yanked = "warn"
notice = "warn"
ignore = ["RUSTSEC-2020-0071"]

[bans]
multiple-versions = "warn"
wildcards = "allow"
highlight = "all"
deny = ["openssl"]
skip = ["winapi"]
skip-tree = ["criterion"]

[licenses]
unlicensed = "deny"
confidence-threshold = 0.93
allow = ["MIT", "Apache-2.0"]
exceptions = [
    { name = "secp256k1", allow = ["CC0-1.0"] },
]

[[licenses.clarify]]
name = "ring"
expression = "MIT AND ISC AND OpenSSL"
license-files = [
    { path = "LICENSE", hash = "deadbeef" },
]

[sources]
unknown-registry = "deny"
unknown-git = "deny"
allow-git = ["https://github.com/paritytech/frontier"]
allow-registry = ["https://example.com/registry"]
`

func TestParse_FullDocument(t *testing.T) {
	doc, err := Parse([]byte(fullPolicy))
	require.NoError(t, err)

	assert.Equal(t, ActionDeny, doc.Advisories.Vulnerability)
	assert.Equal(t, ActionWarn, doc.Advisories.Yanked)
	assert.True(t, doc.Advisories.IsIgnored("RUSTSEC-2020-0071"))
	assert.False(t, doc.Advisories.IsIgnored("RUSTSEC-2024-0001"))

	assert.Equal(t, ActionWarn, doc.Bans.MultipleVersions)
	assert.Equal(t, ActionAllow, doc.Bans.Wildcards)
	assert.Equal(t, HighlightAll, doc.Bans.Highlight)
	assert.True(t, doc.Bans.IsDenied("openssl"))
	assert.True(t, doc.Bans.IsSkipped("winapi"))
	assert.True(t, doc.Bans.IsSkipTreeRoot("criterion"))

	assert.InDelta(t, 0.93, doc.Licenses.ConfidenceThreshold, 1e-9)
	assert.True(t, doc.Licenses.Allows("MIT"))
	assert.False(t, doc.Licenses.Allows("CC0-1.0"))
	assert.True(t, doc.Licenses.AllowsFor("secp256k1", "CC0-1.0"))
	assert.False(t, doc.Licenses.AllowsFor("other-pkg", "CC0-1.0"))

	clar := doc.Licenses.ClarificationFor("ring")
	require.NotNil(t, clar)
	assert.Equal(t, "MIT AND ISC AND OpenSSL", clar.Expression)
	require.Len(t, clar.LicenseFiles, 1)
	assert.Equal(t, "deadbeef", clar.LicenseFiles[0].Hash)

	assert.Equal(t, ActionDeny, doc.Sources.UnknownGit)
	assert.True(t, doc.Sources.AllowsGit("https://github.com/paritytech/frontier"))
	assert.False(t, doc.Sources.AllowsGit("https://github.com/paritytech/frontier/"))
	assert.True(t, doc.Sources.AllowsRegistry("https://example.com/registry"))
}

func TestParse_DefaultsWhenOmitted(t *testing.T) {
	doc, err := Parse([]byte(`
[licenses]
allow = ["MIT"]
`))
	require.NoError(t, err)

	assert.Equal(t, ActionDeny, doc.Advisories.Vulnerability)
	assert.Equal(t, ActionWarn, doc.Advisories.Unmaintained)
	assert.Equal(t, ActionWarn, doc.Bans.MultipleVersions)
	assert.Equal(t, ActionAllow, doc.Bans.Wildcards)
	assert.Equal(t, HighlightAll, doc.Bans.Highlight)
	assert.Equal(t, ActionDeny, doc.Licenses.Unlicensed)
	assert.InDelta(t, 0.8, doc.Licenses.ConfidenceThreshold, 1e-9)
	assert.Equal(t, ActionWarn, doc.Sources.UnknownRegistry)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{
			name:    "unknown top-level section",
			input:   "[notasection]\nfoo = 1\n",
			wantMsg: "unknown key",
		},
		{
			name:    "typoed key in recognized section",
			input:   "[bans]\nmultiple-version = \"warn\"\n",
			wantMsg: "unknown key",
		},
		{
			name:    "threshold above range",
			input:   "[licenses]\nconfidence-threshold = 1.5\n",
			wantMsg: "outside the range",
		},
		{
			name:    "threshold below range",
			input:   "[licenses]\nconfidence-threshold = -0.1\n",
			wantMsg: "outside the range",
		},
		{
			name:    "invalid action level",
			input:   "[advisories]\nvulnerability = \"block\"\n",
			wantMsg: "is not one of",
		},
		{
			name:    "invalid highlight mode",
			input:   "[bans]\nhighlight = \"oldest\"\n",
			wantMsg: "is not one of",
		},
		{
			name:    "malformed document",
			input:   "[licenses\nallow = []",
			wantMsg: "",
		},
		{
			name: "duplicate clarification",
			input: `
[[licenses.clarify]]
name = "ring"
expression = "MIT"
license-files = [{ path = "LICENSE", hash = "ab12" }]

[[licenses.clarify]]
name = "ring"
expression = "ISC"
license-files = [{ path = "LICENSE", hash = "cd34" }]
`,
			wantMsg: "duplicate entry",
		},
		{
			name: "clarification without license files",
			input: `
[[licenses.clarify]]
name = "ring"
expression = "MIT"
`,
			wantMsg: "required",
		},
		{
			name: "non-hex clarification hash",
			input: `
[[licenses.clarify]]
name = "ring"
expression = "MIT"
license-files = [{ path = "LICENSE", hash = "not hex!" }]
`,
			wantMsg: "hex",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			require.Error(t, err)
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestParse_UnknownKeyPosition(t *testing.T) {
	_, err := Parse([]byte("[bans]\nmultiple-version = \"warn\"\n"))
	require.Error(t, err)

	loadErr, ok := err.(*LoadError)
	require.True(t, ok, "expected *LoadError, got %T", err)
	assert.Equal(t, 2, loadErr.Line)
}

func TestParse_ExceptionsMerge(t *testing.T) {
	doc, err := Parse([]byte(`
[licenses]
exceptions = [
    { name = "secp256k1", allow = ["CC0-1.0"] },
    { name = "secp256k1", allow = ["Unlicense"] },
]
`))
	require.NoError(t, err)

	assert.True(t, doc.Licenses.AllowsFor("secp256k1", "CC0-1.0"))
	assert.True(t, doc.Licenses.AllowsFor("secp256k1", "Unlicense"))
	assert.True(t, doc.Licenses.HasExceptionFor("secp256k1"))
	assert.False(t, doc.Licenses.HasExceptionFor("ring"))
}

func TestActionLevel_Rank(t *testing.T) {
	ordered := []ActionLevel{ActionIgnore, ActionAllow, ActionNotice, ActionWarn, ActionDeny}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Fatalf("expected %s to rank above %s", ordered[i], ordered[i-1])
		}
	}
}
