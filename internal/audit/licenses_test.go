package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pirikara/denygate/internal/inventory"
	"github.com/Pirikara/denygate/internal/policy"
)

func TestOrBranches(t *testing.T) {
	tests := []struct {
		expression string
		want       [][]string
	}{
		{"MIT", [][]string{{"MIT"}}},
		{"MIT OR Apache-2.0", [][]string{{"MIT"}, {"Apache-2.0"}}},
		{"MIT AND BSD-3-Clause", [][]string{{"MIT", "BSD-3-Clause"}}},
		{
			"(MIT OR Apache-2.0) AND Unicode-DFS-2016",
			[][]string{{"MIT", "Unicode-DFS-2016"}, {"Apache-2.0", "Unicode-DFS-2016"}},
		},
		{
			"MIT OR Apache-2.0 WITH LLVM-exception",
			[][]string{{"MIT"}, {"Apache-2.0 WITH LLVM-exception"}},
		},
		{
			"BSD-3-Clause AND (MIT OR GPL-2.0-only)",
			[][]string{{"BSD-3-Clause", "MIT"}, {"BSD-3-Clause", "GPL-2.0-only"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.expression, func(t *testing.T) {
			got, err := orBranches(tt.expression)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrBranches_Malformed(t *testing.T) {
	for _, expression := range []string{"", "MIT OR", "(MIT", "MIT)", "OR MIT", "MIT WITH", "AND"} {
		t.Run(expression, func(t *testing.T) {
			_, err := orBranches(expression)
			assert.Error(t, err)
		})
	}
}

func licenseAuditor(t *testing.T, doc string) *Auditor {
	t.Helper()
	parsed, err := policy.Parse([]byte(doc))
	require.NoError(t, err)
	return &Auditor{Policy: parsed}
}

func TestCheckLicenses_AcceptedBranch(t *testing.T) {
	auditor := licenseAuditor(t, `
[licenses]
allow = ["Apache-2.0"]
`)
	record := inventory.Record{
		Name: "alloy-rlp", Version: "0.3.0",
		License: inventory.License{Expression: "MIT OR Apache-2.0", Confidence: 0.95},
	}

	assert.Empty(t, auditor.checkLicenses(&record))
}

func TestCheckLicenses_ConjunctionNeedsAllIDs(t *testing.T) {
	auditor := licenseAuditor(t, `
[licenses]
allow = ["MIT"]
`)
	record := inventory.Record{
		Name: "ring", Version: "0.17.0",
		License: inventory.License{Expression: "MIT AND OpenSSL", Confidence: 1.0},
	}

	violations := auditor.checkLicenses(&record)
	require.Len(t, violations, 1)
	assert.Equal(t, CodeLicenseDisallowed, violations[0].Code)
	assert.Equal(t, policy.ActionDeny, violations[0].Severity)
	assert.Contains(t, violations[0].Message, "OpenSSL")
	assert.NotContains(t, violations[0].Message, "rejected: MIT")
}

func TestCheckLicenses_Disallowed(t *testing.T) {
	auditor := licenseAuditor(t, `
[licenses]
allow = ["MIT", "Apache-2.0"]
`)
	record := inventory.Record{
		Name: "copyleft", Version: "1.0.0",
		License: inventory.License{Expression: "GPL-3.0-only", Confidence: 1.0},
	}

	violations := auditor.checkLicenses(&record)
	require.Len(t, violations, 1)
	assert.Equal(t, CheckLicense, violations[0].Check)
	assert.Equal(t, policy.ActionDeny, violations[0].Severity)
}

func TestCheckLicenses_ExceptionIsPerPackage(t *testing.T) {
	auditor := licenseAuditor(t, `
[licenses]
allow = ["MIT"]

[[licenses.exceptions]]
name = "secp256k1"
allow = ["CC0-1.0"]
`)

	excepted := inventory.Record{
		Name: "secp256k1", Version: "0.27.0",
		License: inventory.License{Expression: "CC0-1.0", Confidence: 1.0},
	}
	assert.Empty(t, auditor.checkLicenses(&excepted))

	other := inventory.Record{
		Name: "other-crate", Version: "1.0.0",
		License: inventory.License{Expression: "CC0-1.0", Confidence: 1.0},
	}
	violations := auditor.checkLicenses(&other)
	require.Len(t, violations, 1)
	assert.Equal(t, CodeLicenseDisallowed, violations[0].Code)
}

func TestCheckLicenses_Unresolved(t *testing.T) {
	auditor := licenseAuditor(t, `
[licenses]
unlicensed = "deny"
confidence-threshold = 0.8
allow = ["MIT"]
`)

	t.Run("empty expression", func(t *testing.T) {
		record := inventory.Record{Name: "mystery", Version: "1.0.0"}
		violations := auditor.checkLicenses(&record)
		require.Len(t, violations, 1)
		assert.Equal(t, CodeLicenseUnresolved, violations[0].Code)
		assert.Equal(t, policy.ActionDeny, violations[0].Severity)
	})

	t.Run("below confidence threshold", func(t *testing.T) {
		record := inventory.Record{
			Name: "fuzzy", Version: "1.0.0",
			License: inventory.License{Expression: "MIT", Confidence: 0.5},
		}
		violations := auditor.checkLicenses(&record)
		require.Len(t, violations, 1)
		assert.Equal(t, CodeLicenseUnresolved, violations[0].Code)
		assert.Contains(t, violations[0].Message, "confidence threshold")
	})

	t.Run("at threshold passes", func(t *testing.T) {
		record := inventory.Record{
			Name: "exact", Version: "1.0.0",
			License: inventory.License{Expression: "MIT", Confidence: 0.8},
		}
		assert.Empty(t, auditor.checkLicenses(&record))
	})

	t.Run("unparseable expression is unresolved", func(t *testing.T) {
		record := inventory.Record{
			Name: "broken", Version: "1.0.0",
			License: inventory.License{Expression: "MIT OR", Confidence: 1.0},
		}
		violations := auditor.checkLicenses(&record)
		require.Len(t, violations, 1)
		assert.Equal(t, CodeLicenseUnresolved, violations[0].Code)
	})
}

func TestCheckLicenses_UnresolvedLevelConfigurable(t *testing.T) {
	auditor := licenseAuditor(t, `
[licenses]
unlicensed = "warn"
allow = ["MIT"]
`)
	record := inventory.Record{Name: "mystery", Version: "1.0.0"}
	violations := auditor.checkLicenses(&record)
	require.Len(t, violations, 1)
	assert.Equal(t, policy.ActionWarn, violations[0].Severity)

	silent := licenseAuditor(t, `
[licenses]
unlicensed = "allow"
allow = ["MIT"]
`)
	assert.Empty(t, silent.checkLicenses(&record))
}

const clarifyPolicy = `
[licenses]
allow = ["ISC"]

[[licenses.clarify]]
name = "ring"
expression = "ISC"
license-files = [
    { path = "LICENSE", hash = "4a5ce5cd" },
]
`

func TestCheckLicenses_ClarificationApplies(t *testing.T) {
	auditor := licenseAuditor(t, clarifyPolicy)

	record := inventory.Record{
		Name: "ring", Version: "0.17.0",
		// detection came back with something unusable
		License:      inventory.License{Expression: "", Confidence: 0},
		LicenseFiles: []inventory.FileDigest{{Path: "LICENSE", SHA256: "4A5CE5CD"}},
	}

	assert.Empty(t, auditor.checkLicenses(&record))
}

func TestCheckLicenses_ClarificationStale(t *testing.T) {
	auditor := licenseAuditor(t, clarifyPolicy)

	t.Run("hash mismatch", func(t *testing.T) {
		record := inventory.Record{
			Name: "ring", Version: "0.17.0",
			License:      inventory.License{Expression: "ISC", Confidence: 1.0},
			LicenseFiles: []inventory.FileDigest{{Path: "LICENSE", SHA256: "deadbeef"}},
		}
		violations := auditor.checkLicenses(&record)
		require.Len(t, violations, 1)
		assert.Equal(t, CodeLicenseClarificationStale, violations[0].Code)
		assert.Equal(t, policy.ActionDeny, violations[0].Severity)
	})

	t.Run("file missing", func(t *testing.T) {
		record := inventory.Record{
			Name: "ring", Version: "0.17.0",
			License: inventory.License{Expression: "ISC", Confidence: 1.0},
		}
		violations := auditor.checkLicenses(&record)
		require.Len(t, violations, 1)
		assert.Equal(t, CodeLicenseClarificationStale, violations[0].Code)
	})
}
