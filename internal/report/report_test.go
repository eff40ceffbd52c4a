package report

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Pirikara/denygate/internal/audit"
	"github.com/Pirikara/denygate/internal/policy"
)

func sampleReport() *audit.Report {
	return &audit.Report{
		RunID:       "6f1b2c3d-0000-0000-0000-000000000000",
		GeneratedAt: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC),
		Records:     42,
		Violations: []audit.Violation{
			{
				Check:    audit.CheckLicense,
				Code:     audit.CodeLicenseDisallowed,
				Severity: policy.ActionDeny,
				Package:  "copyleft@1.0.0",
				Message:  `license "GPL-3.0-only" of copyleft@1.0.0 is not allowed (rejected: GPL-3.0-only)`,
			},
			{
				Check:    audit.CheckBan,
				Code:     audit.CodeBanDuplicate,
				Severity: policy.ActionWarn,
				Package:  "syn",
				Message:  "found 2 versions of syn: 1.0.109, 2.0.77",
				Versions: []string{"1.0.109", "2.0.77"},
			},
		},
		Verdict: audit.VerdictFail,
	}
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, sampleReport()))

	out := buf.String()
	assert.Contains(t, out, "audited 42 dependencies")
	assert.Contains(t, out, "copyleft@1.0.0")
	assert.Contains(t, out, "GPL-3.0-only")
	assert.Contains(t, out, "found 2 versions of syn")
	assert.Contains(t, out, "verdict: ")
	assert.Contains(t, out, "fail")
	assert.Contains(t, out, "(1 deny, 1 warn, 0 notice)")
}

func TestWriteText_ConfigWarnings(t *testing.T) {
	report := &audit.Report{
		Records:        3,
		Verdict:        audit.VerdictPass,
		ConfigWarnings: []string{"licenses.exceptions names gone, which is not in the inventory"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, report))

	out := buf.String()
	assert.Contains(t, out, "policy warning: licenses.exceptions names gone")
	assert.Contains(t, out, "pass")
}

func TestWriteText_NoFindings(t *testing.T) {
	report := &audit.Report{Records: 7, Verdict: audit.VerdictPass}

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, report))

	out := buf.String()
	assert.Contains(t, out, "audited 7 dependencies")
	assert.Contains(t, out, "pass")
	assert.NotContains(t, out, "SEVERITY")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleReport()))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, "fail", decoded["verdict"])
	assert.Equal(t, float64(42), decoded["records"])
	violations, ok := decoded["violations"].([]any)
	require.True(t, ok)
	require.Len(t, violations, 2)
	first, ok := violations[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "license-disallowed", first["code"])
	assert.Equal(t, "deny", first["severity"])
}
