// Package audit evaluates a dependency inventory against a policy document
// and produces the violations and verdict of the run.
package audit

import (
	"sort"
	"time"

	"github.com/Pirikara/denygate/internal/policy"
)

// CheckKind names the four evaluation areas
type CheckKind string

const (
	CheckLicense  CheckKind = "license"
	CheckBan      CheckKind = "ban"
	CheckAdvisory CheckKind = "advisory"
	CheckSource   CheckKind = "source"
)

// Violation codes, stable across runs so consumers can filter on them
const (
	CodeLicenseDisallowed         = "license-disallowed"
	CodeLicenseUnresolved         = "license-unresolved"
	CodeLicenseClarificationStale = "license-clarification-stale"

	CodeBanDenied    = "ban-denied"
	CodeBanDuplicate = "ban-duplicate-versions"
	CodeBanWildcard  = "ban-wildcard-requirement"

	CodeAdvisoryVulnerability = "advisory-vulnerability"
	CodeAdvisoryUnmaintained  = "advisory-unmaintained"
	CodeAdvisoryUnsound       = "advisory-unsound"
	CodeAdvisoryNotice        = "advisory-notice"
	CodeAdvisoryYanked        = "advisory-yanked"

	CodeSourceUnknownRegistry = "source-unknown-registry"
	CodeSourceUnknownGit      = "source-unknown-git"
)

// Violation is one policy finding against one package (or one package name,
// for duplicate version findings)
type Violation struct {
	Check    CheckKind          `json:"check"`
	Code     string             `json:"code"`
	Severity policy.ActionLevel `json:"severity"`
	Package  string             `json:"package"`
	Message  string             `json:"message"`

	Advisory    string   `json:"advisory,omitempty"`
	Versions    []string `json:"versions,omitempty"`
	Highlighted string   `json:"highlighted,omitempty"`
}

// Verdict is the overall outcome of a run
type Verdict string

const (
	VerdictPass             Verdict = "pass"
	VerdictPassWithWarnings Verdict = "pass-with-warnings"
	VerdictFail             Verdict = "fail"
)

// Report is the complete result of one audit run
type Report struct {
	RunID       string      `json:"run_id"`
	GeneratedAt time.Time   `json:"generated_at"`
	Records     int         `json:"records"`
	Violations  []Violation `json:"violations"`
	Verdict     Verdict     `json:"verdict"`

	// ConfigWarnings lists policy entries that reference packages absent
	// from the inventory. They never affect the verdict.
	ConfigWarnings []string `json:"config_warnings,omitempty"`
}

// newViolation builds a violation at the given severity, or returns nil when
// the severity never surfaces in a report
func newViolation(check CheckKind, code string, severity policy.ActionLevel, pkg, message string) *Violation {
	switch severity {
	case policy.ActionIgnore, policy.ActionAllow:
		return nil
	}
	return &Violation{Check: check, Code: code, Severity: severity, Package: pkg, Message: message}
}

// finalize orders the violations deterministically and derives the verdict.
// Two runs over the same inputs produce identical violation lists.
func (r *Report) finalize() {
	sort.Slice(r.Violations, func(i, j int) bool {
		a, b := &r.Violations[i], &r.Violations[j]
		if a.Package != b.Package {
			return a.Package < b.Package
		}
		if a.Check != b.Check {
			return a.Check < b.Check
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.Advisory != b.Advisory {
			return a.Advisory < b.Advisory
		}
		return a.Message < b.Message
	})

	r.Verdict = VerdictPass
	for i := range r.Violations {
		switch r.Violations[i].Severity {
		case policy.ActionDeny:
			r.Verdict = VerdictFail
			return
		case policy.ActionWarn:
			r.Verdict = VerdictPassWithWarnings
		}
	}
}

// Count returns how many violations carry the given severity
func (r *Report) Count(severity policy.ActionLevel) int {
	n := 0
	for i := range r.Violations {
		if r.Violations[i].Severity == severity {
			n++
		}
	}
	return n
}
