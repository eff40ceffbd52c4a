package audit

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/Pirikara/denygate/internal/advisory"
	"github.com/Pirikara/denygate/internal/inventory"
	"github.com/Pirikara/denygate/internal/policy"
)

// AdvisoryLookup answers which advisories affect a package version.
// *advisory.Store implements it.
type AdvisoryLookup interface {
	Lookup(ecosystem, name, version string) ([]*advisory.OSV, error)
}

// checkAdvisories evaluates yanked releases and everything the advisory
// store knows about the record. A nil store limits the check to yanked
// releases.
func (a *Auditor) checkAdvisories(record *inventory.Record) ([]Violation, error) {
	advisories := &a.Policy.Advisories
	var violations []Violation

	if record.Yanked {
		v := newViolation(CheckAdvisory, CodeAdvisoryYanked, advisories.Yanked, record.ID(),
			fmt.Sprintf("%s has been yanked from its registry", record.ID()))
		if v != nil {
			violations = append(violations, *v)
		}
	}

	if a.Advisories == nil {
		return violations, nil
	}

	matches, err := a.Advisories.Lookup(record.Ecosystem, record.Name, record.Version)
	if err != nil {
		return nil, errors.Wrapf(err, "advisory lookup for %s failed", record.ID())
	}

	for _, osv := range matches {
		if ignoredAdvisory(advisories, osv) {
			continue
		}

		severity, code := advisoryAction(advisories, osv.Category())
		message := osv.ID
		if osv.Summary != "" {
			message += ": " + osv.Summary
		}
		if score, _, ok := osv.CVSS(); ok {
			message += fmt.Sprintf(" (CVSS %.1f)", score)
		}

		v := newViolation(CheckAdvisory, code, severity, record.ID(), message)
		if v == nil {
			continue
		}
		v.Advisory = osv.ID
		violations = append(violations, *v)
	}

	return violations, nil
}

// ignoredAdvisory honors the ignore list against the advisory ID and all of
// its aliases
func ignoredAdvisory(advisories *policy.AdvisoryPolicy, osv *advisory.OSV) bool {
	if advisories.IsIgnored(osv.ID) {
		return true
	}
	for _, alias := range osv.Aliases {
		if advisories.IsIgnored(alias) {
			return true
		}
	}
	return false
}

func advisoryAction(advisories *policy.AdvisoryPolicy, category advisory.Category) (policy.ActionLevel, string) {
	switch category {
	case advisory.CategoryUnmaintained:
		return advisories.Unmaintained, CodeAdvisoryUnmaintained
	case advisory.CategoryUnsound:
		return advisories.Unsound, CodeAdvisoryUnsound
	case advisory.CategoryNotice:
		return advisories.Notice, CodeAdvisoryNotice
	default:
		return advisories.Vulnerability, CodeAdvisoryVulnerability
	}
}
