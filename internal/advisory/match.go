package advisory

import (
	"github.com/Masterminds/semver/v3"
)

// Matches reports whether the affected entry covers the given version. An
// entry with neither ranges nor an explicit version list covers every
// version, per the OSV convention.
func (a *Affected) Matches(version string) bool {
	for _, v := range a.Versions {
		if v == version {
			return true
		}
	}

	if len(a.Ranges) == 0 {
		return len(a.Versions) == 0
	}

	parsed, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	for _, r := range a.Ranges {
		if r.Type != "SEMVER" && r.Type != "ECOSYSTEM" {
			continue
		}
		if rangeMatches(r.Events, parsed) {
			return true
		}
	}
	return false
}

// rangeMatches walks the sorted event list, toggling the affected state as
// the version passes introduced, fixed and last_affected boundaries
func rangeMatches(events []Event, version *semver.Version) bool {
	affected := false
	for _, event := range events {
		switch {
		case event.Introduced != "":
			if introduced, err := semver.NewVersion(event.Introduced); err == nil && !version.LessThan(introduced) {
				affected = true
			}
		case event.Fixed != "":
			if fixed, err := semver.NewVersion(event.Fixed); err == nil && !version.LessThan(fixed) {
				affected = false
			}
		case event.LastAffected != "":
			if last, err := semver.NewVersion(event.LastAffected); err == nil && version.GreaterThan(last) {
				affected = false
			}
		}
	}
	return affected
}
