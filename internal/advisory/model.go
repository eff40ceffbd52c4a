// Package advisory stores security advisories in OSV format and answers
// lookups by package and version.
package advisory

import (
	"strings"
	"time"

	gocvss30 "github.com/pandatix/go-cvss/30"
	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"
)

// Category classifies what kind of problem an advisory reports
type Category string

const (
	CategoryVulnerability Category = "vulnerability"
	CategoryUnmaintained  Category = "unmaintained"
	CategoryUnsound       Category = "unsound"
	CategoryNotice        Category = "notice"
)

// Package identifies the affected package inside an advisory
type Package struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
	Purl      string `json:"purl,omitempty"`
}

// Event is one point in an affected version range
type Event struct {
	Introduced   string `json:"introduced,omitempty"`
	Fixed        string `json:"fixed,omitempty"`
	LastAffected string `json:"last_affected,omitempty"`
}

// Range is an affected version range
type Range struct {
	Type   string  `json:"type"`
	Repo   string  `json:"repo,omitempty"`
	Events []Event `json:"events"`
}

// Affected binds a package to the version ranges an advisory covers
type Affected struct {
	Package          Package        `json:"package"`
	Ranges           []Range        `json:"ranges,omitempty"`
	Versions         []string       `json:"versions,omitempty"`
	DatabaseSpecific map[string]any `json:"database_specific,omitempty"`
}

// Severity is a scoring entry attached to an advisory
type Severity struct {
	Type  string `json:"type"`
	Score string `json:"score"`
}

// OSV is an advisory document in OSV schema form
type OSV struct {
	ID               string         `json:"id"`
	Summary          string         `json:"summary"`
	Details          string         `json:"details,omitempty"`
	Modified         time.Time      `json:"modified"`
	Published        time.Time      `json:"published"`
	Withdrawn        *time.Time     `json:"withdrawn,omitempty"`
	Aliases          []string       `json:"aliases,omitempty"`
	Related          []string       `json:"related,omitempty"`
	Affected         []Affected     `json:"affected"`
	Severity         []Severity     `json:"severity,omitempty"`
	DatabaseSpecific map[string]any `json:"database_specific,omitempty"`
	SchemaVersion    string         `json:"schema_version,omitempty"`
}

// Category derives the advisory kind from the database_specific informational
// marker. Advisories without a marker report vulnerabilities.
func (osv *OSV) Category() Category {
	if osv.DatabaseSpecific != nil {
		switch osv.DatabaseSpecific["informational"] {
		case "unmaintained":
			return CategoryUnmaintained
		case "unsound":
			return CategoryUnsound
		case "notice":
			return CategoryNotice
		}
	}
	return CategoryVulnerability
}

// CVSS returns the advisory's CVSS base score and vector when a parseable
// severity entry is present
func (osv *OSV) CVSS() (float64, string, bool) {
	for _, severity := range osv.Severity {
		switch severity.Type {
		case "CVSS_V3":
			if vector, err := gocvss31.ParseVector(severity.Score); err == nil {
				return vector.BaseScore(), vector.Vector(), true
			}
			if vector, err := gocvss30.ParseVector(severity.Score); err == nil {
				return vector.BaseScore(), vector.Vector(), true
			}
		case "CVSS_V4":
			if vector, err := gocvss40.ParseVector(severity.Score); err == nil {
				return vector.Score(), vector.Vector(), true
			}
		}
	}
	return 0, "", false
}

// AssociatedCVEs collects CVE identifiers the advisory is known under
func (osv *OSV) AssociatedCVEs() []string {
	cves := make([]string, 0)
	if strings.HasPrefix(osv.ID, "CVE-") {
		cves = append(cves, osv.ID)
	}
	for _, alias := range osv.Aliases {
		if strings.HasPrefix(alias, "CVE-") {
			cves = append(cves, alias)
		}
	}
	for _, related := range osv.Related {
		if strings.HasPrefix(related, "CVE-") {
			cves = append(cves, related)
		}
	}
	return cves
}

// purl types on the left, OSV ecosystem names on the right
var osvEcosystems = map[string]string{
	"cargo":    "crates.io",
	"npm":      "npm",
	"pypi":     "PyPI",
	"gem":      "RubyGems",
	"golang":   "Go",
	"maven":    "Maven",
	"nuget":    "NuGet",
	"composer": "Packagist",
}

// OSVEcosystem maps a package URL type to the ecosystem name the OSV
// database uses. Unmapped values pass through unchanged so callers may also
// hand in OSV names directly.
func OSVEcosystem(purlType string) string {
	if eco, ok := osvEcosystems[purlType]; ok {
		return eco
	}
	return purlType
}
