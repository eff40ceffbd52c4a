package audit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/Pirikara/denygate/internal/inventory"
	"github.com/Pirikara/denygate/internal/policy"
)

// checkDenied reports a record on the explicit deny list. A denied package
// overrides every other allowance, so callers skip the remaining checks for
// it. Duplicate version detection runs over the whole inventory in
// checkDuplicates.
func (a *Auditor) checkDenied(record *inventory.Record) *Violation {
	if !a.Policy.Bans.IsDenied(record.Name) {
		return nil
	}
	return &Violation{
		Check:    CheckBan,
		Code:     CodeBanDenied,
		Severity: policy.ActionDeny,
		Package:  record.ID(),
		Message:  fmt.Sprintf("%s is on the deny list", record.Name),
	}
}

// checkWildcard flags records declared with an unbounded version requirement
func (a *Auditor) checkWildcard(record *inventory.Record) *Violation {
	if record.Requirement != "*" {
		return nil
	}
	return newViolation(CheckBan, CodeBanWildcard, a.Policy.Bans.Wildcards, record.ID(),
		fmt.Sprintf("%s is required with a wildcard version", record.Name))
}

// checkDuplicates finds package names resolved at more than one version.
// Skipped packages and everything under a skip-tree root are exempt.
func (a *Auditor) checkDuplicates(inv *inventory.Inventory) []Violation {
	bans := &a.Policy.Bans
	switch bans.MultipleVersions {
	case policy.ActionIgnore, policy.ActionAllow:
		return nil
	}

	exempt := make(map[string]struct{})
	for _, root := range bans.SkipTree {
		for ref := range inv.Subtree(root) {
			exempt[ref] = struct{}{}
		}
	}

	grouped := make(map[string][]*inventory.Record)
	for i := range inv.Records {
		record := &inv.Records[i]
		if bans.IsSkipped(record.Name) {
			continue
		}
		if _, ok := exempt[record.Ref]; ok {
			continue
		}
		grouped[record.Name] = append(grouped[record.Name], record)
	}

	var violations []Violation
	for name, records := range grouped {
		versions := distinctVersions(records)
		if len(versions) < 2 {
			continue
		}
		highlighted := a.highlightVersion(inv, records, versions)
		message := fmt.Sprintf("found %d versions of %s: %s", len(versions), name, strings.Join(versions, ", "))
		if highlighted != "" {
			message += fmt.Sprintf(" (highlighted: %s)", highlighted)
		}
		violations = append(violations, Violation{
			Check:       CheckBan,
			Code:        CodeBanDuplicate,
			Severity:    bans.MultipleVersions,
			Package:     name,
			Message:     message,
			Versions:    versions,
			Highlighted: highlighted,
		})
	}
	return violations
}

// highlightVersion picks the version a duplicate finding should draw
// attention to, per the configured highlight mode. Versions are already in
// ascending order.
func (a *Auditor) highlightVersion(inv *inventory.Inventory, records []*inventory.Record, versions []string) string {
	switch a.Policy.Bans.Highlight {
	case policy.HighlightNewest:
		return versions[len(versions)-1]

	case policy.HighlightMostUsed:
		dependents := make(map[string]int, len(versions))
		for _, record := range records {
			dependents[record.Version] += inv.Dependents(record.Ref)
		}
		best := ""
		bestCount := -1
		for _, version := range versions {
			// ties go to the newer version, which sorts later
			if dependents[version] >= bestCount {
				best = version
				bestCount = dependents[version]
			}
		}
		return best
	}
	return ""
}

func distinctVersions(records []*inventory.Record) []string {
	seen := make(map[string]struct{}, len(records))
	versions := make([]string, 0, len(records))
	for _, record := range records {
		if _, ok := seen[record.Version]; ok {
			continue
		}
		seen[record.Version] = struct{}{}
		versions = append(versions, record.Version)
	}
	sortVersions(versions)
	return versions
}

// sortVersions orders semantic versions ascending, falling back to a
// lexical order when any entry does not parse
func sortVersions(versions []string) {
	parsed := make(map[string]*semver.Version, len(versions))
	for _, v := range versions {
		sv, err := semver.NewVersion(v)
		if err != nil {
			sort.Strings(versions)
			return
		}
		parsed[v] = sv
	}
	sort.Slice(versions, func(i, j int) bool {
		return parsed[versions[i]].LessThan(parsed[versions[j]])
	})
}
