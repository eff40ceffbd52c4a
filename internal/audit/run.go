package audit

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Pirikara/denygate/internal/inventory"
	"github.com/Pirikara/denygate/internal/policy"
	"github.com/Pirikara/denygate/internal/registry"
)

// Auditor runs a policy over an inventory
type Auditor struct {
	Policy     *policy.Document
	Registries *registry.Config
	// Advisories may be nil, in which case only yanked releases are
	// reported for the advisory check.
	Advisories AdvisoryLookup
	// Jobs bounds the number of records evaluated concurrently.
	// Non-positive means one worker per CPU.
	Jobs int
}

// Run evaluates every record and returns the finalized report
func (a *Auditor) Run(ctx context.Context, inv *inventory.Inventory) (*Report, error) {
	report := &Report{
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Records:     inv.Len(),
	}

	jobs := a.Jobs
	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	slog.Debug("starting audit", "run_id", report.RunID, "records", inv.Len(), "jobs", jobs)

	report.ConfigWarnings = a.configWarnings(inv)

	// Duplicate detection needs the whole inventory, so it runs before
	// the per-record pool.
	report.Violations = append(report.Violations, a.checkDuplicates(inv)...)

	records := make(chan *inventory.Record)
	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range records {
				violations, err := a.checkRecord(record)
				mu.Lock()
				if err != nil && firstErr == nil {
					firstErr = err
				}
				report.Violations = append(report.Violations, violations...)
				mu.Unlock()
			}
		}()
	}

feed:
	for i := range inv.Records {
		select {
		case records <- &inv.Records[i]:
		case <-ctx.Done():
			break feed
		}
	}
	close(records)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if firstErr != nil {
		return nil, firstErr
	}

	report.finalize()
	return report, nil
}

func (a *Auditor) checkRecord(record *inventory.Record) ([]Violation, error) {
	// An explicit ban is stronger than anything the other checks could
	// conclude, so it short-circuits them.
	if v := a.checkDenied(record); v != nil {
		return []Violation{*v}, nil
	}

	violations := a.checkLicenses(record)
	if v := a.checkWildcard(record); v != nil {
		violations = append(violations, *v)
	}

	advisoryViolations, err := a.checkAdvisories(record)
	if err != nil {
		return nil, err
	}
	violations = append(violations, advisoryViolations...)

	if v := a.checkSources(record); v != nil {
		violations = append(violations, *v)
	}
	return violations, nil
}

// configWarnings reports policy entries naming packages the inventory does
// not contain. A dangling name usually means a typo or a dependency that was
// since removed; it is worth a warning but never a violation.
func (a *Auditor) configWarnings(inv *inventory.Inventory) []string {
	var warnings []string
	for _, exception := range a.Policy.Licenses.Exceptions {
		if !inv.HasName(exception.Name) {
			warnings = append(warnings, fmt.Sprintf("licenses.exceptions names %s, which is not in the inventory", exception.Name))
		}
	}
	for _, clarification := range a.Policy.Licenses.Clarify {
		if !inv.HasName(clarification.Name) {
			warnings = append(warnings, fmt.Sprintf("licenses.clarify names %s, which is not in the inventory", clarification.Name))
		}
	}
	sort.Strings(warnings)
	return warnings
}

// CheckDownload judges a single download request. It runs the deny list and
// advisory checks only: a download carries no license scan or manifest
// source, so those checks have nothing to work with here.
func (a *Auditor) CheckDownload(record *inventory.Record) ([]Violation, error) {
	if v := a.checkDenied(record); v != nil {
		return []Violation{*v}, nil
	}
	return a.checkAdvisories(record)
}
