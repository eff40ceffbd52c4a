package audit

import (
	"fmt"

	"github.com/Pirikara/denygate/internal/inventory"
)

// checkSources verifies where the record was fetched from. Git origins must
// be on the allow-git list, registry origins must resolve to a configured
// registry or a policy-allowed one. Local origins are trusted.
func (a *Auditor) checkSources(record *inventory.Record) *Violation {
	sources := &a.Policy.Sources

	switch record.Origin.Kind {
	case inventory.OriginGit:
		if sources.AllowsGit(record.Origin.URL) {
			return nil
		}
		return newViolation(CheckSource, CodeSourceUnknownGit, sources.UnknownGit, record.ID(),
			fmt.Sprintf("git source %s is not on the allow list", record.Origin.URL))

	case inventory.OriginRegistry:
		url := record.Origin.URL
		if url == "" && a.Registries != nil {
			url = a.Registries.DefaultURL(record.Ecosystem)
		}
		if url != "" {
			if sources.AllowsRegistry(url) {
				return nil
			}
			if a.Registries != nil && a.Registries.Known(url) {
				return nil
			}
		}
		label := url
		if label == "" {
			label = "an unidentified registry"
		}
		return newViolation(CheckSource, CodeSourceUnknownRegistry, sources.UnknownRegistry, record.ID(),
			fmt.Sprintf("%s was resolved from %s, which is not a known registry", record.ID(), label))
	}

	return nil
}
