package inventory

import (
	"encoding/json"

	"github.com/pkg/errors"
)

type nativeRecord struct {
	Record
	Dependencies []string `json:"dependencies,omitempty"`
}

type nativeDocument struct {
	Dependencies []nativeRecord `json:"dependencies"`
}

// ReadNative parses the native inventory format: a flat list of dependency
// records, each optionally naming the refs it depends on.
func ReadNative(data []byte) (*Inventory, error) {
	var doc nativeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to decode inventory document")
	}

	records := make([]Record, 0, len(doc.Dependencies))
	edges := make(map[string][]string)
	for i, entry := range doc.Dependencies {
		if entry.Name == "" {
			return nil, errors.Errorf("dependency %d: missing name", i)
		}
		if entry.Version == "" {
			return nil, errors.Errorf("dependency %d (%s): missing version", i, entry.Name)
		}
		record := entry.Record
		if record.Ref == "" {
			record.Ref = record.ID()
		}
		if record.Origin.Kind == "" {
			record.Origin.Kind = OriginRegistry
		}
		if len(entry.Dependencies) > 0 {
			edges[record.Ref] = append(edges[record.Ref], entry.Dependencies...)
		}
		records = append(records, record)
	}

	return New(records, edges), nil
}
