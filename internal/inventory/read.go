package inventory

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Format selects the inventory document encoding
type Format string

const (
	FormatAuto      Format = "auto"
	FormatCycloneDX Format = "cyclonedx"
	FormatNative    Format = "native"
)

// ParseFormat converts a user-supplied format name
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatAuto, FormatCycloneDX, FormatNative:
		return Format(s), nil
	}
	return "", errors.Errorf("unknown inventory format %q (expected auto, cyclonedx or native)", s)
}

// ReadFile loads an inventory document from disk
func ReadFile(path string, format Format) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read inventory %s", path)
	}
	return Read(data, format)
}

// Read parses an inventory document, sniffing the encoding when format is
// FormatAuto
func Read(data []byte, format Format) (*Inventory, error) {
	if format == FormatAuto || format == "" {
		format = sniff(data)
	}
	switch format {
	case FormatCycloneDX:
		return ReadCycloneDX(data)
	default:
		return ReadNative(data)
	}
}

func sniff(data []byte) Format {
	var probe struct {
		BOMFormat string `json:"bomFormat"`
	}
	if err := json.Unmarshal(data, &probe); err == nil && probe.BOMFormat == "CycloneDX" {
		return FormatCycloneDX
	}
	return FormatNative
}
