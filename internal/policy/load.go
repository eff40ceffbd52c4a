package policy

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// validate checks struct-level constraints (action level values, threshold
// range) declared as tags on the document types
var validate = validator.New()

// LoadError describes a policy document that was rejected at load time
type LoadError struct {
	Line   int
	Column int
	Msg    string
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Msg)
	}
	return e.Msg
}

// Default returns the policy in effect when keys are omitted from the
// document: vulnerabilities and unknown licenses are denied, everything
// else warns, wildcard requirements are tolerated.
func Default() *Document {
	return &Document{
		Advisories: AdvisoryPolicy{
			Vulnerability: ActionDeny,
			Unmaintained:  ActionWarn,
			Unsound:       ActionWarn,
			Yanked:        ActionWarn,
			Notice:        ActionWarn,
		},
		Bans: BanPolicy{
			MultipleVersions: ActionWarn,
			Wildcards:        ActionAllow,
			Highlight:        HighlightAll,
		},
		Licenses: LicensePolicy{
			Unlicensed:          ActionDeny,
			ConfidenceThreshold: 0.8,
		},
		Sources: SourcePolicy{
			UnknownRegistry: ActionWarn,
			UnknownGit:      ActionWarn,
		},
	}
}

// Load reads, parses and validates the policy document at path
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid policy %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes and validates a policy document. Parsing is strict:
// unknown sections and unknown keys within recognized sections are errors,
// so a typoed key can never silently disable a check.
func Parse(data []byte) (*Document, error) {
	doc := Default()

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	if err := dec.Decode(doc); err != nil {
		return nil, asLoadError(err)
	}

	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	doc.index()
	return doc, nil
}

// asLoadError converts go-toml decode failures into LoadError values
// carrying the document position
func asLoadError(err error) error {
	var strictErr *toml.StrictMissingError
	if errors.As(err, &strictErr) && len(strictErr.Errors) > 0 {
		// report the first unknown key; one typo at a time is enough
		de := strictErr.Errors[0]
		row, col := de.Position()
		return &LoadError{
			Line:   row,
			Column: col,
			Msg:    fmt.Sprintf("unknown key %q", strings.Join(de.Key(), ".")),
		}
	}

	var decErr *toml.DecodeError
	if errors.As(err, &decErr) {
		row, col := decErr.Position()
		return &LoadError{Line: row, Column: col, Msg: decErr.Error()}
	}

	return &LoadError{Msg: err.Error()}
}

func validateDocument(doc *Document) error {
	if err := validate.Struct(doc); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return &LoadError{Msg: fieldErrorMsg(fieldErrs[0])}
		}
		return &LoadError{Msg: err.Error()}
	}

	// clarifications must be unambiguous per package
	seen := make(map[string]struct{}, len(doc.Licenses.Clarify))
	for _, c := range doc.Licenses.Clarify {
		if _, dup := seen[c.Name]; dup {
			return &LoadError{Msg: fmt.Sprintf("licenses.clarify: duplicate entry for package %q", c.Name)}
		}
		seen[c.Name] = struct{}{}
	}

	return nil
}

// fieldErrorMsg renders a validator failure against the TOML key it came from
func fieldErrorMsg(fe validator.FieldError) string {
	key := tomlKeyPath(fe.Namespace())
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s: %q is not one of: %s", key, fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gte", "lte":
		return fmt.Sprintf("%s: %v is outside the range [0, 1]", key, fe.Value())
	case "required", "min":
		return fmt.Sprintf("%s: value is required", key)
	case "hexadecimal":
		return fmt.Sprintf("%s: %q is not a hex-encoded hash", key, fe.Value())
	default:
		return fmt.Sprintf("%s: invalid value %q", key, fe.Value())
	}
}

// tomlKeyPath converts a validator namespace such as
// "Document.Bans.MultipleVersions" into the TOML key "bans.multiple-versions"
func tomlKeyPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 0 && parts[0] == "Document" {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = kebab(p)
	}
	return strings.Join(parts, ".")
}

func kebab(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r - 'A' + 'a')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
