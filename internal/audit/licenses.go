package audit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/Pirikara/denygate/internal/inventory"
	"github.com/Pirikara/denygate/internal/policy"
)

// checkLicenses evaluates one record's license expression. A clarification
// for the package replaces the detected expression entirely, and a
// clarification whose file hashes no longer match is its own finding with no
// fallback to detection.
func (a *Auditor) checkLicenses(record *inventory.Record) []Violation {
	licenses := &a.Policy.Licenses

	expression := record.License.Expression
	clarified := false
	if clarify := licenses.ClarificationFor(record.Name); clarify != nil {
		if !clarificationCurrent(clarify, record.LicenseFiles) {
			return []Violation{{
				Check:    CheckLicense,
				Code:     CodeLicenseClarificationStale,
				Severity: policy.ActionDeny,
				Package:  record.ID(),
				Message:  fmt.Sprintf("license clarification for %s no longer matches its license files", record.Name),
			}}
		}
		expression = clarify.Expression
		clarified = true
	}

	unresolved := expression == "" || (!clarified && record.License.Confidence < licenses.ConfidenceThreshold)
	var branches [][]string
	if !unresolved {
		var err error
		branches, err = orBranches(expression)
		if err != nil {
			unresolved = true
		}
	}

	if unresolved {
		message := fmt.Sprintf("no license could be resolved for %s", record.ID())
		if expression != "" {
			message = fmt.Sprintf("license detection for %s is below the confidence threshold (%.2f < %.2f)",
				record.ID(), record.License.Confidence, licenses.ConfidenceThreshold)
		}
		if v := newViolation(CheckLicense, CodeLicenseUnresolved, licenses.Unlicensed, record.ID(), message); v != nil {
			return []Violation{*v}
		}
		return nil
	}

	rejected := make(map[string]struct{})
	for _, branch := range branches {
		accepted := true
		for _, id := range branch {
			if !licenses.AllowsFor(record.Name, id) {
				accepted = false
				rejected[id] = struct{}{}
			}
		}
		if accepted {
			return nil
		}
	}

	ids := make([]string, 0, len(rejected))
	for id := range rejected {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// A resolved but disallowed license is always a failure, the level is
	// not configurable.
	return []Violation{{
		Check:    CheckLicense,
		Code:     CodeLicenseDisallowed,
		Severity: policy.ActionDeny,
		Package:  record.ID(),
		Message:  fmt.Sprintf("license %q of %s is not allowed (rejected: %s)", expression, record.ID(), strings.Join(ids, ", ")),
	}}
}

// clarificationCurrent reports whether every file the clarification pins is
// present in the record with an identical hash
func clarificationCurrent(clarify *policy.Clarification, digests []inventory.FileDigest) bool {
	byPath := make(map[string]string, len(digests))
	for _, digest := range digests {
		byPath[digest.Path] = digest.SHA256
	}
	for _, file := range clarify.LicenseFiles {
		hash, ok := byPath[file.Path]
		if !ok || !strings.EqualFold(hash, file.Hash) {
			return false
		}
	}
	return true
}

// orBranches parses an SPDX expression into disjunctive normal form: the
// outer slice enumerates the acceptable alternatives, the inner slice lists
// the ids that must all be allowed for that alternative.
func orBranches(expression string) ([][]string, error) {
	parser := &exprParser{tokens: tokenizeExpression(expression)}
	branches, err := parser.parseOr()
	if err != nil {
		return nil, err
	}
	if parser.pos != len(parser.tokens) {
		return nil, errors.Errorf("unexpected token %q in license expression", parser.tokens[parser.pos])
	}
	return branches, nil
}

func tokenizeExpression(expression string) []string {
	expression = strings.ReplaceAll(expression, "(", " ( ")
	expression = strings.ReplaceAll(expression, ")", " ) ")
	return strings.Fields(expression)
}

type exprParser struct {
	tokens []string
	pos    int
}

func (p *exprParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *exprParser) next() string {
	token := p.peek()
	p.pos++
	return token
}

func (p *exprParser) parseOr() ([][]string, error) {
	branches, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == "OR" {
		p.next()
		more, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		branches = append(branches, more...)
	}
	return branches, nil
}

func (p *exprParser) parseAnd() ([][]string, error) {
	branches, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek() == "AND" {
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		// Conjunction distributes over the alternatives on both sides.
		product := make([][]string, 0, len(branches)*len(right))
		for _, left := range branches {
			for _, r := range right {
				combined := make([]string, 0, len(left)+len(r))
				combined = append(combined, left...)
				combined = append(combined, r...)
				product = append(product, combined)
			}
		}
		branches = product
	}
	return branches, nil
}

func (p *exprParser) parsePrimary() ([][]string, error) {
	switch token := p.next(); token {
	case "":
		return nil, errors.New("unexpected end of license expression")
	case "(":
		branches, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.next() != ")" {
			return nil, errors.New("unbalanced parenthesis in license expression")
		}
		return branches, nil
	case ")", "OR", "AND", "WITH":
		return nil, errors.Errorf("unexpected token %q in license expression", token)
	default:
		id := token
		if p.peek() == "WITH" {
			p.next()
			exception := p.next()
			if exception == "" || exception == "(" || exception == ")" {
				return nil, errors.New("missing exception after WITH")
			}
			id = id + " WITH " + exception
		}
		return [][]string{{id}}, nil
	}
}
