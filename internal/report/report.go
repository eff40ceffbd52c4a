// Package report renders audit results for terminals and for machine
// consumers.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/Pirikara/denygate/internal/audit"
	"github.com/Pirikara/denygate/internal/policy"
)

// WriteJSON emits the report as an indented JSON document
func WriteJSON(w io.Writer, report *audit.Report) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// WriteText renders the report as a table followed by a one-line verdict
func WriteText(w io.Writer, report *audit.Report) error {
	if _, err := fmt.Fprintf(w, "audited %d dependencies\n", report.Records); err != nil {
		return err
	}

	for _, warning := range report.ConfigWarnings {
		if _, err := fmt.Fprintf(w, "policy warning: %s\n", warning); err != nil {
			return err
		}
	}

	if len(report.Violations) > 0 {
		tw := table.NewWriter()
		tw.AppendHeader(table.Row{"Severity", "Check", "Package", "Details"})
		for _, violation := range report.Violations {
			tw.AppendRow(table.Row{
				severityCell(violation.Severity),
				string(violation.Check),
				violation.Package,
				text.WrapText(violation.Message, 80),
			})
		}
		if _, err := fmt.Fprintln(w, tw.Render()); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "verdict: %s (%d deny, %d warn, %d notice)\n",
		verdictCell(report.Verdict),
		report.Count(policy.ActionDeny),
		report.Count(policy.ActionWarn),
		report.Count(policy.ActionNotice),
	)
	return err
}

func severityCell(severity policy.ActionLevel) string {
	switch severity {
	case policy.ActionDeny:
		return text.FgRed.Sprint(severity)
	case policy.ActionWarn:
		return text.FgYellow.Sprint(severity)
	default:
		return text.FgCyan.Sprint(severity)
	}
}

func verdictCell(verdict audit.Verdict) string {
	switch verdict {
	case audit.VerdictFail:
		return text.FgRed.Sprint(verdict)
	case audit.VerdictPassWithWarnings:
		return text.FgYellow.Sprint(verdict)
	default:
		return text.FgGreen.Sprint(verdict)
	}
}
