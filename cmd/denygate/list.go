package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/Pirikara/denygate/internal/audit"
	"github.com/Pirikara/denygate/internal/policy"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Summarize licenses per dependency",
		Long: `list prints every dependency with its license expression, detection
confidence and whether the policy accepts it.`,
		RunE: runList,
	}

	cmd.Flags().String("policy", "denygate.toml", "Policy file")
	cmd.Flags().String("sbom", "", "CycloneDX JSON SBOM to list")
	cmd.Flags().String("inventory", "", "Native JSON inventory to list")
	return cmd
}

func runList(cmd *cobra.Command, _ []string) error {
	policyPath, _ := cmd.Flags().GetString("policy")
	doc, err := policy.Load(policyPath)
	if err != nil {
		return err
	}

	inv, err := loadInventory(cmd)
	if err != nil {
		return err
	}

	auditor := &audit.Auditor{Policy: doc}
	rep, err := auditor.Run(cmd.Context(), inv)
	if err != nil {
		return err
	}

	// Index license findings by package so each row can show why it failed
	findings := make(map[string]audit.Violation)
	for _, v := range rep.Violations {
		if v.Check == audit.CheckLicense {
			findings[v.Package] = v
		}
	}

	records := make([]int, 0, inv.Len())
	for i := range inv.Records {
		records = append(records, i)
	}
	sort.Slice(records, func(a, b int) bool {
		return inv.Records[records[a]].ID() < inv.Records[records[b]].ID()
	})

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Package", "Version", "License", "Confidence", "Status"})
	for _, i := range records {
		r := &inv.Records[i]
		expression := r.License.Expression
		if expression == "" {
			expression = "(none)"
		}
		tw.AppendRow(table.Row{
			r.Name,
			r.Version,
			expression,
			fmt.Sprintf("%.2f", r.License.Confidence),
			licenseStatus(findings, r.ID()),
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), tw.Render())
	return nil
}

func licenseStatus(findings map[string]audit.Violation, id string) string {
	v, ok := findings[id]
	if !ok {
		return text.FgGreen.Sprint("allowed")
	}
	status := strings.TrimPrefix(v.Code, "license-")
	if v.Severity == policy.ActionDeny {
		return text.FgRed.Sprint(status)
	}
	return text.FgYellow.Sprint(status)
}
