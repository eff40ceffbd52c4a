package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Pirikara/denygate/internal/audit"
	"github.com/Pirikara/denygate/internal/inventory"
	"github.com/Pirikara/denygate/internal/policy"
	"github.com/Pirikara/denygate/internal/registry"
	"github.com/Pirikara/denygate/internal/report"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a dependency inventory against the policy",
		Long: `check loads the policy and a dependency inventory (CycloneDX SBOM or
native JSON), runs the license, ban, advisory and source checks and prints
the findings. Exit code 0 means pass, 1 means the verdict is fail, 2 means
the inputs could not be loaded.`,
		Example: `  denygate check --sbom bom.json
  denygate check --policy audit/denygate.toml --inventory deps.json --format json
  denygate check --sbom bom.json --fail-on-warnings`,
		RunE: runCheck,
	}

	cmd.Flags().String("policy", "denygate.toml", "Policy file")
	cmd.Flags().String("sbom", "", "CycloneDX JSON SBOM to audit")
	cmd.Flags().String("inventory", "", "Native JSON inventory to audit")
	cmd.Flags().String("advisory-db", "", "Advisory store (default ~/.denygate/advisories/advisories.db)")
	cmd.Flags().String("registries-config", "", "Registry definitions file")
	cmd.Flags().Int("jobs", 0, "Concurrent evaluation workers (default: number of CPUs)")
	cmd.Flags().String("format", "text", "Report format: text or json")
	cmd.Flags().Bool("fail-on-warnings", false, "Fail the run when the verdict is pass-with-warnings")
	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	policyPath, _ := cmd.Flags().GetString("policy")
	doc, err := policy.Load(policyPath)
	if err != nil {
		return err
	}

	inv, err := loadInventory(cmd)
	if err != nil {
		return err
	}

	registriesPath, _ := cmd.Flags().GetString("registries-config")
	registries, err := registry.Load(registriesPath, defaultRegistriesYAML)
	if err != nil {
		return err
	}

	jobs, _ := cmd.Flags().GetInt("jobs")
	auditor := &audit.Auditor{
		Policy:     doc,
		Registries: registries,
		Jobs:       jobs,
	}

	store, err := openAdvisoryStore(cmd, false)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		auditor.Advisories = store
	}

	rep, err := auditor.Run(cmd.Context(), inv)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if err := writeReport(cmd.OutOrStdout(), rep, format); err != nil {
		return err
	}

	failOnWarnings, _ := cmd.Flags().GetBool("fail-on-warnings")
	if rep.Verdict == audit.VerdictFail || (failOnWarnings && rep.Verdict == audit.VerdictPassWithWarnings) {
		return errAuditFailed
	}
	return nil
}

func writeReport(w io.Writer, rep *audit.Report, format string) error {
	switch format {
	case "json":
		return report.WriteJSON(w, rep)
	case "text", "":
		return report.WriteText(w, rep)
	default:
		return fmt.Errorf("unknown report format %q (expected text or json)", format)
	}
}

// loadInventory reads the inventory from --sbom or --inventory, exactly one
// of which must be given
func loadInventory(cmd *cobra.Command) (*inventory.Inventory, error) {
	sbom, _ := cmd.Flags().GetString("sbom")
	native, _ := cmd.Flags().GetString("inventory")

	switch {
	case sbom != "" && native != "":
		return nil, fmt.Errorf("--sbom and --inventory are mutually exclusive")
	case sbom != "":
		return inventory.ReadFile(sbom, inventory.FormatCycloneDX)
	case native != "":
		return inventory.ReadFile(native, inventory.FormatNative)
	default:
		return nil, fmt.Errorf("an inventory is required: pass --sbom or --inventory")
	}
}
