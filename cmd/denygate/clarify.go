package main

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/licensecheck"
	"github.com/spf13/cobra"
)

func newClarifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clarify NAME LICENSE_FILE",
		Short: "Generate a licenses.clarify block from a license file",
		Long: `clarify scans a license file, identifies the SPDX licenses in it and
prints a ready-to-paste [[licenses.clarify]] block pinning the file's hash.
The assertion goes stale automatically if the file changes in a later
release.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, path := args[0], args[1]

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read license file: %w", err)
			}

			cov := licensecheck.Scan(data)
			if len(cov.Match) == 0 {
				return fmt.Errorf("no recognizable license in %s", path)
			}
			hash := sha256.Sum256(data)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s: %.1f%% of the text matched\n", filepath.Base(path), cov.Percent)
			fmt.Fprintln(out, "[[licenses.clarify]]")
			fmt.Fprintf(out, "name = %q\n", name)
			fmt.Fprintf(out, "expression = %q\n", licenseExpression(cov))
			fmt.Fprintln(out, "license-files = [")
			fmt.Fprintf(out, "    { path = %q, hash = %q },\n", filepath.Base(path), fmt.Sprintf("%x", hash))
			fmt.Fprintln(out, "]")
			return nil
		},
	}
}

// licenseExpression joins the distinct matched license IDs into an AND
// expression, in the order they appear in the file
func licenseExpression(cov licensecheck.Coverage) string {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range cov.Match {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		ids = append(ids, m.ID)
	}
	return strings.Join(ids, " AND ")
}
