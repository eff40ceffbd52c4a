package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Pirikara/denygate/internal/policy"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a policy file loads",
		Long: `validate parses the policy without evaluating anything. Problems are
reported with their position in the file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("policy")
			doc, err := policy.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"%s is valid: %d allowed licenses, %d denied packages, %d ignored advisories\n",
				path, len(doc.Licenses.Allow), len(doc.Bans.Deny), len(doc.Advisories.Ignore))
			return nil
		},
	}
	cmd.Flags().String("policy", "denygate.toml", "Policy file")
	return cmd
}
