package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Pirikara/denygate/internal/advisory"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage the local advisory store",
	}
	cmd.PersistentFlags().String("advisory-db", "", "Advisory store (default ~/.denygate/advisories/advisories.db)")
	cmd.AddCommand(newDBImportCmd(), newDBStatusCmd())
	return cmd
}

func newDBImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import PATH...",
		Short: "Import OSV advisories from files, directories or zip archives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openAdvisoryStore(cmd, true)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Import(args...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d advisories (%d files skipped)\n",
				stats.Imported, stats.Skipped)
			return nil
		},
	}
}

func newDBStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show advisory store contents",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openAdvisoryStore(cmd, false)
			if err != nil {
				return err
			}
			if store == nil {
				path, _ := advisoryDBPath(cmd)
				fmt.Fprintf(cmd.OutOrStdout(), "no advisory store at %s (run denygate db import)\n", path)
				return nil
			}
			defer store.Close()

			status, err := store.Metadata()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "store:      %s\n", status.Path)
			fmt.Fprintf(cmd.OutOrStdout(), "advisories: %d\n", status.Advisories)
			if status.ImportedAt.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "imported:   never")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "imported:   %s\n", status.ImportedAt.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
}

// advisoryDBPath resolves the store location from the flag, then the default
// under the home directory
func advisoryDBPath(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("advisory-db")
	if path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".denygate", "advisories", "advisories.db"), nil
}

// openAdvisoryStore opens the advisory store. With required set a missing
// store is created on demand; otherwise nil is returned so advisory checks
// are skipped for the run.
func openAdvisoryStore(cmd *cobra.Command, required bool) (*advisory.Store, error) {
	path, err := advisoryDBPath(cmd)
	if err != nil {
		return nil, err
	}

	if !required {
		if _, statErr := os.Stat(path); statErr != nil {
			if cmd.Flags().Changed("advisory-db") {
				return nil, fmt.Errorf("advisory store %s does not exist; run denygate db import first", path)
			}
			slog.Debug("no advisory store, advisory checks limited to yanked releases", "path", path)
			return nil, nil
		}
	}
	return advisory.Open(path)
}
