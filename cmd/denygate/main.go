package main

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Pirikara/denygate/internal/logger"
)

// Default registry definitions, overridable with --registries-config or a
// ~/.denygate/registries.yaml.
//
//go:embed registries.yaml
var defaultRegistriesYAML []byte

// Starter policy written by denygate init.
//
//go:embed denygate.toml
var starterPolicyTOML []byte

// errAuditFailed marks a run that completed but whose verdict is fail. main
// turns it into exit code 1; every other error exits 2.
var errAuditFailed = errors.New("audit failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if errors.Is(err, errAuditFailed) {
			os.Exit(1)
		}
		fmt.Fprintln(os.Stderr, "denygate:", err)
		os.Exit(2)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "denygate",
		Short: "Audit dependencies against a deny policy",
		Long: `denygate evaluates a declarative audit policy (licenses, advisories,
bans, source trust) against a dependency inventory and reports what violates
it. Configuration can be provided via a ./.denygate config file or
environment variables (prefix DENYGATE_).`,
		Example: `  # One-shot audit of an SBOM
  denygate check --policy denygate.toml --sbom bom.json

  # Import advisories and re-check
  denygate db import ./advisory-db
  denygate check --sbom bom.json

  # Enforce the policy on live package downloads
  denygate gate --policy denygate.toml --addr 127.0.0.1:8980`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := cmd.Flags().GetString("log-level")
			if err != nil {
				return err
			}
			format, err := cmd.Flags().GetString("log-format")
			if err != nil {
				return err
			}
			logger.Init(level, format)

			return initializeConfig(cmd)
		},
	}

	root.PersistentFlags().String("log-level", "info", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "text", "Log format: text or json")

	root.AddCommand(
		newCheckCmd(),
		newValidateCmd(),
		newInitCmd(),
		newListCmd(),
		newDBCmd(),
		newGateCmd(),
		newClarifyCmd(),
	)
	return root
}

// initializeConfig lets unset flags fall back to an optional .denygate config
// file in the working directory and to DENYGATE_* environment variables.
func initializeConfig(cmd *cobra.Command) error {
	viper.SetConfigName(".denygate")
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		slog.Debug("no config file found")
	}

	viper.SetEnvPrefix("DENYGATE")
	// Environment variables cannot carry dashes, so --advisory-db binds to
	// DENYGATE_ADVISORY_DB.
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindFlags(cmd)
	return nil
}

// bindFlags applies viper values to every flag the user did not set
// explicitly
func bindFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if !f.Changed && viper.IsSet(f.Name) {
			_ = cmd.Flags().Set(f.Name, fmt.Sprintf("%v", viper.Get(f.Name)))
		}
		if err := viper.BindPFlag(f.Name, f); err != nil {
			slog.Error("could not bind flag to viper", "flag", f.Name, "err", err)
		}
	})
}
