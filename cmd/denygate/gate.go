package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Pirikara/denygate/internal/audit"
	"github.com/Pirikara/denygate/internal/gate"
	"github.com/Pirikara/denygate/internal/policy"
	"github.com/Pirikara/denygate/internal/registry"
)

func newGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Enforce the policy on live package downloads",
		Long: `gate starts a MITM proxy that applies the ban and advisory portions of
the policy to registry downloads as they happen. Point your package manager's
HTTPS proxy at it and trust the printed CA certificate.`,
		Example: `  denygate gate --addr 127.0.0.1:8980
  HTTPS_PROXY=http://127.0.0.1:8980 SSL_CERT_FILE=~/.denygate/certs/ca.pem npm install`,
		RunE: runGate,
	}

	cmd.Flags().String("policy", "denygate.toml", "Policy file")
	cmd.Flags().String("advisory-db", "", "Advisory store (default ~/.denygate/advisories/advisories.db)")
	cmd.Flags().String("registries-config", "", "Registry definitions file")
	cmd.Flags().String("addr", "127.0.0.1:0", "Listen address (port 0 picks a free port)")
	cmd.Flags().String("cert-dir", "", "CA directory (default ~/.denygate/certs)")
	return cmd
}

func runGate(cmd *cobra.Command, _ []string) error {
	policyPath, _ := cmd.Flags().GetString("policy")
	doc, err := policy.Load(policyPath)
	if err != nil {
		return err
	}

	registriesPath, _ := cmd.Flags().GetString("registries-config")
	registries, err := registry.Load(registriesPath, defaultRegistriesYAML)
	if err != nil {
		return err
	}

	auditor := &audit.Auditor{Policy: doc, Registries: registries}

	store, err := openAdvisoryStore(cmd, false)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		auditor.Advisories = store
	} else {
		slog.Warn("no advisory store, gating on the deny list only")
	}

	addr, _ := cmd.Flags().GetString("addr")
	certDir, _ := cmd.Flags().GetString("cert-dir")
	server, err := gate.NewServer(gate.Config{
		Addr:     addr,
		CertDir:  certDir,
		Detector: registry.NewDetector(registries),
		Auditor:  auditor,
	})
	if err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "gate listening on %s\n", server.Addr())
	fmt.Fprintf(out, "CA certificate: %s\n", server.CACertPath())
	fmt.Fprintf(out, "export HTTPS_PROXY=http://%s and trust the CA to gate installs\n", server.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	slog.Info("shutting down")
	return nil
}
