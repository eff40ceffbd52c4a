// Package gate runs the enforcement proxy: a MITM HTTP proxy that inspects
// package downloads as they happen and refuses the ones the policy denies.
package gate

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/elazarl/goproxy"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Pirikara/denygate/internal/audit"
	"github.com/Pirikara/denygate/internal/inventory"
	"github.com/Pirikara/denygate/internal/policy"
	"github.com/Pirikara/denygate/internal/registry"
)

// Config carries everything a Server needs
type Config struct {
	Addr     string
	CertDir  string
	Detector *registry.Detector
	Auditor  *audit.Auditor
	// CacheSize bounds the number of remembered per-package decisions.
	// Non-positive means the default of 4096.
	CacheSize int
}

// Server is the gate proxy
type Server struct {
	addr      string
	listener  net.Listener
	proxy     *goproxy.ProxyHttpServer
	certs     *CertManager
	detector  *registry.Detector
	auditor   *audit.Auditor
	decisions *lru.Cache[string, decision]
	wg        sync.WaitGroup
}

// decision is the cached outcome for one package identity. Lookup errors are
// never cached, so a transient failure does not stick.
type decision struct {
	block  bool
	body   string
	banner string
}

// NewServer builds the proxy, its CA and its handlers. Start must be called
// separately.
func NewServer(cfg Config) (*Server, error) {
	certs, err := NewCertManager(cfg.CertDir)
	if err != nil {
		return nil, fmt.Errorf("failed to set up CA: %w", err)
	}
	installCA(certs.CA())

	size := cfg.CacheSize
	if size <= 0 {
		size = 4096
	}
	decisions, err := lru.New[string, decision](size)
	if err != nil {
		return nil, err
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.Verbose = false

	s := &Server{
		addr:      cfg.Addr,
		proxy:     proxy,
		certs:     certs,
		detector:  cfg.Detector,
		auditor:   cfg.Auditor,
		decisions: decisions,
	}
	s.setupHandlers()
	return s, nil
}

// installCA points goproxy's MITM machinery at our CA. goproxy keeps these in
// package globals, so one CA serves the whole process.
func installCA(ca tls.Certificate) {
	goproxy.GoproxyCa = ca
	tlsConfig := goproxy.TLSConfigFromCA(&ca)
	goproxy.OkConnect = &goproxy.ConnectAction{Action: goproxy.ConnectAccept, TLSConfig: tlsConfig}
	goproxy.MitmConnect = &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: tlsConfig}
	goproxy.HTTPMitmConnect = &goproxy.ConnectAction{Action: goproxy.ConnectHTTPMitm, TLSConfig: tlsConfig}
	goproxy.RejectConnect = &goproxy.ConnectAction{Action: goproxy.ConnectReject, TLSConfig: tlsConfig}
}

func (s *Server) setupHandlers() {
	s.proxy.OnRequest().HandleConnectFunc(func(host string, _ *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		return s.connectAction(host), host
	})
	s.proxy.OnRequest().DoFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		return s.handleRequest(req, ctx)
	})
}

// connectAction decides what to do with a CONNECT. Hosts of configured
// registries are intercepted so their downloads can be inspected; everything
// else is tunneled untouched, or refused outright when the policy denies
// unknown registries.
func (s *Server) connectAction(host string) *goproxy.ConnectAction {
	if s.detector.KnownHost(host) {
		return goproxy.MitmConnect
	}
	if s.auditor.Policy.Sources.UnknownRegistry == policy.ActionDeny {
		slog.Warn("refusing connect to unknown host", "host", host)
		return goproxy.RejectConnect
	}
	return goproxy.OkConnect
}

func (s *Server) handleRequest(req *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path = path + "?" + req.URL.RawQuery
	}

	identity := s.detector.Detect(host, path)
	if identity == nil {
		return req, nil
	}

	requestID := uuid.NewString()
	d, err := s.decide(*identity)
	if err != nil {
		// With vulnerabilities set to deny an unanswerable lookup must
		// not wave the download through.
		if s.auditor.Policy.Advisories.Vulnerability == policy.ActionDeny {
			slog.Error("advisory lookup failed, blocking download",
				"package", identity.String(), "request_id", requestID, "err", err)
			return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusForbidden,
				fmt.Sprintf("denygate: advisory lookup for %s failed: %v\n", identity, err))
		}
		slog.Error("advisory lookup failed, letting download through",
			"package", identity.String(), "request_id", requestID, "err", err)
		return req, nil
	}

	if d.block {
		slog.Warn("download blocked", "package", identity.String(), "request_id", requestID)
		fmt.Fprint(os.Stderr, d.banner)
		return req, goproxy.NewResponse(req, goproxy.ContentTypeText, http.StatusForbidden, d.body)
	}

	slog.Debug("download allowed", "package", identity.String(), "request_id", requestID)
	return req, nil
}

// decide evaluates one package download against the policy, caching the
// outcome per identity so client retries stay cheap. Warnings are printed at
// evaluation time, once per identity.
func (s *Server) decide(id registry.Identity) (decision, error) {
	key := id.String()
	if d, ok := s.decisions.Get(key); ok {
		return d, nil
	}

	record := &inventory.Record{
		Name:      id.Name,
		Version:   id.Version,
		Ecosystem: id.Ecosystem,
		Origin:    inventory.Origin{Kind: inventory.OriginRegistry},
	}
	violations, err := s.auditor.CheckDownload(record)
	if err != nil {
		return decision{}, err
	}

	var d decision
	for _, v := range violations {
		switch v.Severity {
		case policy.ActionDeny:
			d.block = true
		case policy.ActionWarn:
			slog.Warn("download flagged", "package", key, "code", v.Code, "detail", v.Message)
			fmt.Fprintf(os.Stderr, "denygate: warning for %s\n  [%s] %s\n", key, v.Code, v.Message)
		}
	}
	if d.block {
		d.body = blockBody(id, violations)
		d.banner = blockBanner(id, violations)
	}
	s.decisions.Add(key, d)
	return d, nil
}

const bannerRule = "------------------------------------------------------------"

// blockBanner is the operator-facing stderr notice. Package managers rarely
// surface 403 bodies, so the terminal running the gate is where people
// actually read why an install failed.
func blockBanner(id registry.Identity, violations []audit.Violation) string {
	var b strings.Builder
	b.WriteString("\n" + bannerRule + "\n")
	fmt.Fprintf(&b, "  BLOCKED  %s\n", id)
	for _, v := range violations {
		if v.Severity != policy.ActionDeny {
			continue
		}
		fmt.Fprintf(&b, "  %s: %s\n", v.Code, v.Message)
	}
	b.WriteString(bannerRule + "\n\n")
	return b.String()
}

// blockBody is the 403 response body sent back to the package manager
func blockBody(id registry.Identity, violations []audit.Violation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "denygate: download of %s blocked\n\n", id)
	for _, v := range violations {
		if v.Severity != policy.ActionDeny {
			continue
		}
		fmt.Fprintf(&b, "  [%s] %s\n", v.Code, v.Message)
	}
	b.WriteString("\nAdjust the policy or pin an unaffected version to proceed.\n")
	return b.String()
}

// Start begins serving on the configured address
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	s.listener = listener
	slog.Info("gate listening", "addr", listener.Addr().String(), "ca_cert", s.certs.CACertPath())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		http.Serve(listener, s.proxy)
	}()
	return nil
}

// Stop closes the listener and waits for the serve loop to finish
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
	slog.Info("gate stopped")
}

// Addr returns the address the server is listening on
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// CACertPath returns the PEM file clients must trust before pointing a
// package manager at the gate
func (s *Server) CACertPath() string {
	return s.certs.CACertPath()
}
