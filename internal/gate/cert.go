package gate

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// CertManager owns the CA certificate the gate signs intercepted hosts with.
// The CA is persisted so clients only need to trust it once.
type CertManager struct {
	caCert   *x509.Certificate
	caKey    *rsa.PrivateKey
	certPath string
	keyPath  string
}

// NewCertManager loads the CA from certDir, generating a fresh one when the
// directory holds none or the existing certificate is expired. An empty
// certDir defaults to ~/.denygate/certs.
func NewCertManager(certDir string) (*CertManager, error) {
	if certDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		certDir = filepath.Join(home, ".denygate", "certs")
	}
	if err := os.MkdirAll(certDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cert directory: %w", err)
	}

	cm := &CertManager{
		certPath: filepath.Join(certDir, "ca.pem"),
		keyPath:  filepath.Join(certDir, "ca.key"),
	}
	if err := cm.load(); err != nil {
		if err := cm.generate(); err != nil {
			return nil, fmt.Errorf("failed to generate CA: %w", err)
		}
	}
	return cm, nil
}

func (cm *CertManager) load() error {
	certPEM, err := os.ReadFile(cm.certPath)
	if err != nil {
		return err
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return fmt.Errorf("no PEM block in %s", cm.certPath)
	}
	caCert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return err
	}

	now := time.Now()
	if now.Before(caCert.NotBefore) || now.After(caCert.NotAfter) {
		return fmt.Errorf("CA certificate is expired or not yet valid")
	}

	keyPEM, err := os.ReadFile(cm.keyPath)
	if err != nil {
		return err
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("no PEM block in %s", cm.keyPath)
	}
	caKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return err
	}

	cm.caCert = caCert
	cm.caKey = caKey
	return nil
}

func (cm *CertManager) generate() error {
	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("failed to generate CA key: %w", err)
	}
	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"denygate"},
			CommonName:   "denygate Root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &caKey.PublicKey, caKey)
	if err != nil {
		return fmt.Errorf("failed to create CA certificate: %w", err)
	}
	caCert, err := x509.ParseCertificate(der)
	if err != nil {
		return err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(cm.certPath, certPEM, 0o644); err != nil {
		return fmt.Errorf("failed to write CA certificate: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(caKey)})
	if err := os.WriteFile(cm.keyPath, keyPEM, 0o600); err != nil {
		return fmt.Errorf("failed to write CA key: %w", err)
	}

	cm.caCert = caCert
	cm.caKey = caKey
	return nil
}

// CA returns the CA as a tls.Certificate for the proxy to sign hosts with
func (cm *CertManager) CA() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{cm.caCert.Raw},
		PrivateKey:  cm.caKey,
		Leaf:        cm.caCert,
	}
}

// CACertPath returns the PEM file clients must trust
func (cm *CertManager) CACertPath() string {
	return cm.certPath
}
