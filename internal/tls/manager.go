package tls

import (
	"crypto/tls"
	"fmt"

	"go.uber.org/zap"

	"identity-service/internal/util"
)

// TLSManager serves the configured certificate pair, or a generated
// self-signed development certificate when none is configured.
type TLSManager struct {
	certFile string
	keyFile  string
}

func NewTLSManager(certFile, keyFile string) *TLSManager {
	return &TLSManager{
		certFile: certFile,
		keyFile:  keyFile,
	}
}

func (m *TLSManager) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if m.certFile != "" && m.keyFile != "" {
		cert, err := tls.LoadX509KeyPair(m.certFile, m.keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate pair: %w", err)
		}
		return &cert, nil
	}

	hosts := []string{"localhost", "127.0.0.1", "::1"}
	cert, err := generateDevCert(hosts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
	}

	util.Info("Serving self-signed development certificate", zap.Strings("hosts", hosts))
	return &cert, nil
}

func (m *TLSManager) GetTLSConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: m.GetCertificate,
		NextProtos:     []string{"h2", "http/1.1"},
		MinVersion:     tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
	}
}
