package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

// ServerTLS builds the RPC listener's TLS settings. It returns (nil, nil)
// when no certificate is configured, meaning plain HTTP. Setting CACert
// additionally requires every client to present a certificate signed by it.
func (t TLSConfig) ServerTLS() (*tls.Config, error) {
	if t.NodeCert == "" && t.NodeKey == "" {
		if t.CACert != "" {
			return nil, errors.New("rpc.tls.ca_cert set without a server certificate")
		}
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(t.NodeCert, t.NodeKey)
	if err != nil {
		return nil, fmt.Errorf("load rpc cert/key: %w", err)
	}
	out := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}
	if t.CACert == "" {
		return out, nil
	}

	pool, err := loadPool(t.CACert)
	if err != nil {
		return nil, err
	}
	out.ClientCAs = pool
	out.ClientAuth = tls.RequireAndVerifyClientCert
	return out, nil
}

// ClientTLS builds settings for a client calling a TLS RPC endpoint, used by
// tooling and tests. The node certificate doubles as the client certificate.
func (t TLSConfig) ClientTLS() (*tls.Config, error) {
	pool, err := loadPool(t.CACert)
	if err != nil {
		return nil, err
	}
	out := &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS13}
	if t.NodeCert != "" {
		cert, err := tls.LoadX509KeyPair(t.NodeCert, t.NodeKey)
		if err != nil {
			return nil, fmt.Errorf("load client cert/key: %w", err)
		}
		out.Certificates = []tls.Certificate{cert}
	}
	return out, nil
}

func loadPool(path string) (*x509.CertPool, error) {
	caPEM, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}
