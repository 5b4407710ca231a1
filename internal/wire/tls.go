package wire

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig builds a *tls.Config from the CA/cert/key triple shared by the
// orchestrator's WS listener and the robot's WS dialer, generalized from the
// teacher's internal/temporalx client-cert-path config (which stores the same
// three paths for a gRPC client) into an actual tls.Config builder. No
// ecosystem library in the example pack wraps crypto/tls for this; building
// directly on the standard library is the idiomatic Go way to do mTLS, so no
// third-party dependency is used here.
func TLSConfig(caCertPath, clientCertPath, clientKeyPath string, serverSide bool) (*tls.Config, error) {
	if caCertPath == "" || clientCertPath == "" || clientKeyPath == "" {
		return nil, fmt.Errorf("wire: mTLS requires ca, cert, and key paths together")
	}

	caPEM, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("wire: read ca cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("wire: ca cert contains no usable certificates")
	}

	cert, err := tls.LoadX509KeyPair(clientCertPath, clientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("wire: load client keypair: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if serverSide {
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		cfg.RootCAs = pool
	}
	return cfg, nil
}
