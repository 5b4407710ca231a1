package config

import "fmt"

func errMissing(name string) error {
	return fmt.Errorf("missing required environment variable %s", name)
}

func errAPIKeyShape() error {
	return fmt.Errorf("API_KEY must start with 'crpa_' and be at least 40 characters when mTLS is not configured")
}

func errPartialMTLS() error {
	return fmt.Errorf("CA_CERT_PATH, CLIENT_CERT_PATH, and CLIENT_KEY_PATH must all be set together or all be empty")
}
