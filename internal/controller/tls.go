package controller

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
)

// transport builds the round tripper for cfg. Consoles behind a self-signed
// certificate are reached with CAFile; InsecureSkipVerify is for lab use.
func (c Config) transport() (http.RoundTripper, error) {
	if c.Transport != nil {
		return c.Transport, nil
	}
	if c.CAFile == "" && !c.InsecureSkipVerify {
		return nil, nil
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, fmt.Errorf("controller: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("controller: no certificates in %s", c.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{TLSClientConfig: tlsCfg}, nil
	}
	t := base.Clone()
	t.TLSClientConfig = tlsCfg
	return t, nil
}
