package backend

import (
	"crypto/tls"
	"net/http"

	"github.com/obsidianstack/slowatch/agent/internal/config"
)

// authRoundTripper injects credentials into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "cookie", "":
		if tok := t.auth.Token(); tok != "" {
			req = req.Clone(req.Context())
			req.Header.Set("Cookie", tok)
		}
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the backend's auth and TLS settings.
func buildHTTPClient(cfg config.BackendConfig) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	return &http.Client{
		Transport: &authRoundTripper{base: base, auth: cfg.Auth},
		Timeout:   cfg.QueryTimeout,
	}
}
