// ABOUTME: Reverse proxy forwarding gated requests to the blog application
// ABOUTME: Identity headers are stripped from the inbound request and set from the session

package gateway

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/2389/folio-gateway/internal/auth"
)

// Headers the upstream reads the authenticated identity from.
const (
	HeaderUser = "X-Folio-User"
	HeaderRole = "X-Folio-Role"
)

// newUpstream returns a proxy to rawURL, or a JSON 404 handler when no
// upstream is configured.
func newUpstream(rawURL string, logger *slog.Logger) (http.Handler, error) {
	if rawURL == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		}), nil
	}

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing upstream url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q must be http or https", rawURL)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Header.Del(HeaderUser)
			pr.Out.Header.Del(HeaderRole)
			if id := auth.FromContext(pr.In.Context()); id != nil {
				pr.Out.Header.Set(HeaderUser, id.Username)
				pr.Out.Header.Set(HeaderRole, id.Role.String())
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("upstream request failed", "method", r.Method, "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})
		},
	}, nil
}
