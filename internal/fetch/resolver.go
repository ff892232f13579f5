package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RedirectResolver decodes opaque aggregator URLs (Google News RSS
// redirects) into their destination. The pipeline treats it as an
// external collaborator.
type RedirectResolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// IsGoogleNewsURL reports whether a URL is a Google News RSS redirect
// that needs decoding before fetch.
func IsGoogleNewsURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "news.google.com" && strings.Contains(u.Path, "/rss/articles/")
}

// HTTPResolver resolves redirects by following them, optionally
// restricted to an allowlist of destination hosts.
type HTTPResolver struct {
	client    *http.Client
	strict    bool
	allowlist map[string]bool
}

// NewHTTPResolver builds a resolver. When strict is set, destinations
// outside the allowlist are refused.
func NewHTTPResolver(timeout time.Duration, strict bool, allowedHosts []string) *HTTPResolver {
	allow := make(map[string]bool, len(allowedHosts))
	for _, h := range allowedHosts {
		allow[strings.ToLower(h)] = true
	}
	return &HTTPResolver{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		strict:    strict,
		allowlist: allow,
	}
}

// Resolve follows the redirect chain and returns the final URL.
func (r *HTTPResolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build resolve request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to resolve redirect: %w", err)
	}
	defer resp.Body.Close()

	final := resp.Request.URL.String()
	if r.strict {
		host := strings.ToLower(resp.Request.URL.Hostname())
		if !r.allowlist[host] {
			return "", fmt.Errorf("redirect destination %s not in allowlist", host)
		}
	}
	return final, nil
}
