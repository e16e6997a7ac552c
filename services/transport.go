package services

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// basicAuthTransport sends an Azure DevOps personal access token as Basic
// auth with an empty user name.
type basicAuthTransport struct {
	pat  string
	base http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.SetBasicAuth("", t.pat)
	return t.base.RoundTrip(r)
}

// NewPATClient returns an HTTP client that authenticates with a personal
// access token.
func NewPATClient(pat string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &basicAuthTransport{pat: pat, base: http.DefaultTransport},
	}
}

// NewBearerClient returns an HTTP client that sends token as an OAuth2
// bearer token. A blank token yields an unauthenticated client.
func NewBearerClient(ctx context.Context, token string, timeout time.Duration) *http.Client {
	if token == "" {
		return &http.Client{Timeout: timeout}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = timeout
	return tc
}
