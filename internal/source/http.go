package source

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/config"
)

// Scope headers sent on every fetch so the backend can filter the catalog
// to what the viewer is allowed to see.
const (
	headerUser       = "x-shelf-user"
	headerAdmin      = "x-shelf-admin"
	headerSuperAdmin = "x-shelf-super-admin"
)

// HTTPSource fetches the collection list as JSON from a single endpoint.
// The HTTP client is built once and reused across fetches.
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates an HTTPSource for the configured backend.
func NewHTTP(cfg config.SourceConfig) *HTTPSource {
	transport := &authRoundTripper{
		base: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
			},
		},
		auth: cfg.Auth,
	}
	return &HTTPSource{
		endpoint: cfg.Endpoint,
		// No client-level timeout: the per-fetch deadline comes from the
		// caller's context so the cache owns the timeout policy.
		client: &http.Client{Transport: transport},
	}
}

// Fetch performs one GET against the endpoint under the given scope.
// Failures are classified per the package error taxonomy.
func (s *HTTPSource) Fetch(ctx context.Context, scope catalog.Fingerprint) ([]catalog.Collection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	if scope.UserID != "" {
		req.Header.Set(headerUser, scope.UserID)
	}
	req.Header.Set(headerAdmin, strconv.FormatBool(scope.Admin))
	req.Header.Set(headerSuperAdmin, strconv.FormatBool(scope.SuperAdmin))

	resp, err := s.client.Do(req)
	if err != nil {
		// Deadline and cancellation surface here; both count as network.
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: fetch timed out: %v", ErrNetwork, err)
		}
		return nil, fmt.Errorf("%w: http get: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d from %s", ErrPermission, resp.StatusCode, s.endpoint)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %d from %s", ErrNetwork, resp.StatusCode, s.endpoint)
	}

	var collections []catalog.Collection
	if err := json.NewDecoder(resp.Body).Decode(&collections); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", ErrMalformed, err)
	}
	if err := validateAll(collections); err != nil {
		return nil, err
	}
	return collections, nil
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.EffectiveHeader(), t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	}
	return t.base.RoundTrip(req)
}
