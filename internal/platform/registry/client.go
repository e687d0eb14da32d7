// Package registry talks to the external client registry (master patient
// index). The protocol is two plain JSON POSTs: authenticate for a bearer
// token, then submit the translated patient resource for matching. Registry
// failures are logged and swallowed; they must never fail the local save.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/reconciler/internal/platform/fhir"
)

// Config holds the registry endpoints and transport settings.
type Config struct {
	LoginURL  string
	LoginBody string
	MatchURL  string
	// FHIRURL is the base URL for reading individual Patient resources
	// when importing a registry record.
	FHIRURL  string
	Timeout  time.Duration
	TokenTTL time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// Client performs the authenticate-then-match workflow against the
// registry, caching the bearer token between calls.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        zerolog.Logger

	mu        sync.Mutex
	token     string
	fetchedAt time.Time
}

func NewClient(cfg Config, log zerolog.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 5 * time.Minute
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Configured reports whether the matching workflow has endpoints to talk
// to. An unconfigured client degrades every match to a logged no-op.
func (c *Client) Configured() bool {
	return c.cfg.LoginURL != "" && c.cfg.MatchURL != ""
}

// FindMatches translates a save into at most one authenticate+match round
// trip. The returned payload is the registry's raw response body, handed
// through opaquely; nil means no result, which callers surface as an empty
// potential-matches panel. Errors at any step are logged here and never
// propagated.
func (c *Client) FindMatches(ctx context.Context, resource *fhir.Patient) json.RawMessage {
	if !c.Configured() {
		c.log.Debug().Msg("client registry not configured, skipping match")
		return nil
	}

	token, err := c.bearerToken(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("client registry authentication failed")
		return nil
	}

	matches, err := c.match(ctx, token, resource)
	if err != nil {
		c.log.Error().Err(err).Msg("client registry match failed")
		return nil
	}
	return matches
}

// bearerToken returns the cached token, authenticating when the cache is
// empty or expired.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Since(c.fetchedAt) < c.cfg.TokenTTL {
		return c.token, nil
	}

	token, err := c.authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.fetchedAt = time.Now()
	return token, nil
}

// loginResponse is the shape of the authentication response; only the
// token field matters.
type loginResponse struct {
	Token string `json:"token"`
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.LoginURL, strings.NewReader(c.cfg.LoginBody))
	if err != nil {
		return "", fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading login response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("login returned status %d", resp.StatusCode)
	}

	var login loginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		return "", fmt.Errorf("parsing login response: %w", err)
	}
	if login.Token == "" {
		return "", fmt.Errorf("login response carries no token")
	}
	return login.Token, nil
}

func (c *Client) match(ctx context.Context, token string, resource *fhir.Patient) (json.RawMessage, error) {
	payload, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("encoding patient resource: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.MatchURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building match request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("match request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading match response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			// Drop the cached token; the next save authenticates afresh.
			c.mu.Lock()
			c.token = ""
			c.mu.Unlock()
		}
		return nil, fmt.Errorf("match returned status %d", resp.StatusCode)
	}
	return json.RawMessage(body), nil
}

// FetchPatient reads a single Patient resource from the registry's FHIR
// endpoint, used when importing a registry record locally. Unlike matching,
// the caller sees errors: an import that cannot read its source has nothing
// to import.
func (c *Client) FetchPatient(ctx context.Context, id string) (*fhir.Patient, error) {
	if c.cfg.FHIRURL == "" {
		return nil, fmt.Errorf("registry FHIR endpoint not configured")
	}
	url := strings.TrimRight(c.cfg.FHIRURL, "/") + "/Patient/" + id

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building read request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("registry read returned status %d", resp.StatusCode)
	}

	var patient fhir.Patient
	if err := json.Unmarshal(body, &patient); err != nil {
		return nil, fmt.Errorf("parsing patient resource: %w", err)
	}
	return &patient, nil
}
