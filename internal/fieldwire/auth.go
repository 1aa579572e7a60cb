package fieldwire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	logx "fieldbridge/pkg/logx"
)

var authBases = map[string]string{
	"us": "https://client-api.super.fieldwire.com",
	"eu": "https://client-api.fieldwire.eu",
}

// AuthBase returns the credential-exchange base URL for region.
// Unknown regions fall back to us; a non-empty override wins.
func AuthBase(region, override string) string {
	if s := strings.TrimSpace(override); s != "" {
		return strings.TrimRight(s, "/")
	}
	if u, ok := authBases[strings.ToLower(strings.TrimSpace(region))]; ok {
		return u
	}
	return authBases["us"]
}

// APIBase returns the data API base URL for region.
func APIBase(region, override string) string {
	if s := strings.TrimSpace(override); s != "" {
		return strings.TrimRight(s, "/")
	}
	r := strings.ToLower(strings.TrimSpace(region))
	if _, ok := authBases[r]; !ok {
		r = "us"
	}
	return fmt.Sprintf("https://api.%s.fieldwire.io/api", r)
}

// State is the broker's token state.
type State int

const (
	Unauthenticated State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Broker exchanges the long-lived API token for a short-lived bearer token
// and caches it in memory.
//
// The cache never goes back to Unauthenticated: an expired token is reused
// until the process restarts. Expiry is logged so operators can see it.
type Broker struct {
	apiToken string
	baseURL  string
	hc       *http.Client
	log      logx.Logger

	mu    sync.Mutex
	state State
	token Token
}

func NewBroker(apiToken, baseURL string, hc *http.Client, log logx.Logger) *Broker {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Broker{
		apiToken: apiToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		hc:       hc,
		log:      log,
	}
}

type jwtRequest struct {
	APIToken string `json:"api_token"`
}

type jwtResponse struct {
	AccessToken string     `json:"access_token"`
	ExpiresAt   FlexString `json:"expires_at"`
}

// Authenticate performs the credential exchange and caches the result.
func (b *Broker) Authenticate(ctx context.Context) (Token, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authenticateLocked(ctx)
}

func (b *Broker) authenticateLocked(ctx context.Context) (Token, error) {
	body, err := json.Marshal(jwtRequest{APIToken: b.apiToken})
	if err != nil {
		return Token{}, &AuthError{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api_keys/jwt", bytes.NewReader(body))
	if err != nil {
		return Token{}, &AuthError{Err: err}
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")

	resp, err := b.hc.Do(req)
	if err != nil {
		b.log.Error("failed to get JWT token", logx.Err(err))
		return Token{}, &AuthError{Err: err}
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("credential exchange rejected: %s", strings.TrimSpace(string(raw)))
		b.log.Error("failed to get JWT token", logx.Int("status", resp.StatusCode))
		return Token{}, &AuthError{Status: resp.StatusCode, Err: err}
	}

	var out jwtResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Token{}, &AuthError{Status: resp.StatusCode, Err: fmt.Errorf("decoding token response: %w", err)}
	}
	if strings.TrimSpace(out.AccessToken) == "" {
		return Token{}, &AuthError{Status: resp.StatusCode, Err: errors.New("token response has no access_token")}
	}

	tok := Token{
		AccessToken: out.AccessToken,
		RawExpiry:   out.ExpiresAt.String(),
		ExpiresAt:   parseExpiry(out.ExpiresAt.String()),
	}
	b.token = tok
	b.state = Authenticated
	b.log.Info("JWT token obtained", logx.String("expires_at", tok.RawExpiry))
	return tok, nil
}

// AuthHeader returns the Authorization header value, authenticating first
// only when no token is cached.
func (b *Broker) AuthHeader(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Authenticated {
		if _, err := b.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return "Bearer " + b.token.AccessToken, nil
}

func (b *Broker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Token returns the cached token, if any.
func (b *Broker) Token() (Token, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token, b.state == Authenticated
}
