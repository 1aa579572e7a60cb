package fieldwire

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	logx "fieldbridge/pkg/logx"
)

// HeaderSource supplies the Authorization header for data API calls.
type HeaderSource interface {
	AuthHeader(ctx context.Context) (string, error)
}

// Client is a thin client for the Fieldwire data API.
// It is safe for concurrent use when its HeaderSource is.
type Client struct {
	baseURL string
	auth    HeaderSource
	hc      *http.Client
	log     logx.Logger

	// now is swappable in tests; it drives the trailing window.
	now func() time.Time
}

func NewClient(baseURL string, auth HeaderSource, hc *http.Client, log logx.Logger) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		hc:      hc,
		log:     log,
		now:     time.Now,
	}
}

// newRequest builds an authenticated request. Auth failures come back as *AuthError.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	hdr, err := c.auth.AuthHeader(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", hdr)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// getJSON performs a GET and returns the raw body of a 2xx response.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values) ([]byte, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, query)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Method: http.MethodGet,
			Path:   path,
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(truncate(body, 512))),
		}
	}
	return body, nil
}

// decodeList accepts either {"<key>": [...]} or a bare JSON array.
func decodeList[T any](body []byte, key string) ([]T, error) {
	body = bytes.TrimSpace(body)
	var out []T
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", key, err)
		}
		return out, nil
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decoding %s envelope: %w", key, err)
	}
	raw, ok := env[key]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	return out, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
