// Package teams posts cards to a Microsoft Teams incoming webhook.
package teams

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
	"time"

	"golang.org/x/time/rate"

	"fieldbridge/internal/card"
	logx "fieldbridge/pkg/logx"
)

const (
	AdaptiveContentType = "application/vnd.microsoft.card.adaptive"
	DefaultMinInterval  = 250 * time.Millisecond

	connectionTestText = "Fieldwire to Teams integration - Connection test"
)

var ErrNoWebhook = errors.New("teams: webhook url is empty")

// BatchResult tallies a SendAll call. Delivered[i] reports the outcome of docs[i].
type BatchResult struct {
	Success   int    `json:"success"`
	Failed    int    `json:"failed"`
	Delivered []bool `json:"-"`
}

func (r BatchResult) Total() int { return r.Success + r.Failed }

type attachment struct {
	ContentType string        `json:"contentType"`
	ContentURL  *string       `json:"contentUrl"`
	Content     card.Document `json:"content"`
}

type message struct {
	Type        string       `json:"type"`
	Text        string       `json:"text,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

// Deliverer sends documents to one webhook. Sends are paced: two calls never
// start closer together than the configured minimum interval.
//
// Safe for concurrent use, though the pipeline calls it from one goroutine.
type Deliverer struct {
	url string
	hc  *http.Client
	log logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
}

// New returns a Deliverer. hc should carry the retry transport; nil uses
// http.DefaultClient.
func New(webhookURL string, minInterval time.Duration, hc *http.Client, log logx.Logger) *Deliverer {
	if hc == nil {
		hc = http.DefaultClient
	}
	d := &Deliverer{url: strings.TrimSpace(webhookURL), hc: hc, log: log}
	d.limiter = rate.NewLimiter(paceLimit(minInterval), 1)
	return d
}

func paceLimit(minInterval time.Duration) rate.Limit {
	if minInterval < 0 {
		minInterval = DefaultMinInterval
	}
	if minInterval == 0 {
		return rate.Inf
	}
	return rate.Every(minInterval)
}

// SetMinInterval changes the pacing on the fly (config reload).
func (d *Deliverer) SetMinInterval(minInterval time.Duration) {
	d.mu.Lock()
	d.limiter.SetLimit(paceLimit(minInterval))
	d.mu.Unlock()
}

func (d *Deliverer) wait(ctx context.Context) error {
	d.mu.Lock()
	lim := d.limiter
	d.mu.Unlock()
	return lim.Wait(ctx)
}

// Send posts one card. The bool reports delivery (HTTP 200). Remote failures
// are logged and return false with a nil error; the error is reserved for
// local problems (encoding, request construction, cancelled context).
func (d *Deliverer) Send(ctx context.Context, doc card.Document) (bool, error) {
	msg := message{
		Type: "message",
		Attachments: []attachment{{
			ContentType: AdaptiveContentType,
			Content:     doc,
		}},
	}
	return d.post(ctx, "card", msg)
}

// SendSummary posts the batch announcement as-is.
func (d *Deliverer) SendSummary(ctx context.Context, doc card.SummaryDocument) (bool, error) {
	return d.post(ctx, "summary", doc)
}

// SendAll sends docs one by one and never stops early.
func (d *Deliverer) SendAll(ctx context.Context, docs []card.Document) BatchResult {
	res := BatchResult{Delivered: make([]bool, len(docs))}
	for i, doc := range docs {
		ok, err := d.Send(ctx, doc)
		if err != nil {
			d.log.Error("error sending card to Teams", logx.Int("index", i), logx.Err(err))
		}
		res.Delivered[i] = ok
		if ok {
			res.Success++
		} else {
			res.Failed++
		}
	}
	d.log.Info("batch send complete", logx.Int("sent", res.Success), logx.Int("failed", res.Failed))
	return res
}

func (d *Deliverer) post(ctx context.Context, kind string, payload any) (bool, error) {
	if d.url == "" {
		return false, ErrNoWebhook
	}
	if err := d.wait(ctx); err != nil {
		return false, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encoding %s: %w", kind, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.hc.Do(req)
	if err != nil {
		d.log.Error("error sending "+kind+" to Teams", logx.Err(err))
		return false, nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	switch resp.StatusCode {
	case http.StatusOK:
		d.log.Info(kind + " sent successfully to Teams")
		return true, nil
	case http.StatusTooManyRequests:
		d.log.Warn("rate limited by Teams", logx.String("kind", kind))
	case http.StatusUnauthorized:
		d.log.Error("unauthorized: invalid webhook URL")
	default:
		d.log.Error("Teams API error", logx.Int("status", resp.StatusCode), logx.String("body", strings.TrimSpace(string(raw))))
	}
	return false, nil
}

// TestConnectivity posts a short text message; only HTTP 200 counts.
func (d *Deliverer) TestConnectivity(ctx context.Context) bool {
	code, err := d.postText(ctx, connectionTestText)
	if err != nil {
		d.log.Error("webhook test error", logx.Err(err))
		return false
	}
	if code != http.StatusOK {
		d.log.Error("webhook test failed", logx.Int("status", code))
		return false
	}
	d.log.Info("webhook test successful")
	return true
}

// SendText posts a plain-text message. It does not log, so it is safe to
// use as the log forwarding sink.
func (d *Deliverer) SendText(ctx context.Context, text string) error {
	code, err := d.postText(ctx, text)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("teams: unexpected status %d", code)
	}
	return nil
}

func (d *Deliverer) postText(ctx context.Context, text string) (int, error) {
	if d.url == "" {
		return 0, ErrNoWebhook
	}
	if err := d.wait(ctx); err != nil {
		return 0, err
	}
	body, err := json.Marshal(message{Type: "message", Text: text})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.hc.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}
