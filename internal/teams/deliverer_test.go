package teams

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldbridge/internal/card"
	"fieldbridge/internal/httpx"
	logx "fieldbridge/pkg/logx"
)

type webhook struct {
	srv *httptest.Server

	mu     sync.Mutex
	bodies []map[string]any
	starts []time.Time

	status func(n int) int
	hits   atomic.Int32
}

func newWebhook(t *testing.T, status func(n int) int) *webhook {
	t.Helper()
	w := &webhook{status: status}
	w.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		n := int(w.hits.Add(1))
		raw, _ := io.ReadAll(r.Body)
		var m map[string]any
		_ = json.Unmarshal(raw, &m)
		w.mu.Lock()
		w.bodies = append(w.bodies, m)
		w.starts = append(w.starts, time.Now())
		w.mu.Unlock()
		code := http.StatusOK
		if w.status != nil {
			code = w.status(n)
		}
		rw.WriteHeader(code)
		_, _ = rw.Write([]byte("1"))
	}))
	t.Cleanup(w.srv.Close)
	return w
}

func (w *webhook) got() []map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]map[string]any(nil), w.bodies...)
}

func (w *webhook) times() []time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]time.Time(nil), w.starts...)
}

func sampleDoc(title string) card.Document {
	return card.Document{"type": "AdaptiveCard", "version": "1.4", "body": []any{map[string]any{"type": "TextBlock", "text": title}}}
}

func TestSendWrapsCardInMessage(t *testing.T) {
	w := newWebhook(t, nil)
	d := New(w.srv.URL, 0, w.srv.Client(), logx.Nop())

	ok, err := d.Send(context.Background(), sampleDoc("hello"))
	require.NoError(t, err)
	assert.True(t, ok)

	bodies := w.got()
	require.Len(t, bodies, 1)
	got := bodies[0]
	assert.Equal(t, "message", got["type"])
	atts := got["attachments"].([]any)
	require.Len(t, atts, 1)
	att := atts[0].(map[string]any)
	assert.Equal(t, AdaptiveContentType, att["contentType"])
	v, present := att["contentUrl"]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.Equal(t, "AdaptiveCard", att["content"].(map[string]any)["type"])
}

func TestSendStatusHandling(t *testing.T) {
	for _, code := range []int{http.StatusTooManyRequests, http.StatusUnauthorized, http.StatusBadRequest, http.StatusAccepted} {
		w := newWebhook(t, func(int) int { return code })
		d := New(w.srv.URL, 0, w.srv.Client(), logx.Nop())

		ok, err := d.Send(context.Background(), sampleDoc("x"))
		require.NoError(t, err, "status %d is a remote failure, not a local error", code)
		assert.False(t, ok, "status %d", code)
	}
}

func TestSendTransportErrorIsSoft(t *testing.T) {
	d := New("http://127.0.0.1:1/hook", 0, nil, logx.Nop())
	ok, err := d.Send(context.Background(), sampleDoc("x"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSendRetriesThrottledRequest(t *testing.T) {
	w := newWebhook(t, func(n int) int {
		if n == 1 {
			return http.StatusTooManyRequests
		}
		return http.StatusOK
	})
	rt := httpx.NewRetryTransport(w.srv.Client().Transport, httpx.RetryPolicy{Max: 3}, logx.Nop())
	rt.Sleep = func(context.Context, time.Duration) error { return nil }
	d := New(w.srv.URL, 0, &http.Client{Transport: rt}, logx.Nop())

	ok, err := d.Send(context.Background(), sampleDoc("x"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 2, w.hits.Load())
	bodies := w.got()
	assert.Equal(t, bodies[0], bodies[1], "retry replays the same payload")
}

func TestSendIsPaced(t *testing.T) {
	w := newWebhook(t, nil)
	gap := 60 * time.Millisecond
	d := New(w.srv.URL, gap, w.srv.Client(), logx.Nop())

	res := d.SendAll(context.Background(), []card.Document{sampleDoc("a"), sampleDoc("b"), sampleDoc("c")})
	assert.Equal(t, BatchResult{Success: 3, Delivered: []bool{true, true, true}}, res)

	starts := w.times()
	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		// Small slack for timer granularity.
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), gap-10*time.Millisecond)
	}
}

func TestSendAllTalliesWithoutShortCircuit(t *testing.T) {
	w := newWebhook(t, func(n int) int {
		if n == 2 {
			return http.StatusInternalServerError
		}
		return http.StatusOK
	})
	d := New(w.srv.URL, 0, w.srv.Client(), logx.Nop())

	res := d.SendAll(context.Background(), []card.Document{sampleDoc("a"), sampleDoc("b"), sampleDoc("c")})
	assert.Equal(t, BatchResult{Success: 2, Failed: 1, Delivered: []bool{true, false, true}}, res)
	assert.Equal(t, 3, res.Total())
	assert.EqualValues(t, 3, w.hits.Load())
}

func TestSendSummaryPostsAsIs(t *testing.T) {
	w := newWebhook(t, nil)
	d := New(w.srv.URL, 0, w.srv.Client(), logx.Nop())

	ok, err := d.SendSummary(context.Background(), card.RenderBatchSummary(make([]card.Document, 2)))
	require.NoError(t, err)
	assert.True(t, ok)
	body := w.got()[0]
	assert.Equal(t, "MessageCard", body["@type"])
	assert.Equal(t, "Fieldwire Task Updates - 2 new tasks", body["summary"])
}

func TestConnectivityRequiresExactly200(t *testing.T) {
	ok200 := newWebhook(t, nil)
	d := New(ok200.srv.URL, 0, ok200.srv.Client(), logx.Nop())
	assert.True(t, d.TestConnectivity(context.Background()))
	assert.Equal(t, "Fieldwire to Teams integration - Connection test", ok200.got()[0]["text"])

	accepted := newWebhook(t, func(int) int { return http.StatusAccepted })
	d = New(accepted.srv.URL, 0, accepted.srv.Client(), logx.Nop())
	assert.False(t, d.TestConnectivity(context.Background()))

	d = New("http://127.0.0.1:1/hook", 0, nil, logx.Nop())
	assert.False(t, d.TestConnectivity(context.Background()))
}

func TestSendTextReportsStatus(t *testing.T) {
	w := newWebhook(t, func(n int) int {
		if n == 1 {
			return http.StatusOK
		}
		return http.StatusForbidden
	})
	d := New(w.srv.URL, 0, w.srv.Client(), logx.Nop())
	require.NoError(t, d.SendText(context.Background(), "ERROR something broke"))
	require.Error(t, d.SendText(context.Background(), "again"))
}

func TestEmptyWebhook(t *testing.T) {
	d := New("  ", 0, nil, logx.Nop())
	_, err := d.Send(context.Background(), sampleDoc("x"))
	assert.ErrorIs(t, err, ErrNoWebhook)
	assert.Equal(t, BatchResult{Failed: 1, Delivered: []bool{false}}, d.SendAll(context.Background(), []card.Document{sampleDoc("x")}))
}
