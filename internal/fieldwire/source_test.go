package fieldwire

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "fieldbridge/pkg/logx"
)

type fakeFieldwire struct {
	srv       *httptest.Server
	authHits  atomic.Int32
	authCode  int
	failTasks bool
	lastQuery atomic.Value // url.Values as string
}

func newFakeFieldwire(t *testing.T) *fakeFieldwire {
	t.Helper()
	f := &fakeFieldwire{authCode: http.StatusOK}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api_keys/jwt", func(w http.ResponseWriter, r *http.Request) {
		f.authHits.Add(1)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if f.authCode != http.StatusOK || body["api_token"] != "long-lived" {
			code := f.authCode
			if code == http.StatusOK {
				code = http.StatusUnauthorized
			}
			http.Error(w, `{"error":"invalid token"}`, code)
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"jwt-1","expires_at":"2030-01-01T00:00:00Z"}`))
	})
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer jwt-1" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			h(w, r)
		}
	}
	mux.HandleFunc("GET /projects", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"projects":[{"id":"p1","name":"One"},{"id":"p2","name":"Two"},{"id":"p3","name":"Three"}]}`))
	}))
	mux.HandleFunc("GET /projects/{pid}/tasks", authed(func(w http.ResponseWriter, r *http.Request) {
		f.lastQuery.Store(r.URL.RawQuery)
		if f.failTasks {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"tasks":[{"id":"t1","title":"Pour slab","status":2,"priority":"high","assigned_to":{"name":"Ana"},"project_id":"` + r.PathValue("pid") + `"}]}`))
	}))
	mux.HandleFunc("GET /projects/{pid}/tasks/{tid}/attachments", authed(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a1","name":"photo.jpg","thumb_url":"https://cdn.example/a1"}]`))
	}))
	mux.HandleFunc("HEAD /projects/{pid}/attachments/{aid}/media", authed(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/media/"+r.PathValue("aid")+".jpg", http.StatusFound)
	}))
	mux.HandleFunc("HEAD /media/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeFieldwire) client(token string) (*Client, *Broker) {
	b := NewBroker(token, f.srv.URL, f.srv.Client(), logx.Nop())
	c := NewClient(f.srv.URL, b, f.srv.Client(), logx.Nop())
	return c, b
}

func TestBrokerAuthenticatesOnce(t *testing.T) {
	f := newFakeFieldwire(t)
	_, b := f.client("long-lived")
	assert.Equal(t, Unauthenticated, b.State())

	for i := 0; i < 3; i++ {
		hdr, err := b.AuthHeader(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "Bearer jwt-1", hdr)
	}
	assert.EqualValues(t, 1, f.authHits.Load())
	assert.Equal(t, Authenticated, b.State())

	tok, ok := b.Token()
	require.True(t, ok)
	assert.Equal(t, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), tok.ExpiresAt)
}

func TestBrokerRejectedCredential(t *testing.T) {
	f := newFakeFieldwire(t)
	_, b := f.client("wrong")

	_, err := b.Authenticate(context.Background())
	require.Error(t, err)
	var ae *AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
	assert.Equal(t, Unauthenticated, b.State())
}

func TestBrokerNetworkFailure(t *testing.T) {
	b := NewBroker("long-lived", "http://127.0.0.1:1", nil, logx.Nop())
	_, err := b.AuthHeader(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestListWorkspacesFilter(t *testing.T) {
	f := newFakeFieldwire(t)
	c, _ := f.client("long-lived")
	ctx := context.Background()

	all, err := c.ListWorkspaces(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	got, err := c.ListWorkspaces(ctx, []string{"p3", "missing", "p1"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID, "listing order follows the API, not the filter")
	assert.Equal(t, "p3", got[1].ID)
}

func TestListUpdatedTasksQuery(t *testing.T) {
	f := newFakeFieldwire(t)
	c, _ := f.client("long-lived")
	c.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	tasks, err := c.ListUpdatedTasks(context.Background(), "p1", 60*time.Minute)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Pour slab", tasks[0].DisplayTitle())
	assert.Equal(t, "2", tasks[0].Status.String())
	assert.Equal(t, "Ana", tasks[0].AssigneeName())
	assert.Equal(t, "p1", tasks[0].ProjectID)

	q, _ := f.lastQuery.Load().(string)
	assert.Equal(t, "include_deleted=false&updated_at_min=2026-03-01T11%3A00%3A00Z", q)
}

func TestFetchFailureIsSoft(t *testing.T) {
	f := newFakeFieldwire(t)
	f.failTasks = true
	c, _ := f.client("long-lived")
	ctx := context.Background()

	r := c.updatedTasks(ctx, "p1", time.Hour)
	require.Error(t, r.err)
	assert.Empty(t, r.items)

	tasks, err := c.ListUpdatedTasks(ctx, "p1", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	dead := NewClient("http://127.0.0.1:1", NewBroker("long-lived", f.srv.URL, nil, logx.Nop()), nil, logx.Nop())
	ws, err := dead.ListWorkspaces(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, ws)
}

func TestAuthFailureEscapesListing(t *testing.T) {
	f := newFakeFieldwire(t)
	c, _ := f.client("wrong")

	_, err := c.ListWorkspaces(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestListAttachmentsAndResolve(t *testing.T) {
	f := newFakeFieldwire(t)
	c, _ := f.client("long-lived")
	ctx := context.Background()

	atts, err := c.ListAttachments(ctx, "p1", "t1")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "https://cdn.example/a1", atts[0].MediaURL())

	u, ok := c.ResolveAttachmentURL(ctx, "p1", "a9")
	require.True(t, ok)
	assert.Equal(t, f.srv.URL+"/media/a9.jpg", u)

	_, ok = c.ResolveAttachmentURL(ctx, "p1", "")
	assert.False(t, ok)
}

func TestRegionalBases(t *testing.T) {
	assert.Equal(t, "https://client-api.fieldwire.eu", AuthBase("EU", ""))
	assert.Equal(t, "https://client-api.super.fieldwire.com", AuthBase("mars", ""))
	assert.Equal(t, "https://api.eu.fieldwire.io/api", APIBase("eu", ""))
	assert.Equal(t, "http://localhost:9", APIBase("eu", "http://localhost:9/"))
}
