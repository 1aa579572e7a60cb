package fieldwire

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	logx "fieldbridge/pkg/logx"
)

// fetchResult keeps "empty" and "failed" apart internally; the public list
// methods collapse both to an empty slice.
type fetchResult[T any] struct {
	items []T
	err   error
}

func fetchList[T any](ctx context.Context, c *Client, path string, query url.Values, key string) fetchResult[T] {
	body, err := c.getJSON(ctx, path, query)
	if err != nil {
		return fetchResult[T]{err: err}
	}
	items, err := decodeList[T](body, key)
	if err != nil {
		return fetchResult[T]{err: err}
	}
	return fetchResult[T]{items: items}
}

// settle logs a failed fetch and decides what escapes: only *AuthError does.
func (c *Client) settle(what string, err error, fields ...logx.Field) error {
	if err == nil {
		return nil
	}
	if IsAuthError(err) {
		return err
	}
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusUnauthorized {
		c.log.Error("session token rejected by fieldwire", append(fields, logx.String("op", what))...)
		return nil
	}
	c.log.Error("error fetching "+what, append(fields, logx.Err(err))...)
	return nil
}

func (c *Client) workspaces(ctx context.Context) fetchResult[Workspace] {
	return fetchList[Workspace](ctx, c, "/projects", nil, "projects")
}

// ListWorkspaces lists the projects visible to the credential. A non-empty
// filter keeps only listed ids, in the API's listing order. Fetch failures
// are logged and yield an empty result.
func (c *Client) ListWorkspaces(ctx context.Context, filter []string) ([]Workspace, error) {
	r := c.workspaces(ctx)
	if err := c.settle("projects", r.err); err != nil {
		return nil, err
	}
	out := filterWorkspaces(r.items, filter)
	c.log.Info("fetched projects", logx.Int("count", len(out)))
	return out, nil
}

func filterWorkspaces(in []Workspace, filter []string) []Workspace {
	if len(filter) == 0 {
		return in
	}
	want := make(map[string]struct{}, len(filter))
	for _, id := range filter {
		want[id] = struct{}{}
	}
	out := make([]Workspace, 0, len(in))
	for _, w := range in {
		if _, ok := want[w.ID]; ok {
			out = append(out, w)
		}
	}
	return out
}

// SinceParam formats the lower bound of the trailing window.
func SinceParam(now time.Time, window time.Duration) string {
	return now.UTC().Add(-window).Format(time.RFC3339)
}

func (c *Client) updatedTasks(ctx context.Context, workspaceID string, window time.Duration) fetchResult[Task] {
	q := url.Values{}
	q.Set("updated_at_min", SinceParam(c.now(), window))
	q.Set("include_deleted", "false")
	return fetchList[Task](ctx, c, "/projects/"+url.PathEscape(workspaceID)+"/tasks", q, "tasks")
}

// ListUpdatedTasks lists non-deleted tasks updated within the trailing window.
func (c *Client) ListUpdatedTasks(ctx context.Context, workspaceID string, window time.Duration) ([]Task, error) {
	r := c.updatedTasks(ctx, workspaceID, window)
	if err := c.settle("tasks", r.err, logx.String("project", workspaceID)); err != nil {
		return nil, err
	}
	c.log.Info("fetched updated tasks", logx.Int("count", len(r.items)), logx.String("project", workspaceID))
	return r.items, nil
}

func (c *Client) attachments(ctx context.Context, workspaceID, taskID string) fetchResult[Attachment] {
	path := "/projects/" + url.PathEscape(workspaceID) + "/tasks/" + url.PathEscape(taskID) + "/attachments"
	return fetchList[Attachment](ctx, c, path, nil, "attachments")
}

// ListAttachments lists attachment metadata for a task.
func (c *Client) ListAttachments(ctx context.Context, workspaceID, taskID string) ([]Attachment, error) {
	r := c.attachments(ctx, workspaceID, taskID)
	if err := c.settle("attachments", r.err, logx.String("project", workspaceID), logx.String("task", taskID)); err != nil {
		return nil, err
	}
	c.log.Debug("fetched attachments", logx.Int("count", len(r.items)), logx.String("task", taskID))
	return r.items, nil
}

// ResolveAttachmentURL asks for the media location with a HEAD request and
// returns the URL reached after redirects.
func (c *Client) ResolveAttachmentURL(ctx context.Context, workspaceID, attachmentID string) (string, bool) {
	path := "/projects/" + url.PathEscape(workspaceID) + "/attachments/" + url.PathEscape(attachmentID) + "/media"
	req, err := c.newRequest(ctx, http.MethodHead, path, nil)
	if err != nil {
		c.log.Error("error getting attachment URL", logx.String("attachment", attachmentID), logx.Err(err))
		return "", false
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Error("error getting attachment URL", logx.String("attachment", attachmentID), logx.Err(err))
		return "", false
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Error("error getting attachment URL", logx.String("attachment", attachmentID), logx.Int("status", resp.StatusCode))
		return "", false
	}
	return resp.Request.URL.String(), true
}
