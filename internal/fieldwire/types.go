package fieldwire

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Workspace is a Fieldwire project.
type Workspace struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      FlexString `json:"status"`
	Description string     `json:"description"`
	CreatedAt   string     `json:"created_at"`
}

// Person is the subset of a user record embedded in tasks.
type Person struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
}

// Task is a read-only snapshot of a Fieldwire task.
//
// Fieldwire names the task text "name"; older payloads and fixtures use
// "title". DisplayTitle prefers title.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Name        string     `json:"name"`
	Status      FlexString `json:"status"`
	Description string     `json:"description"`
	DueDate     string     `json:"due_date"`
	AssignedTo  *Person    `json:"assigned_to"`
	Priority    FlexString `json:"priority"`
	ProjectID   string     `json:"project_id"`
	UpdatedAt   string     `json:"updated_at"`
}

func (t Task) DisplayTitle() string {
	if s := strings.TrimSpace(t.Title); s != "" {
		return s
	}
	return strings.TrimSpace(t.Name)
}

func (t Task) AssigneeName() string {
	if t.AssignedTo == nil {
		return ""
	}
	return strings.TrimSpace(t.AssignedTo.Name)
}

// Attachment is attachment metadata; binary content is never fetched.
type Attachment struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FileURL     string `json:"file_url"`
	ThumbURL    string `json:"thumb_url"`
	ContentType string `json:"content_type"`
	Kind        string `json:"kind"`
}

// MediaURL is the best URL to show for the attachment: thumbnail first.
func (a Attachment) MediaURL() string {
	if u := strings.TrimSpace(a.ThumbURL); u != "" {
		return u
	}
	return strings.TrimSpace(a.FileURL)
}

// Token is a short-lived bearer token.
type Token struct {
	AccessToken string
	// ExpiresAt is zero when the server value could not be parsed; RawExpiry keeps it verbatim.
	ExpiresAt time.Time
	RawExpiry string
}

// FlexString accepts a JSON string, number or bool. Fieldwire reports some
// enum-like fields (status, priority) numerically depending on the endpoint.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*f = FlexString(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*f = FlexString(strconv.FormatBool(x))
	default:
		*f = FlexString(string(b))
	}
	return nil
}

func (f FlexString) String() string { return strings.TrimSpace(string(f)) }

func parseExpiry(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil && n > 0 {
		return time.Unix(int64(n), 0).UTC()
	}
	return time.Time{}
}
