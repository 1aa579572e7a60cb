package card

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldbridge/internal/fieldwire"
	logx "fieldbridge/pkg/logx"
)

func attachments(n int) []fieldwire.Attachment {
	out := make([]fieldwire.Attachment, 0, n)
	for i := 1; i <= n; i++ {
		id := string(rune('0' + i))
		out = append(out, fieldwire.Attachment{ID: id, Name: "photo" + id + ".jpg", ThumbURL: "https://cdn.example/" + id})
	}
	return out
}

func bodyTexts(t *testing.T, doc Document) []string {
	t.Helper()
	body, ok := doc["body"].([]any)
	require.True(t, ok, "body is a list")
	var out []string
	for _, el := range body {
		if m, ok := el.(map[string]any); ok {
			if s, ok := m["text"].(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func TestRenderKeepsFirstThreePhotos(t *testing.T) {
	r := New("", logx.Nop())
	res := r.RenderResult(fieldwire.Task{ID: "t1", Title: "Pour slab"}, attachments(5))

	require.NoError(t, res.Err)
	assert.False(t, res.Fallback)
	assert.Equal(t, "AdaptiveCard", res.Doc["type"])
	assert.Equal(t, "1.4", res.Doc["version"])
	assert.Equal(t, []string{"https://cdn.example/1", "https://cdn.example/2", "https://cdn.example/3"}, MediaRefs(res.Doc))
}

func TestRenderDefaults(t *testing.T) {
	r := New("", logx.Nop())
	doc := r.Render(fieldwire.Task{ID: "t2", Status: "  "}, nil)

	b, err := json.Marshal(doc)
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, `"Untitled Task"`)
	assert.Contains(t, s, `"unknown"`)
	assert.Contains(t, s, `"Unassigned"`)
	assert.Contains(t, s, `"normal"`)
	assert.Empty(t, MediaRefs(doc))
}

func TestRenderEscapesValues(t *testing.T) {
	r := New("", logx.Nop())
	task := fieldwire.Task{ID: "t3", Title: `Fix "north" wall`, Description: "line1\nline2 {}"}
	res := r.RenderResult(task, nil)

	require.False(t, res.Fallback, "quotes and newlines must not break the card")
	texts := bodyTexts(t, res.Doc)
	assert.Contains(t, texts, `Fix "north" wall`)
	assert.Contains(t, texts, "line1\nline2 {}")
}

func TestRenderUnlinkedAttachment(t *testing.T) {
	r := New("", logx.Nop())
	atts := []fieldwire.Attachment{{ID: "a1", Name: "plan.pdf"}, {ID: "a2", FileURL: "https://cdn.example/a2"}}
	res := r.RenderResult(fieldwire.Task{ID: "t4"}, atts)

	require.False(t, res.Fallback)
	assert.Equal(t, []string{"https://cdn.example/a2"}, MediaRefs(res.Doc))
	assert.Contains(t, bodyTexts(t, res.Doc), "Attachment: plan.pdf")
}

func TestBrokenTemplateFallsBack(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.tmpl")
	require.NoError(t, os.WriteFile(bad, []byte(`{"type": {{.Title}}`), 0o644))

	task := fieldwire.Task{ID: "t5", Title: "Inspect rebar", Status: "open"}
	for name, r := range map[string]*Renderer{
		"invalid output":   New(bad, logx.Nop()),
		"missing template": New(filepath.Join(dir, "missing.tmpl"), logx.Nop()),
	} {
		t.Run(name, func(t *testing.T) {
			res := r.RenderResult(task, attachments(2))
			require.True(t, res.Fallback)
			require.Error(t, res.Err)
			assert.Equal(t, Fallback(task), res.Doc)
			assert.Equal(t, []string{"Inspect rebar", "Status: open", "No description"}, bodyTexts(t, res.Doc))
		})
	}
}

func TestNonObjectTemplateFallsBack(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "array.tmpl")
	require.NoError(t, os.WriteFile(p, []byte(`[{{json .Title}}]`), 0o644))

	res := New(p, logx.Nop()).RenderResult(fieldwire.Task{ID: "t6"}, nil)
	assert.True(t, res.Fallback)
	assert.Equal(t, []string{"Task Update", "Status: unknown", "No description"}, bodyTexts(t, res.Doc))
}

func TestCustomTemplate(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "mini.tmpl")
	src := `{"type":"AdaptiveCard","version":"1.4","body":[{"type":"TextBlock","text":{{json .Title}}}]}`
	require.NoError(t, os.WriteFile(p, []byte(src), 0o644))

	res := New(p, logx.Nop()).RenderResult(fieldwire.Task{ID: "t7", Name: "From name"}, nil)
	require.False(t, res.Fallback)
	assert.Equal(t, []string{"From name"}, bodyTexts(t, res.Doc))
}

func TestRenderBatchSummary(t *testing.T) {
	s := RenderBatchSummary(make([]Document, 4))
	assert.Equal(t, "MessageCard", s["@type"])
	assert.Equal(t, "Fieldwire Task Updates - 4 new tasks", s["summary"])
	assert.Equal(t, "0078D4", s["themeColor"])

	sections := s["sections"].([]any)
	require.Len(t, sections, 1)
	sec := sections[0].(map[string]any)
	assert.Equal(t, "4 new tasks from Fieldwire", sec["activitySubtitle"])
}
