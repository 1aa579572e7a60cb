package card

import "fieldbridge/internal/fieldwire"

// Fallback is the minimal card used when the template cannot render.
// It depends only on the task, so it is deterministic.
func Fallback(task fieldwire.Task) Document {
	return Document{
		"$schema": SchemaURL,
		"type":    "AdaptiveCard",
		"version": SchemaVersion,
		"body": []any{
			map[string]any{
				"type":   "TextBlock",
				"size":   "large",
				"weight": "bolder",
				"text":   orDefault(task.DisplayTitle(), "Task Update"),
			},
			map[string]any{
				"type":    "TextBlock",
				"text":    "Status: " + orDefault(task.Status.String(), "unknown"),
				"spacing": "small",
			},
			map[string]any{
				"type":    "TextBlock",
				"text":    orDefault(task.Description, "No description"),
				"spacing": "small",
			},
		},
	}
}

// MediaRefs lists image URLs found in doc, in document order.
func MediaRefs(doc Document) []string {
	var out []string
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case map[string]any:
			if x["type"] == "Image" {
				if u, ok := x["url"].(string); ok && u != "" {
					out = append(out, u)
				}
			}
			for _, k := range []string{"body", "items", "images", "columns"} {
				if c, ok := x[k]; ok {
					walk(c)
				}
			}
		case Document:
			walk(map[string]any(x))
		case []any:
			for _, e := range x {
				walk(e)
			}
		}
	}
	walk(doc)
	return out
}
