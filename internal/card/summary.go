package card

import "fmt"

// SummaryDocument is a legacy MessageCard announcing a batch.
type SummaryDocument map[string]any

// RenderBatchSummary builds the batch announcement for docs.
func RenderBatchSummary(docs []Document) SummaryDocument {
	n := len(docs)
	return SummaryDocument{
		"@type":      "MessageCard",
		"@context":   "https://schema.org/extensions",
		"summary":    fmt.Sprintf("Fieldwire Task Updates - %d new tasks", n),
		"themeColor": "0078D4",
		"sections": []any{
			map[string]any{
				"activityTitle":    "Fieldwire Task Updates",
				"activitySubtitle": fmt.Sprintf("%d new tasks from Fieldwire", n),
				"text":             "Check the cards below for details",
			},
		},
	}
}
