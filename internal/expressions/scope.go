package expressions

import (
	"encoding/json"

	"github.com/nvidra/photoflow/pkg/schema"
)

// BuildScope assembles the evaluation scope for one item: the item itself,
// every predecessor payload keyed by stage, the metadata payload (when a
// stage of that shape exists), and a flattened scores map pulling the
// well-known score fields out of quality/aesthetic payloads.
func BuildScope(item schema.Item, deps map[string]*schema.StageResult) map[string]any {
	stages := make(map[string]any, len(deps))
	metadata := map[string]any{}
	scores := map[string]any{}

	for stage, res := range deps {
		if res == nil || len(res.Payload) == 0 {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(res.Payload, &payload); err != nil {
			continue
		}
		stages[stage] = payload

		if _, ok := payload["capture_datetime"]; ok {
			metadata = payload
		} else if _, ok := payload["gps"]; ok {
			metadata = payload
		}
		for _, key := range []string{"quality_score", "overall_aesthetic", "sharpness", "exposure", "noise", "resolution", "composition", "framing", "lighting", "subject_interest"} {
			if v, ok := payload[key]; ok {
				scores[key] = v
			}
		}
	}

	return map[string]any{
		"item":     map[string]any{"id": item.ID, "source": item.Source},
		"metadata": metadata,
		"scores":   scores,
		"stages":   stages,
	}
}
