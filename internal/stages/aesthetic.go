package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nvidra/photoflow/pkg/schema"
)

const aestheticPrompt = `You are an expert photography curator. Rate this travel
photo on a 1-5 scale for: composition, framing, lighting, subject_interest.
Respond with ONLY a JSON object:
{"composition": <1-5>, "framing": <1-5>, "lighting": <1-5>, "subject_interest": <1-5>, "notes": "<one sentence>"}`

// AestheticProcessor scores visual appeal through the vision collaborator.
// The model's component scores are combined into overall_aesthetic; an
// unparseable response degrades to the neutral midpoint with a warning
// instead of failing the item.
type AestheticProcessor struct {
	vision VisionClient
}

// NewAestheticProcessor creates the aesthetic stage around a vision client.
func NewAestheticProcessor(vision VisionClient) *AestheticProcessor {
	return &AestheticProcessor{vision: vision}
}

func (p *AestheticProcessor) Name() string { return "aesthetic_assessment" }

func (p *AestheticProcessor) Process(ctx context.Context, item schema.Item, deps map[string]*schema.StageResult) (*Output, error) {
	prompt := aestheticPrompt
	for _, payload := range depPayloads(deps) {
		if dt, ok := payload["capture_datetime"].(string); ok && dt != "" {
			prompt = fmt.Sprintf("%s\nCaptured at: %s", prompt, dt)
			break
		}
	}

	resp, err := p.vision.Analyze(ctx, VisionRequest{Prompt: prompt, ImageRef: item.Source})
	if err != nil {
		return nil, err
	}

	out := &Output{
		Usage: &schema.UsageRecord{InputUnits: resp.InputUnits, OutputUnits: resp.OutputUnits},
	}

	parsed, perr := parseModelJSON(resp.Text)
	if perr != nil {
		parsed = map[string]any{}
		out.Warnings = append(out.Warnings, "unparseable aesthetic response, neutral scores substituted")
	}

	composition := scoreFrom(parsed, "composition")
	framing := scoreFrom(parsed, "framing")
	lighting := scoreFrom(parsed, "lighting")
	subject := scoreFrom(parsed, "subject_interest")
	overall := clampScore(int(float64(composition+framing+lighting+subject)/4 + 0.5))

	notes, _ := parsed["notes"].(string)

	payload, err := json.Marshal(map[string]any{
		"image_id":          item.ID,
		"composition":       composition,
		"framing":           framing,
		"lighting":          lighting,
		"subject_interest":  subject,
		"overall_aesthetic": overall,
		"notes":             notes,
	})
	if err != nil {
		return nil, err
	}
	out.Payload = payload
	return out, nil
}

// Placeholder is the neutral midpoint assessment used when the vision call
// fails outright.
func (p *AestheticProcessor) Placeholder(item schema.Item) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"image_id":          item.ID,
		"composition":       3,
		"framing":           3,
		"lighting":          3,
		"subject_interest":  3,
		"overall_aesthetic": 3,
		"notes":             "assessment unavailable",
	})
	return b
}

var _ Processor = (*AestheticProcessor)(nil)
