package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nvidra/photoflow/pkg/schema"
)

const captionPrompt = `Generate travel photo captions.
Return 3 levels: concise (<100 chars), standard (150-250 chars), detailed (300-500 chars).
Add keywords. Respond with ONLY valid JSON:
{"concise": "<max 100 chars>", "standard": "<150-250 chars>", "detailed": "<300-500 chars>", "keywords": ["<kw1>", "<kw2>"]}`

// CaptionProcessor generates three caption lengths plus keywords through the
// vision collaborator. Runs after filtering so only selected photos pay for
// caption tokens.
type CaptionProcessor struct {
	vision VisionClient
}

// NewCaptionProcessor creates the caption stage around a vision client.
func NewCaptionProcessor(vision VisionClient) *CaptionProcessor {
	return &CaptionProcessor{vision: vision}
}

func (p *CaptionProcessor) Name() string { return "caption_generation" }

func (p *CaptionProcessor) Process(ctx context.Context, item schema.Item, deps map[string]*schema.StageResult) (*Output, error) {
	prompt := captionPrompt
	for _, payload := range depPayloads(deps) {
		if cat, ok := payload["category"].(string); ok && cat != "" {
			prompt = fmt.Sprintf("%s\nPhoto category: %s", prompt, cat)
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
		return nil, fmt.Errorf("caption response: %w", perr)
	}

	concise, _ := parsed["concise"].(string)
	standard, _ := parsed["standard"].(string)
	detailed, _ := parsed["detailed"].(string)

	keywords := []string{}
	if raw, ok := parsed["keywords"].([]any); ok {
		for _, k := range raw {
			if s, ok := k.(string); ok {
				keywords = append(keywords, s)
			}
		}
	}

	payload, err := json.Marshal(map[string]any{
		"image_id": item.ID,
		"captions": map[string]any{
			"concise":  truncate(concise, 100),
			"standard": truncate(standard, 250),
			"detailed": truncate(detailed, 500),
		},
		"keywords": keywords,
	})
	if err != nil {
		return nil, err
	}
	out.Payload = payload
	return out, nil
}

// Placeholder is the generic caption set substituted when generation fails.
func (p *CaptionProcessor) Placeholder(item schema.Item) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"image_id": item.ID,
		"captions": map[string]any{
			"concise":  "Travel photograph",
			"standard": "Travel photograph",
			"detailed": "Travel photograph",
		},
		"keywords": []string{"travel", "photography", "journey"},
	})
	return b
}

// truncate caps a caption at max characters, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := strings.TrimSpace(s[:max-3])
	return cut + "..."
}

var _ Processor = (*CaptionProcessor)(nil)
