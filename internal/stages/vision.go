package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nvidra/photoflow/pkg/schema"
)

// VisionRequest is one metered call to the vision-language collaborator.
type VisionRequest struct {
	Prompt   string
	ImageRef string // file path, URL or data URL of the photo
}

// VisionResponse carries the model text plus the token counts the usage
// aggregator bills for.
type VisionResponse struct {
	Text        string
	InputUnits  int64
	OutputUnits int64
}

// VisionClient is the collaborator contract for stages that need a
// vision-language model. Implementations must be safe for concurrent use.
type VisionClient interface {
	Analyze(ctx context.Context, req VisionRequest) (*VisionResponse, error)
}

// OpenAIVisionClient implements VisionClient against an OpenAI-compatible
// chat-completions endpoint.
type OpenAIVisionClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIVisionClient creates a vision client. baseURL may be empty for
// the default endpoint; model defaults to gpt-4o-mini.
func NewOpenAIVisionClient(apiKey, baseURL, model string) *OpenAIVisionClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIVisionClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Analyze sends the prompt plus image reference and returns the model text
// with token usage.
func (c *OpenAIVisionClient) Analyze(ctx context.Context, req VisionRequest) (*VisionResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: req.Prompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: req.ImageRef},
					},
				},
			},
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("vision call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("vision call returned no choices")
	}

	return &VisionResponse{
		Text:        resp.Choices[0].Message.Content,
		InputUnits:  int64(resp.Usage.PromptTokens),
		OutputUnits: int64(resp.Usage.CompletionTokens),
	}, nil
}

var _ VisionClient = (*OpenAIVisionClient)(nil)

// parseModelJSON extracts a JSON object from model output, tolerating code
// fences and surrounding prose.
func parseModelJSON(text string) (map[string]any, error) {
	cleaned := strings.TrimSpace(text)
	if i := strings.Index(cleaned, "```"); i >= 0 {
		cleaned = cleaned[i+3:]
		cleaned = strings.TrimPrefix(cleaned, "json")
		if j := strings.Index(cleaned, "```"); j >= 0 {
			cleaned = cleaned[:j]
		}
	}
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("parse model response: %w", err)
	}
	return out, nil
}

// scoreFrom reads a 1-5 integer score out of a parsed model response,
// clamping to the valid range and falling back to the neutral midpoint.
func scoreFrom(m map[string]any, key string) int {
	v, ok := m[key]
	if !ok {
		return 3
	}
	var n int
	switch x := v.(type) {
	case float64:
		n = int(x + 0.5)
	case int:
		n = x
	default:
		return 3
	}
	return clampScore(n)
}

func clampScore(n int) int {
	if n < 1 {
		return 1
	}
	if n > 5 {
		return 5
	}
	return n
}

// depPayloads decodes each dependency payload into a generic map, keyed by
// stage name. Payloads that fail to decode are silently dropped; callers
// treat missing data the same as absent stages.
func depPayloads(deps map[string]*schema.StageResult) map[string]map[string]any {
	out := make(map[string]map[string]any, len(deps))
	for stage, res := range deps {
		if res == nil || len(res.Payload) == 0 {
			continue
		}
		var payload map[string]any
		if err := json.Unmarshal(res.Payload, &payload); err != nil {
			continue
		}
		out[stage] = payload
	}
	return out
}
