package stages

import (
	"context"
	"encoding/json"

	"github.com/nvidra/photoflow/pkg/schema"
)

// QualityScores are the pixel-derived component scores a QualityScorer
// supplies, each on the 1-5 scale.
type QualityScores struct {
	Sharpness int
	Exposure  int
	Noise     int
	Issues    []string
}

// QualityScorer is the collaborator contract of the technical quality stage.
// Implementations typically wrap a CV pipeline or a vision model.
type QualityScorer interface {
	Score(ctx context.Context, item schema.Item) (*QualityScores, error)
}

// QualityProcessor scores technical quality: sharpness, exposure and noise
// from the scorer, resolution from the metadata stage's dimensions, combined
// into a weighted overall score.
type QualityProcessor struct {
	scorer QualityScorer
}

// NewQualityProcessor creates the quality stage around a scorer.
func NewQualityProcessor(scorer QualityScorer) *QualityProcessor {
	return &QualityProcessor{scorer: scorer}
}

func (p *QualityProcessor) Name() string { return "quality_assessment" }

func (p *QualityProcessor) Process(ctx context.Context, item schema.Item, deps map[string]*schema.StageResult) (*Output, error) {
	scores, err := p.scorer.Score(ctx, item)
	if err != nil {
		return nil, err
	}

	sharpness := clampScore(scores.Sharpness)
	exposure := clampScore(scores.Exposure)
	noise := clampScore(scores.Noise)
	resolution, resIssues := resolutionScore(deps)

	issues := append([]string{}, scores.Issues...)
	issues = append(issues, resIssues...)
	if sharpness <= 2 {
		issues = append(issues, "motion_blur")
	}
	if noise <= 2 {
		issues = append(issues, "high_noise")
	}

	overall := clampScore(int(
		float64(sharpness)*0.35 +
			float64(exposure)*0.30 +
			float64(noise)*0.20 +
			float64(resolution)*0.15 + 0.5))

	payload, err := json.Marshal(map[string]any{
		"image_id":      item.ID,
		"quality_score": overall,
		"sharpness":     sharpness,
		"exposure":      exposure,
		"noise":         noise,
		"resolution":    resolution,
		"issues":        issues,
	})
	if err != nil {
		return nil, err
	}
	return &Output{Payload: payload}, nil
}

// Placeholder is the neutral midpoint assessment used when scoring fails.
func (p *QualityProcessor) Placeholder(item schema.Item) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"image_id":      item.ID,
		"quality_score": 3,
		"sharpness":     3,
		"exposure":      3,
		"noise":         3,
		"resolution":    3,
		"issues":        []string{"processing_error"},
	})
	return b
}

// resolutionScore grades megapixel count from the metadata stage's reported
// dimensions. Without dimensions it stays neutral.
func resolutionScore(deps map[string]*schema.StageResult) (int, []string) {
	for _, payload := range depPayloads(deps) {
		dims, ok := payload["dimensions"].(map[string]any)
		if !ok {
			continue
		}
		w, _ := dims["width"].(float64)
		h, _ := dims["height"].(float64)
		pixels := int64(w) * int64(h)
		if pixels <= 0 {
			continue
		}

		var issues []string
		if pixels < 2_000_000 {
			issues = []string{"low_resolution"}
		}
		switch {
		case pixels >= 24_000_000:
			return 5, issues
		case pixels >= 12_000_000:
			return 4, issues
		case pixels >= 8_000_000:
			return 3, issues
		case pixels >= 2_000_000:
			return 2, issues
		default:
			return 1, issues
		}
	}
	return 3, nil
}

var _ Processor = (*QualityProcessor)(nil)

const qualityPrompt = `You are a photo technician. Rate this photo's technical
quality on a 1-5 scale for: sharpness, exposure, noise (5 = clean, 1 = very
noisy). List visible defects. Respond with ONLY a JSON object:
{"sharpness": <1-5>, "exposure": <1-5>, "noise": <1-5>, "issues": ["<defect>", ...]}`

// VisionQualityScorer derives technical scores from the vision collaborator
// when no CV pipeline is available. An unparseable response yields neutral
// midpoint scores.
type VisionQualityScorer struct {
	vision VisionClient
}

// NewVisionQualityScorer creates a scorer around a vision client.
func NewVisionQualityScorer(vision VisionClient) *VisionQualityScorer {
	return &VisionQualityScorer{vision: vision}
}

func (s *VisionQualityScorer) Score(ctx context.Context, item schema.Item) (*QualityScores, error) {
	resp, err := s.vision.Analyze(ctx, VisionRequest{Prompt: qualityPrompt, ImageRef: item.Source})
	if err != nil {
		return nil, err
	}

	parsed, perr := parseModelJSON(resp.Text)
	if perr != nil {
		parsed = map[string]any{}
	}

	scores := &QualityScores{
		Sharpness: scoreFrom(parsed, "sharpness"),
		Exposure:  scoreFrom(parsed, "exposure"),
		Noise:     scoreFrom(parsed, "noise"),
	}
	if raw, ok := parsed["issues"].([]any); ok {
		for _, v := range raw {
			if issue, ok := v.(string); ok && issue != "" {
				scores.Issues = append(scores.Issues, issue)
			}
		}
	}
	return scores, nil
}

var _ QualityScorer = (*VisionQualityScorer)(nil)
