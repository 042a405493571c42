package stages

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nvidra/photoflow/pkg/schema"
)

// fakeReader returns canned metadata per item.
type fakeReader struct {
	meta map[string]*PhotoMetadata
	err  error
}

func (f *fakeReader) Read(_ context.Context, item schema.Item) (*PhotoMetadata, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.meta[item.ID], nil
}

// fakeVision returns a canned response without network access.
type fakeVision struct {
	text string
	err  error
}

func (f *fakeVision) Analyze(_ context.Context, _ VisionRequest) (*VisionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &VisionResponse{Text: f.text, InputUnits: 120, OutputUnits: 40}, nil
}

func decodePayload(t *testing.T, payload json.RawMessage) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	return doc
}

func TestMetadataProcessor(t *testing.T) {
	lat, lon := 48.8584, 2.2945
	reader := &fakeReader{meta: map[string]*PhotoMetadata{
		"img-001": {
			Filename: "tower.jpg", FileSizeBytes: 2_400_000, Format: "jpg",
			Width: 4000, Height: 3000,
			CaptureDatetime: "2024-06-01T18:30:00",
			Latitude:        &lat, Longitude: &lon,
		},
		"img-002": {Filename: "noexif.jpg", FileSizeBytes: 900_000, Format: "jpg"},
	}}
	p := NewMetadataProcessor(reader)

	out, err := p.Process(context.Background(), schema.Item{ID: "img-001", Source: "/photos/tower.jpg"}, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	doc := decodePayload(t, out.Payload)
	if doc["filename"] != "tower.jpg" || doc["format"] != "jpg" {
		t.Errorf("payload = %v", doc)
	}
	if flags := doc["flags"].([]any); len(flags) != 0 {
		t.Errorf("unexpected flags: %v", flags)
	}

	out, err = p.Process(context.Background(), schema.Item{ID: "img-002", Source: "/photos/noexif.jpg"}, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	doc = decodePayload(t, out.Payload)
	flags := doc["flags"].([]any)
	if len(flags) != 2 || flags[0] != "missing_datetime" || flags[1] != "missing_gps" {
		t.Errorf("flags = %v", flags)
	}
}

func TestMetadataProcessor_ReaderError(t *testing.T) {
	p := NewMetadataProcessor(&fakeReader{err: errors.New("unreadable file")})
	_, err := p.Process(context.Background(), schema.Item{ID: "img-001"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}

	doc := decodePayload(t, p.Placeholder(schema.Item{ID: "img-001", Source: "/photos/x.jpg"}))
	if doc["image_id"] != "img-001" || doc["format"] != "unknown" {
		t.Errorf("placeholder = %v", doc)
	}
}

// fixedScorer returns the same component scores for every item.
type fixedScorer struct {
	scores QualityScores
	err    error
}

func (f *fixedScorer) Score(_ context.Context, _ schema.Item) (*QualityScores, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.scores
	return &s, nil
}

func metadataDep(width, height int) map[string]*schema.StageResult {
	payload, _ := json.Marshal(map[string]any{
		"image_id":   "img-001",
		"dimensions": map[string]any{"width": width, "height": height},
	})
	return map[string]*schema.StageResult{
		"metadata_extraction": {Stage: "metadata_extraction", Payload: payload},
	}
}

func TestQualityProcessor_WeightedScore(t *testing.T) {
	p := NewQualityProcessor(&fixedScorer{scores: QualityScores{Sharpness: 5, Exposure: 4, Noise: 4}})

	// 6000x4000 = 24MP: resolution 5. Weighted: 5*.35+4*.30+4*.20+5*.15 = 4.5 -> 5.
	out, err := p.Process(context.Background(), schema.Item{ID: "img-001"}, metadataDep(6000, 4000))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	doc := decodePayload(t, out.Payload)
	if doc["quality_score"] != float64(5) {
		t.Errorf("quality_score = %v", doc["quality_score"])
	}
	if doc["resolution"] != float64(5) {
		t.Errorf("resolution = %v", doc["resolution"])
	}
}

func TestQualityProcessor_LowScoresCollectIssues(t *testing.T) {
	p := NewQualityProcessor(&fixedScorer{scores: QualityScores{Sharpness: 1, Exposure: 2, Noise: 2, Issues: []string{"overexposed_highlights"}}})

	// 1200x900 ~ 1MP: resolution 1, low_resolution issue.
	out, err := p.Process(context.Background(), schema.Item{ID: "img-001"}, metadataDep(1200, 900))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	doc := decodePayload(t, out.Payload)

	issues := doc["issues"].([]any)
	want := map[string]bool{"overexposed_highlights": true, "low_resolution": true, "motion_blur": true, "high_noise": true}
	for _, issue := range issues {
		delete(want, issue.(string))
	}
	if len(want) != 0 {
		t.Errorf("missing issues %v in %v", want, issues)
	}
	if doc["quality_score"] != float64(2) {
		t.Errorf("quality_score = %v", doc["quality_score"])
	}
}

func TestQualityProcessor_NoDimensionsStaysNeutral(t *testing.T) {
	p := NewQualityProcessor(&fixedScorer{scores: QualityScores{Sharpness: 3, Exposure: 3, Noise: 3}})

	out, err := p.Process(context.Background(), schema.Item{ID: "img-001"}, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	doc := decodePayload(t, out.Payload)
	if doc["resolution"] != float64(3) {
		t.Errorf("resolution = %v", doc["resolution"])
	}
}

func TestAestheticProcessor_ParsesScores(t *testing.T) {
	p := NewAestheticProcessor(&fakeVision{
		text: `{"composition": 4, "framing": 5, "lighting": 4, "subject_interest": 3, "notes": "strong leading lines"}`,
	})

	out, err := p.Process(context.Background(), schema.Item{ID: "img-001", Source: "/photos/canal.jpg"}, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	doc := decodePayload(t, out.Payload)
	if doc["overall_aesthetic"] != float64(4) {
		t.Errorf("overall_aesthetic = %v", doc["overall_aesthetic"])
	}
	if out.Usage == nil || out.Usage.InputUnits != 120 || out.Usage.OutputUnits != 40 {
		t.Errorf("usage = %+v", out.Usage)
	}
}

func TestAestheticProcessor_UnparseableDegradesToNeutral(t *testing.T) {
	p := NewAestheticProcessor(&fakeVision{text: "I cannot rate this image."})

	out, err := p.Process(context.Background(), schema.Item{ID: "img-001", Source: "/photos/canal.jpg"}, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Warnings) == 0 {
		t.Error("expected warning for unparseable response")
	}
	doc := decodePayload(t, out.Payload)
	if doc["overall_aesthetic"] != float64(3) {
		t.Errorf("overall_aesthetic = %v", doc["overall_aesthetic"])
	}
}

func TestAestheticProcessor_VisionError(t *testing.T) {
	p := NewAestheticProcessor(&fakeVision{err: errors.New("rate limited")})
	if _, err := p.Process(context.Background(), schema.Item{ID: "img-001"}, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestCaptionProcessor(t *testing.T) {
	p := NewCaptionProcessor(&fakeVision{
		text: "```json\n{\"concise\": \"Venice at dusk\", \"standard\": \"" + strings.Repeat("a", 200) + "\", \"detailed\": \"" + strings.Repeat("b", 400) + "\", \"keywords\": [\"venice\", \"canal\"]}\n```",
	})

	out, err := p.Process(context.Background(), schema.Item{ID: "img-001", Source: "/photos/canal.jpg"}, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	doc := decodePayload(t, out.Payload)
	captions := doc["captions"].(map[string]any)
	if captions["concise"] != "Venice at dusk" {
		t.Errorf("concise = %v", captions["concise"])
	}
	keywords := doc["keywords"].([]any)
	if len(keywords) != 2 {
		t.Errorf("keywords = %v", keywords)
	}
}

func TestCaptionProcessor_TruncatesOverlongCaptions(t *testing.T) {
	long := strings.Repeat("x", 150)
	p := NewCaptionProcessor(&fakeVision{
		text: `{"concise": "` + long + `", "standard": "ok", "detailed": "ok", "keywords": []}`,
	})

	out, err := p.Process(context.Background(), schema.Item{ID: "img-001"}, nil)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	doc := decodePayload(t, out.Payload)
	captions := doc["captions"].(map[string]any)
	concise := captions["concise"].(string)
	if len(concise) > 100 || !strings.HasSuffix(concise, "...") {
		t.Errorf("concise not truncated: %d chars", len(concise))
	}
}

func TestParseModelJSON(t *testing.T) {
	for _, text := range []string{
		`{"a": 1}`,
		"```json\n{\"a\": 1}\n```",
		"Here you go:\n{\"a\": 1}\nHope that helps!",
	} {
		doc, err := parseModelJSON(text)
		if err != nil {
			t.Errorf("parseModelJSON(%q): %v", text, err)
			continue
		}
		if doc["a"] != float64(1) {
			t.Errorf("parseModelJSON(%q) = %v", text, doc)
		}
	}

	if _, err := parseModelJSON("no json here"); err == nil {
		t.Error("expected error for plain text")
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewMetadataProcessor(nil))
	reg.Register(NewQualityProcessor(&fixedScorer{scores: QualityScores{Sharpness: 3, Exposure: 3, Noise: 3}}))

	if _, ok := reg.Get("metadata_extraction"); !ok {
		t.Error("metadata_extraction not registered")
	}
	if _, ok := reg.Get("ghost"); ok {
		t.Error("unexpected processor")
	}
	if len(reg.Names()) != 2 {
		t.Errorf("names = %v", reg.Names())
	}
}
