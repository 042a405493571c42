package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/nvidra/photoflow/internal/expressions"
	"github.com/nvidra/photoflow/pkg/schema"
)

// defaultCategories is the travel-photo taxonomy: category name to the
// keywords that select it.
var defaultCategories = map[string][]string{
	"Landscape":    {"mountain", "beach", "forest", "lake", "valley", "canyon", "desert"},
	"Architecture": {"building", "church", "temple", "monument", "bridge", "castle"},
	"Urban":        {"city", "street", "skyline", "traffic", "metro", "downtown"},
	"People":       {"portrait", "person", "group", "selfie", "crowd"},
	"Food":         {"meal", "restaurant", "dish", "cuisine", "dining"},
	"Cultural":     {"festival", "ceremony", "traditional", "art", "museum"},
	"Wildlife":     {"animal", "bird", "safari", "nature"},
	"Adventure":    {"hiking", "climbing", "diving", "skiing"},
}

// FilteringOptions configure the filtering stage. Zero thresholds fall back
// to the 3/5 defaults; Rule is an optional expression that must additionally
// hold for an item to pass.
type FilteringOptions struct {
	MinTechnicalScore int                 `json:"min_technical_score"`
	MinAestheticScore int                 `json:"min_aesthetic_score"`
	Rule              string              `json:"rule,omitempty"`
	RuleEngine        string              `json:"rule_engine,omitempty"` // cel (default), expr, jq
	Categories        map[string][]string `json:"categories,omitempty"`
}

// ParseFilteringOptions decodes stage options, applying defaults.
func ParseFilteringOptions(raw json.RawMessage) (FilteringOptions, error) {
	opts := FilteringOptions{MinTechnicalScore: 3, MinAestheticScore: 3}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return opts, schema.NewError(schema.ErrCodeConfig, "invalid filtering options").WithCause(err)
		}
	}
	if opts.MinTechnicalScore <= 0 {
		opts.MinTechnicalScore = 3
	}
	if opts.MinAestheticScore <= 0 {
		opts.MinAestheticScore = 3
	}
	if opts.Categories == nil {
		opts.Categories = defaultCategories
	}
	return opts, nil
}

// FilteringProcessor filters by technical and aesthetic thresholds and
// categorizes by subject keywords, time of day and GPS location. Items below
// a threshold are flagged, never dropped; the selection itself happens in
// the report.
type FilteringProcessor struct {
	opts   FilteringOptions
	rule   expressions.Engine
	order  []string // category names in deterministic match order
}

// NewFilteringProcessor creates the filtering stage. A configured rule is
// compiled lazily on first evaluation; an unknown rule engine is a
// configuration error.
func NewFilteringProcessor(opts FilteringOptions) (*FilteringProcessor, error) {
	p := &FilteringProcessor{opts: opts}

	if opts.Rule != "" {
		eng, err := expressions.ForName(opts.RuleEngine)
		if err != nil {
			return nil, err
		}
		p.rule = eng
	}

	p.order = make([]string, 0, len(opts.Categories))
	for name := range opts.Categories {
		p.order = append(p.order, name)
	}
	sort.Strings(p.order)

	return p, nil
}

func (p *FilteringProcessor) Name() string { return "filtering_categorization" }

func (p *FilteringProcessor) Process(ctx context.Context, item schema.Item, deps map[string]*schema.StageResult) (*Output, error) {
	payloads := depPayloads(deps)
	metadata := findPayload(payloads, "capture_datetime", "gps")
	quality := findPayload(payloads, "quality_score")
	aesthetic := findPayload(payloads, "overall_aesthetic")

	technical := scoreFrom(quality, "quality_score")
	visual := scoreFrom(aesthetic, "overall_aesthetic")

	// Fixed reason order keeps reports deterministic across runs.
	var flags []string
	if technical < p.opts.MinTechnicalScore {
		flags = append(flags, "low_quality")
	}
	if visual < p.opts.MinAestheticScore {
		flags = append(flags, "low_aesthetic")
	}
	lat, lon := gpsCoords(metadata)
	if lat == nil || lon == nil {
		flags = append(flags, "missing_gps")
	}
	captureTime, _ := metadata["capture_datetime"].(string)
	if captureTime == "" {
		flags = append(flags, "missing_datetime")
	}

	category, subcategories := p.categorize(item)
	if category == "Uncategorized" {
		flags = append(flags, "uncategorized")
	}

	passes := technical >= p.opts.MinTechnicalScore && visual >= p.opts.MinAestheticScore

	var out Output
	if p.rule != nil {
		scope := expressions.BuildScope(item, deps)
		verdict, err := p.rule.Evaluate(ctx, p.opts.Rule, scope)
		switch v := verdict.(type) {
		case bool:
			passes = passes && v
		default:
			if err == nil {
				err = fmt.Errorf("rule returned %T, want bool", verdict)
			}
			flags = append(flags, "manual_review")
			out.Warnings = append(out.Warnings, fmt.Sprintf("filter rule not applied: %s", err.Error()))
		}
	}

	var location any
	if lat != nil && lon != nil {
		location = fmt.Sprintf("(%.4f, %.4f)", *lat, *lon)
	}

	payload, err := json.Marshal(map[string]any{
		"image_id":      item.ID,
		"category":      category,
		"subcategories": subcategories,
		"time_category": timeCategory(captureTime),
		"location":      location,
		"passes_filter": passes,
		"flagged":       len(flags) > 0,
		"flags":         flags,
	})
	if err != nil {
		return nil, err
	}
	out.Payload = payload
	return &out, nil
}

// Placeholder marks the item unfiltered and uncategorized.
func (p *FilteringProcessor) Placeholder(item schema.Item) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"image_id":      item.ID,
		"category":      "Uncategorized",
		"subcategories": []string{},
		"time_category": "Unknown",
		"location":      nil,
		"passes_filter": false,
		"flagged":       true,
		"flags":         []string{"processing_error"},
	})
	return b
}

// categorize matches the item's source path tokens against the category
// keyword taxonomy, in sorted category order for determinism.
func (p *FilteringProcessor) categorize(item schema.Item) (string, []string) {
	base := strings.ToLower(filepath.Base(item.Source))
	for _, name := range p.order {
		var matched []string
		for _, kw := range p.opts.Categories[name] {
			if strings.Contains(base, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) > 0 {
			return name, matched
		}
	}
	return "Uncategorized", []string{}
}

// timeCategory buckets a capture timestamp by hour of day.
func timeCategory(captureTime string) string {
	if captureTime == "" {
		return "Unknown"
	}
	_, rest, ok := strings.Cut(captureTime, "T")
	if !ok {
		return "Unknown"
	}
	hourStr, _, _ := strings.Cut(rest, ":")
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour < 0 || hour > 23 {
		return "Unknown"
	}

	switch {
	case hour >= 5 && hour < 7:
		return "Sunrise"
	case hour >= 7 && hour < 10:
		return "Morning"
	case hour >= 17 && hour < 19:
		return "Golden Hour"
	case hour >= 19 && hour < 21:
		return "Sunset"
	case hour >= 21 || hour < 5:
		return "Night"
	default:
		return "Daytime"
	}
}

// findPayload returns the first dependency payload containing any of the
// given keys.
func findPayload(payloads map[string]map[string]any, keys ...string) map[string]any {
	// Deterministic stage order.
	stages := make([]string, 0, len(payloads))
	for s := range payloads {
		stages = append(stages, s)
	}
	sort.Strings(stages)

	for _, s := range stages {
		for _, key := range keys {
			if _, ok := payloads[s][key]; ok {
				return payloads[s]
			}
		}
	}
	return map[string]any{}
}

// gpsCoords pulls latitude/longitude out of a metadata payload.
func gpsCoords(metadata map[string]any) (lat, lon *float64) {
	gps, ok := metadata["gps"].(map[string]any)
	if !ok {
		return nil, nil
	}
	if v, ok := gps["latitude"].(float64); ok {
		lat = &v
	}
	if v, ok := gps["longitude"].(float64); ok {
		lon = &v
	}
	return lat, lon
}

var _ Processor = (*FilteringProcessor)(nil)
