package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nvidra/photoflow/pkg/schema"
)

// SourceSpec describes where a batch's items come from.
type SourceSpec struct {
	Dir        string   `json:"dir"`
	Extensions []string `json:"extensions,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// ItemSource discovers the item batch for a run from a source spec.
type ItemSource interface {
	Discover(ctx context.Context, source json.RawMessage) ([]schema.Item, error)
}

// defaultExtensions are the photo formats picked up when a source spec does
// not narrow them.
var defaultExtensions = []string{".jpg", ".jpeg", ".png", ".heic", ".tiff", ".dng"}

// DirItemSource lists photo files in a directory, one item per file. The
// item ID is the filename without extension; the source is the full path.
type DirItemSource struct{}

func (DirItemSource) Discover(ctx context.Context, source json.RawMessage) ([]schema.Item, error) {
	var spec SourceSpec
	if len(source) > 0 {
		if err := json.Unmarshal(source, &spec); err != nil {
			return nil, schema.NewError(schema.ErrCodeConfig, "invalid source spec").WithCause(err)
		}
	}
	if spec.Dir == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "source spec requires a dir")
	}

	exts := spec.Extensions
	if len(exts) == 0 {
		exts = defaultExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = true
	}

	entries, err := os.ReadDir(spec.Dir)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "read source dir %s: %s", spec.Dir, err.Error()).WithCause(err)
	}

	var items []schema.Item
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !allowed[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		items = append(items, schema.Item{
			ID:     strings.TrimSuffix(name, filepath.Ext(name)),
			Source: filepath.Join(spec.Dir, name),
		})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	if spec.Limit > 0 && len(items) > spec.Limit {
		items = items[:spec.Limit]
	}
	return items, nil
}

var _ ItemSource = DirItemSource{}
