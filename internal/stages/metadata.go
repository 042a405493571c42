package stages

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/nvidra/photoflow/pkg/schema"
)

// PhotoMetadata is what a MetadataReader supplies for one photo. The engine
// never parses EXIF itself; readers wrap whatever extraction the caller has.
type PhotoMetadata struct {
	Filename        string
	FileSizeBytes   int64
	Format          string
	Width           int
	Height          int
	CaptureDatetime string // ISO 8601, empty when unknown
	Latitude        *float64
	Longitude       *float64
	Altitude        *float64
}

// MetadataReader is the collaborator contract of the metadata stage.
type MetadataReader interface {
	Read(ctx context.Context, item schema.Item) (*PhotoMetadata, error)
}

// FileMetadataReader reads what the filesystem alone can tell: size and
// format. Capture time and GPS stay empty and get flagged downstream.
type FileMetadataReader struct{}

func (FileMetadataReader) Read(_ context.Context, item schema.Item) (*PhotoMetadata, error) {
	info, err := os.Stat(item.Source)
	if err != nil {
		return nil, err
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(item.Source)), ".")
	if format == "" {
		format = "unknown"
	}
	return &PhotoMetadata{
		Filename:      filepath.Base(item.Source),
		FileSizeBytes: info.Size(),
		Format:        format,
	}, nil
}

// MetadataProcessor is the first pipeline stage: it publishes each photo's
// metadata and flags items missing capture time or GPS for review.
type MetadataProcessor struct {
	reader MetadataReader
}

// NewMetadataProcessor creates the metadata stage around a reader.
func NewMetadataProcessor(reader MetadataReader) *MetadataProcessor {
	if reader == nil {
		reader = FileMetadataReader{}
	}
	return &MetadataProcessor{reader: reader}
}

func (p *MetadataProcessor) Name() string { return "metadata_extraction" }

func (p *MetadataProcessor) Process(ctx context.Context, item schema.Item, _ map[string]*schema.StageResult) (*Output, error) {
	meta, err := p.reader.Read(ctx, item)
	if err != nil {
		return nil, err
	}

	var flags []string
	if meta.CaptureDatetime == "" {
		flags = append(flags, "missing_datetime")
	}
	if meta.Latitude == nil || meta.Longitude == nil {
		flags = append(flags, "missing_gps")
	}
	if flags == nil {
		flags = []string{}
	}

	doc := map[string]any{
		"image_id":        item.ID,
		"filename":        meta.Filename,
		"file_size_bytes": meta.FileSizeBytes,
		"format":          meta.Format,
		"flags":           flags,
		"gps": map[string]any{
			"latitude":  meta.Latitude,
			"longitude": meta.Longitude,
			"altitude":  meta.Altitude,
		},
	}
	if meta.Width > 0 && meta.Height > 0 {
		doc["dimensions"] = map[string]any{"width": meta.Width, "height": meta.Height}
	}
	if meta.CaptureDatetime != "" {
		doc["capture_datetime"] = meta.CaptureDatetime
	} else {
		doc["capture_datetime"] = nil
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return &Output{Payload: payload}, nil
}

func (p *MetadataProcessor) Placeholder(item schema.Item) json.RawMessage {
	b, _ := json.Marshal(map[string]any{
		"image_id":        item.ID,
		"filename":        filepath.Base(item.Source),
		"file_size_bytes": 0,
		"format":          "unknown",
		"flags":           []string{"processing_error"},
	})
	return b
}

var _ Processor = (*MetadataProcessor)(nil)
