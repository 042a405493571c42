package validation

// Built-in output contracts for the bundled photo processors, keyed by
// processor name. A stage's explicit contract overrides these.
var builtinContracts = map[string]string{
	"metadata_extraction": `{
  "type": "object",
  "required": ["image_id", "filename", "file_size_bytes", "format"],
  "properties": {
    "image_id": {"type": "string"},
    "filename": {"type": "string"},
    "file_size_bytes": {"type": "integer"},
    "format": {"type": "string"},
    "dimensions": {
      "type": "object",
      "properties": {
        "width": {"type": "integer"},
        "height": {"type": "integer"}
      }
    },
    "capture_datetime": {"type": ["string", "null"]},
    "gps": {
      "type": "object",
      "properties": {
        "latitude": {"type": ["number", "null"]},
        "longitude": {"type": ["number", "null"]},
        "altitude": {"type": ["number", "null"]}
      }
    },
    "flags": {"type": "array", "items": {"type": "string"}}
  }
}`,

	"quality_assessment": `{
  "type": "object",
  "required": ["image_id", "quality_score"],
  "properties": {
    "image_id": {"type": "string"},
    "quality_score": {"type": "integer", "minimum": 1, "maximum": 5},
    "sharpness": {"type": "integer", "minimum": 1, "maximum": 5},
    "exposure": {"type": "integer", "minimum": 1, "maximum": 5},
    "noise": {"type": "integer", "minimum": 1, "maximum": 5},
    "resolution": {"type": "integer", "minimum": 1, "maximum": 5},
    "issues": {"type": "array", "items": {"type": "string"}}
  }
}`,

	"aesthetic_assessment": `{
  "type": "object",
  "required": ["image_id", "overall_aesthetic"],
  "properties": {
    "image_id": {"type": "string"},
    "composition": {"type": "integer", "minimum": 1, "maximum": 5},
    "framing": {"type": "integer", "minimum": 1, "maximum": 5},
    "lighting": {"type": "integer", "minimum": 1, "maximum": 5},
    "subject_interest": {"type": "integer", "minimum": 1, "maximum": 5},
    "overall_aesthetic": {"type": "integer", "minimum": 1, "maximum": 5},
    "notes": {"type": "string"}
  }
}`,

	"filtering_categorization": `{
  "type": "object",
  "required": ["image_id", "category", "passes_filter", "flagged"],
  "properties": {
    "image_id": {"type": "string"},
    "category": {"type": "string"},
    "subcategories": {"type": "array", "items": {"type": "string"}},
    "time_category": {"type": "string"},
    "location": {"type": ["string", "null"]},
    "passes_filter": {"type": "boolean"},
    "flagged": {"type": "boolean"},
    "flags": {"type": "array", "items": {"type": "string"}}
  }
}`,

	"caption_generation": `{
  "type": "object",
  "required": ["image_id", "captions"],
  "properties": {
    "image_id": {"type": "string"},
    "captions": {
      "type": "object",
      "required": ["concise", "standard", "detailed"],
      "properties": {
        "concise": {"type": "string", "maxLength": 100},
        "standard": {"type": "string", "minLength": 150, "maxLength": 250},
        "detailed": {"type": "string", "minLength": 300, "maxLength": 500}
      }
    },
    "keywords": {"type": "array", "items": {"type": "string"}}
  }
}`,
}
