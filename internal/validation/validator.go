// Package validation checks pipeline definitions and stage output payloads
// against JSON Schema contracts (Draft 2020-12).
package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nvidra/photoflow/pkg/schema"
)

// pipelineSchemaJSON is the JSON Schema for PipelineDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const pipelineSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://photoflow.dev/schemas/pipeline.json",
  "type": "object",
  "required": ["name", "stages"],
  "properties": {
    "name": {
      "type": "string",
      "minLength": 1
    },
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/stage" }
    },
    "settings": { "$ref": "#/$defs/settings" },
    "metadata": {
      "type": "object"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "stage": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {
          "type": "string",
          "minLength": 1
        },
        "processor": { "type": "string" },
        "depends_on": {
          "type": "array",
          "items": { "type": "string" }
        },
        "workers": {
          "type": "integer",
          "minimum": 0
        },
        "timeout": {
          "type": "string",
          "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
        },
        "enabled": { "type": "boolean" },
        "contract": { "type": "object" },
        "options": { "type": "object" }
      },
      "additionalProperties": false
    },
    "settings": {
      "type": "object",
      "properties": {
        "continue_on_error": { "type": "boolean" },
        "cost_limit_usd": {
          "type": "number",
          "minimum": 0
        },
        "pricing": {
          "type": "object",
          "properties": {
            "input_per_1k": { "type": "number", "minimum": 0 },
            "output_per_1k": { "type": "number", "minimum": 0 }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    }
  }
}`

// Validator validates pipeline definitions and per-item stage payloads.
// It is safe for concurrent use.
type Validator struct {
	pipelineSchema *jsonschema.Schema

	// mu guards the cache for dynamic contract compilation.
	mu      sync.RWMutex
	cache   map[string]*jsonschema.Schema
	builtin map[string]*jsonschema.Schema
}

// NewValidator creates a Validator with the pipeline schema and the built-in
// processor contracts pre-compiled.
func NewValidator() (*Validator, error) {
	c := newContractCompiler()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(pipelineSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal pipeline schema: %w", err)
	}
	if err := c.AddResource("https://photoflow.dev/schemas/pipeline.json", doc); err != nil {
		return nil, fmt.Errorf("add pipeline schema resource: %w", err)
	}
	compiled, err := c.Compile("https://photoflow.dev/schemas/pipeline.json")
	if err != nil {
		return nil, fmt.Errorf("compile pipeline schema: %w", err)
	}

	builtin := make(map[string]*jsonschema.Schema, len(builtinContracts))
	for name, raw := range builtinContracts {
		s, err := compileContract(fmt.Sprintf("photoflow://contract/%s", name), raw)
		if err != nil {
			return nil, fmt.Errorf("compile built-in contract %s: %w", name, err)
		}
		builtin[name] = s
	}

	return &Validator{
		pipelineSchema: compiled,
		cache:          make(map[string]*jsonschema.Schema),
		builtin:        builtin,
	}, nil
}

// ValidateDefinition validates a PipelineDefinition against the pipeline
// JSON Schema. Structural checks the schema cannot express (duplicate stage
// names, unknown or cyclic dependencies) belong to DAG construction.
func (v *Validator) ValidateDefinition(def *schema.PipelineDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeConfig, "pipeline definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeConfig, "failed to serialize pipeline definition").WithCause(err)
	}

	if err := v.pipelineSchema.Validate(doc); err != nil {
		perr := toPipelineError(err)
		perr.Code = schema.ErrCodeConfig
		return perr
	}
	return nil
}

// ValidatePayload validates one stage payload against the stage's contract.
// An explicit stage contract takes precedence; otherwise the processor's
// built-in contract applies; a stage with neither is not validated.
func (v *Validator) ValidatePayload(def *schema.StageDefinition, processor string, payload json.RawMessage) error {
	contract, err := v.contractFor(def, processor)
	if err != nil {
		return err
	}
	if contract == nil {
		return nil
	}

	if len(payload) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "payload is empty").WithStage(def.Name)
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(payload)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "payload is not valid JSON").
			WithStage(def.Name).WithCause(err)
	}

	if err := contract.Validate(doc); err != nil {
		return toPipelineError(err).WithStage(def.Name)
	}
	return nil
}

func (v *Validator) contractFor(def *schema.StageDefinition, processor string) (*jsonschema.Schema, error) {
	if len(def.Contract) > 0 {
		return v.getOrCompile(def.Contract)
	}
	if s, ok := v.builtin[processor]; ok {
		return s, nil
	}
	return nil, nil
}

// getOrCompile returns a cached compiled contract or compiles and caches a
// new one.
func (v *Validator) getOrCompile(contract []byte) (*jsonschema.Schema, error) {
	key := string(contract)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	// Each dynamic contract gets a unique URL to avoid compiler collisions.
	url := fmt.Sprintf("photoflow://contract/dynamic/%d", len(v.cache))
	compiled, err := compileContract(url, key)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "invalid stage contract").WithCause(err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func compileContract(url, raw string) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal contract: %w", err)
	}
	c := newContractCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add contract resource: %w", err)
	}
	return c.Compile(url)
}

func newContractCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toPipelineError converts a jsonschema.ValidationError into a PipelineError
// listing each leaf violation with its instance location.
func toPipelineError(err error) *schema.PipelineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
