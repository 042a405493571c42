// Package expressions provides pluggable expression engines for configurable
// stage rules: CEL for filter conditions, Expr for category routing logic,
// and jq for extracting fields out of heterogeneous stage payloads.
package expressions

import (
	"context"

	"github.com/nvidra/photoflow/pkg/schema"
)

// Engine evaluates expressions against per-item scope data.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// ForName returns a fresh engine for the given identifier ("cel", "expr",
// "jq"). Engines cache compiled programs internally, so callers should hold
// on to the returned instance.
func ForName(name string) (Engine, error) {
	switch name {
	case "cel", "":
		return NewCELEngine()
	case "expr":
		return NewExprEngine(), nil
	case "jq":
		return NewGoJQEngine(), nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeConfig, "unknown expression engine: %s", name)
	}
}
