package engine

import (
	"github.com/nvidra/photoflow/pkg/schema"
)

// DAG is the in-memory directed acyclic graph of a pipeline's enabled
// stages. Built from a PipelineDefinition, used by the Executor to determine
// execution order.
type DAG struct {
	Stages   map[string]*schema.StageDefinition // stage name → definition
	Edges    map[string][]string                // stage name → dependencies (depends_on)
	Reverse  map[string][]string                // stage name → dependents (who depends on me)
	Sorted   []string                           // topological order
	Roots    []string                           // stages with no dependencies
	Levels   [][]string                         // parallel execution groups
	Disabled []string                           // stage names pruned by the enabled flag
}

// ParseDAG parses a PipelineDefinition into an executable DAG.
// It registers enabled stages, builds adjacency lists, performs topological
// sorting using Kahn's algorithm, detects cycles, and computes parallel
// execution levels. Any structural problem is a fatal configuration error
// reported before an item is processed.
func ParseDAG(def *schema.PipelineDefinition) (*DAG, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "pipeline definition is nil")
	}
	if len(def.Stages) == 0 {
		return nil, schema.NewError(schema.ErrCodeConfig, "pipeline has no stages")
	}

	dag := &DAG{
		Stages:  make(map[string]*schema.StageDefinition, len(def.Stages)),
		Edges:   make(map[string][]string, len(def.Stages)),
		Reverse: make(map[string][]string, len(def.Stages)),
	}

	// First pass: register stages, prune disabled ones, reject duplicates.
	disabled := make(map[string]bool)
	for i := range def.Stages {
		stage := &def.Stages[i]

		if stage.Name == "" {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "stage at index %d has empty name", i)
		}
		if _, exists := dag.Stages[stage.Name]; exists || disabled[stage.Name] {
			return nil, schema.NewErrorf(schema.ErrCodeConfig, "duplicate stage name: %s", stage.Name)
		}
		if !stage.IsEnabled() {
			disabled[stage.Name] = true
			dag.Disabled = append(dag.Disabled, stage.Name)
			continue
		}
		dag.Stages[stage.Name] = stage
	}

	if len(dag.Stages) == 0 {
		return nil, schema.NewError(schema.ErrCodeConfig, "pipeline has no enabled stages")
	}

	// Second pass: build adjacency lists and validate dependencies.
	for name, stage := range dag.Stages {
		seen := make(map[string]bool, len(stage.DependsOn))
		deps := make([]string, 0, len(stage.DependsOn))
		for _, dep := range stage.DependsOn {
			if disabled[dep] {
				return nil, schema.NewErrorf(schema.ErrCodeConfig,
					"stage %s depends on disabled stage: %s", name, dep)
			}
			if _, exists := dag.Stages[dep]; !exists {
				return nil, schema.NewErrorf(schema.ErrCodeConfig,
					"stage %s depends on unknown stage: %s", name, dep)
			}
			if dep == name {
				return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "stage %s depends on itself", name)
			}
			if seen[dep] {
				return nil, schema.NewErrorf(schema.ErrCodeConfig, "stage %s has duplicate dependency: %s", name, dep)
			}
			seen[dep] = true
			deps = append(deps, dep)
			dag.Reverse[dep] = append(dag.Reverse[dep], name)
		}
		dag.Edges[name] = deps
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(dag.Stages))
	for name := range dag.Stages {
		inDegree[name] = len(dag.Edges[name])
	}

	queue := make([]string, 0)
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}

	// Sort roots for deterministic ordering.
	sortStrings(queue)
	dag.Roots = make([]string, len(queue))
	copy(dag.Roots, queue)

	sorted := make([]string, 0, len(dag.Stages))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		dependents := make([]string, len(dag.Reverse[node]))
		copy(dependents, dag.Reverse[node])
		sortStrings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(dag.Stages) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "pipeline contains a dependency cycle")
	}

	dag.Sorted = sorted
	dag.Levels = computeLevels(dag)

	return dag, nil
}

// computeLevels groups stages into parallel execution levels: stages at the
// same level have no dependency relationship and all their dependencies are
// satisfied by previous levels.
func computeLevels(dag *DAG) [][]string {
	depth := make(map[string]int, len(dag.Stages))

	for _, name := range dag.Sorted {
		maxDep := -1
		for _, dep := range dag.Edges[name] {
			if depth[dep] > maxDep {
				maxDep = depth[dep]
			}
		}
		depth[name] = maxDep + 1
	}

	maxLevel := 0
	for _, d := range depth {
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, name := range dag.Sorted {
		d := depth[name]
		levels[d] = append(levels[d], name)
	}

	return levels
}

// Downstream returns every stage reachable from the given stage through
// dependents, transitively. Used to skip dependents after an abort.
func (d *DAG) Downstream(name string) []string {
	seen := make(map[string]bool)
	var walk func(n string)
	walk = func(n string) {
		for _, dep := range d.Reverse[n] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(name)

	out := make([]string, 0, len(seen))
	// Emit in topological order for deterministic skip reporting.
	for _, n := range d.Sorted {
		if seen[n] {
			out = append(out, n)
		}
	}
	return out
}

// sortStrings sorts a slice of strings in-place using insertion sort.
// Used for small slices to avoid importing sort package.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
