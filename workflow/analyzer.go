package workflow

import (
	"fmt"

	"github.com/braidwork/braid/plan"
)

// Dependencies returns the names of earlier tasks whose outputs task i's
// prompt template references, in first-reference order. Reserved
// placeholders and references to tasks at or after position i are not
// dependencies: forward references render as unresolved placeholders
// rather than constraining the schedule.
func Dependencies(p plan.Plan, i int) []string {
	if i < 0 || i >= len(p) {
		return nil
	}
	earlier := make(map[string]struct{}, i)
	for _, t := range p[:i] {
		earlier[t.Name] = struct{}{}
	}

	var deps []string
	for _, name := range Placeholders(p[i].PromptTemplate) {
		if name == VarUserRequest || name == VarPrevOutput {
			continue
		}
		if _, ok := earlier[name]; ok {
			deps = append(deps, name)
		}
	}
	return deps
}

// Batches groups the plan into waves. Every task in a wave has all its
// dependencies satisfied by previous waves, so tasks within a wave can run
// concurrently. Wave membership follows plan order, which makes the result
// deterministic for a given plan.
//
// Cycle detection runs over the full reference graph, including forward
// and self references, so a plan like A referencing B while B references A
// is rejected even though neither reference would count as a scheduling
// dependency on its own.
func Batches(p plan.Plan) ([][]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := detectCycles(p); err != nil {
		return nil, err
	}

	// Build the scheduling graph from earlier-task references only.
	inDegree := make(map[string]int, len(p))
	dependents := make(map[string][]string, len(p))
	for i, t := range p {
		deps := Dependencies(p, i)
		inDegree[t.Name] = len(deps)
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], t.Name)
		}
	}

	scheduled := make(map[string]struct{}, len(p))
	var batches [][]string
	for len(scheduled) < len(p) {
		var batch []string
		for _, t := range p {
			if _, done := scheduled[t.Name]; done {
				continue
			}
			if inDegree[t.Name] == 0 {
				batch = append(batch, t.Name)
			}
		}
		for _, name := range batch {
			scheduled[name] = struct{}{}
			for _, dep := range dependents[name] {
				inDegree[dep]--
			}
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

// detectCycles runs Kahn's algorithm over every task-name reference in the
// plan, whatever its position. A reference from task A to task B means B
// must be orderable before A; if the walk cannot consume every task, some
// subset references itself in a loop.
func detectCycles(p plan.Plan) error {
	inDegree := make(map[string]int, len(p))
	dependents := make(map[string][]string, len(p))
	names := make(map[string]struct{}, len(p))
	for _, t := range p {
		names[t.Name] = struct{}{}
		inDegree[t.Name] = 0
	}
	for _, t := range p {
		for _, ref := range Placeholders(t.PromptTemplate) {
			if ref == VarUserRequest || ref == VarPrevOutput {
				continue
			}
			if _, ok := names[ref]; !ok {
				continue
			}
			inDegree[t.Name]++
			dependents[ref] = append(dependents[ref], t.Name)
		}
	}

	var queue []string
	for _, t := range p {
		if inDegree[t.Name] == 0 {
			queue = append(queue, t.Name)
		}
	}
	processed := 0
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range dependents[name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if processed != len(p) {
		for _, t := range p {
			if inDegree[t.Name] > 0 {
				return fmt.Errorf("%w: task %q cannot be ordered", ErrCircularDependency, t.Name)
			}
		}
	}
	return nil
}

// ParallelismRatio measures how much concurrency batching recovers from a
// plan: 0 means fully sequential (every task its own batch), values
// approaching 1 mean nearly everything runs at once.
func ParallelismRatio(numTasks, numBatches int) float64 {
	if numTasks <= 0 {
		return 0
	}
	ratio := 1 - float64(numBatches)/float64(numTasks)
	if ratio < 0 {
		return 0
	}
	return ratio
}
