package pipeline

import (
	"fmt"
)

// Pipeline is an immutable, ordered list of execution steps plus the
// failure-tolerance flag. A Pipeline may be shared by any number of
// concurrent executions.
type Pipeline struct {
	id            string
	name          string
	description   string
	steps         []ExecutionStep
	ignoreFailure bool
}

// NewPipeline validates the wiring and returns an immutable pipeline.
// The steps slice and each step's OnFailure slice are copied; an empty name
// defaults to id.
func NewPipeline(id, name, description string, steps []ExecutionStep, ignoreFailure bool) (*Pipeline, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id cannot be empty", ErrInvalidPipeline)
	}
	if name == "" {
		name = id
	}

	copied := make([]ExecutionStep, len(steps))
	seen := make(map[string]struct{}, len(steps))
	for i, step := range steps {
		if step.Name == "" {
			return nil, fmt.Errorf("%w: step %d has no name", ErrInvalidStep, i)
		}
		if _, dup := seen[step.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate step name %q", ErrInvalidStep, step.Name)
		}
		seen[step.Name] = struct{}{}
		if step.Processor == nil {
			return nil, fmt.Errorf("%w: step %q has no processor", ErrInvalidStep, step.Name)
		}
		for j, remedy := range step.OnFailure {
			if remedy == nil {
				return nil, fmt.Errorf("%w: step %q has a nil onFailure processor at position %d",
					ErrInvalidStep, step.Name, j)
			}
		}

		copied[i] = ExecutionStep{
			Name:      step.Name,
			Condition: step.Condition,
			Processor: step.Processor,
			OnFailure: append([]Processor(nil), step.OnFailure...),
		}
	}

	return &Pipeline{
		id:            id,
		name:          name,
		description:   description,
		steps:         copied,
		ignoreFailure: ignoreFailure,
	}, nil
}

// ID returns the pipeline identifier.
func (p *Pipeline) ID() string { return p.id }

// Name returns the human-readable pipeline name.
func (p *Pipeline) Name() string { return p.name }

// Description returns the pipeline description.
func (p *Pipeline) Description() string { return p.description }

// IgnoreFailure reports whether unrecovered step failures are skipped.
func (p *Pipeline) IgnoreFailure() bool { return p.ignoreFailure }

// Len returns the number of steps.
func (p *Pipeline) Len() int { return len(p.steps) }

// Steps returns a copy of the steps.
func (p *Pipeline) Steps() []ExecutionStep {
	out := make([]ExecutionStep, len(p.steps))
	for i, s := range p.steps {
		out[i] = s
		out[i].OnFailure = append([]Processor(nil), s.OnFailure...)
	}
	return out
}
