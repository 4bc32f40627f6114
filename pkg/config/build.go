package config

import (
	"errors"
	"fmt"

	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

// ErrNoSteps is returned when a definition has no steps.
var ErrNoSteps = errors.New("pipeline definition has no steps")

// Build creates an immutable pipeline from def. Processor and condition
// types must be registered in reg. Unnamed steps are named <type><index>.
func Build(def *Definition, reg *registry.Registry) (*pipeline.Pipeline, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is nil", pipeline.ErrInvalidPipeline)
	}
	if len(def.Steps) == 0 {
		return nil, ErrNoSteps
	}

	steps := make([]pipeline.ExecutionStep, 0, len(def.Steps))
	for i, sd := range def.Steps {
		step, err := buildStep(i, sd, reg)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return pipeline.NewPipeline(def.ID, def.Name, def.Description, steps, def.IgnoreFailure)
}

// Load parses the definition file at path and builds it.
func Load(path string, reg *registry.Registry) (*Definition, *pipeline.Pipeline, error) {
	def, err := ParseFile(path)
	if err != nil {
		return nil, nil, err
	}
	p, err := Build(def, reg)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, p, nil
}

func buildStep(i int, sd StepDefinition, reg *registry.Registry) (pipeline.ExecutionStep, error) {
	if sd.Processor.Type == "" {
		return pipeline.ExecutionStep{}, fmt.Errorf("step %d: %w: processor is required", i, pipeline.ErrInvalidStep)
	}
	name := sd.Name
	if name == "" {
		name = fmt.Sprintf("%s%d", sd.Processor.Type, i)
	}

	proc, err := reg.CreateProcessor(sd.Processor.Type, sd.Processor.Config)
	if err != nil {
		return pipeline.ExecutionStep{}, fmt.Errorf("step %q: %w", name, err)
	}
	step := pipeline.ExecutionStep{Name: name, Processor: proc}

	if sd.If != nil {
		cond, err := reg.CreateCondition(sd.If.Type, sd.If.Config)
		if err != nil {
			return pipeline.ExecutionStep{}, fmt.Errorf("step %q condition: %w", name, err)
		}
		step.Condition = cond
	}

	for j, tc := range sd.OnFailure {
		p, err := reg.CreateProcessor(tc.Type, tc.Config)
		if err != nil {
			return pipeline.ExecutionStep{}, fmt.Errorf("step %q onFailure %d: %w", name, j, err)
		}
		step.OnFailure = append(step.OnFailure, p)
	}
	return step, nil
}
