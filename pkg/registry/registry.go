// Package registry maps processor and condition type names to their
// creators, so pipeline definitions can name kinds the executor never sees.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/wehubfusion/Sawmill/pkg/pipeline"
)

// ProcessorCreator builds a processor from its configuration.
type ProcessorCreator func(cfg Config) (pipeline.Processor, error)

// ConditionCreator builds a condition from its configuration. The registry is
// passed so composite conditions can build their children.
type ConditionCreator func(cfg Config, r *Registry) (pipeline.Condition, error)

// Registry is a thread-safe registry of processor and condition creators.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]ProcessorCreator
	conditions map[string]ConditionCreator
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		processors: make(map[string]ProcessorCreator),
		conditions: make(map[string]ConditionCreator),
	}
}

// RegisterProcessor registers a processor creator, replacing any previous one.
func (r *Registry) RegisterProcessor(typ string, creator ProcessorCreator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[typ] = creator
}

// RegisterCondition registers a condition creator, replacing any previous one.
func (r *Registry) RegisterCondition(typ string, creator ConditionCreator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conditions[typ] = creator
}

// CreateProcessor builds a processor of the given type.
// Returns ErrUnknownType if no creator is registered.
func (r *Registry) CreateProcessor(typ string, cfg Config) (pipeline.Processor, error) {
	r.mu.RLock()
	creator, ok := r.processors[typ]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: processor %q", ErrUnknownType, typ)
	}
	if cfg == nil {
		cfg = Config{}
	}
	p, err := creator(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create processor %s: %w", typ, err)
	}
	return p, nil
}

// CreateCondition builds a condition of the given type.
// Returns ErrUnknownType if no creator is registered.
func (r *Registry) CreateCondition(typ string, cfg Config) (pipeline.Condition, error) {
	r.mu.RLock()
	creator, ok := r.conditions[typ]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: condition %q", ErrUnknownType, typ)
	}
	if cfg == nil {
		cfg = Config{}
	}
	c, err := creator(cfg, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition %s: %w", typ, err)
	}
	return c, nil
}

// CreateProcessorFrom builds a processor from a single-key {type: {config}} object.
func (r *Registry) CreateProcessorFrom(raw interface{}) (pipeline.Processor, error) {
	typ, cfg, err := SplitTyped(raw)
	if err != nil {
		return nil, err
	}
	return r.CreateProcessor(typ, cfg)
}

// CreateConditionFrom builds a condition from a single-key {type: {config}} object.
func (r *Registry) CreateConditionFrom(raw interface{}) (pipeline.Condition, error) {
	typ, cfg, err := SplitTyped(raw)
	if err != nil {
		return nil, err
	}
	return r.CreateCondition(typ, cfg)
}

// HasProcessor checks if a processor type is registered.
func (r *Registry) HasProcessor(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.processors[typ]
	return ok
}

// HasCondition checks if a condition type is registered.
func (r *Registry) HasCondition(typ string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conditions[typ]
	return ok
}

// ProcessorTypes returns the registered processor types, sorted.
func (r *Registry) ProcessorTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// ConditionTypes returns the registered condition types, sorted.
func (r *Registry) ConditionTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.conditions))
	for t := range r.conditions {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
