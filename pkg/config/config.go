// Package config loads pipeline definitions from YAML or JSON and builds
// executable pipelines from them.
//
// A definition looks like:
//
//	id: access-logs
//	ignoreFailure: false
//	watchdog:
//	  threshold: 1s
//	  mode: level
//	steps:
//	  - lowercase: {field: method}
//	  - name: decode-query
//	    if:
//	      exists: {field: query}
//	    processor:
//	      urlDecode: {field: query}
//	    onFailure:
//	      - addField: {path: decodeFailed, value: true}
//
// A step is either a single-key processor entry or an object with an
// explicit processor and optional name, condition and remediation list.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

// Definition is the root of a pipeline definition file.
type Definition struct {
	ID            string              `yaml:"id"`
	Name          string              `yaml:"name"`
	Description   string              `yaml:"description"`
	IgnoreFailure bool                `yaml:"ignoreFailure"`
	Watchdog      *WatchdogDefinition `yaml:"watchdog"`
	Steps         []StepDefinition    `yaml:"steps"`
}

// WatchdogDefinition overrides the runtime watchdog settings for a pipeline.
type WatchdogDefinition struct {
	Threshold Duration `yaml:"threshold"`
	Buckets   int      `yaml:"buckets"`
	Mode      string   `yaml:"mode"`
}

// StepDefinition describes one execution step.
type StepDefinition struct {
	Name      string        `yaml:"name"`
	If        *TypedConfig  `yaml:"if"`
	Processor TypedConfig   `yaml:"processor"`
	OnFailure []TypedConfig `yaml:"onFailure"`
}

// UnmarshalYAML accepts the short form {type: {config}} as well as the
// full step object.
func (s *StepDefinition) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode && !hasKey(value, "processor") {
		var tc TypedConfig
		if err := value.Decode(&tc); err != nil {
			return err
		}
		*s = StepDefinition{Processor: tc}
		return nil
	}
	type raw StepDefinition
	return value.Decode((*raw)(s))
}

func hasKey(node *yaml.Node, key string) bool {
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

// TypedConfig is a single-key object naming a processor or condition type.
type TypedConfig struct {
	Type   string
	Config registry.Config
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *TypedConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]interface{}
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	typ, cfg, err := registry.SplitTyped(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	t.Type = typ
	t.Config = cfg
	return nil
}

// Raw returns the {type: config} form accepted by registry.SplitTyped.
func (t TypedConfig) Raw() map[string]interface{} {
	return map[string]interface{}{t.Type: map[string]interface{}(t.Config)}
}

// Duration is a time.Duration that unmarshals from strings such as "250ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the standard time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Parse parses a YAML or JSON definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}
	return &def, nil
}

// ParseFile reads and parses a definition file.
func ParseFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline definition: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// WatchdogConfig merges the definition's watchdog overrides onto base.
func (d *Definition) WatchdogConfig(base pipeline.WatchdogConfig) (pipeline.WatchdogConfig, error) {
	if d.Watchdog == nil {
		return base, base.Validate()
	}
	cfg := base
	if d.Watchdog.Threshold > 0 {
		cfg.Threshold = d.Watchdog.Threshold.Duration()
	}
	if d.Watchdog.Buckets > 0 {
		cfg.Buckets = d.Watchdog.Buckets
	}
	if d.Watchdog.Mode != "" {
		mode, err := pipeline.ParseOvertimeMode(d.Watchdog.Mode)
		if err != nil {
			return pipeline.WatchdogConfig{}, err
		}
		cfg.Mode = mode
	}
	return cfg, cfg.Validate()
}
