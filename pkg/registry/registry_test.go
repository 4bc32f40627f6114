package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
)

func noop(typ string) pipeline.Processor {
	return pipeline.ProcessorFunc(typ, func(context.Context, *document.Doc) (pipeline.ProcessResult, error) {
		return pipeline.Success(), nil
	})
}

func TestRegistryProcessors(t *testing.T) {
	r := New()
	r.RegisterProcessor("noop", func(cfg Config) (pipeline.Processor, error) {
		if cfg.Bool("broken", false) {
			return nil, NewConfigError("noop", "broken", "cannot be true", nil)
		}
		return noop("noop"), nil
	})

	assert.True(t, r.HasProcessor("noop"))
	assert.False(t, r.HasProcessor("other"))
	assert.Equal(t, []string{"noop"}, r.ProcessorTypes())

	p, err := r.CreateProcessor("noop", nil)
	require.NoError(t, err)
	assert.Equal(t, "noop", p.Type())

	_, err = r.CreateProcessor("noop", Config{"broken": true})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "broken", cfgErr.Field)

	_, err = r.CreateProcessor("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownType)

	p, err = r.CreateProcessorFrom(map[string]interface{}{"noop": nil})
	require.NoError(t, err)
	assert.Equal(t, "noop", p.Type())
}

func TestRegistryConditions(t *testing.T) {
	r := New()
	r.RegisterCondition("always", func(Config, *Registry) (pipeline.Condition, error) {
		return pipeline.ConditionFunc(func(*document.Doc) bool { return true }), nil
	})
	r.RegisterCondition("wrap", func(cfg Config, r *Registry) (pipeline.Condition, error) {
		inner, ok := cfg["inner"]
		if !ok {
			return nil, NewConfigError("wrap", "inner", "is required", nil)
		}
		return r.CreateConditionFrom(inner)
	})

	c, err := r.CreateConditionFrom(map[string]interface{}{
		"wrap": map[string]interface{}{"inner": map[string]interface{}{"always": map[string]interface{}{}}},
	})
	require.NoError(t, err)
	assert.True(t, c.Evaluate(document.New(nil)))

	_, err = r.CreateCondition("nope", nil)
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, []string{"always", "wrap"}, r.ConditionTypes())
	assert.True(t, r.HasCondition("wrap"))
}

func TestSplitTyped(t *testing.T) {
	typ, cfg, err := SplitTyped(map[string]interface{}{"addField": map[string]interface{}{"path": "a"}})
	require.NoError(t, err)
	assert.Equal(t, "addField", typ)
	assert.Equal(t, "a", cfg.String("path", ""))

	for _, bad := range []interface{}{
		"addField",
		map[string]interface{}{},
		map[string]interface{}{"a": nil, "b": nil},
		map[string]interface{}{"a": "not an object"},
	} {
		_, _, err := SplitTyped(bad)
		assert.ErrorIs(t, err, ErrInvalidConfig, "input %v", bad)
	}
}

func TestConfigAccessors(t *testing.T) {
	cfg := Config{
		"name":    "x",
		"count":   float64(3),
		"flag":    true,
		"list":    []interface{}{"a", 1, "b"},
		"single":  "only",
		"obj":     map[string]interface{}{"k": "v"},
		"timeout": "250ms",
		"millis":  float64(1500),
	}

	assert.Equal(t, "x", cfg.String("name", ""))
	assert.Equal(t, "def", cfg.String("count", "def"))
	assert.Equal(t, 3, cfg.Int("count", 0))
	assert.Equal(t, 7, cfg.Int("missing", 7))
	assert.True(t, cfg.Bool("flag", false))
	assert.Equal(t, []string{"a", "b"}, cfg.StringSlice("list"))
	assert.Equal(t, []string{"only"}, cfg.StringSlice("single"))
	assert.Nil(t, cfg.StringSlice("missing"))

	obj, ok := cfg.Map("obj")
	require.True(t, ok)
	assert.Equal(t, "v", obj["k"])

	list, ok := cfg.List("list")
	require.True(t, ok)
	assert.Len(t, list, 3)

	d, err := cfg.Duration("timeout", 0)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
	d, err = cfg.Duration("millis", 0)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)
	d, err = cfg.Duration("missing", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
	_, err = cfg.Duration("name", 0)
	assert.Error(t, err)

	_, err = cfg.RequireString("t", "missing")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = cfg.RequirePath("t", "obj")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad := Config{"field": "a..b"}
	_, err = bad.RequirePath("t", "field")
	assert.ErrorIs(t, err, document.ErrInvalidPath)

	assert.Equal(t, []string{"count", "flag", "list", "millis", "name", "obj", "single", "timeout"}, cfg.Keys())
}
