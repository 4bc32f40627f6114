package conditions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

func newRegistry() *registry.Registry {
	r := registry.New()
	RegisterBuiltins(r)
	return r
}

func obj(kv ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

func TestExistsAndFieldType(t *testing.T) {
	doc := document.New(obj(
		"s", "text",
		"n", float64(1),
		"i", 2,
		"b", true,
		"l", []interface{}{},
		"o", obj(),
		"z", nil,
	))

	exists, err := NewExists("z")
	require.NoError(t, err)
	assert.True(t, exists.Evaluate(doc))

	missing, err := NewExists("missing.deep")
	require.NoError(t, err)
	assert.False(t, missing.Evaluate(doc))

	for field, kind := range map[string]string{
		"s": KindString, "n": KindNumber, "i": KindNumber, "b": KindBool,
		"l": KindList, "o": KindObject, "z": KindNull,
	} {
		c, err := NewFieldType(field, kind)
		require.NoError(t, err)
		assert.True(t, c.Evaluate(doc), "%s should be %s", field, kind)

		other, err := NewFieldType(field, KindString)
		require.NoError(t, err)
		assert.Equal(t, kind == KindString, other.Evaluate(doc))
	}

	_, err = NewFieldType("s", "date")
	assert.Error(t, err)
}

func TestEquals(t *testing.T) {
	doc := document.New(obj("status", float64(404), "method", "GET", "ok", false, "nothing", nil))

	tests := []struct {
		field           string
		value           interface{}
		caseInsensitive bool
		want            bool
	}{
		{"status", 404, false, true},
		{"status", float64(404), false, true},
		{"status", "404", false, false},
		{"method", "GET", false, true},
		{"method", "get", false, false},
		{"method", "get", true, true},
		{"ok", false, false, true},
		{"nothing", nil, false, true},
		{"missing", nil, false, false},
		{"method", 1, false, false},
	}

	for _, tt := range tests {
		c, err := NewEquals(tt.field, tt.value, tt.caseInsensitive)
		require.NoError(t, err)
		assert.Equal(t, tt.want, c.Evaluate(doc), "%s == %v", tt.field, tt.value)
	}
}

func TestCompositesFromRegistry(t *testing.T) {
	r := newRegistry()

	c, err := r.CreateConditionFrom(obj("and", obj("conditions", []interface{}{
		obj("exists", obj("field", "user")),
		obj("not", obj("condition", obj("matchRegex", obj(
			"field", "user.name",
			"pattern", "admin.*",
			"caseInsensitive", true,
		)))),
		obj("or", obj("conditions", []interface{}{
			obj("equals", obj("field", "level", "value", "error")),
			obj("fieldType", obj("field", "level", "type", "number")),
		})),
	})))
	require.NoError(t, err)

	assert.True(t, c.Evaluate(document.New(obj("user", obj("name", "bob"), "level", "error"))))
	assert.True(t, c.Evaluate(document.New(obj("user", obj("name", "bob"), "level", float64(3)))))
	assert.False(t, c.Evaluate(document.New(obj("user", obj("name", "Administrator"), "level", "error"))))
	assert.False(t, c.Evaluate(document.New(obj("level", "error"))))
	assert.False(t, c.Evaluate(document.New(obj("user", obj("name", "bob"), "level", "info"))))
}

func TestBuiltinConfigErrors(t *testing.T) {
	r := newRegistry()

	bad := []map[string]interface{}{
		obj("matchRegex", obj("field", "message")),
		obj("matchRegex", obj("field", "message", "pattern", "[]")),
		obj("exists", obj()),
		obj("exists", obj("field", "a..b")),
		obj("equals", obj("field", "a")),
		obj("fieldType", obj("field", "a", "type", "date")),
		obj("and", obj("conditions", []interface{}{})),
		obj("or", obj("conditions", []interface{}{obj("unknown", obj())})),
		obj("not", obj()),
	}
	for _, raw := range bad {
		_, err := r.CreateConditionFrom(raw)
		assert.ErrorIs(t, err, registry.ErrInvalidConfig, "%v", raw)
	}

	_, err := r.CreateConditionFrom(obj("matchRegex", obj("field", "message", "pattern", `Wed\x`)))
	var patternErr *InvalidPatternError
	assert.ErrorAs(t, err, &patternErr)
}

func TestEmptyComposites(t *testing.T) {
	doc := document.New(nil)
	assert.True(t, And{}.Evaluate(doc))
	assert.False(t, Or{}.Evaluate(doc))
}
