package conditions

import (
	"fmt"

	"golang.org/x/text/cases"

	"github.com/wehubfusion/Sawmill/pkg/document"
)

// Exists is true when the field resolves, including to null.
type Exists struct {
	field document.Path
}

// NewExists creates an Exists condition.
func NewExists(field string) (*Exists, error) {
	p, err := document.ParsePath(field)
	if err != nil {
		return nil, err
	}
	return &Exists{field: p}, nil
}

func (e *Exists) Evaluate(doc *document.Doc) bool {
	return doc.HasPath(e.field)
}

// Equals compares a field to a constant. Numbers compare by value regardless
// of their Go type; strings optionally ignore case.
type Equals struct {
	field           document.Path
	value           interface{}
	caseInsensitive bool
}

// NewEquals creates an Equals condition.
func NewEquals(field string, value interface{}, caseInsensitive bool) (*Equals, error) {
	p, err := document.ParsePath(field)
	if err != nil {
		return nil, err
	}
	return &Equals{field: p, value: value, caseInsensitive: caseInsensitive}, nil
}

func (e *Equals) Evaluate(doc *document.Doc) bool {
	actual, ok := doc.GetPath(e.field)
	if !ok {
		return false
	}
	return e.equal(actual, e.value)
}

func (e *Equals) equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := toFloat64(a); ok {
		bf, ok := toFloat64(b)
		return ok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return false
		}
		if e.caseInsensitive {
			// a Caser must not be shared between goroutines
			return cases.Fold().String(av) == cases.Fold().String(bv)
		}
		return av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

// FieldType checks the kind of a field value.
type FieldType struct {
	field document.Path
	kind  string
}

// Supported kinds for FieldType.
const (
	KindString = "string"
	KindNumber = "number"
	KindBool   = "bool"
	KindList   = "list"
	KindObject = "object"
	KindNull   = "null"
)

// NewFieldType creates a FieldType condition.
func NewFieldType(field, kind string) (*FieldType, error) {
	p, err := document.ParsePath(field)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindString, KindNumber, KindBool, KindList, KindObject, KindNull:
	default:
		return nil, fmt.Errorf("unsupported field type %q", kind)
	}
	return &FieldType{field: p, kind: kind}, nil
}

func (f *FieldType) Evaluate(doc *document.Doc) bool {
	v, ok := doc.GetPath(f.field)
	if !ok {
		return false
	}
	return kindOf(v) == f.kind
}

func kindOf(v interface{}) string {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case bool:
		return KindBool
	case []interface{}:
		return KindList
	case map[string]interface{}:
		return KindObject
	}
	if _, ok := toFloat64(v); ok {
		return KindNumber
	}
	return ""
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
