// Package strings provides string transformation processors.
package strings

import (
	"context"
	"fmt"
	stdstrings "strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

// Processor type names.
const (
	TypeLowercase = "lowercase"
	TypeUppercase = "uppercase"
	TypeTrim      = "trim"
	TypeTitleCase = "titleCase"
	TypeSplit     = "split"
)

// Register registers the string processors.
func Register(r *registry.Registry) {
	r.RegisterProcessor(TypeLowercase, caseCreator(TypeLowercase, cases.Lower))
	r.RegisterProcessor(TypeUppercase, caseCreator(TypeUppercase, cases.Upper))
	r.RegisterProcessor(TypeTitleCase, caseCreator(TypeTitleCase, cases.Title))
	r.RegisterProcessor(TypeTrim, CreateTrim)
	r.RegisterProcessor(TypeSplit, CreateSplit)
}

// Transform applies a string function to one or more fields. Every field
// must hold a string; the first violation is a controlled failure.
type Transform struct {
	typ    string
	fields []document.Path
	fn     func(string) string
}

// NewTransform creates a processor of the given type applying fn to fields.
func NewTransform(typ string, fields []string, fn func(string) string) (*Transform, error) {
	if len(fields) == 0 {
		return nil, registry.NewConfigError(typ, "field", "at least one field is required", nil)
	}
	paths := make([]document.Path, 0, len(fields))
	for _, f := range fields {
		p, err := document.ParsePath(f)
		if err != nil {
			return nil, registry.NewConfigError(typ, "field", "malformed field path", err)
		}
		paths = append(paths, p)
	}
	return &Transform{typ: typ, fields: paths, fn: fn}, nil
}

func (t *Transform) Type() string { return t.typ }

func (t *Transform) Process(_ context.Context, doc *document.Doc) (pipeline.ProcessResult, error) {
	for _, p := range t.fields {
		v, ok := doc.GetPath(p)
		if !ok {
			return pipeline.Failure(fmt.Sprintf("field %s is missing", p)), nil
		}
		s, ok := v.(string)
		if !ok {
			return pipeline.Failure(fmt.Sprintf("field %s is not a string", p)), nil
		}
		if err := doc.SetPath(p, t.fn(s)); err != nil {
			return pipeline.Failure(err.Error()), nil
		}
	}
	return pipeline.Success(), nil
}

func fieldsOf(cfg registry.Config) []string {
	return append(cfg.StringSlice("fields"), cfg.StringSlice("field")...)
}

// caseCreator builds a case mapping processor. The optional "language" key
// selects language-specific rules, e.g. "tr" for Turkish dotted I.
func caseCreator(typ string, mapper func(language.Tag, ...cases.Option) cases.Caser) registry.ProcessorCreator {
	return func(cfg registry.Config) (pipeline.Processor, error) {
		tag := language.Und
		if lang := cfg.String("language", ""); lang != "" {
			parsed, err := language.Parse(lang)
			if err != nil {
				return nil, registry.NewConfigError(typ, "language", "invalid language tag", err)
			}
			tag = parsed
		}
		// a Caser is stateful, so every call gets its own
		fn := func(s string) string { return mapper(tag).String(s) }
		return NewTransform(typ, fieldsOf(cfg), fn)
	}
}

// CreateTrim builds a trim processor. Without a cutset, surrounding white
// space is removed.
func CreateTrim(cfg registry.Config) (pipeline.Processor, error) {
	cutset := cfg.String("cutset", "")
	fn := func(s string) string {
		if cutset == "" {
			return stdstrings.TrimSpace(s)
		}
		return stdstrings.Trim(s, cutset)
	}
	return NewTransform(TypeTrim, fieldsOf(cfg), fn)
}

// Split turns a string field into a list of strings.
type Split struct {
	field     document.Path
	target    document.Path
	separator string
}

// CreateSplit builds a split processor from {field, separator, target}.
// target defaults to field.
func CreateSplit(cfg registry.Config) (pipeline.Processor, error) {
	field, err := cfg.RequirePath(TypeSplit, "field")
	if err != nil {
		return nil, err
	}
	target := field
	if cfg.Has("target") {
		if target, err = cfg.RequirePath(TypeSplit, "target"); err != nil {
			return nil, err
		}
	}
	sep := cfg.String("separator", ",")
	if sep == "" {
		return nil, registry.NewConfigError(TypeSplit, "separator", "cannot be empty", nil)
	}
	return &Split{field: field, target: target, separator: sep}, nil
}

func (s *Split) Type() string { return TypeSplit }

func (s *Split) Process(_ context.Context, doc *document.Doc) (pipeline.ProcessResult, error) {
	v, ok := doc.GetPath(s.field)
	if !ok {
		return pipeline.Failure(fmt.Sprintf("field %s is missing", s.field)), nil
	}
	str, ok := v.(string)
	if !ok {
		return pipeline.Failure(fmt.Sprintf("field %s is not a string", s.field)), nil
	}
	parts := stdstrings.Split(str, s.separator)
	list := make([]interface{}, len(parts))
	for i, part := range parts {
		list[i] = part
	}
	if err := doc.SetPath(s.target, list); err != nil {
		return pipeline.Failure(err.Error()), nil
	}
	return pipeline.Success(), nil
}
