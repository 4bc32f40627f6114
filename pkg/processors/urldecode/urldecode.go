// Package urldecode provides the urlDecode processor.
package urldecode

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

// Type is the processor type name.
const Type = "urlDecode"

// DefaultCharset is used when no charset is configured.
const DefaultCharset = "UTF-8"

// Register registers the urlDecode processor.
func Register(r *registry.Registry) {
	r.RegisterProcessor(Type, Create)
}

// Processor URL-decodes one field, or every string in the document.
// Values that are not valid URL encodings are left unchanged.
type Processor struct {
	field     document.Path
	allFields bool
	charset   string
	enc       encoding.Encoding // nil for UTF-8
}

// New creates a urlDecode processor. Exactly one of field or allFields must be set.
func New(field string, allFields bool, charset string) (*Processor, error) {
	if charset == "" {
		charset = DefaultCharset
	}
	enc, err := lookupCharset(charset)
	if err != nil {
		return nil, registry.NewConfigError(Type, "charset", fmt.Sprintf("unsupported charset %q", charset), err)
	}

	p := &Processor{allFields: allFields, charset: charset, enc: enc}
	switch {
	case allFields && field != "":
		return nil, registry.NewConfigError(Type, "field", "cannot be combined with allFields", nil)
	case allFields:
	case field == "":
		return nil, registry.NewConfigError(Type, "field", "is required unless allFields is set", nil)
	default:
		path, err := document.ParsePath(field)
		if err != nil {
			return nil, registry.NewConfigError(Type, "field", "malformed field path", err)
		}
		p.field = path
	}
	return p, nil
}

// Create builds a urlDecode processor from {field | allFields, charset}.
func Create(cfg registry.Config) (pipeline.Processor, error) {
	return New(cfg.String("field", ""), allFieldsFlag(cfg), cfg.String("charset", DefaultCharset))
}

// allFieldsFlag accepts both a boolean and the string "true".
func allFieldsFlag(cfg registry.Config) bool {
	if s := cfg.String("allFields", ""); s != "" {
		return strings.EqualFold(s, "true")
	}
	return cfg.Bool("allFields", false)
}

// lookupCharset resolves IANA names first, then WHATWG labels (cp1252,
// latin2, ...), then charmap names such as "IBM Code Page 866".
func lookupCharset(name string) (encoding.Encoding, error) {
	if strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return nil, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err == nil && enc != nil {
		return enc, nil
	}
	if enc, herr := htmlindex.Get(name); herr == nil {
		return enc, nil
	}
	want := charsetKey(name)
	for _, cm := range charmap.All {
		if s, ok := cm.(fmt.Stringer); ok && charsetKey(s.String()) == want {
			return cm, nil
		}
	}
	if err == nil {
		// ianaindex knows some names it has no implementation for
		err = fmt.Errorf("no decoder available for %s", name)
	}
	return nil, err
}

func charsetKey(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (p *Processor) Type() string { return Type }

// Charset returns the configured charset.
func (p *Processor) Charset() string { return p.charset }

func (p *Processor) Process(_ context.Context, doc *document.Doc) (pipeline.ProcessResult, error) {
	if p.allFields {
		src := doc.Source()
		for k, v := range src {
			src[k] = p.decodeTree(v)
		}
		return pipeline.Success(), nil
	}

	v, ok := doc.GetPath(p.field)
	if !ok {
		return pipeline.Failure(fmt.Sprintf("field %s is missing", p.field)), nil
	}
	s, ok := v.(string)
	if !ok {
		return pipeline.Failure(fmt.Sprintf("field %s is not a string", p.field)), nil
	}
	if err := doc.SetPath(p.field, p.decode(s)); err != nil {
		return pipeline.Failure(err.Error()), nil
	}
	return pipeline.Success(), nil
}

func (p *Processor) decodeTree(v interface{}) interface{} {
	switch node := v.(type) {
	case string:
		return p.decode(node)
	case map[string]interface{}:
		for k, child := range node {
			node[k] = p.decodeTree(child)
		}
		return node
	case []interface{}:
		for i, child := range node {
			node[i] = p.decodeTree(child)
		}
		return node
	default:
		return v
	}
}

// decode unescapes s as a form-encoded component ('+' is a space) and
// interprets the bytes in the configured charset. Invalid input is returned unchanged.
func (p *Processor) decode(s string) string {
	raw, err := url.QueryUnescape(s)
	if err != nil {
		return s
	}
	if p.enc == nil {
		return raw
	}
	out, err := p.enc.NewDecoder().String(raw)
	if err != nil {
		return s
	}
	return out
}
