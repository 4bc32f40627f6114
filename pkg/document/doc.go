// Package document provides the mutable field tree processed by pipelines,
// addressed with dot-separated paths such as "request.headers.0.name".
package document

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Doc is a nested field tree. Values are scalars, map[string]interface{} or
// []interface{}. A Doc is owned by one execution at a time; readers such as
// the watchdog only hold the reference.
type Doc struct {
	source map[string]interface{}
}

// New wraps source without copying it. A nil source yields an empty document.
func New(source map[string]interface{}) *Doc {
	if source == nil {
		source = make(map[string]interface{})
	}
	return &Doc{source: source}
}

// FromJSON parses a JSON object into a document.
func FromJSON(data []byte) (*Doc, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("invalid JSON document")
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return nil, ErrNotObject
	}
	root, ok := parsed.Value().(map[string]interface{})
	if !ok {
		return nil, ErrNotObject
	}
	return New(root), nil
}

// Source returns the live root map.
func (d *Doc) Source() map[string]interface{} {
	return d.source
}

// JSON encodes the document.
func (d *Doc) JSON() ([]byte, error) {
	return json.Marshal(d.source)
}

// Clone returns a deep copy of the document.
func (d *Doc) Clone() *Doc {
	return New(deepCopy(d.source).(map[string]interface{}))
}

// Get resolves path. ok is false when the path is malformed or does not
// resolve; Get never fails otherwise.
func (d *Doc) Get(path string) (interface{}, bool) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, false
	}
	return d.GetPath(p)
}

// GetPath resolves a pre-parsed path.
func (d *Doc) GetPath(p Path) (interface{}, bool) {
	if p.IsZero() {
		return nil, false
	}
	var cur interface{} = d.source
	for _, seg := range p.segments {
		next, ok := child(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// GetString resolves path and returns the value if it is a string.
func (d *Doc) GetString(path string) (string, bool) {
	v, ok := d.Get(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Has reports whether path resolves to a value (including nil).
func (d *Doc) Has(path string) bool {
	_, ok := d.Get(path)
	return ok
}

// HasPath is Has for a pre-parsed path.
func (d *Doc) HasPath(p Path) bool {
	_, ok := d.GetPath(p)
	return ok
}

// Set writes value at path, creating missing intermediate maps. Lists are
// never grown: list segments must address an existing element.
func (d *Doc) Set(path string, value interface{}) error {
	p, err := ParsePath(path)
	if err != nil {
		return err
	}
	return d.SetPath(p, value)
}

// SetPath is Set for a pre-parsed path.
func (d *Doc) SetPath(p Path, value interface{}) error {
	if p.IsZero() {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	var cur interface{} = d.source
	last := len(p.segments) - 1
	for i, seg := range p.segments[:last] {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				created := make(map[string]interface{})
				node[seg] = created
				next = created
			}
			cur = next
		case []interface{}:
			idx, err := indexInto(node, seg, p, i)
			if err != nil {
				return err
			}
			cur = node[idx]
		default:
			return mismatch(p, i)
		}
	}

	seg := p.segments[last]
	switch node := cur.(type) {
	case map[string]interface{}:
		node[seg] = value
	case []interface{}:
		idx, err := indexInto(node, seg, p, last)
		if err != nil {
			return err
		}
		node[idx] = value
	default:
		return mismatch(p, last)
	}
	return nil
}

// Remove deletes the value at path. Removing a path that does not resolve
// returns false with no error. Removing a list element shifts later elements.
func (d *Doc) Remove(path string) (bool, error) {
	p, err := ParsePath(path)
	if err != nil {
		return false, err
	}
	return d.RemovePath(p)
}

// RemovePath is Remove for a pre-parsed path.
func (d *Doc) RemovePath(p Path) (bool, error) {
	if p.IsZero() {
		return false, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	var cur interface{} = d.source
	replace := func(interface{}) {}
	last := len(p.segments) - 1
	for i, seg := range p.segments[:last] {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return false, nil
			}
			key := seg
			replace = func(v interface{}) { node[key] = v }
			cur = next
		case []interface{}:
			idx, ok := listIndex(seg)
			if !ok {
				return false, mismatch(p, i)
			}
			if idx >= len(node) {
				return false, nil
			}
			replace = func(v interface{}) { node[idx] = v }
			cur = node[idx]
		default:
			return false, mismatch(p, i)
		}
	}

	seg := p.segments[last]
	switch node := cur.(type) {
	case map[string]interface{}:
		if _, ok := node[seg]; !ok {
			return false, nil
		}
		delete(node, seg)
		return true, nil
	case []interface{}:
		idx, ok := listIndex(seg)
		if !ok {
			return false, mismatch(p, last)
		}
		if idx >= len(node) {
			return false, nil
		}
		shrunk := make([]interface{}, 0, len(node)-1)
		shrunk = append(shrunk, node[:idx]...)
		shrunk = append(shrunk, node[idx+1:]...)
		replace(shrunk)
		return true, nil
	default:
		return false, mismatch(p, last)
	}
}

func child(cur interface{}, seg string) (interface{}, bool) {
	switch node := cur.(type) {
	case map[string]interface{}:
		v, ok := node[seg]
		return v, ok
	case []interface{}:
		idx, ok := listIndex(seg)
		if !ok || idx >= len(node) {
			return nil, false
		}
		return node[idx], true
	default:
		return nil, false
	}
}

func indexInto(list []interface{}, seg string, p Path, pos int) (int, error) {
	idx, ok := listIndex(seg)
	if !ok {
		return 0, mismatch(p, pos)
	}
	if idx >= len(list) {
		return 0, fmt.Errorf("%w: segment %d of %q addresses index %d of a %d-element list",
			ErrIndexOutOfRange, pos, p.raw, idx, len(list))
	}
	return idx, nil
}

func mismatch(p Path, pos int) error {
	return fmt.Errorf("%w: segment %d (%q) of %q", ErrTypeMismatch, pos, p.segments[pos], p.raw)
}

// CloneValue deep copies nested maps and lists; scalars are returned as is.
func CloneValue(v interface{}) interface{} {
	return deepCopy(v)
}

func deepCopy(v interface{}) interface{} {
	switch node := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(node))
		for k, child := range node {
			out[k] = deepCopy(child)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(node))
		for i, child := range node {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
