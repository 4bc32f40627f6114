// Package date provides the date processor, which parses a timestamp field
// with one of several input formats and rewrites it in a single output format.
package date

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
	"github.com/wehubfusion/Sawmill/pkg/registry"
)

// Type is the processor type name.
const Type = "date"

// Numeric epoch formats. Values may be numbers or numeric strings.
const (
	FormatUnix   = "UNIX"
	FormatUnixMs = "UNIX_MS"
)

// DefaultOutputFormat is used when no outputFormat is configured.
const DefaultOutputFormat = "RFC3339"

var namedLayouts = map[string]string{
	"ANSIC":       time.ANSIC,
	"UnixDate":    time.UnixDate,
	"RubyDate":    time.RubyDate,
	"RFC822":      time.RFC822,
	"RFC822Z":     time.RFC822Z,
	"RFC850":      time.RFC850,
	"RFC1123":     time.RFC1123,
	"RFC1123Z":    time.RFC1123Z,
	"RFC3339":     time.RFC3339,
	"RFC3339Nano": time.RFC3339Nano,
	"Kitchen":     time.Kitchen,
	"Stamp":       time.Stamp,
	"StampMilli":  time.StampMilli,
	"StampMicro":  time.StampMicro,
	"StampNano":   time.StampNano,
	"DateTime":    time.DateTime,
	"DateOnly":    time.DateOnly,
	"TimeOnly":    time.TimeOnly,
	// Apache and nginx access logs.
	"CommonLog": "02/Jan/2006:15:04:05 -0700",
}

// Register registers the date processor.
func Register(r *registry.Registry) {
	r.RegisterProcessor(Type, Create)
}

// Date parses field and writes the reformatted value to target.
type Date struct {
	field   document.Path
	target  document.Path
	formats []string
	inLoc   *time.Location
	output  string
	outLoc  *time.Location
}

// New creates a date processor. formats are tried in order; each is a named
// format, UNIX, UNIX_MS or a Go layout. A nil inLoc means UTC for values
// without a zone; a nil outLoc keeps the parsed zone.
func New(field, target string, formats []string, inLoc *time.Location, output string, outLoc *time.Location) (*Date, error) {
	fieldPath, err := document.ParsePath(field)
	if err != nil {
		return nil, registry.NewConfigError(Type, "field", "invalid path", err)
	}
	targetPath := fieldPath
	if target != "" {
		if targetPath, err = document.ParsePath(target); err != nil {
			return nil, registry.NewConfigError(Type, "target", "invalid path", err)
		}
	}
	if len(formats) == 0 {
		return nil, registry.NewConfigError(Type, "formats", "at least one input format is required", nil)
	}
	resolved := make([]string, len(formats))
	for i, f := range formats {
		if resolved[i] = resolveLayout(f); resolved[i] == "" {
			return nil, registry.NewConfigError(Type, "formats", "empty format", nil)
		}
	}
	if output == "" {
		output = DefaultOutputFormat
	}
	if inLoc == nil {
		inLoc = time.UTC
	}
	return &Date{
		field:   fieldPath,
		target:  targetPath,
		formats: resolved,
		inLoc:   inLoc,
		output:  resolveLayout(output),
		outLoc:  outLoc,
	}, nil
}

// Create builds a date processor from
// {field, target, formats, timezone, outputFormat, outputTimezone}.
// A single "format" string is accepted in place of formats.
func Create(cfg registry.Config) (pipeline.Processor, error) {
	field, err := cfg.RequireString(Type, "field")
	if err != nil {
		return nil, err
	}
	formats := cfg.StringSlice("formats")
	if f := cfg.String("format", ""); f != "" {
		formats = append(formats, f)
	}
	inLoc, err := location(cfg, "timezone")
	if err != nil {
		return nil, err
	}
	outLoc, err := location(cfg, "outputTimezone")
	if err != nil {
		return nil, err
	}
	return New(field, cfg.String("target", ""), formats, inLoc, cfg.String("outputFormat", ""), outLoc)
}

func location(cfg registry.Config, key string) (*time.Location, error) {
	name := cfg.String(key, "")
	if name == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, registry.NewConfigError(Type, key, fmt.Sprintf("unknown timezone %q", name), err)
	}
	return loc, nil
}

func resolveLayout(format string) string {
	if layout, ok := namedLayouts[format]; ok {
		return layout
	}
	return format
}

func (d *Date) Type() string { return Type }

func (d *Date) Process(_ context.Context, doc *document.Doc) (pipeline.ProcessResult, error) {
	v, ok := doc.GetPath(d.field)
	if !ok {
		return pipeline.Failure(fmt.Sprintf("field %s is missing", d.field)), nil
	}

	t, ok := d.parse(v)
	if !ok {
		return pipeline.Failure(fmt.Sprintf("failed to parse date in field %s with any of %d formats", d.field, len(d.formats))), nil
	}
	if d.outLoc != nil {
		t = t.In(d.outLoc)
	}

	var out interface{}
	switch d.output {
	case FormatUnix:
		out = t.Unix()
	case FormatUnixMs:
		out = t.UnixMilli()
	default:
		out = t.Format(d.output)
	}
	if err := doc.SetPath(d.target, out); err != nil {
		return pipeline.Failure(err.Error()), nil
	}
	return pipeline.Success(), nil
}

func (d *Date) parse(v interface{}) (time.Time, bool) {
	for _, layout := range d.formats {
		switch layout {
		case FormatUnix, FormatUnixMs:
			n, ok := number(v)
			if !ok {
				continue
			}
			if layout == FormatUnix {
				sec, frac := math.Modf(n)
				return time.Unix(int64(sec), int64(frac*1e9)).In(d.inLoc), true
			}
			return time.UnixMilli(int64(n)).In(d.inLoc), true
		default:
			s, ok := v.(string)
			if !ok {
				continue
			}
			if t, err := time.ParseInLocation(layout, strings.TrimSpace(s), d.inLoc); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
