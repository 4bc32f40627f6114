// Package conditions provides the built-in step guards.
package conditions

import (
	"fmt"
	"regexp"

	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
)

// InvalidPatternError is returned when a regular expression does not compile.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("invalid pattern %q: %v", e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// MatchRegex matches a string field against a regular expression. The whole
// value must match unless partial matching is enabled.
type MatchRegex struct {
	field   document.Path
	pattern string
	re      *regexp.Regexp
}

// NewMatchRegex compiles pattern once. caseInsensitive folds case;
// matchPartial accepts a match anywhere in the value.
func NewMatchRegex(field, pattern string, caseInsensitive, matchPartial bool) (*MatchRegex, error) {
	path, err := document.ParsePath(field)
	if err != nil {
		return nil, err
	}
	// Compile the bare pattern first so the error refers to what the user wrote.
	if _, err := regexp.Compile(pattern); err != nil {
		return nil, &InvalidPatternError{Pattern: pattern, Err: err}
	}

	expr := pattern
	if !matchPartial {
		expr = `^(?:` + expr + `)$`
	}
	if caseInsensitive {
		expr = `(?i)` + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, &InvalidPatternError{Pattern: pattern, Err: err}
	}

	return &MatchRegex{field: path, pattern: pattern, re: re}, nil
}

// Evaluate returns false for absent or non-string values.
func (m *MatchRegex) Evaluate(doc *document.Doc) bool {
	v, ok := doc.GetPath(m.field)
	if !ok {
		return false
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	return m.re.MatchString(s)
}

// Pattern returns the pattern as configured.
func (m *MatchRegex) Pattern() string { return m.pattern }

// Ensure MatchRegex implements pipeline.Condition
var _ pipeline.Condition = (*MatchRegex)(nil)
