package conditions

import (
	"github.com/wehubfusion/Sawmill/pkg/document"
	"github.com/wehubfusion/Sawmill/pkg/pipeline"
)

// And is true when every child is true. An empty And is true.
type And []pipeline.Condition

func (a And) Evaluate(doc *document.Doc) bool {
	for _, c := range a {
		if !c.Evaluate(doc) {
			return false
		}
	}
	return true
}

// Or is true when any child is true. An empty Or is false.
type Or []pipeline.Condition

func (o Or) Evaluate(doc *document.Doc) bool {
	for _, c := range o {
		if c.Evaluate(doc) {
			return true
		}
	}
	return false
}

// Not negates its child.
type Not struct {
	Condition pipeline.Condition
}

func (n Not) Evaluate(doc *document.Doc) bool {
	return !n.Condition.Evaluate(doc)
}
