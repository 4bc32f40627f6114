package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/wehubfusion/Sawmill/pkg/document"
)

// ExecutionStep is a guarded transformation with remediation processors.
type ExecutionStep struct {
	// Name identifies the step within its pipeline.
	Name string
	// Condition guards the step. A nil Condition always runs the step.
	Condition Condition
	// Processor is the primary transformation.
	Processor Processor
	// OnFailure processors run in order after a controlled failure of
	// Processor; the first one that succeeds recovers the step.
	OnFailure []Processor
}

// StepState is the terminal state of one step invocation.
type StepState int

const (
	// StepGuardedOut means the condition was false; the step was skipped and counts as a success.
	StepGuardedOut StepState = iota
	// StepSucceeded means the primary processor succeeded.
	StepSucceeded
	// StepRecovered means the primary processor failed and a remediation processor succeeded.
	StepRecovered
	// StepUnrecovered means the primary processor failed and no remediation processor succeeded.
	StepUnrecovered
	// StepUnexpectedFailure means a processor or the condition returned an error or panicked.
	StepUnexpectedFailure
)

func (s StepState) String() string {
	switch s {
	case StepGuardedOut:
		return "guarded_out"
	case StepSucceeded:
		return "succeeded"
	case StepRecovered:
		return "recovered"
	case StepUnrecovered:
		return "unrecovered"
	case StepUnexpectedFailure:
		return "unexpected_failure"
	default:
		return fmt.Sprintf("StepState(%d)", int(s))
	}
}

// OK reports whether the state lets the execution continue normally.
func (s StepState) OK() bool {
	return s == StepGuardedOut || s == StepSucceeded || s == StepRecovered
}

// stepOutcome is the result of running one step.
type stepOutcome struct {
	state StepState
	// reason of the primary controlled failure (unrecovered steps)
	reason string
	// processorType of the processor that failed
	processorType string
	// err is set for StepUnexpectedFailure
	err error
	// attempts counts remediation processors invoked
	attempts int
}

// run drives one invocation of the step state machine.
func (s *ExecutionStep) run(ctx context.Context, doc *document.Doc) stepOutcome {
	if s.Condition != nil {
		pass, err := evaluate(s.Condition, doc)
		if err != nil {
			return stepOutcome{state: StepUnexpectedFailure, err: err}
		}
		if !pass {
			return stepOutcome{state: StepGuardedOut}
		}
	}

	res, err := invoke(ctx, s.Processor, doc)
	if err != nil {
		return stepOutcome{state: StepUnexpectedFailure, processorType: s.Processor.Type(), err: err}
	}
	if res.Succeeded {
		return stepOutcome{state: StepSucceeded}
	}

	out := stepOutcome{state: StepUnrecovered, reason: res.Reason, processorType: s.Processor.Type()}
	for _, remedy := range s.OnFailure {
		out.attempts++
		rres, rerr := invoke(ctx, remedy, doc)
		if rerr != nil {
			return stepOutcome{
				state:         StepUnexpectedFailure,
				processorType: remedy.Type(),
				err:           rerr,
				attempts:      out.attempts,
			}
		}
		if rres.Succeeded {
			out.state = StepRecovered
			return out
		}
	}
	return out
}

// invoke runs a processor, converting a panic into an unexpected failure.
func invoke(ctx context.Context, p Processor, doc *document.Doc) (res ProcessResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = ProcessResult{}
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return p.Process(ctx, doc)
}

func evaluate(c Condition, doc *document.Doc) (pass bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			pass = false
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return c.Evaluate(doc), nil
}
