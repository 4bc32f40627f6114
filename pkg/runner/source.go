package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	natsx "github.com/wehubfusion/Sawmill/internal/nats"
)

// Message is one inbound document and its acknowledgement controls.
type Message interface {
	Subject() string
	Data() []byte
	// Ack marks the message handled.
	Ack() error
	// Nak asks for redelivery.
	Nak() error
	// Term stops redelivery of a message that can never succeed.
	Term() error
}

// Source yields batches of messages. Fetch returns an empty batch when
// nothing is available yet and io.EOF once the source is exhausted.
type Source interface {
	Fetch(ctx context.Context, batch int) ([]Message, error)
}

// Publisher delivers processed documents.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error
}

// Header keys attached to published documents.
const (
	HeaderTrackingID    = "Sawmill-Tracking-Id"
	HeaderPipelineID    = "Sawmill-Pipeline-Id"
	HeaderFailedStep    = "Sawmill-Failed-Step"
	HeaderFailureReason = "Sawmill-Failure-Reason"
	HeaderIgnored       = "Sawmill-Ignored-Failures"
)

type natsMessage struct {
	msg *nats.Msg
}

func (m natsMessage) Subject() string { return m.msg.Subject }
func (m natsMessage) Data() []byte    { return m.msg.Data }
func (m natsMessage) Ack() error      { return m.msg.Ack() }
func (m natsMessage) Nak() error      { return m.msg.Nak() }
func (m natsMessage) Term() error     { return m.msg.Term() }

// JetStreamSource pulls from a bound JetStream pull subscription.
type JetStreamSource struct {
	sub     natsx.JSSubscription
	maxWait time.Duration
}

// NewJetStreamSource wraps sub. maxWait bounds how long a single Fetch waits
// for a batch to fill.
func NewJetStreamSource(sub natsx.JSSubscription, maxWait time.Duration) *JetStreamSource {
	if maxWait <= 0 {
		maxWait = 2 * time.Second
	}
	return &JetStreamSource{sub: sub, maxWait: maxWait}
}

// SubscribeJetStream binds a pull subscription to an existing durable consumer.
func SubscribeJetStream(js natsx.JSContext, stream, durable string, maxWait time.Duration) (*JetStreamSource, error) {
	sub, err := js.PullSubscribe("", durable, nats.Bind(stream, durable))
	if err != nil {
		return nil, fmt.Errorf("failed to bind pull subscription %s/%s: %w", stream, durable, err)
	}
	return NewJetStreamSource(sub, maxWait), nil
}

// Fetch implements Source.
func (s *JetStreamSource) Fetch(ctx context.Context, batch int) ([]Message, error) {
	if !s.sub.IsValid() {
		return nil, io.EOF
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.maxWait)
	defer cancel()

	msgs, err := s.sub.Fetch(batch, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() == nil && (errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = natsMessage{msg: m}
	}
	return out, nil
}

// Close drains the subscription.
func (s *JetStreamSource) Close() error {
	return s.sub.Drain()
}

// JetStreamPublisher publishes documents with JetStream acknowledgement.
type JetStreamPublisher struct {
	js natsx.JSContext
}

// NewJetStreamPublisher creates a publisher over js.
func NewJetStreamPublisher(js natsx.JSContext) *JetStreamPublisher {
	return &JetStreamPublisher{js: js}
}

// Publish implements Publisher.
func (p *JetStreamPublisher) Publish(ctx context.Context, subject string, data []byte, headers map[string]string) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range headers {
		msg.Header.Set(k, v)
	}
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// maxLineSize bounds a single JSON-lines document.
const maxLineSize = 4 << 20

// LineSource reads one JSON document per line. Blank lines are skipped.
type LineSource struct {
	name    string
	mu      sync.Mutex
	scanner *bufio.Scanner
	line    int
}

// NewLineSource reads documents from r; name becomes each message's subject.
func NewLineSource(name string, r io.Reader) *LineSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &LineSource{name: name, scanner: scanner}
}

// Fetch implements Source.
func (s *LineSource) Fetch(ctx context.Context, batch int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Message
	for len(out) < batch {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return out, fmt.Errorf("%s line %d: %w", s.name, s.line+1, err)
			}
			if len(out) == 0 {
				return nil, io.EOF
			}
			return out, nil
		}
		s.line++
		raw := s.scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		data := make([]byte, len(raw))
		copy(data, raw)
		out = append(out, &lineMessage{subject: s.name, data: data, line: s.line})
	}
	return out, nil
}

// lineMessage has no broker behind it; settlement is recorded only.
type lineMessage struct {
	subject string
	data    []byte
	line    int
	mu      sync.Mutex
	settled string
}

func (m *lineMessage) Subject() string { return m.subject }
func (m *lineMessage) Data() []byte    { return m.data }
func (m *lineMessage) Ack() error      { return m.settle("ack") }
func (m *lineMessage) Nak() error      { return m.settle("nak") }
func (m *lineMessage) Term() error     { return m.settle("term") }

func (m *lineMessage) settle(how string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settled != "" {
		return fmt.Errorf("line %d already settled (%s)", m.line, m.settled)
	}
	m.settled = how
	return nil
}

// WriterPublisher writes each published document as one line to w,
// ignoring subjects not listed in subjects. An empty list accepts all.
type WriterPublisher struct {
	mu       sync.Mutex
	w        io.Writer
	subjects map[string]bool
}

// NewWriterPublisher creates a publisher writing to w.
func NewWriterPublisher(w io.Writer, subjects ...string) *WriterPublisher {
	p := &WriterPublisher{w: w}
	if len(subjects) > 0 {
		p.subjects = make(map[string]bool, len(subjects))
		for _, s := range subjects {
			p.subjects[s] = true
		}
	}
	return p
}

// Publish implements Publisher.
func (p *WriterPublisher) Publish(_ context.Context, subject string, data []byte, _ map[string]string) error {
	if p.subjects != nil && !p.subjects[subject] {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(data); err != nil {
		return err
	}
	_, err := p.w.Write([]byte{'\n'})
	return err
}
