package nats

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// JSContext is the subset of JetStream operations used by Sawmill. Tests
// substitute it without a running server.
type JSContext interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	ConsumerInfo(stream, consumer string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
	AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error)
}

// JSSubscription is the pull subscription surface used by the runner.
type JSSubscription interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
	Drain() error
	IsValid() bool
}

// WrapJetStream adapts a nats.JetStreamContext to JSContext.
func WrapJetStream(js nats.JetStreamContext) JSContext {
	return &jsAdapter{js: js}
}

type jsAdapter struct {
	js nats.JetStreamContext
}

func (a *jsAdapter) PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error) {
	return a.js.PublishMsg(m, opts...)
}

func (a *jsAdapter) PullSubscribe(subj, durable string, opts ...nats.SubOpt) (JSSubscription, error) {
	sub, err := a.js.PullSubscribe(subj, durable, opts...)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (a *jsAdapter) StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	return a.js.StreamInfo(stream, opts...)
}

func (a *jsAdapter) AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error) {
	return a.js.AddStream(cfg, opts...)
}

func (a *jsAdapter) ConsumerInfo(stream, consumer string, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	return a.js.ConsumerInfo(stream, consumer, opts...)
}

func (a *jsAdapter) AddConsumer(stream string, cfg *nats.ConsumerConfig, opts ...nats.JSOpt) (*nats.ConsumerInfo, error) {
	return a.js.AddConsumer(stream, cfg, opts...)
}

// StreamSpec describes the stream documents are read from.
type StreamSpec struct {
	Name     string
	Subjects []string
	MaxAge   time.Duration
	MaxMsgs  int64
}

// ConsumerSpec describes the durable pull consumer the runner binds to.
type ConsumerSpec struct {
	Durable       string
	FilterSubject string
	MaxDeliver    int
	AckWait       time.Duration
	MaxAckPending int
}

// EnsureStream creates the stream when it does not exist.
func EnsureStream(js JSContext, spec StreamSpec, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := js.StreamInfo(spec.Name)
	if err == nil {
		logger.Info("JetStream stream already exists",
			zap.String("stream", spec.Name),
			zap.Uint64("messages", info.State.Msgs),
			zap.Int("consumers", info.State.Consumers))
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info for '%s': %w", spec.Name, err)
	}

	subjects := spec.Subjects
	if len(subjects) == 0 {
		subjects = []string{spec.Name + ".>"}
	}
	maxAge := spec.MaxAge
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	maxMsgs := spec.MaxMsgs
	if maxMsgs <= 0 {
		maxMsgs = 100000
	}

	cfg := &nats.StreamConfig{
		Name:     spec.Name,
		Subjects: subjects,
		Storage:  nats.FileStorage,
		MaxAge:   maxAge,
		MaxMsgs:  maxMsgs,
		Replicas: 1,
	}
	if _, err := js.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream '%s': %w", spec.Name, err)
	}
	logger.Info("Created JetStream stream",
		zap.String("stream", spec.Name),
		zap.Strings("subjects", subjects),
		zap.Duration("max_age", maxAge),
		zap.Int64("max_msgs", maxMsgs))
	return nil
}

// EnsureConsumer creates the durable consumer when it does not exist.
func EnsureConsumer(js JSContext, stream string, spec ConsumerSpec, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := js.ConsumerInfo(stream, spec.Durable)
	if err == nil {
		logger.Info("JetStream consumer already exists",
			zap.String("stream", stream),
			zap.String("consumer", spec.Durable),
			zap.Uint64("pending", info.NumPending))
		return nil
	}
	if !errors.Is(err, nats.ErrConsumerNotFound) {
		return fmt.Errorf("failed to get consumer info for '%s' in stream '%s': %w", spec.Durable, stream, err)
	}

	cfg := &nats.ConsumerConfig{
		Durable:       spec.Durable,
		FilterSubject: spec.FilterSubject,
		AckPolicy:     nats.AckExplicitPolicy,
		DeliverPolicy: nats.DeliverAllPolicy,
		MaxDeliver:    spec.MaxDeliver,
		AckWait:       spec.AckWait,
		MaxAckPending: spec.MaxAckPending,
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.MaxAckPending == 0 {
		cfg.MaxAckPending = 1000
	}
	if _, err := js.AddConsumer(stream, cfg); err != nil {
		return fmt.Errorf("failed to create consumer '%s' in stream '%s': %w", spec.Durable, stream, err)
	}
	logger.Info("Created JetStream consumer",
		zap.String("stream", stream),
		zap.String("consumer", spec.Durable),
		zap.Int("max_deliver", cfg.MaxDeliver))
	return nil
}
