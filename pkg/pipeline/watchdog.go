package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wehubfusion/Sawmill/pkg/document"
)

// DefaultBuckets is the number of slices in the watchdog ring.
const DefaultBuckets = 10

// OvertimeMode controls how often a document that stays in flight is reported.
type OvertimeMode int

const (
	// LevelTriggered reports a document once per full window for as long as it
	// stays in flight.
	LevelTriggered OvertimeMode = iota
	// EdgeTriggered reports a document once; its entry is dropped after the report.
	EdgeTriggered
)

func (m OvertimeMode) String() string {
	switch m {
	case LevelTriggered:
		return "level"
	case EdgeTriggered:
		return "edge"
	default:
		return fmt.Sprintf("OvertimeMode(%d)", int(m))
	}
}

// ParseOvertimeMode parses "level" or "edge". An empty string is LevelTriggered.
func ParseOvertimeMode(s string) (OvertimeMode, error) {
	switch s {
	case "", "level":
		return LevelTriggered, nil
	case "edge":
		return EdgeTriggered, nil
	default:
		return 0, fmt.Errorf("%w: unknown overtime mode %q", ErrInvalidWatchdogConfig, s)
	}
}

// WatchdogConfig configures the overtime watchdog.
type WatchdogConfig struct {
	// Threshold is the processing time after which a document is reported.
	Threshold time.Duration
	// Buckets is the ring size. Each bucket spans Threshold/Buckets. Zero means DefaultBuckets.
	Buckets int
	// Mode selects level- or edge-triggered reporting.
	Mode OvertimeMode
}

// DefaultWatchdogConfig returns a level-triggered configuration with DefaultBuckets slices.
func DefaultWatchdogConfig(threshold time.Duration) WatchdogConfig {
	return WatchdogConfig{
		Threshold: threshold,
		Buckets:   DefaultBuckets,
		Mode:      LevelTriggered,
	}
}

// Validate checks the configuration.
func (c WatchdogConfig) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("%w: threshold must be positive, got %s", ErrInvalidWatchdogConfig, c.Threshold)
	}
	// one bucket would be reported while still receiving registrations
	if c.Buckets < 0 || c.Buckets == 1 {
		return fmt.Errorf("%w: buckets must be 0 (default) or at least 2, got %d", ErrInvalidWatchdogConfig, c.Buckets)
	}
	if c.Threshold/time.Duration(c.buckets()) <= 0 {
		return fmt.Errorf("%w: threshold %s is too small for %d buckets",
			ErrInvalidWatchdogConfig, c.Threshold, c.buckets())
	}
	if c.Mode != LevelTriggered && c.Mode != EdgeTriggered {
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidWatchdogConfig, int(c.Mode))
	}
	return nil
}

func (c WatchdogConfig) buckets() int {
	if c.Buckets == 0 {
		return DefaultBuckets
	}
	return c.Buckets
}

// OvertimeContext describes a document reported by the watchdog.
type OvertimeContext struct {
	TrackingID string
	Doc        *document.Doc
	StartedAt  time.Time
	Threshold  time.Duration
}

// Elapsed returns how long the document has been in flight.
func (o OvertimeContext) Elapsed() time.Duration {
	return time.Since(o.StartedAt)
}

// OvertimeCallback is invoked from the watchdog goroutine for every overtime
// report. It must not block for long: the next rotation waits for it.
type OvertimeCallback func(OvertimeContext)

// WatchdogOption configures a Watchdog.
type WatchdogOption func(*Watchdog)

// WithWatchdogLogger sets the logger used for overtime warnings.
func WithWatchdogLogger(logger *zap.Logger) WatchdogOption {
	return func(w *Watchdog) {
		if logger != nil {
			w.logger = logger
		}
	}
}

type trackedEntry struct {
	doc          *document.Doc
	registeredAt time.Time
}

// bucket holds the documents that entered processing during one slice.
type bucket struct {
	entries sync.Map // tracking id -> *trackedEntry
}

// Registration is the handle returned by Register. It remembers the bucket the
// document was placed in, so deregistration never searches the ring.
type Registration struct {
	id string
	b  *bucket
}

// TrackingID returns the registered tracking id.
func (r Registration) TrackingID() string { return r.id }

// Deregister removes the document from the watchdog. It is idempotent and a
// no-op on the zero Registration.
func (r Registration) Deregister() {
	if r.b == nil {
		return
	}
	r.b.entries.Delete(r.id)
}

// Watchdog detects documents whose processing exceeds a threshold using a
// ring of time-sliced buckets rotated by a single background goroutine.
type Watchdog struct {
	cfg     WatchdogConfig
	slice   time.Duration
	ring    []*bucket
	pos     int // index of the current bucket; owned by the ticking goroutine
	current atomic.Pointer[bucket]

	metrics    MetricsTracker
	onOvertime OvertimeCallback
	logger     *zap.Logger

	tickMu   sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatchdog creates a watchdog and starts its ticker. metrics and
// onOvertime may be nil. Call Stop to release the goroutine.
func NewWatchdog(cfg WatchdogConfig, metrics MetricsTracker, onOvertime OvertimeCallback, opts ...WatchdogOption) (*Watchdog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Buckets = cfg.buckets()
	if metrics == nil {
		metrics = NoOpTracker{}
	}

	w := &Watchdog{
		cfg:        cfg,
		slice:      cfg.Threshold / time.Duration(cfg.Buckets),
		ring:       make([]*bucket, cfg.Buckets),
		metrics:    metrics,
		onOvertime: onOvertime,
		logger:     zap.NewNop(),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	for i := range w.ring {
		w.ring[i] = &bucket{}
	}
	w.current.Store(w.ring[0])

	go w.loop()
	return w, nil
}

// Threshold returns the configured overtime threshold.
func (w *Watchdog) Threshold() time.Duration { return w.cfg.Threshold }

// Mode returns the reporting mode.
func (w *Watchdog) Mode() OvertimeMode { return w.cfg.Mode }

// SliceWidth returns the span of one bucket.
func (w *Watchdog) SliceWidth() time.Duration { return w.slice }

// Register places the document in the current bucket.
func (w *Watchdog) Register(trackingID string, doc *document.Doc) Registration {
	b := w.current.Load()
	b.entries.Store(trackingID, &trackedEntry{doc: doc, registeredAt: time.Now()})
	return Registration{id: trackingID, b: b}
}

// Deregister removes a registration. Equivalent to reg.Deregister().
func (w *Watchdog) Deregister(reg Registration) {
	reg.Deregister()
}

// InFlight counts the documents currently tracked across all buckets.
func (w *Watchdog) InFlight() int {
	n := 0
	for _, b := range w.ring {
		b.entries.Range(func(_, _ interface{}) bool {
			n++
			return true
		})
	}
	return n
}

// Stop halts rotation and waits for an in-flight tick to finish. Safe to call
// more than once. Registration keeps working after Stop but nothing is reported.
func (w *Watchdog) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	<-w.done
}

func (w *Watchdog) loop() {
	defer close(w.done)

	ticker := time.NewTicker(w.slice)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

// tick rotates the ring: the oldest bucket is reported and becomes the newest.
func (w *Watchdog) tick() {
	w.tickMu.Lock()
	defer w.tickMu.Unlock()

	next := (w.pos + 1) % len(w.ring)
	oldest := w.ring[next]

	oldest.entries.Range(func(key, value interface{}) bool {
		id := key.(string)
		e := value.(*trackedEntry)
		w.report(OvertimeContext{
			TrackingID: id,
			Doc:        e.doc,
			StartedAt:  e.registeredAt,
			Threshold:  w.cfg.Threshold,
		})
		if w.cfg.Mode == EdgeTriggered {
			oldest.entries.Delete(key)
		}
		return true
	})

	w.current.Store(oldest)
	w.pos = next
}

func (w *Watchdog) report(oc OvertimeContext) {
	w.logger.Warn("Document processing exceeded threshold",
		zap.String("tracking_id", oc.TrackingID),
		zap.Duration("threshold", oc.Threshold),
		zap.Duration("elapsed", oc.Elapsed()))
	w.metrics.RecordOvertime()

	if w.onOvertime == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Overtime callback panicked",
				zap.String("tracking_id", oc.TrackingID),
				zap.Any("panic", r))
		}
	}()
	w.onOvertime(oc)
}
