package instrument

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Role is a part this code has played in the current execution context.
type Role string

const (
	RoleThread     Role = "thread"
	RoleWasmHelper Role = "wasm-helper"
)

// Roles is an ordered set of roles. It is a value: With returns a new set
// and never modifies the receiver.
type Roles []Role

// With returns a copy of r that includes role.
func (r Roles) With(role Role) Roles {
	if slices.Contains(r, role) {
		return r
	}
	out := make(Roles, len(r), len(r)+1)
	copy(out, r)
	return append(out, role)
}

func (r Roles) String() string {
	parts := make([]string, len(r))
	for i, role := range r {
		parts[i] = string(role)
	}
	return strings.Join(parts, "; ")
}

// Measurement is a completed span.
type Measurement struct {
	Start    time.Time
	Name     string
	Label    string
	Mark     string
	Roles    Roles
	Duration time.Duration
}

// Sink receives completed measurements.
type Sink interface {
	Record(Measurement)
}

// Recorder brackets named spans with start marks and records their
// durations. A nil *Recorder is valid and records nothing.
type Recorder struct {
	now    func() time.Time
	marks  map[string]time.Time
	logger *zap.Logger
	id     string
	sinks  []Sink
	seq    uint64
	mu     sync.Mutex
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger logs every measurement at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSink adds a measurement sink.
func WithSink(s Sink) Option {
	return func(r *Recorder) {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		r.now = now
	}
}

// WithID overrides the random recorder id.
func WithID(id string) Option {
	return func(r *Recorder) {
		r.id = id
	}
}

// NewRecorder creates a recorder with a short random id that tells
// concurrent recorders apart in profiles.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{
		now:    time.Now,
		marks:  make(map[string]time.Time),
		logger: zap.NewNop(),
		id:     uuid.NewString()[:4],
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the recorder id.
func (r *Recorder) ID() string {
	if r == nil {
		return ""
	}
	return r.id
}

// Measure records a start mark for name and returns the function that ends
// the span. The end function must be called once; later calls do nothing.
func (r *Recorder) Measure(name string, roles Roles) func() {
	if r == nil {
		return func() {}
	}

	r.mu.Lock()
	r.seq++
	mark := fmt.Sprintf("wt-%s-%d", r.id, r.seq)
	start := r.now()
	r.marks[mark] = start
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.finish(mark, name, roles, start)
		})
	}
}

func (r *Recorder) finish(mark, name string, roles Roles, start time.Time) {
	end := r.now()

	r.mu.Lock()
	delete(r.marks, mark)
	r.mu.Unlock()

	m := Measurement{
		Name:     name,
		Label:    fmt.Sprintf("|%s| (wasm-threads) [%s #%s]", name, roles, r.id),
		Mark:     mark,
		Roles:    roles,
		Start:    start,
		Duration: end.Sub(start),
	}

	r.logger.Debug("span",
		zap.String("label", m.Label),
		zap.Duration("duration", m.Duration),
	)
	for _, s := range r.sinks {
		s.Record(m)
	}
}

// OpenMarks returns the number of spans started but not yet ended.
func (r *Recorder) OpenMarks() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.marks)
}

// Collector is a Sink that keeps every measurement in memory.
type Collector struct {
	items []Measurement
	mu    sync.Mutex
}

func (c *Collector) Record(m Measurement) {
	c.mu.Lock()
	c.items = append(c.items, m)
	c.mu.Unlock()
}

// Measurements returns a copy of the recorded measurements.
func (c *Collector) Measurements() []Measurement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}
