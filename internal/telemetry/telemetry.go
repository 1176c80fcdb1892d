package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"mcpconnect/pkg/logging"
)

// MaxProperties is the per-event property budget imposed by the collector.
const MaxProperties = 2

// Event names emitted by this module.
const (
	EventOperationTiming = "operation_timing"
	EventCacheHit        = "cache_hit"
	EventCacheMiss       = "cache_miss"
	EventToolExecution   = "tool_execution"
	EventCriticalError   = "critical_error"
)

// Properties are the string or number attributes attached to an event.
type Properties map[string]any

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Track(event string, props Properties)
}

// Service validates events before handing them to a Sink. It is constructed
// explicitly and passed to the components that report.
type Service struct {
	sink Sink

	warnOnce sync.Once
}

// New wraps sink. A nil sink discards everything.
func New(sink Sink) *Service {
	if sink == nil {
		sink = NopSink{}
	}
	return &Service{sink: sink}
}

// Track emits an event. Properties beyond the budget are dropped, keeping
// the alphabetically first keys; values that are neither strings nor numbers
// are dropped as well.
func (s *Service) Track(event string, props Properties) {
	if s == nil {
		return
	}
	s.sink.Track(event, s.clamp(event, props))
}

func (s *Service) clamp(event string, props Properties) Properties {
	out := make(Properties, MaxProperties)
	keys := make([]string, 0, len(props))
	for k, v := range props {
		if validValue(v) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > MaxProperties {
		s.warnOnce.Do(func() {
			logging.Warn("Telemetry", "Event %s has %d properties, keeping %d", event, len(keys), MaxProperties)
		})
		keys = keys[:MaxProperties]
	}
	for _, k := range keys {
		out[k] = props[k]
	}
	return out
}

func validValue(v any) bool {
	switch v.(type) {
	case string, int, int32, int64, uint, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// DurationBucket maps a duration to a fixed range label.
func DurationBucket(d time.Duration) string {
	switch {
	case d < 100*time.Millisecond:
		return "<100ms"
	case d < 500*time.Millisecond:
		return "100-500ms"
	case d < time.Second:
		return "500ms-1s"
	case d < 3*time.Second:
		return "1-3s"
	case d < 10*time.Second:
		return "3-10s"
	case d < 30*time.Second:
		return "10-30s"
	default:
		return ">30s"
	}
}

// WithTiming runs fn and reports its duration bucket under op. It runs once
// per attempt, so failures are left for the caller to report once the final
// verdict is known.
func WithTiming[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	start := time.Now()
	result, err := fn(ctx)
	s.Track(EventOperationTiming, Properties{"operation": op, "duration": DurationBucket(time.Since(start))})
	return result, err
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Track(string, Properties) {}

// LogSink writes events to the debug log.
type LogSink struct{}

func (LogSink) Track(event string, props Properties) {
	logging.Debug("Telemetry", "%s %v", event, map[string]any(props))
}
