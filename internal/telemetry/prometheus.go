package telemetry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"mcpconnect/internal/config"
)

// PrometheusSink counts events by name and by their (at most two)
// properties rendered as a single label.
type PrometheusSink struct {
	events *prometheus.CounterVec
}

// NewPrometheusSink registers the event counter with reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mcpconnect",
		Name:      "events_total",
		Help:      "Telemetry events emitted by the MCP connection layer.",
	}, []string{"event", "properties"})
	if err := reg.Register(events); err != nil {
		return nil, fmt.Errorf("registering telemetry counter: %w", err)
	}
	return &PrometheusSink{events: events}, nil
}

func (p *PrometheusSink) Track(event string, props Properties) {
	p.events.WithLabelValues(event, encodeProperties(props)).Inc()
}

func encodeProperties(props Properties) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, props[k]))
	}
	return strings.Join(parts, ",")
}

// NewFromConfig builds the Service selected by cfg. reg is only used by the
// prometheus sink.
func NewFromConfig(cfg config.TelemetryConfig, reg prometheus.Registerer) (*Service, error) {
	switch cfg.Sink {
	case config.TelemetrySinkPrometheus:
		sink, err := NewPrometheusSink(reg)
		if err != nil {
			return nil, err
		}
		return New(sink), nil
	case config.TelemetrySinkNone:
		return New(NopSink{}), nil
	case config.TelemetrySinkLog, "":
		return New(LogSink{}), nil
	default:
		return nil, fmt.Errorf("unknown telemetry sink %q", cfg.Sink)
	}
}
