// Package stats provides a minimal, scoped metrics facade backed by
// go-metrics. Callers receive a StatsReceiver, scope it to their
// component, and record counters/gauges without knowing about the
// underlying registry; the nil receiver swallows everything, so library
// code never has to check for missing wiring.
package stats

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/rcrowley/go-metrics"
)

const scopeSep = "/"

// StatsReceiver is the write-side API handed down a call tree.
type StatsReceiver interface {
	// Scope returns a receiver that namespaces all instruments with
	// the given path elements, e.g. stat.Scope("pipeline").Counter("queued").
	Scope(scope ...string) StatsReceiver

	// Counter returns (registering if needed) an event counter.
	Counter(name ...string) Counter

	// Gauge returns (registering if needed) an int64 gauge.
	Gauge(name ...string) Gauge

	// Render marshals the current registry contents as JSON.
	Render(pretty bool) []byte
}

type Counter interface {
	Inc(int64)
	Count() int64
	Clear()
}

type Gauge interface {
	Update(int64)
	Value() int64
}

// DefaultStatsReceiver returns a receiver over a fresh go-metrics registry.
func DefaultStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

// NilStatsReceiver returns a receiver that records nothing.
func NilStatsReceiver() StatsReceiver {
	return &nilStatsReceiver{}
}

type defaultStatsReceiver struct {
	mu       sync.Mutex
	registry metrics.Registry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{registry: s.registry, scope: append(append([]string{}, s.scope...), scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.GetOrRegister(s.scoped(name), metrics.NewCounter).(metrics.Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.GetOrRegister(s.scoped(name), metrics.NewGauge).(metrics.Gauge)
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]int64{}
	s.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			out[name] = m.Count()
		case metrics.Gauge:
			out[name] = m.Value()
		}
	})
	var b []byte
	if pretty {
		b, _ = json.MarshalIndent(out, "", "  ")
	} else {
		b, _ = json.Marshal(out)
	}
	return b
}

// scoped joins scope and name elements, replacing any separator chars so
// dynamically generated names cannot fork the hierarchy.
func (s *defaultStatsReceiver) scoped(name []string) string {
	elems := append(append([]string{}, s.scope...), name...)
	for i, e := range elems {
		elems[i] = strings.Replace(e, scopeSep, "_", -1)
	}
	return strings.Join(elems, scopeSep)
}

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter      { return metrics.NilCounter{} }
func (s *nilStatsReceiver) Gauge(name ...string) Gauge          { return metrics.NilGauge{} }
func (s *nilStatsReceiver) Render(pretty bool) []byte           { return []byte("{}") }
