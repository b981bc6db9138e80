// Package metrics records per-operation measurements (ingest, edit, release)
// as single structured events. Each Recorder accumulates dimensions, values
// and properties and emits them as one JSON line through a dedicated zerolog
// logger, so metric lines stay machine-readable even when the application
// log uses the console writer.
package metrics

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitBytes        = "Bytes"
	UnitNone         = "None"
)

var (
	mu     sync.RWMutex
	output = zerolog.New(io.Discard)
)

// SetOutput directs metric events to w. Metrics are discarded until this is called.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = zerolog.New(w).With().Timestamp().Logger()
}

type metricDef struct {
	unit  string
	value float64
}

// Recorder accumulates one metric event. It is NOT safe for concurrent use;
// create one per operation.
type Recorder struct {
	namespace  string
	dimensions map[string]string
	metrics    map[string]metricDef
	properties map[string]interface{}
}

// New creates a Recorder for the given namespace.
func New(namespace string) *Recorder {
	return &Recorder{
		namespace:  namespace,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		properties: make(map[string]interface{}),
	}
}

// Dimension adds an indexed key-value pair.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.dimensions[key] = value
	return r
}

// Metric records a named value with a unit (UnitMilliseconds, UnitCount, ...).
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.metrics[name] = metricDef{unit: unit, value: value}
	return r
}

// Count records a count metric with value 1.
func (r *Recorder) Count(name string) *Recorder {
	return r.Metric(name, 1, UnitCount)
}

// Duration records d in milliseconds.
func (r *Recorder) Duration(name string, d time.Duration) *Recorder {
	return r.Metric(name, float64(d.Milliseconds()), UnitMilliseconds)
}

// Property adds a non-indexed field.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.properties[key] = value
	return r
}

// Flush emits the event. Recorders with no metrics emit nothing.
// After flushing, the Recorder should not be reused.
func (r *Recorder) Flush() {
	if len(r.metrics) == 0 {
		return
	}

	mu.RLock()
	logger := output
	mu.RUnlock()

	dims := zerolog.Dict()
	for _, k := range sortedKeys(r.dimensions) {
		dims = dims.Str(k, r.dimensions[k])
	}

	values := zerolog.Dict()
	units := zerolog.Dict()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values = values.Float64(name, r.metrics[name].value)
		units = units.Str(name, r.metrics[name].unit)
	}

	evt := logger.Log().
		Str("namespace", r.namespace).
		Dict("dimensions", dims).
		Dict("metrics", values).
		Dict("units", units)
	if len(r.properties) > 0 {
		evt = evt.Interface("properties", r.properties)
	}
	evt.Send()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
