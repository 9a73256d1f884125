package pipeline

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType int

const (
	CounterType MetricType = iota
	GaugeType
	TimingType
)

func (mt MetricType) String() string {
	switch mt {
	case CounterType:
		return "counter"
	case GaugeType:
		return "gauge"
	case TimingType:
		return "timing"
	default:
		return "unknown"
	}
}

// Metric represents a single metric measurement
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// MetricsCollector is an in-process collector for pipeline metrics:
// buffer fan-out, state changes, seeks, gapless transitions and
// errors. Counters accumulate, gauges overwrite, timings record the
// last observation in milliseconds.
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	logger  Logger
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(logger Logger) *MetricsCollector {
	if logger == nil {
		logger = NullLogger()
	}
	return &MetricsCollector{
		metrics: make(map[string]Metric),
		logger:  logger,
	}
}

// RecordCounter adds value to the named counter
func (c *MetricsCollector) RecordCounter(name string, value int64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := buildMetricKey(name, tags)
	newValue := float64(value)
	if existing, ok := c.metrics[key]; ok && existing.Type == CounterType {
		newValue += existing.Value
	}

	c.metrics[key] = Metric{
		Name:      name,
		Type:      CounterType,
		Value:     newValue,
		Tags:      copyTags(tags),
		Timestamp: time.Now(),
	}
}

// RecordGauge sets the named gauge
func (c *MetricsCollector) RecordGauge(name string, value float64, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics[buildMetricKey(name, tags)] = Metric{
		Name:      name,
		Type:      GaugeType,
		Value:     value,
		Tags:      copyTags(tags),
		Timestamp: time.Now(),
	}
}

// RecordTiming records a duration observation in milliseconds
func (c *MetricsCollector) RecordTiming(name string, duration time.Duration, tags map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics[buildMetricKey(name, tags)] = Metric{
		Name:      name,
		Type:      TimingType,
		Value:     float64(duration.Milliseconds()),
		Tags:      copyTags(tags),
		Timestamp: time.Now(),
	}
}

// Snapshot returns a copy of every recorded metric
func (c *MetricsCollector) Snapshot() map[string]Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]Metric, len(c.metrics))
	for k, v := range c.metrics {
		v.Tags = copyTags(v.Tags)
		out[k] = v
	}
	return out
}

// Value returns the value of the first metric with the given name,
// false when none was recorded.
func (c *MetricsCollector) Value(name string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, m := range c.metrics {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

func buildMetricKey(name string, tags map[string]string) string {
	if len(tags) == 0 {
		return name
	}

	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(name)
	for _, k := range keys {
		builder.WriteString(",")
		builder.WriteString(k)
		builder.WriteString("=")
		builder.WriteString(tags[k])
	}
	return builder.String()
}

func copyTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
