// Prometheus-style metrics primitives
//
// Copyright (C) 2026  PARMCO Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package metrics implements the host's Prometheus surface without an
// external client library: Counter, Gauge and Histogram primitives
// keyed by label sets, a Registry that renders the text exposition
// format, and an HTTP server for scraping. MotorMetrics bundles the
// host's metric set behind typed helpers.
package metrics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType names the exposition TYPE of a metric.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	}
	return "unknown"
}

// Labels identifies one series within a metric. A nil or empty map is
// the unlabeled series.
type Labels map[string]string

// Key returns the canonical series key: label pairs sorted by name.
func (l Labels) Key() string {
	return renderLabels(l, false)
}

// String returns the exposition form, {k="v",...}, values escaped.
func (l Labels) String() string {
	return renderLabels(l, true)
}

// renderLabels serializes a label set with names sorted, either as a
// bare series key (k=v,...) or quoted exposition text ({k="v",...}).
func renderLabels(l Labels, quoted bool) string {
	if len(l) == 0 {
		return ""
	}
	names := make([]string, 0, len(l))
	for k := range l {
		names = append(names, k)
	}
	sort.Strings(names)

	var sb strings.Builder
	if quoted {
		sb.WriteByte('{')
	}
	for i, k := range names {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		if quoted {
			sb.WriteString(`="`)
			sb.WriteString(escapeLabel(l[k]))
			sb.WriteByte('"')
		} else {
			sb.WriteByte('=')
			sb.WriteString(l[k])
		}
	}
	if quoted {
		sb.WriteByte('}')
	}
	return sb.String()
}

func labelKey(l Labels) string     { return renderLabels(l, false) }
func formatLabels(l Labels) string { return renderLabels(l, true) }

// escapeLabel escapes the three characters the exposition format
// reserves in label values.
func escapeLabel(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return r.Replace(s)
}

func formatFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}

// Metric is what a Registry holds: identity plus the ability to
// render all series into an exposition buffer.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

func writeHeader(sb *strings.Builder, name, help string, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, t)
}

// Counter is a monotonically increasing value per series. Updates are
// a single atomic add; series creation goes through sync.Map so
// concurrent first touches are safe.
type Counter struct {
	name   string
	help   string
	series sync.Map // series key -> *counterSeries
}

type counterSeries struct {
	labels Labels
	n      atomic.Uint64
}

func NewCounter(name, help string) *Counter {
	return &Counter{name: name, help: help}
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Help() string     { return c.help }
func (c *Counter) Type() MetricType { return TypeCounter }

// Inc adds 1 to the series.
func (c *Counter) Inc(labels Labels) {
	c.Add(labels, 1)
}

// Add adds delta to the series, creating it at zero first.
func (c *Counter) Add(labels Labels, delta uint64) {
	s, ok := c.series.Load(labelKey(labels))
	if !ok {
		s, _ = c.series.LoadOrStore(labelKey(labels), &counterSeries{labels: labels})
	}
	s.(*counterSeries).n.Add(delta)
}

// Get reads the series value; an untouched series reads 0.
func (c *Counter) Get(labels Labels) uint64 {
	s, ok := c.series.Load(labelKey(labels))
	if !ok {
		return 0
	}
	return s.(*counterSeries).n.Load()
}

func (c *Counter) Write(sb *strings.Builder) {
	writeHeader(sb, c.name, c.help, TypeCounter)
	c.series.Range(func(_, v interface{}) bool {
		s := v.(*counterSeries)
		fmt.Fprintf(sb, "%s%s %d\n", c.name, formatLabels(s.labels), s.n.Load())
		return true
	})
}

// Gauge is a float value per series that can move both ways. The
// value lives in an atomic bit pattern, so readers never block the
// control loop's writers.
type Gauge struct {
	name   string
	help   string
	series sync.Map // series key -> *gaugeSeries
}

type gaugeSeries struct {
	labels Labels
	bits   atomic.Uint64
}

func NewGauge(name, help string) *Gauge {
	return &Gauge{name: name, help: help}
}

func (g *Gauge) Name() string     { return g.name }
func (g *Gauge) Help() string     { return g.help }
func (g *Gauge) Type() MetricType { return TypeGauge }

func (g *Gauge) get(labels Labels) *gaugeSeries {
	s, ok := g.series.Load(labelKey(labels))
	if !ok {
		s, _ = g.series.LoadOrStore(labelKey(labels), &gaugeSeries{labels: labels})
	}
	return s.(*gaugeSeries)
}

// Set stores value on the series.
func (g *Gauge) Set(labels Labels, value float64) {
	g.get(labels).bits.Store(math.Float64bits(value))
}

// SetBool stores 1 for true and 0 for false.
func (g *Gauge) SetBool(labels Labels, on bool) {
	v := 0.0
	if on {
		v = 1
	}
	g.Set(labels, v)
}

// Add moves the series by delta using a compare-and-swap loop.
func (g *Gauge) Add(labels Labels, delta float64) {
	s := g.get(labels)
	for {
		old := s.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if s.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (g *Gauge) Inc(labels Labels) { g.Add(labels, 1) }

func (g *Gauge) Dec(labels Labels) { g.Add(labels, -1) }

// Sub moves the series down by delta.
func (g *Gauge) Sub(labels Labels, delta float64) { g.Add(labels, -delta) }

// Get reads the series value; an untouched series reads 0.
func (g *Gauge) Get(labels Labels) float64 {
	s, ok := g.series.Load(labelKey(labels))
	if !ok {
		return 0
	}
	return math.Float64frombits(s.(*gaugeSeries).bits.Load())
}

func (g *Gauge) Write(sb *strings.Builder) {
	writeHeader(sb, g.name, g.help, TypeGauge)
	g.series.Range(func(_, v interface{}) bool {
		s := v.(*gaugeSeries)
		value := math.Float64frombits(s.bits.Load())
		fmt.Fprintf(sb, "%s%s %s\n", g.name, formatLabels(s.labels), formatFloat(value))
		return true
	})
}

// DefaultBuckets suits sub-second latencies, 5ms to 10s.
func DefaultBuckets() []float64 {
	return []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
}

// LinearBuckets returns count bounds spaced width apart from start.
func LinearBuckets(start, width float64, count int) []float64 {
	bounds := make([]float64, count)
	for i := range bounds {
		bounds[i] = start + float64(i)*width
	}
	return bounds
}

// ExponentialBuckets returns count bounds growing by factor from start.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	bounds := make([]float64, count)
	v := start
	for i := range bounds {
		bounds[i] = v
		v *= factor
	}
	return bounds
}

// Histogram counts observations into fixed buckets per series. Bounds
// are sorted once at construction; each series keeps non-cumulative
// per-bucket counts under a mutex and rendering accumulates them.
type Histogram struct {
	name   string
	help   string
	bounds []float64
	series sync.Map // series key -> *histogramSeries
}

type histogramSeries struct {
	labels Labels

	mu        sync.Mutex
	count     uint64
	sum       float64
	perBucket []uint64
}

func NewHistogram(name, help string, buckets []float64) *Histogram {
	bounds := make([]float64, len(buckets))
	copy(bounds, buckets)
	sort.Float64s(bounds)
	return &Histogram{name: name, help: help, bounds: bounds}
}

func (h *Histogram) Name() string     { return h.name }
func (h *Histogram) Help() string     { return h.help }
func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records one value on the series.
func (h *Histogram) Observe(labels Labels, value float64) {
	s, ok := h.series.Load(labelKey(labels))
	if !ok {
		s, _ = h.series.LoadOrStore(labelKey(labels), &histogramSeries{
			labels:    labels,
			perBucket: make([]uint64, len(h.bounds)),
		})
	}
	hs := s.(*histogramSeries)

	hs.mu.Lock()
	hs.count++
	hs.sum += value
	for i, bound := range h.bounds {
		if value <= bound {
			hs.perBucket[i]++
		}
	}
	hs.mu.Unlock()
}

// Timer starts a stopwatch; the returned func records the elapsed
// seconds when called.
func (h *Histogram) Timer(labels Labels) func() {
	start := time.Now()
	return func() {
		h.Observe(labels, time.Since(start).Seconds())
	}
}

func (h *Histogram) Write(sb *strings.Builder) {
	writeHeader(sb, h.name, h.help, TypeHistogram)
	h.series.Range(func(_, v interface{}) bool {
		hs := v.(*histogramSeries)

		hs.mu.Lock()
		count := hs.count
		sum := hs.sum
		perBucket := append([]uint64(nil), hs.perBucket...)
		hs.mu.Unlock()

		running := uint64(0)
		for i, bound := range h.bounds {
			running += perBucket[i]
			le := copyWithLE(hs.labels, formatFloat(bound))
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, formatLabels(le), running)
		}
		inf := copyWithLE(hs.labels, "+Inf")
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, formatLabels(inf), count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, formatLabels(hs.labels), formatFloat(sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, formatLabels(hs.labels), count)
		return true
	})
}

func copyWithLE(labels Labels, le string) Labels {
	out := make(Labels, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out["le"] = le
	return out
}

// HistogramSnapshot is a point-in-time read of one series with
// cumulative bucket counts.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// GetSnapshot reads the series; a missing series snapshots as empty.
func (h *Histogram) GetSnapshot(labels Labels) HistogramSnapshot {
	s, ok := h.series.Load(labelKey(labels))
	if !ok {
		return HistogramSnapshot{Buckets: make(map[float64]uint64)}
	}
	hs := s.(*histogramSeries)

	hs.mu.Lock()
	defer hs.mu.Unlock()

	buckets := make(map[float64]uint64, len(h.bounds))
	running := uint64(0)
	for i, bound := range h.bounds {
		running += hs.perBucket[i]
		buckets[bound] = running
	}
	return HistogramSnapshot{Count: hs.count, Sum: hs.sum, Buckets: buckets}
}

// Registry collects metrics and renders them in registration order,
// so scrapes keep a stable layout.
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]Metric
	ordered []string
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Metric)}
}

// Register adds a metric; a second metric with the same name is
// rejected.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byName[m.Name()]; dup {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.byName[m.Name()] = m
	r.ordered = append(r.ordered, m.Name())
	return nil
}

// MustRegister is Register that panics on a duplicate, for wiring at
// startup.
func (r *Registry) MustRegister(m Metric) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Unregister removes a metric by name; unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byName, name)
	for i, n := range r.ordered {
		if n == name {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}
}

// Get returns the metric registered under name, or nil.
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// Gather renders every registered metric in the exposition text
// format.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for _, name := range r.ordered {
		if m, ok := r.byName[name]; ok {
			m.Write(&sb)
		}
	}
	return sb.String()
}
