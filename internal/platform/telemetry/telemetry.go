// Package telemetry keeps the gateway's counters, gauges and histograms in
// memory and serves them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Metric names as exposed on /metrics.
const (
	MetricConversionOperations = "ccda_conversion_operations_total"
	MetricSectionDuration      = "ccda_section_conversion_duration_seconds"
	MetricTransactions         = "ihe_transactions_total"
	MetricTransactionDuration  = "ihe_transaction_duration_seconds"
	MetricRequestDuration      = "http_server_request_duration_seconds"
	MetricActiveRequests       = "http_server_active_requests"
	MetricRelayConnected       = "relay_agent_connected"
)

// Conversion statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// defaultDurationBuckets are the histogram bucket boundaries in seconds.
// Document generation waits on GP Connect, so the upper buckets are wide.
var defaultDurationBuckets = []float64{
	0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0, 30.0,
}

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram. Bucket counts are non-cumulative in
// storage; cumulative counts are computed at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, updated with CAS
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
	// Above every boundary: only the +Inf bucket, which is the count.
}

// Count returns the total number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the total of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Labelled series
// ---------------------------------------------------------------------------

// labelSep joins label values into a series key. It cannot appear in a
// label value we produce.
const labelSep = "\x1f"

func seriesKey(values ...string) string {
	return strings.Join(values, labelSep)
}

// family is one named metric with a fixed label set.
type family struct {
	name   string
	help   string
	labels []string
}

type histogramVec struct {
	family
	boundaries []float64

	mu     sync.RWMutex
	series map[string]*histogram
}

func (v *histogramVec) with(values ...string) *histogram {
	key := seriesKey(values...)
	v.mu.RLock()
	h, ok := v.series[key]
	v.mu.RUnlock()
	if ok {
		return h
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if h, ok = v.series[key]; !ok {
		h = newHistogram(v.boundaries)
		v.series[key] = h
	}
	return h
}

func (v *histogramVec) count(values ...string) int64 {
	v.mu.RLock()
	h, ok := v.series[seriesKey(values...)]
	v.mu.RUnlock()
	if !ok {
		return 0
	}
	return h.Count()
}

func (v *histogramVec) snapshot() map[string]*histogram {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cp := make(map[string]*histogram, len(v.series))
	for k, h := range v.series {
		cp[k] = h
	}
	return cp
}

type counterVec struct {
	family

	mu     sync.RWMutex
	series map[string]*int64
}

func (v *counterVec) inc(values ...string) {
	key := seriesKey(values...)
	v.mu.RLock()
	p, ok := v.series[key]
	v.mu.RUnlock()
	if !ok {
		v.mu.Lock()
		if p, ok = v.series[key]; !ok {
			p = new(int64)
			v.series[key] = p
		}
		v.mu.Unlock()
	}
	atomic.AddInt64(p, 1)
}

func (v *counterVec) get(values ...string) int64 {
	v.mu.RLock()
	p, ok := v.series[seriesKey(values...)]
	v.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

func (v *counterVec) snapshot() map[string]int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	cp := make(map[string]int64, len(v.series))
	for k, p := range v.series {
		cp[k] = atomic.LoadInt64(p)
	}
	return cp
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// Provider holds every gateway metric. The zero value is not usable; use
// NewProvider. A nil *Provider ignores all recordings.
type Provider struct {
	conversions     *counterVec
	sections        *histogramVec
	transactions    *counterVec
	transactionTime *histogramVec
	requests        *histogramVec

	activeRequests int64
	relayConnected func() bool
}

// NewProvider creates a Provider with all metric families registered.
func NewProvider() *Provider {
	return &Provider{
		conversions: &counterVec{
			family: family{MetricConversionOperations, "Total count of CCDA conversion operations.", []string{"operation", "status"}},
			series: make(map[string]*int64),
		},
		sections: &histogramVec{
			family:     family{MetricSectionDuration, "CCDA section conversion duration in seconds.", []string{"section_type"}},
			boundaries: defaultDurationBuckets,
			series:     make(map[string]*histogram),
		},
		transactions: &counterVec{
			family: family{MetricTransactions, "Completed IHE SOAP transactions by outcome.", []string{"transaction", "outcome"}},
			series: make(map[string]*int64),
		},
		transactionTime: &histogramVec{
			family:     family{MetricTransactionDuration, "IHE SOAP transaction duration in seconds.", []string{"transaction"}},
			boundaries: defaultDurationBuckets,
			series:     make(map[string]*histogram),
		},
		requests: &histogramVec{
			family:     family{MetricRequestDuration, "Duration of HTTP requests in seconds.", []string{"method", "route", "status_code"}},
			boundaries: defaultDurationBuckets,
			series:     make(map[string]*histogram),
		},
	}
}

// TrackRelay reports the relay agent state through connected on every
// scrape.
func (p *Provider) TrackRelay(connected func() bool) {
	p.relayConnected = connected
}

// ConversionOperation counts one conversion step with its status.
func (p *Provider) ConversionOperation(operation, status string) {
	if p == nil {
		return
	}
	p.conversions.inc(operation, status)
}

// ObserveSection records how long one document section took to convert.
func (p *Provider) ObserveSection(section string, elapsed time.Duration) {
	if p == nil {
		return
	}
	p.sections.with(section).Observe(elapsed.Seconds())
}

// Transaction counts a completed SOAP transaction and records its duration.
func (p *Provider) Transaction(name, outcome string, elapsed time.Duration) {
	if p == nil {
		return
	}
	p.transactions.inc(name, outcome)
	p.transactionTime.with(name).Observe(elapsed.Seconds())
}

// ConversionCount returns the current value of a conversion counter.
func (p *Provider) ConversionCount(operation, status string) int64 {
	return p.conversions.get(operation, status)
}

// TransactionCount returns the number of transactions seen with outcome.
func (p *Provider) TransactionCount(name, outcome string) int64 {
	return p.transactions.get(name, outcome)
}

// SectionObservations returns how many times section was timed.
func (p *Provider) SectionObservations(section string) int64 {
	return p.sections.count(section)
}

// RequestObservations returns how many requests were timed for the series.
func (p *Provider) RequestObservations(method, route, statusCode string) int64 {
	return p.requests.count(method, route, statusCode)
}

// ActiveRequests returns the number of requests in flight.
func (p *Provider) ActiveRequests() int64 {
	return atomic.LoadInt64(&p.activeRequests)
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// MetricsMiddleware records the duration of every HTTP request by route
// pattern and status, and the number of requests in flight.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.activeRequests, 1)
			defer atomic.AddInt64(&p.activeRequests, -1)

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			status := c.Response().Status
			if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			p.requests.with(c.Request().Method, route, fmt.Sprintf("%d", status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

// PrometheusHandler serves all metrics in Prometheus text exposition format.
// Series are sorted so scrapes are stable.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		writeCounterVec(&b, p.conversions)
		writeHistogramVec(&b, p.sections)
		writeCounterVec(&b, p.transactions)
		writeHistogramVec(&b, p.transactionTime)
		writeHistogramVec(&b, p.requests)

		writeGauge(&b, MetricActiveRequests, "Number of active HTTP requests.", atomic.LoadInt64(&p.activeRequests))
		if p.relayConnected != nil {
			var v int64
			if p.relayConnected() {
				v = 1
			}
			writeGauge(&b, MetricRelayConnected, "Whether a relay agent is connected.", v)
		}

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

// ---------------------------------------------------------------------------
// Prometheus format helpers
// ---------------------------------------------------------------------------

func writeHeader(b *strings.Builder, name, help, typ string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
}

func writeGauge(b *strings.Builder, name, help string, v int64) {
	writeHeader(b, name, help, "gauge")
	fmt.Fprintf(b, "%s %d\n\n", name, v)
}

func writeCounterVec(b *strings.Builder, v *counterVec) {
	writeHeader(b, v.name, v.help, "counter")
	snap := v.snapshot()
	for _, key := range sortedKeys(snap) {
		fmt.Fprintf(b, "%s{%s} %d\n", v.name, labelPairs(v.labels, key), snap[key])
	}
	b.WriteByte('\n')
}

func writeHistogramVec(b *strings.Builder, v *histogramVec) {
	writeHeader(b, v.name, v.help, "histogram")
	snap := v.snapshot()
	for _, key := range sortedKeys(snap) {
		writeSingleHistogram(b, v.name, labelPairs(v.labels, key), snap[key])
	}
	b.WriteByte('\n')
}

func writeSingleHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()

	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}

func labelPairs(names []string, key string) string {
	values := strings.Split(key, labelSep)
	pairs := make([]string, len(names))
	for i, n := range names {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		pairs[i] = fmt.Sprintf("%s=%q", n, v)
	}
	return strings.Join(pairs, ",")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
