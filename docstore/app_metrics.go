package docstore

import (
	"maps"
	"runtime"
	"strings"
	"sync"
	"time"
)

type AppMetrics interface {
	RecordRequest(method, path string, status int, latencyMS int64)
	RecordUpsert(collection string, latencyMS int64, counts UpsertCounts, err error)
	Snapshot() MetricsSnapshot
}

// UpsertCounts summarises the per-document outcomes of one upsert request.
type UpsertCounts struct {
	Documents    int
	Written      int
	Unauthorized int
	Invalidated  int
}

// CountResults tallies a response.
func CountResults(results []Result) UpsertCounts {
	counts := UpsertCounts{Documents: len(results)}
	for _, r := range results {
		switch ErrorCode(r.Err) {
		case CodeUnauthorized:
			counts.Unauthorized++
		case CodeInvalidated:
			counts.Invalidated++
		default:
			if r.Err == nil {
				counts.Written++
			}
		}
	}
	return counts
}

type RouteStats struct {
	Count        int64 `json:"count"`
	ErrorCount   int64 `json:"error_count"`
	LatencySumMS int64 `json:"latency_sum_ms"`
	LatencyMinMS int64 `json:"latency_min_ms"`
	LatencyMaxMS int64 `json:"latency_max_ms"`
}

type UpsertStats struct {
	Count             int64 `json:"count"`
	ErrorCount        int64 `json:"error_count"`
	LatencySumMS      int64 `json:"latency_sum_ms"`
	LatencyMaxMS      int64 `json:"latency_max_ms"`
	TotalDocs         int64 `json:"total_docs"`
	TotalWritten      int64 `json:"total_written"`
	TotalUnauthorized int64 `json:"total_unauthorized"`
	TotalInvalidated  int64 `json:"total_invalidated"`
}

type RecentRequest struct {
	Method    string    `json:"method"`
	Path      string    `json:"path"`
	Status    int       `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

type RuntimeStats struct {
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	Goroutines     int    `json:"goroutines"`
	NumGC          uint32 `json:"num_gc"`
	GCPauseNS      uint64 `json:"gc_pause_ns"`
}

type MetricsSnapshot struct {
	RouteStats     map[string]RouteStats  `json:"route_stats"`
	UpsertStats    map[string]UpsertStats `json:"upsert_stats"`
	RecentRequests []RecentRequest        `json:"recent_requests"`
	Runtime        RuntimeStats           `json:"runtime"`
	UptimeSeconds  int64                  `json:"uptime_seconds"`
	StartTime      time.Time              `json:"start_time"`
}

// NoopAppMetrics discards everything.
type NoopAppMetrics struct{}

func (NoopAppMetrics) RecordRequest(string, string, int, int64) {}

func (NoopAppMetrics) RecordUpsert(string, int64, UpsertCounts, error) {}

func (NoopAppMetrics) Snapshot() MetricsSnapshot { return MetricsSnapshot{} }

const (
	appMetricsRecentCapacity = 200

	// maxMetricsCollections bounds the distinct collection keys; later
	// collections are reported as overflowMetricsCollection.
	maxMetricsCollections     = 256
	overflowMetricsCollection = "other"
	invalidMetricsCollection  = "invalid"
)

// InMemAppMetrics aggregates request and upsert stats in process. The JSON
// snapshot is served on /metrics/app.
type InMemAppMetrics struct {
	mu        sync.Mutex
	routes    map[string]RouteStats
	upserts   map[string]UpsertStats
	recent    recentRing
	labels    *collectionLabels
	startedAt time.Time
}

func NewInMemAppMetrics() *InMemAppMetrics {
	return &InMemAppMetrics{
		routes:    make(map[string]RouteStats),
		upserts:   make(map[string]UpsertStats),
		recent:    recentRing{buf: make([]RecentRequest, appMetricsRecentCapacity)},
		labels:    newCollectionLabels(maxMetricsCollections),
		startedAt: time.Now().UTC(),
	}
}

func (m *InMemAppMetrics) RecordRequest(method, path string, status int, latencyMS int64) {
	if m == nil {
		return
	}
	entry := RecentRequest{
		Method:    strings.ToUpper(strings.TrimSpace(method)),
		Path:      strings.TrimSpace(path),
		Status:    status,
		LatencyMS: max(latencyMS, 0),
		Timestamp: time.Now().UTC(),
	}
	if entry.Method == "" {
		entry.Method = "UNKNOWN"
	}
	if entry.Path == "" {
		entry.Path = "/"
	}
	key := entry.Method + " " + entry.Path

	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[key] = m.routes[key].observe(entry.LatencyMS, status >= 400)
	m.recent.push(entry)
}

func (s RouteStats) observe(latencyMS int64, failed bool) RouteStats {
	s.Count++
	if failed {
		s.ErrorCount++
	}
	s.LatencySumMS += latencyMS
	if s.Count == 1 || latencyMS < s.LatencyMinMS {
		s.LatencyMinMS = latencyMS
	}
	s.LatencyMaxMS = max(s.LatencyMaxMS, latencyMS)
	return s
}

func (m *InMemAppMetrics) RecordUpsert(collection string, latencyMS int64, counts UpsertCounts, err error) {
	if m == nil {
		return
	}
	collection = m.labels.label(collection)
	latencyMS = max(latencyMS, 0)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts[collection] = m.upserts[collection].observe(latencyMS, counts, err != nil)
}

func (s UpsertStats) observe(latencyMS int64, counts UpsertCounts, failed bool) UpsertStats {
	s.Count++
	if failed {
		s.ErrorCount++
	}
	s.LatencySumMS += latencyMS
	s.LatencyMaxMS = max(s.LatencyMaxMS, latencyMS)
	s.TotalDocs += int64(max(counts.Documents, 0))
	s.TotalWritten += int64(max(counts.Written, 0))
	s.TotalUnauthorized += int64(max(counts.Unauthorized, 0))
	s.TotalInvalidated += int64(max(counts.Invalidated, 0))
	return s
}

func (m *InMemAppMetrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}

	m.mu.Lock()
	out := MetricsSnapshot{
		RouteStats:     maps.Clone(m.routes),
		UpsertStats:    maps.Clone(m.upserts),
		RecentRequests: m.recent.items(),
		StartTime:      m.startedAt,
		UptimeSeconds:  int64(time.Since(m.startedAt).Seconds()),
	}
	m.mu.Unlock()

	// ReadMemStats stops the world; keep it outside m.mu.
	var rt runtime.MemStats
	runtime.ReadMemStats(&rt)
	out.Runtime = RuntimeStats{
		HeapAllocBytes: rt.HeapAlloc,
		Goroutines:     runtime.NumGoroutine(),
		NumGC:          rt.NumGC,
		GCPauseNS:      rt.PauseTotalNs,
	}
	return out
}

// recentRing keeps the last len(buf) requests, oldest first on read.
type recentRing struct {
	buf  []RecentRequest
	next int
	full bool
}

func (r *recentRing) push(entry RecentRequest) {
	r.buf[r.next] = entry
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *recentRing) items() []RecentRequest {
	if !r.full {
		return append([]RecentRequest{}, r.buf[:r.next]...)
	}
	out := make([]RecentRequest, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

func normalizeMetricsCollection(collection string) string {
	if collection = strings.TrimSpace(collection); collection == "" {
		return "unknown"
	}
	return collection
}

// collectionLabels hands out metric keys for collection names. Collection
// names come from request paths, so the set is capped.
type collectionLabels struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	limit int
}

func newCollectionLabels(limit int) *collectionLabels {
	return &collectionLabels{seen: make(map[string]struct{}), limit: limit}
}

func (l *collectionLabels) label(collection string) string {
	collection = normalizeMetricsCollection(collection)
	if ValidateCollection(collection) != nil {
		return invalidMetricsCollection
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[collection]; ok {
		return collection
	}
	if len(l.seen) >= l.limit {
		return overflowMetricsCollection
	}
	l.seen[collection] = struct{}{}
	return collection
}
