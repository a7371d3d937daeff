package server

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"siftsearch/internal/version"
)

type reqKey struct{ method, path, status string }

type metricsCollector struct {
	mu       sync.Mutex
	requests map[reqKey]int64
	durSum   map[string]float64 // seconds, by path
	durCount map[string]int64

	searches       int64
	noFeatures     int64
	reloads        int64
	reloadFailures int64
}

func newMetrics() *metricsCollector {
	return &metricsCollector{
		requests: make(map[reqKey]int64),
		durSum:   make(map[string]float64),
		durCount: make(map[string]int64),
	}
}

func (m *metricsCollector) observeRequest(method, path, status string, d time.Duration) {
	m.mu.Lock()
	m.requests[reqKey{method, path, status}]++
	m.durSum[path] += d.Seconds()
	m.durCount[path]++
	m.mu.Unlock()
}

func (m *metricsCollector) incSearches()       { m.mu.Lock(); m.searches++; m.mu.Unlock() }
func (m *metricsCollector) incNoFeatures()     { m.mu.Lock(); m.noFeatures++; m.mu.Unlock() }
func (m *metricsCollector) incReloads()        { m.mu.Lock(); m.reloads++; m.mu.Unlock() }
func (m *metricsCollector) incReloadFailures() { m.mu.Lock(); m.reloadFailures++; m.mu.Unlock() }

type metricsSnapshot struct {
	Records        int              `json:"records"`
	Descriptors    int              `json:"descriptors"`
	Searches       int64            `json:"searches"`
	NoFeatures     int64            `json:"noFeatures"`
	Reloads        int64            `json:"reloads"`
	ReloadFailures int64            `json:"reloadFailures"`
	Requests       map[string]int64 `json:"requests"`
}

// handleMetrics renders Prometheus text format, or JSON with ?format=json.
func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	db := a.engine.Database()
	m := a.metrics
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.URL.Query().Get("format") == "json" {
		snap := metricsSnapshot{
			Records:        db.Len(),
			Descriptors:    db.Descriptors(),
			Searches:       m.searches,
			NoFeatures:     m.noFeatures,
			Reloads:        m.reloads,
			ReloadFailures: m.reloadFailures,
			Requests:       make(map[string]int64, len(m.requests)),
		}
		for k, v := range m.requests {
			snap.Requests[k.method+" "+k.path+" "+k.status] = v
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	var b strings.Builder
	gauge := func(name, help string, v any) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %v\n", name, help, name, name, v)
	}
	counter := func(name, help string, v int64) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
	}
	fmt.Fprintf(&b, "# HELP siftsearch_build_info Build information.\n# TYPE siftsearch_build_info gauge\nsiftsearch_build_info{version=%q,commit=%q} 1\n", version.Version, version.Commit)
	gauge("siftsearch_records", "Images in the loaded feature database.", db.Len())
	gauge("siftsearch_descriptors", "Descriptors in the loaded feature database.", db.Descriptors())
	counter("siftsearch_searches_total", "Completed searches.", m.searches)
	counter("siftsearch_no_features_total", "Queries rejected for having no features.", m.noFeatures)
	counter("siftsearch_reloads_total", "Successful database reloads.", m.reloads)
	counter("siftsearch_reload_failures_total", "Failed database reloads.", m.reloadFailures)

	keys := make([]reqKey, 0, len(m.requests))
	for k := range m.requests {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].path != keys[j].path {
			return keys[i].path < keys[j].path
		}
		if keys[i].method != keys[j].method {
			return keys[i].method < keys[j].method
		}
		return keys[i].status < keys[j].status
	})
	b.WriteString("# HELP siftsearch_http_requests_total HTTP requests by method, path and status.\n# TYPE siftsearch_http_requests_total counter\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "siftsearch_http_requests_total{method=%q,path=%q,status=%q} %d\n", k.method, k.path, k.status, m.requests[k])
	}

	paths := make([]string, 0, len(m.durCount))
	for p := range m.durCount {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	b.WriteString("# HELP siftsearch_http_request_duration_seconds HTTP request latency.\n# TYPE siftsearch_http_request_duration_seconds summary\n")
	for _, p := range paths {
		fmt.Fprintf(&b, "siftsearch_http_request_duration_seconds_sum{path=%q} %g\n", p, m.durSum[p])
		fmt.Fprintf(&b, "siftsearch_http_request_duration_seconds_count{path=%q} %d\n", p, m.durCount[p])
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}
