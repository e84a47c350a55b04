// Package metrics provides a lightweight Prometheus-compatible metrics
// registry for notifyq. It deliberately avoids the prometheus/client_golang
// package so the server binary stays small with no additional dependencies.
//
// # Counter naming convention
//
// Every counter uses a tab-separated string as its label key so that a
// single sync.Map can hold all label combinations without additional map
// nesting.
//
//	Dispatched / Suppressed / Rescheduled  →  key = "notification\ttype"
//	HTTPReqs                               →  key = "method\tpath\tstatus"
//	HTTPDurMs / HTTPDurCnt                 →  key = "method\tpath"
//
// idle/pending counts are gauges, not counters: a scheduler instance's
// current queue depth, not a cumulative total. They are tracked separately
// via gaugeSet so Set (not just Add) is meaningful.
//
// # Prometheus text output
//
// Calling Registry.Handler() returns an http.Handler that renders all
// metrics in the Prometheus exposition format (text/plain; version=0.0.4).
package metrics

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

// labelCounter is a lock-free, label-keyed counter map backed by sync.Map and
// atomic.Int64 values.
type labelCounter struct {
	vals sync.Map // key string → *atomic.Int64
}

func (lc *labelCounter) get(key string) *atomic.Int64 {
	v, _ := lc.vals.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Inc increments the counter for key by 1.
func (lc *labelCounter) Inc(key string) { lc.get(key).Add(1) }

// Add increments the counter for key by n.
func (lc *labelCounter) Add(key string, n int64) { lc.get(key).Add(n) }

// Each calls fn for every key/value pair. The order is non-deterministic.
func (lc *labelCounter) Each(fn func(key string, val int64)) {
	lc.vals.Range(func(k, v any) bool {
		fn(k.(string), v.(*atomic.Int64).Load())
		return true
	})
}

// ─── gaugeSet ─────────────────────────────────────────────────────────────────

// gaugeSet is a label-keyed point-in-time value, as opposed to labelCounter's
// monotonically increasing total.
type gaugeSet struct {
	vals sync.Map // key string → *atomic.Int64
}

func (g *gaugeSet) Set(key string, v int64) {
	p, _ := g.vals.LoadOrStore(key, new(atomic.Int64))
	p.(*atomic.Int64).Store(v)
}

func (g *gaugeSet) Get(key string) int64 {
	p, ok := g.vals.Load(key)
	if !ok {
		return 0
	}
	return p.(*atomic.Int64).Load()
}

func (g *gaugeSet) Each(fn func(key string, val int64)) {
	g.vals.Range(func(k, v any) bool {
		fn(k.(string), v.(*atomic.Int64).Load())
		return true
	})
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// Registry holds all notifyq application metrics.
type Registry struct {
	// Dispatch-level counters. key = NotificationKey(name, type)
	Dispatched  labelCounter // reminder BeginExecute invoked by the dispatch callback
	Suppressed  labelCounter // eligibility rejected a promoted entry
	Rescheduled labelCounter // notification was inactive at dispatch time

	// Scheduler gauges. key = scheduler instance name.
	Idle    gaugeSet
	Pending gaugeSet

	// HTTP-level counters. key = "method\tpath\tstatus" (Reqs) or "method\tpath" (Dur*)
	HTTPReqs   labelCounter
	HTTPDurMs  labelCounter // sum of request durations in milliseconds
	HTTPDurCnt labelCounter // number of requests (same key as HTTPDurMs, for avg)
}

// PerfData returns the two performance-data scalars for a named scheduler
// instance: "<name>_idle" and "<name>_pending".
func (r *Registry) PerfData(name string) map[string]int64 {
	return map[string]int64{
		name + "_idle":    r.Idle.Get(name),
		name + "_pending": r.Pending.Get(name),
	}
}

// ─── Prometheus text serialisation ────────────────────────────────────────────

// Handler returns an http.Handler that renders all metrics in the Prometheus
// plain-text exposition format (text/plain; version=0.0.4).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		var b strings.Builder

		writeFamily(&b, "notifyq_notifications_dispatched_total",
			"Total reminder BeginExecute invocations by the scheduler", "counter",
			func(fn func(labels, val string)) {
				r.Dispatched.Each(func(key string, val int64) {
					name, ntype := splitTwo(key)
					fn(fmt.Sprintf(`notification=%q,type=%q`, name, ntype),
						fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "notifyq_notifications_suppressed_total",
			"Total promoted entries rejected by eligibility", "counter",
			func(fn func(labels, val string)) {
				r.Suppressed.Each(func(key string, val int64) {
					name, ntype := splitTwo(key)
					fn(fmt.Sprintf(`notification=%q,type=%q`, name, ntype),
						fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "notifyq_notifications_rescheduled_total",
			"Total notifications rescheduled because they were inactive at dispatch", "counter",
			func(fn func(labels, val string)) {
				r.Rescheduled.Each(func(key string, val int64) {
					name, ntype := splitTwo(key)
					fn(fmt.Sprintf(`notification=%q,type=%q`, name, ntype),
						fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "notifyq_scheduler_idle",
			"Current number of notifications awaiting their scheduled time", "gauge",
			func(fn func(labels, val string)) {
				r.Idle.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`scheduler=%q`, key), fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "notifyq_scheduler_pending",
			"Current number of notifications whose dispatch is in flight", "gauge",
			func(fn func(labels, val string)) {
				r.Pending.Each(func(key string, val int64) {
					fn(fmt.Sprintf(`scheduler=%q`, key), fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "notifyq_http_requests_total",
			"Total HTTP requests by method, path, and status code", "counter",
			func(fn func(labels, val string)) {
				r.HTTPReqs.Each(func(key string, val int64) {
					method, path, status := splitThree(key)
					fn(fmt.Sprintf(`method=%q,path=%q,status=%q`, method, path, status),
						fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "notifyq_http_request_duration_milliseconds_sum",
			"Sum of HTTP request durations in milliseconds", "counter",
			func(fn func(labels, val string)) {
				r.HTTPDurMs.Each(func(key string, val int64) {
					method, path := splitTwo(key)
					fn(fmt.Sprintf(`method=%q,path=%q`, method, path),
						fmt.Sprintf("%d", val))
				})
			})

		writeFamily(&b, "notifyq_http_request_duration_milliseconds_count",
			"Count of observed HTTP request durations", "counter",
			func(fn func(labels, val string)) {
				r.HTTPDurCnt.Each(func(key string, val int64) {
					method, path := splitTwo(key)
					fn(fmt.Sprintf(`method=%q,path=%q`, method, path),
						fmt.Sprintf("%d", val))
				})
			})

		fmt.Fprint(w, b.String())
	})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

// writeFamily writes a single Prometheus metric family to b.
// fill is called with a writer function that appends individual label+value lines.
func writeFamily(
	b *strings.Builder,
	name, help, typ string,
	fill func(fn func(labels, val string)),
) {
	var lines []string
	fill(func(labels, val string) {
		lines = append(lines, fmt.Sprintf("%s{%s} %s\n", name, labels, val))
	})
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
	for _, l := range lines {
		b.WriteString(l)
	}
}

// splitTwo splits a tab-delimited key of the form "a\tb" into (a, b).
// If there is no tab, the whole string is returned as the first component.
func splitTwo(key string) (string, string) {
	i := strings.IndexByte(key, '\t')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

// splitThree splits a tab-delimited key "a\tb\tc" into (a, b, c).
func splitThree(key string) (string, string, string) {
	a, rest := splitTwo(key)
	b, c := splitTwo(rest)
	return a, b, c
}

// ─── Convenience key builders ─────────────────────────────────────────────────

// NotificationKey builds the label key used by Dispatched/Suppressed/Rescheduled.
func NotificationKey(name, ntype string) string {
	return name + "\t" + ntype
}

// HTTPKey builds the label key used by HTTPReqs.
func HTTPKey(method, path, status string) string {
	return method + "\t" + path + "\t" + status
}

// HTTPDurKey builds the label key used by HTTPDurMs / HTTPDurCnt.
func HTTPDurKey(method, path string) string {
	return method + "\t" + path
}
