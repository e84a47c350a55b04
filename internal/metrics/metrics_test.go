package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snehjoshi/notifyq/internal/metrics"
)

// ─── labelCounter ─────────────────────────────────────────────────────────────

func TestRegistry_DispatchCounters(t *testing.T) {
	var reg metrics.Registry

	key := metrics.NotificationKey("host1!disk", "problem")
	reg.Dispatched.Inc(key)
	reg.Dispatched.Inc(key)
	reg.Dispatched.Add(key, 3)

	got := int64(0)
	reg.Dispatched.Each(func(k string, v int64) {
		if k == key {
			got = v
		}
	})
	if got != 5 {
		t.Fatalf("Dispatched count = %d, want 5", got)
	}
}

func TestRegistry_HTTPCounters(t *testing.T) {
	var reg metrics.Registry

	reqKey := metrics.HTTPKey("GET", "/stats", "200")
	durKey := metrics.HTTPDurKey("GET", "/stats")

	reg.HTTPReqs.Inc(reqKey)
	reg.HTTPReqs.Inc(reqKey)
	reg.HTTPDurMs.Add(durKey, 42)
	reg.HTTPDurMs.Add(durKey, 18)
	reg.HTTPDurCnt.Inc(durKey)
	reg.HTTPDurCnt.Inc(durKey)

	reqCount := int64(0)
	reg.HTTPReqs.Each(func(k string, v int64) {
		if k == reqKey {
			reqCount = v
		}
	})
	if reqCount != 2 {
		t.Fatalf("HTTPReqs count = %d, want 2", reqCount)
	}

	durSum := int64(0)
	reg.HTTPDurMs.Each(func(k string, v int64) {
		if k == durKey {
			durSum = v
		}
	})
	if durSum != 60 {
		t.Fatalf("HTTPDurMs sum = %d, want 60", durSum)
	}
}

func TestRegistry_Gauges(t *testing.T) {
	var reg metrics.Registry

	reg.Idle.Set("default", 3)
	reg.Pending.Set("default", 1)
	reg.Idle.Set("default", 5) // Set overwrites, unlike a counter

	if got := reg.Idle.Get("default"); got != 5 {
		t.Fatalf("Idle.Get = %d, want 5", got)
	}
	if got := reg.Pending.Get("default"); got != 1 {
		t.Fatalf("Pending.Get = %d, want 1", got)
	}

	pd := reg.PerfData("default")
	if pd["default_idle"] != 5 || pd["default_pending"] != 1 {
		t.Fatalf("PerfData = %+v, want idle=5 pending=1", pd)
	}
}

// ─── Prometheus output format ─────────────────────────────────────────────────

func scrape(t *testing.T, reg *metrics.Registry) string {
	t.Helper()
	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func TestHandler_ContentType(t *testing.T) {
	var reg metrics.Registry
	reg.Dispatched.Inc(metrics.NotificationKey("n", "problem"))

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "text/plain") {
		t.Fatalf("Content-Type = %q, want text/plain", ct)
	}
}

func TestHandler_EmptyRegistry(t *testing.T) {
	var reg metrics.Registry
	body := scrape(t, &reg)
	if body != "" {
		t.Fatalf("expected empty body for empty registry, got:\n%s", body)
	}
}

func TestHandler_DispatchedCounter(t *testing.T) {
	var reg metrics.Registry

	reg.Dispatched.Inc(metrics.NotificationKey("host1!disk", "problem"))
	reg.Dispatched.Add(metrics.NotificationKey("host1!disk", "problem"), 4)
	reg.Dispatched.Inc(metrics.NotificationKey("host2!disk", "recovery"))

	body := scrape(t, &reg)

	mustContain(t, body, "# HELP notifyq_notifications_dispatched_total")
	mustContain(t, body, "# TYPE notifyq_notifications_dispatched_total counter")
	mustContain(t, body, `notification="host1!disk"`)
	mustContain(t, body, `type="problem"`)
	mustContain(t, body, `notification="host2!disk"`)
}

func TestHandler_GaugesIncluded(t *testing.T) {
	var reg metrics.Registry
	reg.Idle.Set("default", 3)
	reg.Pending.Set("default", 2)

	body := scrape(t, &reg)

	mustContain(t, body, "# TYPE notifyq_scheduler_idle gauge")
	mustContain(t, body, `scheduler="default"`)
	mustContain(t, body, "notifyq_scheduler_pending")
}

func TestHandler_HTTPCounters(t *testing.T) {
	var reg metrics.Registry

	reg.HTTPReqs.Inc(metrics.HTTPKey("GET", "/health", "200"))
	reg.HTTPDurMs.Add(metrics.HTTPDurKey("GET", "/health"), 5)
	reg.HTTPDurCnt.Inc(metrics.HTTPDurKey("GET", "/health"))

	body := scrape(t, &reg)

	mustContain(t, body, "# HELP notifyq_http_requests_total")
	mustContain(t, body, `method="GET"`)
	mustContain(t, body, `path="/health"`)
	mustContain(t, body, `status="200"`)
	mustContain(t, body, "notifyq_http_request_duration_milliseconds_sum")
	mustContain(t, body, "notifyq_http_request_duration_milliseconds_count")
}

func TestHandler_MultipleMetricFamilies(t *testing.T) {
	var reg metrics.Registry

	k := metrics.NotificationKey("host1!disk", "problem")
	reg.Dispatched.Add(k, 10)
	reg.Suppressed.Add(k, 2)
	reg.Rescheduled.Add(k, 1)

	body := scrape(t, &reg)

	mustContain(t, body, "notifyq_notifications_dispatched_total")
	mustContain(t, body, "notifyq_notifications_suppressed_total")
	mustContain(t, body, "notifyq_notifications_rescheduled_total")
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func mustContain(t *testing.T, body, substr string) {
	t.Helper()
	if !strings.Contains(body, substr) {
		t.Errorf("expected body to contain %q\nbody:\n%s", substr, body)
	}
}

// ─── Concurrent safety ────────────────────────────────────────────────────────

func TestRegistry_ConcurrentInc(t *testing.T) {
	var reg metrics.Registry
	key := metrics.NotificationKey("load", "problem")

	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		go func() {
			reg.Dispatched.Inc(key)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}

	got := int64(0)
	reg.Dispatched.Each(func(k string, v int64) {
		if k == key {
			got = v
		}
	})
	if got != 100 {
		t.Fatalf("concurrent Inc: got %d, want 100", got)
	}
}
