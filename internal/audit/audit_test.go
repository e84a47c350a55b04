package audit_test

import (
	"path/filepath"
	"testing"

	"github.com/snehjoshi/notifyq/internal/audit"
)

func openTestLog(t *testing.T) *audit.Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	log, err := audit.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestAppendAndRecent_ReturnsNewestFirst(t *testing.T) {
	log := openTestLog(t)

	records := []audit.Record{
		{Notification: "n1", Checkable: "host1!disk", Type: "problem", State: 2, FiredAt: 1},
		{Notification: "n2", Checkable: "host1!disk", Type: "recovery", State: 0, FiredAt: 2},
		{Notification: "n3", Checkable: "host2!cpu", Type: "problem", State: 2, FiredAt: 3},
	}
	for _, r := range records {
		if err := log.Append(r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := log.Recent(0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[0].Notification != "n3" || got[2].Notification != "n1" {
		t.Fatalf("expected newest-first ordering, got %+v", got)
	}
}

func TestRecent_RespectsLimit(t *testing.T) {
	log := openTestLog(t)
	for i := 0; i < 5; i++ {
		if err := log.Append(audit.Record{Notification: "n", FiredAt: float64(i)}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := log.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
}

func TestRecent_EmptyLog(t *testing.T) {
	log := openTestLog(t)
	got, err := log.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no records, got %d", len(got))
	}
}

func TestAppend_RecordsDeliveryError(t *testing.T) {
	log := openTestLog(t)
	if err := log.Append(audit.Record{Notification: "n", DeliveryErr: "dial tcp: timeout"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := log.Recent(1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].DeliveryErr != "dial tcp: timeout" {
		t.Fatalf("expected delivery error preserved, got %+v", got)
	}
}
