package zone_test

import (
	"os"
	"testing"

	"github.com/snehjoshi/notifyq/internal/zone"
)

func TestNew_NoLocalZone_SameZoneAlwaysTrue(t *testing.T) {
	dir := t.TempDir()
	r, err := zone.New(dir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.LocalName() != "" {
		t.Fatalf("expected no local zone, got %q", r.LocalName())
	}
	if !r.IsLocal("") {
		t.Error("IsLocal(\"\") must be true regardless of local zone")
	}
	if !r.IsLocal("anywhere") {
		t.Error("with no local zone set, every zone name must be considered local")
	}
}

func TestNew_WithLocalZone_IsLocalMatchesOnlyThatZone(t *testing.T) {
	dir := t.TempDir()
	r, err := zone.New(dir, "us-east")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.LocalName() != "us-east" {
		t.Fatalf("expected local zone us-east, got %q", r.LocalName())
	}
	if !r.IsLocal("") {
		t.Error("IsLocal(\"\") must still be true (no zone == any zone)")
	}
	if !r.IsLocal("us-east") {
		t.Error("IsLocal(local) must be true")
	}
	if r.IsLocal("eu-west") {
		t.Error("IsLocal(other) must be false once a local zone is set")
	}
}

func TestPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	if _, err := zone.New(dir, "us-east"); err != nil {
		t.Fatalf("New: %v", err)
	}

	r2, err := zone.New(dir, "")
	if err != nil {
		t.Fatalf("second New: %v", err)
	}
	if r2.LocalName() != "us-east" {
		t.Fatalf("expected persisted local zone us-east across restart, got %q", r2.LocalName())
	}
}

func TestRegisterAndByName(t *testing.T) {
	dir := t.TempDir()
	r, err := zone.New(dir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Register("eu-west"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	info, err := r.ByName("eu-west")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if info.Name != "eu-west" {
		t.Fatalf("expected name eu-west, got %q", info.Name)
	}
	if _, err := r.ByName("missing"); err == nil {
		t.Fatal("expected error for unregistered zone")
	}
}

func TestRegister_InvalidName(t *testing.T) {
	dir := t.TempDir()
	r, err := zone.New(dir, "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Register("Not Valid!"); err == nil {
		t.Fatal("expected error for invalid zone name")
	}
}

func TestNew_CreatesDataDir(t *testing.T) {
	base := t.TempDir()
	sub := base + "/nested/path"
	if _, err := zone.New(sub, ""); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(sub); err != nil {
		t.Fatalf("expected data dir to be created: %v", err)
	}
}
