package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsDaemonEnvFlag(t *testing.T) {
	t.Setenv(envFlag, "true")
	if !IsDaemon() {
		t.Fatalf("IsDaemon should be true when %s=true", envFlag)
	}
	t.Setenv(envFlag, "false")
	if IsDaemon() {
		t.Fatalf("IsDaemon should be false when %s=false", envFlag)
	}
}

func TestPIDPath(t *testing.T) {
	if got := PIDPath("/var/lib/pilot"); got != filepath.Join("/var/lib/pilot", "perp-pilot.pid") {
		t.Fatalf("unexpected PID path: %s", got)
	}
}

func TestStopMissingPIDFile(t *testing.T) {
	if err := Stop(t.TempDir()); err == nil {
		t.Fatal("expected error when PID file is missing")
	}
}

func TestStopBadPIDFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(PIDPath(dir), []byte("not-a-pid"), 0o644); err != nil {
		t.Fatalf("seed PID file: %v", err)
	}
	if err := Stop(dir); err == nil {
		t.Fatal("expected error for malformed PID file")
	}
}

// Start/Restart spawn real processes; they are exercised manually, not in
// unit tests.
