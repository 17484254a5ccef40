package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	release, ok, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if !ok {
		t.Fatal("fresh lock not acquired")
	}

	if _, _, err := AcquireLock(path); err != nil {
		t.Fatalf("second acquire errored: %v", err)
	}
	if _, ok, _ := AcquireLock(path); ok {
		t.Error("held lock acquired twice")
	}

	release()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("release did not remove the lock file")
	}

	release2, ok, err := AcquireLock(path)
	if err != nil || !ok {
		t.Fatalf("reacquire after release failed: ok=%v err=%v", ok, err)
	}
	release2()
}

func TestAcquireLockRecoversFromDeadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.lock")

	// A run killed before release leaves the file behind with nothing
	// holding the flock.
	if err := os.WriteFile(path, []byte("12345\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	release, ok, err := AcquireLock(path)
	if err != nil {
		t.Fatalf("acquire over dead holder errored: %v", err)
	}
	if !ok {
		t.Fatal("lock left by a dead run was not reacquired")
	}
	release()
}
