package filelock_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kvresolve/resolver/internal/filelock"
)

func TestTryAcquireFailsWhileHeld(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "maintenance.lock")
	m := filelock.NewMaintenance(path)

	release, err := m.TryAcquire()
	if err != nil {
		t.Fatalf("first try acquire: %v", err)
	}

	t.Cleanup(func() { _ = release() })

	_, err = m.TryAcquire()
	if !errors.Is(err, filelock.ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock while held, got %v", err)
	}
}

func TestAcquireSucceedsAfterRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "maintenance.lock")
	m := filelock.NewMaintenance(path)

	release, err := m.TryAcquire()
	if err != nil {
		t.Fatalf("try acquire: %v", err)
	}

	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	release2, err := m.Acquire(time.Second)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}

	if err := release2(); err != nil {
		t.Fatalf("release2: %v", err)
	}
}

func TestAcquireTimesOutWhileHeld(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "maintenance.lock")
	m := filelock.NewMaintenance(path)

	release, err := m.TryAcquire()
	if err != nil {
		t.Fatalf("try acquire: %v", err)
	}

	t.Cleanup(func() { _ = release() })

	_, err = m.Acquire(50 * time.Millisecond)
	if !errors.Is(err, filelock.ErrWouldBlock) {
		t.Fatalf("expected ErrWouldBlock after timeout, got %v", err)
	}
}
