package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestExclusiveLockExcludesEverything(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Release() }()

	if _, err := Acquire(dir); err == nil {
		t.Error("second exclusive acquire should fail")
	}
	_, err = AcquireShared(dir)
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("shared acquire against a writer: err = %v, want LockHeldError", err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("reported owner pid = %d, want %d", held.PID, os.Getpid())
	}
}

func TestSharedLocksCoexist(t *testing.T) {
	dir := t.TempDir()

	a, err := AcquireShared(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = a.Release() }()
	b, err := AcquireShared(dir)
	if err != nil {
		t.Fatalf("second shared acquire: %v", err)
	}
	defer func() { _ = b.Release() }()

	// A writer cannot join the readers.
	if _, err := Acquire(dir); err == nil {
		t.Error("exclusive acquire should fail while readers hold the lock")
	}
}

func TestReleaseAllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}

	l2, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
	_ = l2.Release()
}

func TestExclusiveLockRecordsOwner(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = l.Release() }()

	data, err := os.ReadFile(filepath.Join(dir, "LOCK"))
	if err != nil {
		t.Fatal(err)
	}
	if pid := parsePID(string(data)); pid != os.Getpid() {
		t.Errorf("recorded pid = %d, want %d", pid, os.Getpid())
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil release err = %v", err)
	}
}
