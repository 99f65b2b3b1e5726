package lock

import (
	"path/filepath"
	"testing"
)

func TestLockUnlock(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "oss/file")

	if l.Locked() {
		t.Fatal("expected unlocked initially")
	}
	if err := l.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !l.Locked() {
		t.Fatal("expected locked after Lock")
	}
	if err := l.Lock(); err == nil {
		t.Fatal("expected second Lock to fail")
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if l.Locked() {
		t.Fatal("expected unlocked after Unlock")
	}
	// Unlock on an already-unlocked table is a no-op.
	if err := l.Unlock(); err != nil {
		t.Fatalf("second Unlock: %v", err)
	}
}

func TestLockSharesNamespaceByTableNameOnly(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, "dbA/file")
	b := New(dir, "dbB/file")

	if a.Path() != b.Path() {
		t.Fatalf("expected shared lock path for same table name across dbs, got %q and %q", a.Path(), b.Path())
	}
	if err := a.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := b.Lock(); err == nil {
		t.Fatal("expected b.Lock() to fail because table name collides with a's lock")
	}
}

func TestLockPath(t *testing.T) {
	l := New("/dev/shm", "oss/file")
	if l.Path() != filepath.Join("/dev/shm", "ldb.lock.file") {
		t.Fatalf("got %q", l.Path())
	}
}
