// Package lock implements the per-table advisory writer lock. The lock
// file is keyed by table name only (not db/table) — two tables of the
// same name in different databases share a lock namespace. This is
// surprising but intentional: it preserves a long-standing behavior of
// the format this package is compatible with, rather than "fixing" it.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Locker guards a single table against concurrent writers via a lock
// file containing the writer's OS process id.
type Locker struct {
	dir   string // directory holding ldb.lock.<table> files
	table string
	path  string
}

// New returns a Locker for table, with lock files kept under dir — a
// shared, fast, process-wide location such as /dev/shm, or a configured
// lock directory.
func New(dir, dbTable string) *Locker {
	table := filepath.Base(dbTable)
	return &Locker{
		dir:   dir,
		table: table,
		path:  filepath.Join(dir, "ldb.lock."+table),
	}
}

// Locked reports whether the table's lock file currently exists.
func (l *Locker) Locked() bool {
	_, err := os.Stat(l.path)
	return err == nil
}

// Lock acquires the writer lock. It fails if the lock file already
// exists; otherwise it creates the file, writes the current PID, then
// reads it back to confirm no concurrent writer raced us (mirrors
// ldb_lock's write-then-verify sequence).
func (l *Locker) Lock() error {
	if l.Locked() {
		return fmt.Errorf("E051 concurrent ldb writing not supported (%s exists)", l.path)
	}

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("E051 cannot create lock directory %s: %w", l.dir, err)
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("E051 concurrent ldb writing not supported (%s exists)", l.path)
	}
	pid := os.Getpid()
	if _, err := f.WriteString(strconv.Itoa(pid)); err != nil {
		f.Close()
		os.Remove(l.path)
		return fmt.Errorf("E051 cannot write lock file %s: %w", l.path, err)
	}
	f.Close()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("E052 cannot read back lock file %s: %w", l.path, err)
	}
	readPid, err := strconv.Atoi(string(data))
	if err != nil || readPid != pid {
		return fmt.Errorf("E052 concurrent ldb writing is not supported (check %s)", l.path)
	}
	return nil
}

// Unlock releases the writer lock by removing its file. It is a no-op
// if the lock file does not exist.
func (l *Locker) Unlock() error {
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Path returns the lock file's path, for diagnostics.
func (l *Locker) Path() string { return l.path }
