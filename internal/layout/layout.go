// Package layout computes the on-disk directory/file layout of an LDB
// root — databases, tables, sector files, MZ partitions — and
// validates database/table names.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxNameLen bounds database/table name length.
const MaxNameLen = 64

// ValidName rejects names containing '/' or '.' or exceeding MaxNameLen.
func ValidName(name string) bool {
	if name == "" || len(name) > MaxNameLen {
		return false
	}
	return !strings.ContainsAny(name, "/.")
}

// Layout resolves paths under a single process-wide root directory.
type Layout struct {
	Root string
}

// New returns a Layout rooted at root.
func New(root string) *Layout {
	return &Layout{Root: root}
}

// DatabasePath returns <root>/<db>.
func (l *Layout) DatabasePath(db string) string {
	return filepath.Join(l.Root, db)
}

// TablePath returns <root>/<db>/<table>.
func (l *Layout) TablePath(db, table string) string {
	return filepath.Join(l.Root, db, table)
}

// ConfigPath returns <root>/<db>/<table>.cfg.
func (l *Layout) ConfigPath(db, table string) string {
	return filepath.Join(l.Root, db, table+".cfg")
}

// VersionPath returns <root>/<db>/version.json.
func (l *Layout) VersionPath(db string) string {
	return filepath.Join(l.Root, db, "version.json")
}

// ImportConfigPath returns <config-root>/<db>.conf.
func (l *Layout) ImportConfigPath(configRoot, db string) string {
	return filepath.Join(configRoot, db+".conf")
}

// SectorPath returns <root>/<db>/<table>/<XX>.ldb (or .out when out is
// true), where XX is the hex of the main key's first byte.
func (l *Layout) SectorPath(db, table string, firstByte byte, out bool) string {
	ext := "ldb"
	if out {
		ext = "out"
	}
	return filepath.Join(l.TablePath(db, table), fmt.Sprintf("%02x.%s", firstByte, ext))
}

// MZPath returns <root>/<db>/<table>/<XXXX>.mz (or .mz.enc when
// encrypted), where XXXX is the hex of the hash's first two bytes.
func (l *Layout) MZPath(db, table string, firstTwo uint16, encrypted bool) string {
	name := fmt.Sprintf("%04x.mz", firstTwo)
	if encrypted {
		name += ".enc"
	}
	return filepath.Join(l.TablePath(db, table), name)
}

// DirExists reports whether path exists and is a directory.
func DirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// FileExists reports whether path exists and is a regular file (or at
// least not a directory).
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// CreateDatabase creates <root>/<db>. Returns an error if it already
// exists or the name is invalid.
func (l *Layout) CreateDatabase(db string) error {
	if !ValidName(db) {
		return fmt.Errorf("E064 invalid characters or name too long: %q", db)
	}
	path := l.DatabasePath(db)
	if DirExists(path) {
		return fmt.Errorf("E068 database already exists: %q", db)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("E065 cannot create %s: %w", path, err)
	}
	return nil
}

// CreateTableDir creates <root>/<db>/<table>. It does not write the cfg
// file; callers pair this with internal/config.Write.
func (l *Layout) CreateTableDir(db, table string) error {
	if !ValidName(db) || !ValidName(table) {
		return fmt.Errorf("E064 invalid characters or name too long: %q/%q", db, table)
	}
	dbPath := l.DatabasePath(db)
	if !DirExists(dbPath) {
		return fmt.Errorf("E062 database does not exist: %q", db)
	}
	tablePath := l.TablePath(db, table)
	if DirExists(tablePath) {
		return fmt.Errorf("E069 table already exists: %q/%q", db, table)
	}
	if err := os.MkdirAll(tablePath, 0o755); err != nil {
		return fmt.Errorf("E065 cannot create %s: %w", tablePath, err)
	}
	return nil
}

// ShowDatabases lists the databases under root.
func (l *Layout) ShowDatabases() ([]string, error) {
	entries, err := os.ReadDir(l.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

// ShowTables lists the tables under <root>/<db>.
func (l *Layout) ShowTables(db string) ([]string, error) {
	entries, err := os.ReadDir(l.DatabasePath(db))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("E062 database does not exist: %q", db)
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}
