package layout

import (
	"path/filepath"
	"testing"
)

func TestValidName(t *testing.T) {
	cases := map[string]bool{
		"oss":      true,
		"file":     true,
		"bad/name": false,
		"bad.name": false,
		"":         false,
	}
	for name, want := range cases {
		if got := ValidName(name); got != want {
			t.Errorf("ValidName(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestValidNameTooLong(t *testing.T) {
	long := make([]byte, MaxNameLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if ValidName(string(long)) {
		t.Fatal("expected too-long name to be invalid")
	}
}

func TestSectorPath(t *testing.T) {
	l := New("/data")
	got := l.SectorPath("oss", "file", 0xAB, false)
	want := filepath.Join("/data", "oss", "file", "ab.ldb")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	got = l.SectorPath("oss", "file", 0x00, true)
	want = filepath.Join("/data", "oss", "file", "00.out")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMZPath(t *testing.T) {
	l := New("/data")
	got := l.MZPath("oss", "sources", 0x1234, false)
	want := filepath.Join("/data", "oss", "sources", "1234.mz")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	got = l.MZPath("oss", "sources", 0x1234, true)
	want = filepath.Join("/data", "oss", "sources", "1234.mz.enc")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestCreateDatabaseAndTable(t *testing.T) {
	root := t.TempDir()
	l := New(root)

	if err := l.CreateDatabase("oss"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	if err := l.CreateDatabase("oss"); err == nil {
		t.Fatal("expected error creating duplicate database")
	}
	if err := l.CreateTableDir("oss", "file"); err != nil {
		t.Fatalf("CreateTableDir: %v", err)
	}
	if err := l.CreateTableDir("missingdb", "file"); err == nil {
		t.Fatal("expected error for missing database")
	}

	dbs, err := l.ShowDatabases()
	if err != nil {
		t.Fatalf("ShowDatabases: %v", err)
	}
	if len(dbs) != 1 || dbs[0] != "oss" {
		t.Fatalf("got %v", dbs)
	}

	tables, err := l.ShowTables("oss")
	if err != nil {
		t.Fatalf("ShowTables: %v", err)
	}
	if len(tables) != 1 || tables[0] != "file" {
		t.Fatalf("got %v", tables)
	}
}
