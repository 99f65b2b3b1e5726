package store

import (
	"os"
	"testing"

	"github.com/scanoss/ldbgo/internal/layout"
)

func TestReadVersionMissingFile(t *testing.T) {
	lay := layout.New(t.TempDir())
	v, lerr := ReadVersion(lay, "dbA")
	if lerr != nil {
		t.Fatalf("ReadVersion: %v", lerr)
	}
	if v != (Version{}) {
		t.Fatalf("expected zero Version for a missing file, got %+v", v)
	}
}

func TestWriteReadVersionRoundTrip(t *testing.T) {
	lay := layout.New(t.TempDir())
	if err := lay.CreateDatabase("dbA"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	want := Version{Monthly: "202607", Daily: "20260731"}
	if lerr := WriteVersion(lay, "dbA", want); lerr != nil {
		t.Fatalf("WriteVersion: %v", lerr)
	}
	got, lerr := ReadVersion(lay, "dbA")
	if lerr != nil {
		t.Fatalf("ReadVersion: %v", lerr)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReadVersionToleratesTrailingCommentsAndCommas(t *testing.T) {
	lay := layout.New(t.TempDir())
	if err := lay.CreateDatabase("dbA"); err != nil {
		t.Fatalf("CreateDatabase: %v", err)
	}
	lenient := []byte("{\n  // last refreshed nightly\n  \"monthly\": \"202607\",\n  \"daily\": \"20260731\",\n}\n")
	if err := os.WriteFile(lay.VersionPath("dbA"), lenient, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, lerr := ReadVersion(lay, "dbA")
	if lerr != nil {
		t.Fatalf("ReadVersion: %v", lerr)
	}
	if got.Monthly != "202607" || got.Daily != "20260731" {
		t.Fatalf("got %+v", got)
	}
}
