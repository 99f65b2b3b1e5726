package store

import (
	"testing"

	"go.uber.org/zap"

	"github.com/scanoss/ldbgo/internal/layout"
)

func TestCollateDedupesFixedRecords(t *testing.T) {
	tab := fixedTable("dbA", "files")
	root := t.TempDir()
	lay := layout.New(root)
	if err := lay.CreateTableDir(tab.DB, tab.Name); err != nil {
		t.Fatalf("CreateTableDir: %v", err)
	}
	sec, ok, lerr := OpenSector(lay, tab, 0xAB, ModeReadWrite)
	if lerr != nil || !ok {
		t.Fatalf("OpenSector: %v", lerr)
	}
	mk := mainKeyBytes(0xAB, 1, 2, 3)
	width := tab.FixedRecordWidth()

	rec := make([]byte, width)
	rec[0] = 0x42
	for i := 0; i < 3; i++ {
		if _, lerr := sec.AppendNode(mk, rec, 1, zap.NewNop()); lerr != nil {
			t.Fatalf("AppendNode: %v", lerr)
		}
	}
	other := make([]byte, width)
	other[0] = 0x43
	if _, lerr := sec.AppendNode(mk, other, 1, zap.NewNop()); lerr != nil {
		t.Fatalf("AppendNode: %v", lerr)
	}
	sec.Close()

	counters := &Counters{}
	lerr = CollateSector(lay, tab, tab, 0xAB, CollateDedup, nil, CollateOptions{Counters: counters, Logger: zap.NewNop()})
	if lerr != nil {
		t.Fatalf("CollateSector: %v", lerr)
	}
	if counters.Snapshot().Duplicated != 2 {
		t.Fatalf("duplicated = %d, want 2", counters.Snapshot().Duplicated)
	}

	outSec, ok, lerr := OpenSector(lay, tab, 0xAB, ModeRead)
	if lerr != nil || !ok {
		t.Fatalf("reopen collated sector: %v", lerr)
	}
	defer outSec.Close()

	var got [][]byte
	lerr = outSec.Traverse(mk, func(nodeOffset uint64, recordCount int, payload []byte) bool {
		for i := 0; i < len(payload)/width; i++ {
			got = append(got, payload[i*width:(i+1)*width])
		}
		return false
	}, zap.NewNop())
	if lerr != nil {
		t.Fatalf("Traverse: %v", lerr)
	}
	if len(got) != 2 {
		t.Fatalf("collated record count = %d, want 2", len(got))
	}
}

func TestCollateDeleteMode(t *testing.T) {
	tab := fixedTable("dbB", "files")
	root := t.TempDir()
	lay := layout.New(root)
	if err := lay.CreateTableDir(tab.DB, tab.Name); err != nil {
		t.Fatalf("CreateTableDir: %v", err)
	}
	sec, ok, lerr := OpenSector(lay, tab, 0x10, ModeReadWrite)
	if lerr != nil || !ok {
		t.Fatalf("OpenSector: %v", lerr)
	}
	width := tab.FixedRecordWidth()
	mkKeep := mainKeyBytes(0x10, 0, 0, 1)
	mkDrop := mainKeyBytes(0x10, 0, 0, 2)

	keepRec := make([]byte, width)
	keepRec[0] = 1
	if _, lerr := sec.AppendNode(mkKeep, keepRec, 1, zap.NewNop()); lerr != nil {
		t.Fatalf("AppendNode: %v", lerr)
	}
	dropRec := make([]byte, width)
	dropRec[0] = 2
	if _, lerr := sec.AppendNode(mkDrop, dropRec, 1, zap.NewNop()); lerr != nil {
		t.Fatalf("AppendNode: %v", lerr)
	}
	sec.Close()

	fullDropKey := append(append([]byte{}, mkDrop[:]...), dropRec[:tab.SubkeyLen()]...)
	deleteSet := NewDeleteSet([]DeleteTuple{{Key: fullDropKey}})

	counters := &Counters{}
	lerr = CollateSector(lay, tab, tab, 0x10, CollateDelete, deleteSet, CollateOptions{Counters: counters, Logger: zap.NewNop()})
	if lerr != nil {
		t.Fatalf("CollateSector: %v", lerr)
	}
	if counters.Snapshot().Deleted != 1 {
		t.Fatalf("deleted = %d, want 1", counters.Snapshot().Deleted)
	}

	outSec, ok, lerr := OpenSector(lay, tab, 0x10, ModeRead)
	if lerr != nil || !ok {
		t.Fatalf("reopen: %v", lerr)
	}
	defer outSec.Close()

	var kept, dropped bool
	for _, mk := range [][MainKeyLen]byte{mkKeep, mkDrop} {
		lerr = outSec.Traverse(mk, func(nodeOffset uint64, recordCount int, payload []byte) bool {
			if mk == mkKeep {
				kept = true
			} else {
				dropped = true
			}
			return false
		}, zap.NewNop())
		if lerr != nil {
			t.Fatalf("Traverse: %v", lerr)
		}
	}
	if !kept {
		t.Fatalf("expected non-matching key to survive collate-delete")
	}
	if dropped {
		t.Fatalf("expected matching key's node to be dropped")
	}
}

func TestCollateMergeErasesSource(t *testing.T) {
	src := fixedTable("dbC", "a")
	dest := fixedTable("dbC", "b")
	root := t.TempDir()
	lay := layout.New(root)
	if err := lay.CreateTableDir(src.DB, src.Name); err != nil {
		t.Fatalf("CreateTableDir src: %v", err)
	}
	if err := lay.CreateTableDir(dest.DB, dest.Name); err != nil {
		t.Fatalf("CreateTableDir dest: %v", err)
	}

	sec, ok, lerr := OpenSector(lay, src, 0x05, ModeReadWrite)
	if lerr != nil || !ok {
		t.Fatalf("OpenSector: %v", lerr)
	}
	mk := mainKeyBytes(0x05, 1, 1, 1)
	if _, lerr := sec.AppendNode(mk, make([]byte, src.FixedRecordWidth()), 1, zap.NewNop()); lerr != nil {
		t.Fatalf("AppendNode: %v", lerr)
	}
	sec.Close()

	lerr = CollateSector(lay, src, dest, 0x05, CollateMerge, nil, CollateOptions{Logger: zap.NewNop()})
	if lerr != nil {
		t.Fatalf("CollateSector merge: %v", lerr)
	}

	if layout.FileExists(lay.SectorPath(src.DB, src.Name, 0x05, false)) {
		t.Fatalf("expected source sector to be erased after merge")
	}

	destSec, ok, lerr := OpenSector(lay, dest, 0x05, ModeRead)
	if lerr != nil || !ok {
		t.Fatalf("OpenSector dest: %v", lerr)
	}
	defer destSec.Close()

	found := false
	lerr = destSec.Traverse(mk, func(nodeOffset uint64, recordCount int, payload []byte) bool {
		found = true
		return false
	}, zap.NewNop())
	if lerr != nil {
		t.Fatalf("Traverse: %v", lerr)
	}
	if !found {
		t.Fatalf("expected merged record in destination table")
	}
}

func TestCollateVariableDedupesWithinSubkeyGroup(t *testing.T) {
	tab := variableTable("dbD", "purls")
	root := t.TempDir()
	lay := layout.New(root)
	if err := lay.CreateTableDir(tab.DB, tab.Name); err != nil {
		t.Fatalf("CreateTableDir: %v", err)
	}
	sec, ok, lerr := OpenSector(lay, tab, 0x20, ModeReadWrite)
	if lerr != nil || !ok {
		t.Fatalf("OpenSector: %v", lerr)
	}
	mk := mainKeyBytes(0x20, 2, 2, 2)

	p1 := buildVariablePayload(tab, 5)
	p2 := buildVariablePayload(tab, 5) // identical subkey+data
	if _, lerr := sec.AppendNode(mk, p1, 0, zap.NewNop()); lerr != nil {
		t.Fatalf("AppendNode: %v", lerr)
	}
	if _, lerr := sec.AppendNode(mk, p2, 0, zap.NewNop()); lerr != nil {
		t.Fatalf("AppendNode: %v", lerr)
	}
	sec.Close()

	counters := &Counters{}
	lerr = CollateSector(lay, tab, tab, 0x20, CollateDedup, nil, CollateOptions{Counters: counters, Logger: zap.NewNop()})
	if lerr != nil {
		t.Fatalf("CollateSector: %v", lerr)
	}
	if counters.Snapshot().Duplicated != 1 {
		t.Fatalf("duplicated = %d, want 1", counters.Snapshot().Duplicated)
	}
}
