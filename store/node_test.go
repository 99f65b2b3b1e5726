package store

import (
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/scanoss/ldbgo/internal/bytesconv"
	"github.com/scanoss/ldbgo/internal/config"
	"github.com/scanoss/ldbgo/internal/layout"
)

func fixedTable(db, name string) Table {
	return NewTable(db, name, config.TableConfig{KeyLen: 20, RecLen: 18, Keys: 1, Flags: config.Standard})
}

func variableTable(db, name string) Table {
	return NewTable(db, name, config.TableConfig{KeyLen: 20, RecLen: 0, Keys: 1, Flags: config.Standard})
}

func openWritableSector(t *testing.T, tab Table) (*layout.Layout, *Sector) {
	t.Helper()
	root := t.TempDir()
	lay := layout.New(root)
	if err := lay.CreateTableDir(tab.DB, tab.Name); err != nil {
		t.Fatalf("CreateTableDir: %v", err)
	}
	sec, ok, lerr := OpenSector(lay, tab, 0xAB, ModeReadWrite)
	if lerr != nil || !ok {
		t.Fatalf("OpenSector: ok=%v err=%v", ok, lerr)
	}
	t.Cleanup(func() { sec.Close() })
	return lay, sec
}

func mainKeyBytes(b0, b1, b2, b3 byte) [MainKeyLen]byte {
	return [MainKeyLen]byte{b0, b1, b2, b3}
}

func TestAppendNodeSingle(t *testing.T) {
	tab := fixedTable("dbA", "files")
	_, sec := openWritableSector(t, tab)

	mk := mainKeyBytes(0xAB, 0x01, 0x02, 0x03)
	payload := make([]byte, tab.FixedRecordWidth())
	off, lerr := sec.AppendNode(mk, payload, 1, zap.NewNop())
	if lerr != nil {
		t.Fatalf("AppendNode: %v", lerr)
	}
	if off < MapSize {
		t.Fatalf("node offset %d should be >= map size %d", off, MapSize)
	}

	var gotPayload []byte
	var gotCount int
	lerr = sec.Traverse(mk, func(nodeOffset uint64, recordCount int, payload []byte) bool {
		gotPayload = payload
		gotCount = recordCount
		return false
	}, zap.NewNop())
	if lerr != nil {
		t.Fatalf("Traverse: %v", lerr)
	}
	if gotCount != 1 {
		t.Fatalf("record count = %d, want 1", gotCount)
	}
	if len(gotPayload) != tab.FixedRecordWidth() {
		t.Fatalf("payload length = %d, want %d", len(gotPayload), tab.FixedRecordWidth())
	}
}

func TestAppendNodeChain(t *testing.T) {
	tab := variableTable("dbA", "purls")
	_, sec := openWritableSector(t, tab)
	mk := mainKeyBytes(0xAB, 0x10, 0x20, 0x30)

	var offsets []uint64
	for i := 0; i < 5; i++ {
		payload := buildVariablePayload(tab, byte(i))
		off, lerr := sec.AppendNode(mk, payload, 0, zap.NewNop())
		if lerr != nil {
			t.Fatalf("AppendNode #%d: %v", i, lerr)
		}
		offsets = append(offsets, off)
	}

	var seen []uint64
	lerr := sec.Traverse(mk, func(nodeOffset uint64, recordCount int, payload []byte) bool {
		seen = append(seen, nodeOffset)
		return false
	}, zap.NewNop())
	if lerr != nil {
		t.Fatalf("Traverse: %v", lerr)
	}
	if len(seen) != len(offsets) {
		t.Fatalf("traversed %d nodes, want %d", len(seen), len(offsets))
	}
	for i := range offsets {
		if seen[i] != offsets[i] {
			t.Fatalf("node %d offset = %d, want %d", i, seen[i], offsets[i])
		}
	}
}

func TestAppendNodeStopsOnHandlerDone(t *testing.T) {
	tab := fixedTable("dbA", "files")
	_, sec := openWritableSector(t, tab)
	mk := mainKeyBytes(0xAB, 0x01, 0x02, 0x03)

	for i := 0; i < 3; i++ {
		if _, lerr := sec.AppendNode(mk, make([]byte, tab.FixedRecordWidth()), 1, zap.NewNop()); lerr != nil {
			t.Fatalf("AppendNode: %v", lerr)
		}
	}

	count := 0
	lerr := sec.Traverse(mk, func(nodeOffset uint64, recordCount int, payload []byte) bool {
		count++
		return true
	}, zap.NewNop())
	if lerr != nil {
		t.Fatalf("Traverse: %v", lerr)
	}
	if count != 1 {
		t.Fatalf("handler invoked %d times, want 1 (early stop)", count)
	}
}

func TestSelfHealBrokenLastPointer(t *testing.T) {
	tab := fixedTable("dbA", "files")
	lay, sec := openWritableSector(t, tab)
	mk := mainKeyBytes(0xAB, 0x01, 0x02, 0x03)

	var last uint64
	for i := 0; i < 3; i++ {
		off, lerr := sec.AppendNode(mk, make([]byte, tab.FixedRecordWidth()), 1, zap.NewNop())
		if lerr != nil {
			t.Fatalf("AppendNode: %v", lerr)
		}
		last = off
	}

	head, lerr := sec.readMapSlot(mk)
	if lerr != nil {
		t.Fatalf("readMapSlot: %v", lerr)
	}
	// Corrupt the list head's `last` pointer to simulate a crash before
	// the pointer patch completed.
	zeroBuf := make([]byte, bytesconv.U40Width)
	if err := sec.writeAt(zeroBuf, int64(head)+bytesconv.U40Width); err != nil {
		t.Fatalf("corrupt last pointer: %v", err)
	}
	sec.Close()

	path := lay.SectorPath(tab.DB, tab.Name, 0xAB, false)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("sector file missing: %v", err)
	}
	sec2, ok, lerr := OpenSector(lay, tab, 0xAB, ModeReadWrite)
	if lerr != nil || !ok {
		t.Fatalf("reopen sector: ok=%v err=%v", ok, lerr)
	}
	defer sec2.Close()

	off, lerr := sec2.AppendNode(mk, make([]byte, tab.FixedRecordWidth()), 1, zap.NewNop())
	if lerr != nil {
		t.Fatalf("AppendNode after corruption: %v", lerr)
	}

	nextBuf, err := readExact(sec2.Source(), int64(last), bytesconv.U40Width)
	if err != nil {
		t.Fatalf("read recovered previous-tail next: %v", err)
	}
	next, _ := bytesconv.U40(nextBuf)
	if next != off {
		t.Fatalf("previous tail's next = %d, want %d (self-heal should find the true tail)", next, off)
	}
}

func TestValidateNodeFixed(t *testing.T) {
	tab := fixedTable("dbA", "files")
	ok := ValidateNode(tab, make([]byte, tab.FixedRecordWidth()*3))
	if !ok {
		t.Fatalf("expected valid fixed-record payload")
	}
	if ValidateNode(tab, make([]byte, tab.FixedRecordWidth()+1)) {
		t.Fatalf("expected invalid fixed-record payload (length not a multiple of record width)")
	}
}

func TestValidateNodeVariable(t *testing.T) {
	tab := variableTable("dbA", "purls")
	payload := buildVariablePayload(tab, 1)
	if !ValidateNode(tab, payload) {
		t.Fatalf("expected valid variable-record payload")
	}
	if ValidateNode(tab, payload[:len(payload)-1]) {
		t.Fatalf("expected truncated variable-record payload to be invalid")
	}
}

// buildVariablePayload constructs one subkey group with a single record,
// matching the variable-record wire format.
func buildVariablePayload(tab Table, fill byte) []byte {
	subkey := make([]byte, tab.SubkeyLen())
	for i := range subkey {
		subkey[i] = fill
	}
	record := []byte{fill, fill, fill}
	recHeader := make([]byte, bytesconv.U16Width)
	bytesconv.PutU16(recHeader, uint16(len(record)))
	group := append(recHeader, record...)

	groupHeader := make([]byte, bytesconv.U16Width)
	bytesconv.PutU16(groupHeader, uint16(len(group)))

	out := make([]byte, 0, len(subkey)+len(groupHeader)+len(group))
	out = append(out, subkey...)
	out = append(out, groupHeader...)
	out = append(out, group...)
	return out
}

func TestAppendNodeRejectsOversized(t *testing.T) {
	tab := variableTable("dbA", "purls")
	_, sec := openWritableSector(t, tab)
	mk := mainKeyBytes(0xAB, 0, 0, 0)
	_, lerr := sec.AppendNode(mk, make([]byte, MaxNodeLen+1), 0, zap.NewNop())
	if lerr == nil || lerr.Kind != KindSizeExceeded {
		t.Fatalf("expected SizeExceeded, got %v", lerr)
	}
}

func TestAppendNodeReadOnlyRejected(t *testing.T) {
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
	sec.Close()

	roSec, ok, lerr := OpenSector(lay, tab, 0xAB, ModeRead)
	if lerr != nil || !ok {
		t.Fatalf("OpenSector(ModeRead): %v", lerr)
	}
	defer roSec.Close()

	_, lerr = roSec.AppendNode(mainKeyBytes(0xAB, 0, 0, 0), make([]byte, tab.FixedRecordWidth()), 1, nil)
	if lerr == nil {
		t.Fatalf("expected error appending to a read-only sector")
	}
}
