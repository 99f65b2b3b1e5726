// Collate engine: rewrites a table's sectors into a deduplicated,
// sorted, optionally delete-filtered form. Because a sector's map slot
// index directly encodes main-key bytes 1..3, iterating slots in index
// order visits each main key exactly once (in slot-index order, where
// key byte 3 is the most significant) and delivers a natural
// "main-key transition" at every slot — so each non-empty
// slot's records are accumulated, sorted and flushed as one unit,
// rather than watching for key changes in a continuous stream.
package store

import (
	"bytes"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/scanoss/ldbgo/internal/bytesconv"
	"github.com/scanoss/ldbgo/internal/config"
	"github.com/scanoss/ldbgo/internal/layout"
)

// LDBMaxRecords is the compile-time cap on records accumulated across
// one collate pass.
const LDBMaxRecords = 500_000

// defaultMaxRAMBytes bounds how large an on-disk sector collation will
// load into memory before it is skipped. There is no portable,
// dependency-free way to query actual free system RAM from Go without
// cgo or an OS-specific third-party package, so this is a
// caller-configurable byte budget rather than a live RAM query.
const defaultMaxRAMBytes = int64(2) << 30

// CollateMode selects how CollateSector/CollateTable treat records.
type CollateMode int

const (
	// CollateDedup rewrites a table's own sectors, dropping duplicates.
	CollateDedup CollateMode = iota
	// CollateMerge writes into a different destination table (which
	// must share key_ln/rec_ln) and erases the source sector after.
	CollateMerge
	// CollateDelete additionally drops any record matched by a DeleteSet.
	CollateDelete
)

// CollateOptions configures a collate/merge/delete pass.
type CollateOptions struct {
	// MaxRAMBytes bounds the on-disk size of a sector this pass will
	// load; sectors above the budget are skipped with a warning. Zero
	// selects defaultMaxRAMBytes.
	MaxRAMBytes int64
	// RecordBudget, if non-nil, is a shared counter decremented as
	// records are accumulated across every sector of one CollateTable
	// call; once it reaches zero, further records are dropped with a
	// diagnostic. A nil budget defaults to LDBMaxRecords scoped to the
	// single CollateSector call.
	RecordBudget *int64
	// CompareWidth truncates the subkey‖data sort comparison to this
	// many bytes; zero compares the full value. Duplicate detection
	// always compares whole records.
	CompareWidth int
	Decoder      Decoder
	Logger       *zap.Logger
	Counters     *Counters
}

func (o CollateOptions) maxRAM() int64 {
	if o.MaxRAMBytes > 0 {
		return o.MaxRAMBytes
	}
	return defaultMaxRAMBytes
}

type collateRow struct {
	subkey []byte
	data   []byte
}

// CollateTable drives CollateSector across all 256 sectors of src. For
// CollateDelete, sectors with no tuple in deleteSet sharing their first
// byte are skipped entirely.
func CollateTable(lay *layout.Layout, src, dest Table, mode CollateMode, deleteSet *DeleteSet, opts CollateOptions) *Error {
	budget := int64(LDBMaxRecords)
	if opts.RecordBudget == nil {
		opts.RecordBudget = &budget
	}

	for fb := 0; fb < 256; fb++ {
		firstByte := byte(fb)
		if mode == CollateDelete && deleteSet != nil && !deleteSet.HasFirstByte(firstByte) {
			continue
		}

		path := lay.SectorPath(src.DB, src.Name, firstByte, false)
		if !layout.FileExists(path) {
			continue
		}
		if info, err := os.Stat(path); err == nil && info.Size() > opts.maxRAM() {
			if opts.Logger != nil {
				opts.Logger.Warn("skipping sector: exceeds collate RAM budget",
					zap.String("path", path), zap.Int64("size", info.Size()), zap.Int64("budget", opts.maxRAM()))
			}
			continue
		}

		if lerr := CollateSector(lay, src, dest, firstByte, mode, deleteSet, opts); lerr != nil {
			return lerr
		}
	}
	return nil
}

// CollateSector runs one sector through the collate/merge/delete
// algorithm: load, accumulate+dedup per slot, sort, flush, commit.
func CollateSector(lay *layout.Layout, src, dest Table, firstByte byte, mode CollateMode, deleteSet *DeleteSet, opts CollateOptions) *Error {
	sec, ok, lerr := LoadSector(lay, src, firstByte)
	if lerr != nil {
		return lerr
	}
	if !ok {
		return nil
	}

	outSec, ok, lerr := OpenSector(lay, dest, firstByte, ModeWriteTruncate)
	if lerr != nil {
		return lerr
	}
	if !ok {
		return Errorf(KindIoFailure, "E065", "cannot create output sector for %s/%s", dest.DB, dest.Name)
	}
	defer outSec.Close()

	budget := opts.RecordBudget
	if budget == nil {
		local := int64(LDBMaxRecords)
		budget = &local
	}
	capWarned := false
	encrypted := src.Cfg.Flags.Has(config.Encrypted)

	var rows []collateRow
	for idx := 0; idx < MapSlots; idx++ {
		mainKey := mainKeyFromSlot(firstByte, idx)
		head, lerr := sec.readMapSlot(mainKey)
		if lerr != nil {
			return lerr
		}
		if head == 0 {
			continue
		}

		rows = rows[:0]
		var matchErr *Error
		lerr = FetchFromSector(sec, mainKey, FetchOptions{Logger: opts.Logger, Counters: opts.Counters}, func(rec Record) bool {
			if *budget <= 0 {
				if !capWarned && opts.Logger != nil {
					opts.Logger.Warn("collate record budget exhausted, dropping remaining records",
						zap.String("sector", sec.Path))
					capWarned = true
				}
				return false
			}

			if mode == CollateDelete && deleteSet != nil {
				full := append(append([]byte(nil), mainKey[:]...), rec.Subkey...)
				matched, lerr := deleteSet.Matches(full, rec.Data, opts.Decoder, encrypted, src.Cfg.Keys, src.Cfg.KeyLen)
				if lerr != nil {
					matchErr = lerr
					return true
				}
				if matched {
					if opts.Counters != nil {
						opts.Counters.AddDeleted(1)
					}
					return false
				}
			}

			rows = append(rows, collateRow{
				subkey: append([]byte(nil), rec.Subkey...),
				data:   append([]byte(nil), rec.Data...),
			})
			*budget--
			return false
		})
		if lerr != nil {
			return lerr
		}
		if matchErr != nil {
			return matchErr
		}
		if len(rows) == 0 {
			continue
		}

		sortRows(rows, opts.CompareWidth)
		if lerr := flushRows(outSec, dest, mainKey, rows, opts); lerr != nil {
			return lerr
		}
	}

	if lerr := CommitBuild(lay, dest, firstByte); lerr != nil {
		return lerr
	}
	if mode == CollateMerge {
		return CommitMerge(lay, src, firstByte)
	}
	return nil
}

func mainKeyFromSlot(firstByte byte, idx int) [MainKeyLen]byte {
	return [MainKeyLen]byte{
		firstByte,
		byte(idx & 0xff),
		byte((idx >> 8) & 0xff),
		byte((idx >> 16) & 0xff),
	}
}

func rowKey(r collateRow, width int) []byte {
	k := append(append([]byte(nil), r.subkey...), r.data...)
	if width > 0 && len(k) > width {
		k = k[:width]
	}
	return k
}

func sortRows(rows []collateRow, width int) {
	sort.Slice(rows, func(i, j int) bool {
		return bytes.Compare(rowKey(rows[i], width), rowKey(rows[j], width)) < 0
	})
}

// recordsEqualFromTail compares two equal-length byte slices starting
// from the last byte: a fast reject when records differ in their tail,
// e.g. content hashes whose prefix is often shared.
func recordsEqualFromTail(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func flushRows(sec *Sector, dest Table, mainKey [MainKeyLen]byte, rows []collateRow, opts CollateOptions) *Error {
	if dest.Cfg.Variable() {
		return flushVariableRows(sec, dest, mainKey, rows, opts)
	}
	return flushFixedRows(sec, dest, mainKey, rows, opts)
}

// flushFixedRows packs sorted, deduplicated fixed-width rows into as
// few nodes as fit under MaxNodeLen.
func flushFixedRows(sec *Sector, dest Table, mainKey [MainKeyLen]byte, rows []collateRow, opts CollateOptions) *Error {
	width := dest.FixedRecordWidth()
	if width <= 0 {
		return Errorf(KindBadConfig, "E076", "table %s has zero fixed record width", dest.Name)
	}
	maxPerNode := MaxNodeLen / width
	if maxPerNode == 0 {
		return Errorf(KindSizeExceeded, "E060", "fixed record width %d exceeds node cap", width)
	}

	var chunk []byte
	var prev []byte
	count := 0

	flush := func() *Error {
		if count == 0 {
			return nil
		}
		_, lerr := sec.AppendNode(mainKey, chunk, count, opts.Logger)
		chunk = nil
		count = 0
		prev = nil
		return lerr
	}

	for _, r := range rows {
		rec := make([]byte, 0, width)
		rec = append(rec, r.subkey...)
		rec = append(rec, r.data...)

		if prev != nil && recordsEqualFromTail(rec, prev) {
			if opts.Counters != nil {
				opts.Counters.AddDuplicated(1)
			}
			continue
		}
		prev = rec
		chunk = append(chunk, rec...)
		count++
		if count == maxPerNode {
			if lerr := flush(); lerr != nil {
				return lerr
			}
		}
	}
	return flush()
}

// flushVariableRows packs sorted, deduplicated variable rows into
// subkey groups and nodes, splitting a node when the next entry would
// exceed MaxNodeLen.
func flushVariableRows(sec *Sector, dest Table, mainKey [MainKeyLen]byte, rows []collateRow, opts CollateOptions) *Error {
	subkeyLen := dest.SubkeyLen()

	var node []byte
	var curSubkey []byte
	var curGroup []byte
	var prevData []byte

	finalizeGroup := func() {
		if curSubkey == nil {
			return
		}
		header := make([]byte, bytesconv.U16Width)
		bytesconv.PutU16(header, uint16(len(curGroup)))
		node = append(node, curSubkey...)
		node = append(node, header...)
		node = append(node, curGroup...)
		curGroup = nil
		curSubkey = nil
	}

	flushNode := func() *Error {
		finalizeGroup()
		if len(node) == 0 {
			return nil
		}
		_, lerr := sec.AppendNode(mainKey, node, 0, opts.Logger)
		node = nil
		return lerr
	}

	for _, r := range rows {
		sameSubkey := curSubkey != nil && bytes.Equal(r.subkey, curSubkey)
		if prevData != nil && recordsEqualFromTail(r.data, prevData) {
			if opts.Counters != nil {
				opts.Counters.AddDuplicated(1)
			}
			continue
		}

		entry := make([]byte, bytesconv.U16Width+len(r.data))
		bytesconv.PutU16(entry, uint16(len(r.data)))
		copy(entry[bytesconv.U16Width:], r.data)

		groupOverhead := 0
		if !sameSubkey {
			groupOverhead = subkeyLen + bytesconv.U16Width
		}
		projected := len(node) + len(curGroup) + groupOverhead + len(entry)
		if projected > MaxNodeLen && len(node) > 0 {
			if lerr := flushNode(); lerr != nil {
				return lerr
			}
			sameSubkey = false
		}

		if !sameSubkey {
			finalizeGroup()
			curSubkey = append([]byte(nil), r.subkey...)
		}
		curGroup = append(curGroup, entry...)
		prevData = r.data
	}
	return flushNode()
}
