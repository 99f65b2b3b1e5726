// Recordset fetch: given a main key, traverse its node list and hand
// each constituent record to a caller-supplied handler, or expose the
// same records as a lazy iter.Seq for range-over-func callers.
package store

import (
	"bytes"
	"iter"

	"go.uber.org/zap"

	"github.com/scanoss/ldbgo/internal/bytesconv"
	"github.com/scanoss/ldbgo/internal/layout"
)

// Record is one fetched record: for fixed-record tables, RecordIndex
// counts records within a node, Subkey is the leading SubkeyLen()
// bytes of the stored record and Data is the rest of it (the subkey is
// not repeated in Data); for variable-record tables, Subkey is the subkey of
// the group Data was read from.
type Record struct {
	NodeOffset  uint64
	RecordIndex int
	Subkey      []byte
	Data        []byte
}

// RecordHandler receives one record. Returning done=true stops fetch
// early.
type RecordHandler func(rec Record) (done bool)

// FetchOptions configures Fetch/Iterate.
type FetchOptions struct {
	// MatchSubkey, when non-empty, restricts a variable-record fetch
	// to groups whose subkey equals it; a zero length disables
	// filtering.
	MatchSubkey []byte
	Logger      *zap.Logger
	Counters    *Counters
}

// Fetch opens the sector for mainKey's first byte read-only and
// streams every record in the list to handler. A missing sector yields
// no records and no error.
func Fetch(lay *layout.Layout, t Table, key []byte, opts FetchOptions, handler RecordHandler) *Error {
	mainKey := MainKey(key)
	sec, ok, lerr := OpenSector(lay, t, SectorByte(mainKey), ModeRead)
	if lerr != nil {
		return lerr
	}
	if !ok {
		return nil
	}
	defer sec.Close()
	return FetchFromSector(sec, mainKey, opts, handler)
}

// FetchFromSector is Fetch against an already-open sector, letting
// callers reuse one open sector across many keys.
func FetchFromSector(sec *Sector, mainKey [MainKeyLen]byte, opts FetchOptions, handler RecordHandler) *Error {
	t := sec.Table
	stop := false
	lerr := sec.Traverse(mainKey, func(nodeOffset uint64, recordCount int, payload []byte) bool {
		if !ValidateNode(t, payload) {
			if opts.Logger != nil {
				opts.Logger.Warn("dropping structurally invalid node", zap.String("sector", sec.Path), zap.Uint64("offset", nodeOffset))
			}
			if opts.Counters != nil {
				opts.Counters.AddIgnored(1)
			}
			return false
		}

		if t.Cfg.Variable() {
			stop = emitVariableNode(t, nodeOffset, payload, opts, handler)
		} else {
			stop = emitFixedNode(t, nodeOffset, payload, opts, handler)
		}
		return stop
	}, opts.Logger)
	return lerr
}

func emitFixedNode(t Table, nodeOffset uint64, payload []byte, opts FetchOptions, handler RecordHandler) bool {
	width := t.FixedRecordWidth()
	subLen := t.SubkeyLen()
	count := len(payload) / width
	for i := 0; i < count; i++ {
		rec := payload[i*width : (i+1)*width]
		subkey := rec[:subLen]
		if len(opts.MatchSubkey) > 0 && !bytes.Equal(subkey, opts.MatchSubkey) {
			continue
		}
		if opts.Counters != nil {
			opts.Counters.AddRead(1)
		}
		if handler(Record{NodeOffset: nodeOffset, RecordIndex: i, Subkey: subkey, Data: rec[subLen:]}) {
			return true
		}
	}
	return false
}

func emitVariableNode(t Table, nodeOffset uint64, payload []byte, opts FetchOptions, handler RecordHandler) bool {
	subkeyLen := t.SubkeyLen()
	pos := 0
	recordIndex := 0
	for pos < len(payload) {
		subkey := payload[pos : pos+subkeyLen]
		pos += subkeyLen
		groupSize, _ := bytesconv.U16(payload[pos : pos+bytesconv.U16Width])
		pos += bytesconv.U16Width
		groupEnd := pos + int(groupSize)
		group := payload[pos:groupEnd]
		pos = groupEnd

		if len(opts.MatchSubkey) > 0 && !bytes.Equal(subkey, opts.MatchSubkey) {
			recordIndex += countGroupRecords(group)
			continue
		}

		gp := 0
		for gp < len(group) {
			recLen, _ := bytesconv.U16(group[gp : gp+bytesconv.U16Width])
			gp += bytesconv.U16Width
			data := group[gp : gp+int(recLen)]
			gp += int(recLen)

			if opts.Counters != nil {
				opts.Counters.AddRead(1)
			}
			if handler(Record{NodeOffset: nodeOffset, RecordIndex: recordIndex, Subkey: subkey, Data: data}) {
				return true
			}
			recordIndex++
		}
	}
	return false
}

func countGroupRecords(group []byte) int {
	n := 0
	gp := 0
	for gp < len(group) {
		recLen, err := bytesconv.U16(group[gp : gp+bytesconv.U16Width])
		if err != nil {
			break
		}
		gp += bytesconv.U16Width + int(recLen)
		n++
	}
	return n
}

// Iterate exposes the same records as Fetch through a lazy iter.Seq,
// for callers that prefer range-over-func to a callback.
func Iterate(lay *layout.Layout, t Table, key []byte, opts FetchOptions) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		_ = Fetch(lay, t, key, opts, func(rec Record) bool {
			return !yield(rec)
		})
	}
}
