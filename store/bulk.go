// Bulk write API: the contract consumed by an importer — append one
// fixed or one variable record at a time, with the engine responsible
// for buffering by main key and flushing nodes at the right boundary —
// plus a worker-pool driver over disjoint sector partitions.
package store

import (
	"bytes"
	"context"
	"crypto/md5"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scanoss/ldbgo/internal/bytesconv"
	"github.com/scanoss/ldbgo/internal/layout"
)

var emptyMD5 = md5.Sum(nil)

// IsReservedKey reports whether key is one of the two sentinel values
// the engine refuses to store: all-zero, or the MD5 hash of the empty
// string.
func IsReservedKey(key []byte) bool {
	allZero := true
	for _, b := range key {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return true
	}
	return len(key) == len(emptyMD5) && bytes.Equal(key, emptyMD5[:])
}

func toError(lerr *Error) error {
	if lerr == nil {
		return nil
	}
	return lerr
}

// BulkWriter buffers records for one table by main key and flushes a
// node whenever the key changes or the node cap would be exceeded. It
// is not safe for concurrent use by multiple goroutines; BulkImporter
// gives each worker its own BulkWriter over a disjoint sector partition
// instead.
type BulkWriter struct {
	lay      *layout.Layout
	table    Table
	logger   *zap.Logger
	counters *Counters

	sec         *Sector
	sectorByte  byte
	haveSector  bool
	mainKey     [MainKeyLen]byte
	haveMainKey bool
	buf         []collateRow
	bufBytes    int
}

// NewBulkWriter returns a writer for t. logger/counters may be nil.
func NewBulkWriter(lay *layout.Layout, t Table, logger *zap.Logger, counters *Counters) *BulkWriter {
	return &BulkWriter{lay: lay, table: t, logger: logger, counters: counters}
}

// AppendFixed appends one fixed-length record. len(data) must equal
// the table's configured rec_ln.
func (w *BulkWriter) AppendFixed(key, data []byte) *Error {
	if w.table.Cfg.Variable() {
		return Errorf(KindBadConfig, "E076", "table %s is variable-record, not fixed", w.table.Name)
	}
	if len(data) != w.table.Cfg.RecLen {
		return Errorf(KindBadFormat, "E076", "fixed record length %d does not match rec_ln %d", len(data), w.table.Cfg.RecLen)
	}
	return w.append(key, data)
}

// AppendVariable appends one variable-length record.
func (w *BulkWriter) AppendVariable(key, data []byte) *Error {
	if !w.table.Cfg.Variable() {
		return Errorf(KindBadConfig, "E076", "table %s is fixed-record, not variable", w.table.Name)
	}
	if len(data) > MaxNodeLen {
		return Errorf(KindSizeExceeded, "E060", "record of %d bytes exceeds node cap %d", len(data), MaxNodeLen)
	}
	return w.append(key, data)
}

func (w *BulkWriter) append(key, data []byte) *Error {
	if IsReservedKey(key) {
		if w.counters != nil {
			w.counters.AddIgnored(1)
		}
		if w.logger != nil {
			w.logger.Warn("rejecting reserved key", zap.String("table", w.table.Name))
		}
		return nil
	}

	mainKey := MainKey(key)
	subkey := Subkey(key)

	if w.haveMainKey && mainKey != w.mainKey {
		if lerr := w.flushBuffer(); lerr != nil {
			return lerr
		}
	}
	w.mainKey = mainKey
	w.haveMainKey = true

	fb := SectorByte(mainKey)
	if !w.haveSector || w.sectorByte != fb {
		if w.haveSector {
			if lerr := w.flushBuffer(); lerr != nil {
				return lerr
			}
			if err := w.sec.Close(); err != nil {
				return Wrap(KindIoFailure, "E074", err, "cannot close sector for %s", w.table.Name)
			}
		}
		sec, ok, lerr := OpenSector(w.lay, w.table, fb, ModeReadWrite)
		if lerr != nil {
			return lerr
		}
		if !ok {
			return Errorf(KindIoFailure, "E065", "cannot open sector for %s/%s", w.table.DB, w.table.Name)
		}
		w.sec = sec
		w.sectorByte = fb
		w.haveSector = true
	}

	if w.table.Cfg.Variable() {
		subkeyLen := w.table.SubkeyLen()
		sameSubkey := len(w.buf) > 0 && bytes.Equal(w.buf[len(w.buf)-1].subkey, subkey)
		additional := bytesconv.U16Width + len(data)
		if !sameSubkey {
			additional += subkeyLen + bytesconv.U16Width
		}
		if len(w.buf) > 0 && w.bufBytes+additional > MaxNodeLen {
			if lerr := w.flushNode(); lerr != nil {
				return lerr
			}
			additional = subkeyLen + bytesconv.U16Width + bytesconv.U16Width + len(data)
		}
		w.bufBytes += additional
	} else {
		maxPerNode := MaxNodeLen / w.table.FixedRecordWidth()
		if len(w.buf) >= maxPerNode {
			if lerr := w.flushNode(); lerr != nil {
				return lerr
			}
		}
	}

	w.buf = append(w.buf, collateRow{subkey: append([]byte(nil), subkey...), data: append([]byte(nil), data...)})
	if w.counters != nil {
		w.counters.AddRead(1)
	}
	return nil
}

// flushBuffer flushes whatever is buffered for the current main key,
// regardless of node-cap bookkeeping (used on main-key or sector change).
func (w *BulkWriter) flushBuffer() *Error {
	return w.flushNode()
}

func (w *BulkWriter) flushNode() *Error {
	if len(w.buf) == 0 {
		return nil
	}
	var lerr *Error
	if w.table.Cfg.Variable() {
		lerr = appendVariableNode(w.sec, w.mainKey, w.buf, w.logger)
	} else {
		lerr = appendFixedNode(w.sec, w.mainKey, w.buf, w.logger)
	}
	w.buf = w.buf[:0]
	w.bufBytes = 0
	return lerr
}

// Close flushes any buffered records and releases the open sector.
func (w *BulkWriter) Close() *Error {
	if lerr := w.flushBuffer(); lerr != nil {
		return lerr
	}
	if w.haveSector {
		if err := w.sec.Close(); err != nil {
			return Wrap(KindIoFailure, "E074", err, "cannot close sector for %s", w.table.Name)
		}
	}
	return nil
}

func appendFixedNode(sec *Sector, mainKey [MainKeyLen]byte, rows []collateRow, logger *zap.Logger) *Error {
	width := sec.Table.FixedRecordWidth()
	payload := make([]byte, 0, width*len(rows))
	for _, r := range rows {
		payload = append(payload, r.subkey...)
		payload = append(payload, r.data...)
	}
	_, lerr := sec.AppendNode(mainKey, payload, len(rows), logger)
	return lerr
}

func appendVariableNode(sec *Sector, mainKey [MainKeyLen]byte, rows []collateRow, logger *zap.Logger) *Error {
	var node []byte
	i := 0
	for i < len(rows) {
		j := i + 1
		for j < len(rows) && bytes.Equal(rows[j].subkey, rows[i].subkey) {
			j++
		}
		group := rows[i:j]
		var gbuf []byte
		for _, r := range group {
			entry := make([]byte, bytesconv.U16Width+len(r.data))
			bytesconv.PutU16(entry, uint16(len(r.data)))
			copy(entry[bytesconv.U16Width:], r.data)
			gbuf = append(gbuf, entry...)
		}
		header := make([]byte, bytesconv.U16Width)
		bytesconv.PutU16(header, uint16(len(gbuf)))
		node = append(node, group[0].subkey...)
		node = append(node, header...)
		node = append(node, gbuf...)
		i = j
	}
	if len(node) > MaxNodeLen {
		return Errorf(KindSizeExceeded, "E060", "accumulated node of %d bytes exceeds cap %d", len(node), MaxNodeLen)
	}
	_, lerr := sec.AppendNode(mainKey, node, 0, logger)
	return lerr
}

// BulkRecord is one record an importer wants inserted.
type BulkRecord struct {
	Key  []byte
	Data []byte
}

// BulkImporter partitions a batch of records by sector (main key's
// first byte) and imports each disjoint partition on its own goroutine:
// since each sector is a separate file, disjoint partitions do not
// collide.
type BulkImporter struct {
	lay      *layout.Layout
	table    Table
	logger   *zap.Logger
	counters *Counters
}

// NewBulkImporter returns an importer for t.
func NewBulkImporter(lay *layout.Layout, t Table, logger *zap.Logger, counters *Counters) *BulkImporter {
	return &BulkImporter{lay: lay, table: t, logger: logger, counters: counters}
}

// ImportPartitioned imports records concurrently, using up to workers
// goroutines each owning a disjoint set of sector first-bytes. It
// honors ctx cancellation between records, joining the pool on cancel.
func (imp *BulkImporter) ImportPartitioned(ctx context.Context, records []BulkRecord, workers int) error {
	if workers < 1 {
		workers = 1
	}

	byFirstByte := make(map[byte][]BulkRecord)
	var order []byte
	for _, r := range records {
		fb := SectorByte(MainKey(r.Key))
		if _, ok := byFirstByte[fb]; !ok {
			order = append(order, fb)
		}
		byFirstByte[fb] = append(byFirstByte[fb], r)
	}

	chunks := partitionBytes(order, workers)
	g, gctx := errgroup.WithContext(ctx)
	for _, chunk := range chunks {
		chunk := chunk
		if len(chunk) == 0 {
			continue
		}
		g.Go(func() error {
			w := NewBulkWriter(imp.lay, imp.table, imp.logger, imp.counters)
			for _, fb := range chunk {
				for _, rec := range byFirstByte[fb] {
					select {
					case <-gctx.Done():
						return gctx.Err()
					default:
					}
					var lerr *Error
					if imp.table.Cfg.Variable() {
						lerr = w.AppendVariable(rec.Key, rec.Data)
					} else {
						lerr = w.AppendFixed(rec.Key, rec.Data)
					}
					if lerr != nil {
						return lerr
					}
				}
			}
			return toError(w.Close())
		})
	}
	return g.Wait()
}

// partitionBytes splits bs into at most workers near-equal contiguous
// chunks.
func partitionBytes(bs []byte, workers int) [][]byte {
	if len(bs) == 0 {
		return nil
	}
	if workers > len(bs) {
		workers = len(bs)
	}
	chunks := make([][]byte, 0, workers)
	base := len(bs) / workers
	rem := len(bs) % workers
	idx := 0
	for i := 0; i < workers; i++ {
		size := base
		if i < rem {
			size++
		}
		chunks = append(chunks, bs[idx:idx+size])
		idx += size
	}
	return chunks
}
