// Node I/O: append-and-link, list traversal, node and subkey-group
// validation, and the self-healing recovery of a broken `last`
// pointer — self-heal firing is logged as a warning rather than
// treated as a hard failure.
package store

import (
	"go.uber.org/zap"

	"github.com/scanoss/ldbgo/internal/bytesconv"
	"github.com/scanoss/ldbgo/internal/layout"
)

// MaxNodeLen is the hard cap on a node's payload length: 65535 bytes,
// independent of the configured node length field width.
const MaxNodeLen = 65535

func headerSize(t Table) int {
	n := bytesconv.U40Width + t.NodeLenWidth
	if !t.Cfg.Variable() {
		n += bytesconv.U16Width
	}
	return n
}

func putLength(buf []byte, width int, v uint32) {
	if width == 4 {
		bytesconv.PutU32(buf, v)
		return
	}
	bytesconv.PutU16(buf, uint16(v))
}

func getLength(buf []byte, width int) (uint32, error) {
	if width == 4 {
		return bytesconv.U32(buf)
	}
	v, err := bytesconv.U16(buf)
	return uint32(v), err
}

func u40bytes(v uint64) []byte {
	b := make([]byte, bytesconv.U40Width)
	bytesconv.PutU40(b, v)
	return b
}

// AppendNode appends payload as a new node for mainKey and links it
// into the key's list. recordCount is only meaningful (and only
// written) for fixed-record tables.
func (s *Sector) AppendNode(mainKey [MainKeyLen]byte, payload []byte, recordCount int, logger *zap.Logger) (uint64, *Error) {
	if len(payload) > MaxNodeLen {
		return 0, Errorf(KindSizeExceeded, "E060", "node payload %d exceeds cap %d", len(payload), MaxNodeLen)
	}
	if s.ReadOnly {
		return 0, Errorf(KindIoFailure, "E063", "sector %s is not open for writing", s.Path)
	}

	hsz := headerSize(s.Table)

	off, err := s.end()
	if err != nil {
		return 0, Wrap(KindIoFailure, "E074", err, "cannot seek to end of sector %s", s.Path)
	}
	if off < MapSize {
		return 0, Errorf(KindBadFormat, "E054", "sector %s is smaller than the map (%d < %d)", s.Path, off, MapSize)
	}

	header := make([]byte, hsz)
	// next=0 is left as zero bytes; patched in when a later node is
	// appended to the same list.
	putLength(header[bytesconv.U40Width:], s.Table.NodeLenWidth, uint32(len(payload)))
	if !s.Table.Cfg.Variable() {
		bytesconv.PutU16(header[bytesconv.U40Width+s.Table.NodeLenWidth:], uint16(recordCount))
	}

	if err := s.writeAt(header, off); err != nil {
		return 0, Wrap(KindIoFailure, "E074", err, "cannot write node header in %s", s.Path)
	}
	if err := s.writeAt(payload, off+int64(hsz)); err != nil {
		return 0, Wrap(KindIoFailure, "E074", err, "cannot write node payload in %s", s.Path)
	}

	if lerr := s.linkNode(mainKey, uint64(off), logger); lerr != nil {
		return 0, lerr
	}
	return uint64(off), nil
}

// linkNode updates the map/list-head so the new node at offset becomes
// the list's tail.
func (s *Sector) linkNode(mainKey [MainKeyLen]byte, offset uint64, logger *zap.Logger) *Error {
	head, lerr := s.readMapSlot(mainKey)
	if lerr != nil {
		return lerr
	}

	if head == 0 {
		headOffset, err := s.end()
		if err != nil {
			return Wrap(KindIoFailure, "E074", err, "cannot seek to end of sector %s", s.Path)
		}
		headBuf := make([]byte, 2*bytesconv.U40Width)
		bytesconv.PutU40(headBuf[:bytesconv.U40Width], offset)
		bytesconv.PutU40(headBuf[bytesconv.U40Width:], offset)
		if err := s.writeAt(headBuf, headOffset); err != nil {
			return Wrap(KindIoFailure, "E074", err, "cannot write list head in %s", s.Path)
		}
		return s.writeMapSlot(mainKey, uint64(headOffset))
	}

	lastBuf, err := readExact(s.src, int64(head)+bytesconv.U40Width, bytesconv.U40Width)
	if err != nil {
		return Wrap(KindIoFailure, "E056", err, "cannot read list head at %d", head)
	}
	last, _ := bytesconv.U40(lastBuf)

	if last < MapSize {
		if logger != nil {
			logger.Warn("self-healing broken list: last-node pointer missing, walking chain",
				zap.String("sector", s.Path), zap.Uint64("head", head))
		}
		firstBuf, err := readExact(s.src, int64(head), bytesconv.U40Width)
		if err != nil {
			return Wrap(KindIoFailure, "E056", err, "cannot read list head first-pointer at %d", head)
		}
		first, _ := bytesconv.U40(firstBuf)
		recovered, lerr := s.recoverLastNode(first)
		if lerr != nil {
			return lerr
		}
		last = recovered
		if err := s.writeAt(u40bytes(last), int64(head)+bytesconv.U40Width); err != nil {
			return Wrap(KindIoFailure, "E074", err, "cannot rewrite recovered last-node pointer")
		}
	}

	if err := s.writeAt(u40bytes(offset), int64(last)); err != nil {
		return Wrap(KindIoFailure, "E074", err, "cannot patch previous tail node's next pointer")
	}
	if err := s.writeAt(u40bytes(offset), int64(head)+bytesconv.U40Width); err != nil {
		return Wrap(KindIoFailure, "E074", err, "cannot update list head's last pointer")
	}
	return nil
}

// recoverLastNode walks the chain from first following next pointers
// until it finds the tail.
func (s *Sector) recoverLastNode(first uint64) (uint64, *Error) {
	current := first
	for {
		nextBuf, err := readExact(s.src, int64(current), bytesconv.U40Width)
		if err != nil {
			return 0, Wrap(KindIoFailure, "E056", err, "cannot walk list during self-heal at %d", current)
		}
		next, _ := bytesconv.U40(nextBuf)
		if next == 0 {
			return current, nil
		}
		current = next
	}
}

// UnlinkList opens (if present) the sector for key's first byte and
// zeroes key's main-key map slot, detaching its node list without
// touching the sector's size. A key whose sector doesn't exist (and
// therefore can't have a list) is a no-op.
func UnlinkList(lay *layout.Layout, t Table, key []byte) *Error {
	mainKey := MainKey(key)
	fb := SectorByte(mainKey)
	if !layout.FileExists(lay.SectorPath(t.DB, t.Name, fb, false)) {
		return nil
	}
	sec, ok, lerr := OpenSector(lay, t, fb, ModeReadWrite)
	if lerr != nil {
		return lerr
	}
	if !ok {
		return nil
	}
	defer sec.Close()
	return sec.UnlinkList(mainKey)
}

// NodeHandler receives one node's metadata and payload during
// traversal. Returning done=true stops the traversal early.
type NodeHandler func(nodeOffset uint64, recordCount int, payload []byte) (done bool)

// Traverse walks the list for mainKey, yielding each node's
// (recordCount, payload) to handler. A node whose declared length
// cannot be fully read is logged and skipped; an I/O failure reading
// the header itself aborts the sector.
func (s *Sector) Traverse(mainKey [MainKeyLen]byte, handler NodeHandler, logger *zap.Logger) *Error {
	head, lerr := s.readMapSlot(mainKey)
	if lerr != nil {
		return lerr
	}
	if head == 0 {
		return nil
	}

	firstBuf, err := readExact(s.src, int64(head), bytesconv.U40Width)
	if err != nil {
		return Wrap(KindIoFailure, "E056", err, "cannot read list head at %d", head)
	}
	current, _ := bytesconv.U40(firstBuf)

	hsz := headerSize(s.Table)
	for current != 0 {
		hdr, err := readExact(s.src, int64(current), hsz)
		if err != nil {
			return Wrap(KindIoFailure, "E056", err, "cannot read node header at %d in %s", current, s.Path)
		}
		next, _ := bytesconv.U40(hdr[:bytesconv.U40Width])
		length, lenErr := getLength(hdr[bytesconv.U40Width:], s.Table.NodeLenWidth)
		if lenErr != nil || length > MaxNodeLen {
			if logger != nil {
				logger.Warn("skipping node with implausible length", zap.String("sector", s.Path), zap.Uint64("offset", current))
			}
			current = next
			continue
		}
		recCount := 0
		if !s.Table.Cfg.Variable() {
			rc, _ := bytesconv.U16(hdr[bytesconv.U40Width+s.Table.NodeLenWidth:])
			recCount = int(rc)
		}

		payload, err := readExact(s.src, int64(current)+int64(hsz), int(length))
		if err != nil {
			if logger != nil {
				logger.Warn("skipping node with unreadable payload", zap.String("sector", s.Path), zap.Uint64("offset", current), zap.Error(err))
			}
			current = next
			continue
		}

		if handler(current, recCount, payload) {
			return nil
		}
		current = next
	}
	return nil
}

// ValidateNode checks a node payload's internal structure. For
// variable-record tables it walks the subkey group chain and requires
// the cumulative size to equal the payload length exactly. For
// fixed-record tables, corruption is detectable only by the payload
// length not being a multiple of the per-record width (subkey + data).
func ValidateNode(t Table, payload []byte) bool {
	if !t.Cfg.Variable() {
		width := t.FixedRecordWidth()
		return width > 0 && len(payload)%width == 0
	}

	subkeyLen := t.SubkeyLen()
	pos := 0
	for pos < len(payload) {
		if pos+subkeyLen+bytesconv.U16Width > len(payload) {
			return false
		}
		pos += subkeyLen
		groupSize, err := bytesconv.U16(payload[pos : pos+bytesconv.U16Width])
		if err != nil {
			return false
		}
		pos += bytesconv.U16Width
		if pos+int(groupSize) > len(payload) {
			return false
		}
		pos += int(groupSize)
	}
	return pos == len(payload)
}
