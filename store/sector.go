// Sector I/O: opening, lazily creating, whole-sector loading, map-slot
// addressing and collated-sector commit.
package store

import (
	"fmt"
	"io"
	"os"

	"github.com/natefinch/atomic"
	"github.com/scanoss/ldbgo/internal/bytesconv"
	"github.com/scanoss/ldbgo/internal/layout"
)

// MapSlots is the number of 5-byte slots in a sector's map (2^24).
const MapSlots = 1 << 24

// MapSize is the byte size of a sector's fixed map.
const MapSize = MapSlots * bytesconv.U40Width

// Mode selects how OpenSector treats a missing or existing file.
type Mode int

const (
	// ModeRead opens an existing sector read-only. A missing sector
	// is reported via the ok=false return, not an error.
	ModeRead Mode = iota
	// ModeReadWrite opens (creating if absent) a sector for appends.
	ModeReadWrite
	// ModeWriteTruncate always starts from an empty map, discarding
	// any stale `.out` left by a previous crashed collation.
	ModeWriteTruncate
)

// Sector is an open handle (file- or memory-backed) to one sector file.
type Sector struct {
	Path      string
	Table     Table
	FirstByte byte
	ReadOnly  bool

	src Source
	f   *os.File // nil when loaded fully into memory (LoadSector)
}

func (s *Sector) Source() Source { return s.src }

// createEmptySector creates a zero-filled, map-sized sector file at
// path: a sector file is either absent, or has a size at least as
// large as the map. A sparse truncate is used rather than writing
// MapSize zero bytes — both read back as all-zero, and truncate avoids
// allocating 80MB per sector up front.
func createEmptySector(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	return f.Truncate(MapSize)
}

// OpenSector opens the sector file for table/firstByte under mode.
// ok=false (no error) means a ModeRead open found no sector on disk.
func OpenSector(lay *layout.Layout, t Table, firstByte byte, mode Mode) (sec *Sector, ok bool, lerr *Error) {
	out := mode == ModeWriteTruncate
	path := lay.SectorPath(t.DB, t.Name, firstByte, out)

	if out && layout.FileExists(path) {
		if err := os.Remove(path); err != nil {
			return nil, false, Wrap(KindIoFailure, "E074", err, "cannot remove stale %s", path)
		}
	}

	if mode == ModeRead {
		if !layout.FileExists(path) {
			return nil, false, nil
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, false, Wrap(KindIoFailure, "E063", err, "cannot open sector %s", path)
		}
		return wrapFileSector(path, t, firstByte, f, true), true, nil
	}

	if !layout.FileExists(path) {
		if err := createEmptySector(path); err != nil {
			return nil, false, Wrap(KindIoFailure, "E065", err, "cannot create sector %s", path)
		}
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, false, Wrap(KindIoFailure, "E063", err, "cannot open sector %s", path)
	}
	return wrapFileSector(path, t, firstByte, f, false), true, nil
}

func wrapFileSector(path string, t Table, firstByte byte, f *os.File, readOnly bool) *Sector {
	src := fileSource{
		size:     -1,
		readAtFn: f.ReadAt,
	}
	return &Sector{Path: path, Table: t, FirstByte: firstByte, ReadOnly: readOnly, src: src, f: f}
}

// Close releases the sector's file handle. A memory-loaded sector (from
// LoadSector) has nothing to close.
func (s *Sector) Close() error {
	if s.f == nil {
		return nil
	}
	return s.f.Close()
}

// LoadSector reads an entire on-disk sector into memory. A missing
// sector returns ok=false, no error.
func LoadSector(lay *layout.Layout, t Table, firstByte byte) (sec *Sector, ok bool, lerr *Error) {
	path := lay.SectorPath(t.DB, t.Name, firstByte, false)
	if !layout.FileExists(path) {
		return nil, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, Wrap(KindIoFailure, "E056", err, "cannot load sector %s", path)
	}
	return &Sector{Path: path, Table: t, FirstByte: firstByte, ReadOnly: true, src: memSource(data)}, true, nil
}

// end returns the current end-of-file offset. Only valid for
// file-backed (non-memory-loaded) sectors.
func (s *Sector) end() (int64, error) {
	if s.f == nil {
		return 0, fmt.Errorf("sector %s is read-only/in-memory", s.Path)
	}
	return s.f.Seek(0, io.SeekEnd)
}

// writeAt writes b at the given offset of a file-backed sector.
func (s *Sector) writeAt(b []byte, off int64) error {
	if s.f == nil {
		return fmt.Errorf("sector %s is read-only/in-memory", s.Path)
	}
	n, err := s.f.WriteAt(b, off)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("short write to sector %s: wrote %d of %d bytes", s.Path, n, len(b))
	}
	return nil
}

// MapSlotOffset computes the map slot position for mainKey:
// 5 * ((key[3]<<16) | (key[2]<<8) | key[1]), i.e. bytes 1..3 (0-indexed)
// of the main key; byte 0 is the sector file selector.
func MapSlotOffset(mainKey [MainKeyLen]byte) int64 {
	idx := uint32(mainKey[3])<<16 | uint32(mainKey[2])<<8 | uint32(mainKey[1])
	return int64(idx) * bytesconv.U40Width
}

// readMapSlot returns the list-head offset stored for mainKey, or 0 if
// no list exists yet.
func (s *Sector) readMapSlot(mainKey [MainKeyLen]byte) (uint64, *Error) {
	off := MapSlotOffset(mainKey)
	buf, err := readExact(s.src, off, bytesconv.U40Width)
	if err != nil {
		return 0, Wrap(KindIoFailure, "E056", err, "cannot read map slot at %d", off)
	}
	v, _ := bytesconv.U40(buf)
	return v, nil
}

// writeMapSlot stores the list-head offset for mainKey.
func (s *Sector) writeMapSlot(mainKey [MainKeyLen]byte, headOffset uint64) *Error {
	off := MapSlotOffset(mainKey)
	buf := make([]byte, bytesconv.U40Width)
	bytesconv.PutU40(buf, headOffset)
	if err := s.writeAt(buf, off); err != nil {
		return Wrap(KindIoFailure, "E054", err, "cannot write map slot at %d", off)
	}
	return nil
}

// UnlinkList zeroes mainKey's map slot, detaching its node list from the
// sector without shrinking the file or freeing the nodes themselves
// (lazy delete: a subsequent collate pass reclaims the space).
func (s *Sector) UnlinkList(mainKey [MainKeyLen]byte) *Error {
	return s.writeMapSlot(mainKey, 0)
}

// CommitBuild replaces the destination `.ldb` sector with the just
// written `.out` file (build/dedup mode). Uses an atomic replace so
// concurrent readers never observe a partially-renamed sector.
func CommitBuild(lay *layout.Layout, t Table, firstByte byte) *Error {
	outPath := lay.SectorPath(t.DB, t.Name, firstByte, true)
	ldbPath := lay.SectorPath(t.DB, t.Name, firstByte, false)
	if err := atomic.ReplaceFile(outPath, ldbPath); err != nil {
		return Wrap(KindIoFailure, "E074", err, "cannot commit collated sector %s", ldbPath)
	}
	return nil
}

// CommitMerge erases the source sector after its records have been
// written into the destination table (merge mode). It is a no-op (not
// an error) if the source sector does not exist.
func CommitMerge(lay *layout.Layout, t Table, firstByte byte) *Error {
	path := lay.SectorPath(t.DB, t.Name, firstByte, false)
	if !layout.FileExists(path) {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return Wrap(KindIoFailure, "E074", err, "cannot erase merged sector %s", path)
	}
	return nil
}
