// Package mz implements the MZ compressed-blob container: payloads
// keyed by a 16-byte content hash, partitioned by the hash's first two
// bytes into one file per partition, each holding a sequence of
// `{id(14B), zlen(32-bit), zdata}` records.
package mz

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/klauspost/compress/zlib"
	"go.uber.org/zap"

	"github.com/scanoss/ldbgo/internal/bytesconv"
	"github.com/scanoss/ldbgo/internal/layout"
	"github.com/scanoss/ldbgo/store"
)

const (
	// HashLen is the full content-hash width.
	HashLen = 16
	// IDLen is the per-record stored id: the hash with its 2-byte
	// partition prefix stripped.
	IDLen = HashLen - 2
	zlenWidth = 4
)

func partitionKey(hash []byte) uint16 { return uint16(hash[0])<<8 | uint16(hash[1]) }

func idBytes(hash []byte) [IDLen]byte {
	var id [IDLen]byte
	copy(id[:], hash[2:HashLen])
	return id
}

func fullHash(partition uint16, id [IDLen]byte) [HashLen]byte {
	var h [HashLen]byte
	h[0] = byte(partition >> 8)
	h[1] = byte(partition)
	copy(h[2:], id[:])
	return h
}

// ExcludeSet is the set of full hashes a Collate/Delete pass should drop.
type ExcludeSet map[[HashLen]byte]bool

// NewExcludeSet builds an ExcludeSet from a list of 16-byte hashes.
func NewExcludeSet(hashes [][]byte) ExcludeSet {
	set := make(ExcludeSet, len(hashes))
	for _, h := range hashes {
		if len(h) != HashLen {
			continue
		}
		var full [HashLen]byte
		copy(full[:], h)
		set[full] = true
	}
	return set
}

// Container is one (db, table) MZ store.
type Container struct {
	lay       *layout.Layout
	db, table string
	encrypted bool
	decoder   store.Decoder
	logger    *zap.Logger

	mu         sync.Mutex
	blooms     map[uint16]*bloom.BloomFilter
	writeCache map[uint16][]byte
	cacheLimit int
}

// NewContainer returns an MZ container for db/table. decoder is only
// consulted when encrypted is true.
func NewContainer(lay *layout.Layout, db, table string, encrypted bool, decoder store.Decoder, logger *zap.Logger) *Container {
	return &Container{
		lay: lay, db: db, table: table, encrypted: encrypted, decoder: decoder, logger: logger,
		blooms:     make(map[uint16]*bloom.BloomFilter),
		writeCache: make(map[uint16][]byte),
		cacheLimit: 1 << 20,
	}
}

func (c *Container) path(partition uint16) string {
	return c.lay.MZPath(c.db, c.table, partition, c.encrypted)
}

// scanFile walks every record of path, handing the reader a file handle
// positioned exactly at the record's compressed data; fn may read it (to
// inspect/return zdata) or ignore it — the position is always
// re-synchronized to the next record boundary afterward.
func scanFile(path string, fn func(id [IDLen]byte, zlen uint32, f *os.File) (stop bool, err error)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	header := make([]byte, IDLen+zlenWidth)
	pos := int64(0)
	for {
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return err
		}
		n, err := io.ReadFull(f, header)
		if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
			break
		}
		if err != nil {
			return err
		}
		var id [IDLen]byte
		copy(id[:], header[:IDLen])
		zlen, _ := bytesconv.U32(header[IDLen:])
		dataOffset := pos + int64(len(header))

		if _, err := f.Seek(dataOffset, io.SeekStart); err != nil {
			return err
		}
		stop, ferr := fn(id, zlen, f)
		if ferr != nil {
			return ferr
		}
		pos = dataOffset + int64(zlen)
		if stop {
			return nil
		}
	}
	return nil
}

func cacheContainsID(buf []byte, id [IDLen]byte) bool {
	pos := 0
	for pos+IDLen+zlenWidth <= len(buf) {
		var rid [IDLen]byte
		copy(rid[:], buf[pos:pos+IDLen])
		zlen, _ := bytesconv.U32(buf[pos+IDLen : pos+IDLen+zlenWidth])
		if rid == id {
			return true
		}
		pos += IDLen + zlenWidth + int(zlen)
	}
	return false
}

func (c *Container) bloomFor(partition uint16) (*bloom.BloomFilter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bf, ok := c.blooms[partition]; ok {
		return bf, nil
	}
	bf := bloom.NewWithEstimates(4096, 0.01)
	err := scanFile(c.path(partition), func(id [IDLen]byte, zlen uint32, f *os.File) (bool, error) {
		bf.Add(id[:])
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	c.blooms[partition] = bf
	return bf, nil
}

// Exists reports whether hash is present, checking the pending write
// cache, then the bloom prefilter, then (only if the bloom says
// "maybe") an exact on-disk scan without decompressing.
func (c *Container) Exists(hash []byte) (bool, *store.Error) {
	partition := partitionKey(hash)
	id := idBytes(hash)

	c.mu.Lock()
	if pending, ok := c.writeCache[partition]; ok && cacheContainsID(pending, id) {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	bf, err := c.bloomFor(partition)
	if err != nil {
		return false, store.Wrap(store.KindIoFailure, "E056", err, "mz bloom build failed for %s", c.path(partition))
	}
	if !bf.Test(id[:]) {
		return false, nil
	}

	found := false
	err = scanFile(c.path(partition), func(rid [IDLen]byte, zlen uint32, f *os.File) (bool, error) {
		if rid == id {
			found = true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return false, store.Wrap(store.KindIoFailure, "E056", err, "mz scan failed for %s", c.path(partition))
	}
	return found, nil
}

// Lookup decompresses and returns the payload for hash.
func (c *Container) Lookup(hash []byte) ([]byte, bool, *store.Error) {
	partition := partitionKey(hash)
	id := idBytes(hash)
	path := c.path(partition)

	var result []byte
	found := false
	err := scanFile(path, func(rid [IDLen]byte, zlen uint32, f *os.File) (bool, error) {
		if rid != id {
			return false, nil
		}
		zdata := make([]byte, zlen)
		if _, err := io.ReadFull(f, zdata); err != nil {
			return true, err
		}
		zr, err := zlib.NewReader(bytes.NewReader(zdata))
		if err != nil {
			return true, err
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return true, err
		}
		result = out
		found = true
		return true, nil
	})
	if err != nil {
		return nil, false, store.Wrap(store.KindIoFailure, "E056", err, "mz lookup failed for %s", path)
	}
	if !found {
		return nil, false, nil
	}

	if c.encrypted {
		if c.decoder == nil {
			return nil, false, store.Errorf(store.KindDecoderUnavailable, "E090", "mz table %s/%s is encrypted but no decoder is configured", c.db, c.table)
		}
		decoded, err := c.decoder.Decode(result)
		if err != nil {
			return nil, false, store.Wrap(store.KindBadFormat, "E090", err, "mz decode failed for %s", path)
		}
		result = decoded
	}
	return result, true, nil
}

// ListKeys returns every id in partition as hex.
func (c *Container) ListKeys(partition uint16) ([]string, *store.Error) {
	var ids []string
	path := c.path(partition)
	err := scanFile(path, func(id [IDLen]byte, zlen uint32, f *os.File) (bool, error) {
		full := fullHash(partition, id)
		ids = append(ids, bytesconv.BinToHex(full[:]))
		return false, nil
	})
	if err != nil {
		return nil, store.Wrap(store.KindIoFailure, "E056", err, "mz list-keys failed for %s", path)
	}
	return ids, nil
}

// Insert compresses and stores payload under hash, unless it (or an
// equal id already pending in the write cache) exists. Oversized blobs
// bypass the write cache and are written directly; otherwise the blob
// accumulates in a bounded per-partition cache, flushed to disk once it
// would overflow.
func (c *Container) Insert(hash []byte, payload []byte) *store.Error {
	if len(hash) != HashLen {
		return store.Errorf(store.KindBadFormat, "E076", "mz hash must be %d bytes, got %d", HashLen, len(hash))
	}
	exists, lerr := c.Exists(hash)
	if lerr != nil {
		return lerr
	}
	if exists {
		return nil
	}

	partition := partitionKey(hash)
	id := idBytes(hash)

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		zw.Close()
		return store.Wrap(store.KindIoFailure, "E074", err, "mz compress failed")
	}
	if err := zw.Close(); err != nil {
		return store.Wrap(store.KindIoFailure, "E074", err, "mz compress flush failed")
	}
	zdata := buf.Bytes()

	record := make([]byte, IDLen+zlenWidth+len(zdata))
	copy(record, id[:])
	bytesconv.PutU32(record[IDLen:], uint32(len(zdata)))
	copy(record[IDLen+zlenWidth:], zdata)

	c.mu.Lock()
	defer c.mu.Unlock()
	if bf, ok := c.blooms[partition]; ok {
		bf.Add(id[:])
	}
	if len(record) > c.cacheLimit {
		if err := appendToFile(c.path(partition), record); err != nil {
			return store.Wrap(store.KindIoFailure, "E074", err, "mz write failed for %s", c.path(partition))
		}
		return nil
	}

	c.writeCache[partition] = append(c.writeCache[partition], record...)
	if len(c.writeCache[partition]) >= c.cacheLimit {
		if err := appendToFile(c.path(partition), c.writeCache[partition]); err != nil {
			return store.Wrap(store.KindIoFailure, "E074", err, "mz cache flush failed for %s", c.path(partition))
		}
		c.writeCache[partition] = nil
	}
	return nil
}

// Flush writes every partition's pending write-cache to disk.
func (c *Container) Flush() *store.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for partition, pending := range c.writeCache {
		if len(pending) == 0 {
			continue
		}
		if err := appendToFile(c.path(partition), pending); err != nil {
			return store.Wrap(store.KindIoFailure, "E074", err, "mz cache flush failed for %s", c.path(partition))
		}
		c.writeCache[partition] = nil
	}
	return nil
}

func appendToFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// Collate rewrites partition, dropping any id already seen earlier in
// the file and any hash present in exclude.
func (c *Container) Collate(partition uint16, exclude ExcludeSet) *store.Error {
	if lerr := c.Flush(); lerr != nil {
		return lerr
	}
	path := c.path(partition)
	if !layout.FileExists(path) {
		return nil
	}

	seen := make(map[[IDLen]byte]bool)
	var out bytes.Buffer
	err := scanFile(path, func(id [IDLen]byte, zlen uint32, f *os.File) (bool, error) {
		zdata := make([]byte, zlen)
		if _, err := io.ReadFull(f, zdata); err != nil {
			return true, err
		}
		if seen[id] {
			return false, nil
		}
		if exclude != nil && exclude[fullHash(partition, id)] {
			return false, nil
		}
		seen[id] = true

		header := make([]byte, IDLen+zlenWidth)
		copy(header, id[:])
		bytesconv.PutU32(header[IDLen:], zlen)
		out.Write(header)
		out.Write(zdata)
		return false, nil
	})
	if err != nil {
		return store.Wrap(store.KindIoFailure, "E056", err, "mz collate scan failed for %s", path)
	}
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		return store.Wrap(store.KindIoFailure, "E074", err, "mz collate write failed for %s", path)
	}

	c.mu.Lock()
	delete(c.blooms, partition)
	c.mu.Unlock()
	return nil
}

// Delete collates every partition touched by hashes, using them as the
// exclude set.
func (c *Container) Delete(hashes [][]byte) *store.Error {
	byPartition := make(map[uint16]ExcludeSet)
	for _, h := range hashes {
		if len(h) != HashLen {
			continue
		}
		p := partitionKey(h)
		if byPartition[p] == nil {
			byPartition[p] = ExcludeSet{}
		}
		var full [HashLen]byte
		copy(full[:], h)
		byPartition[p][full] = true
	}
	for p, ex := range byPartition {
		if lerr := c.Collate(p, ex); lerr != nil {
			return lerr
		}
	}
	return nil
}

// IntegrityCheck walks partition summing (14 + 4 + zlen) per record and
// compares it against the file's actual length.
func (c *Container) IntegrityCheck(partition uint16) (bool, *store.Error) {
	path := c.path(partition)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, store.Wrap(store.KindIoFailure, "E056", err, "mz stat failed for %s", path)
	}

	var sum int64
	err = scanFile(path, func(id [IDLen]byte, zlen uint32, f *os.File) (bool, error) {
		sum += int64(IDLen+zlenWidth) + int64(zlen)
		return false, nil
	})
	if err != nil {
		return false, store.Wrap(store.KindIoFailure, "E056", err, "mz integrity scan failed for %s", path)
	}
	return sum == info.Size(), nil
}
