package store

import "io"

// Source abstracts a sector's byte storage so node/fetch/collate code
// can run identically against a file-backed sector or a whole sector
// loaded into memory. Implementations must follow the io.ReaderAt
// contract: either fill p completely or return a non-nil error.
type Source interface {
	ReadAt(p []byte, off int64) (int, error)
	// Size returns the total byte length of a memory-loaded sector; a
	// file-backed source reports -1 (not tracked).
	Size() int64
}

type fileSource struct {
	size int64
	readAtFn func(p []byte, off int64) (int, error)
}

func (s fileSource) ReadAt(p []byte, off int64) (int, error) { return s.readAtFn(p, off) }
func (s fileSource) Size() int64                              { return s.size }

// memSource is a sector fully loaded into memory.
type memSource []byte

func (m memSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m)) {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

func (m memSource) Size() int64 { return int64(len(m)) }

// readExact reads exactly n bytes at off from src.
func readExact(src Source, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	read, err := src.ReadAt(buf, off)
	if err != nil && !(err == io.EOF && read == n) {
		return buf[:read], err
	}
	if read < n {
		return buf[:read], io.ErrUnexpectedEOF
	}
	return buf, nil
}
