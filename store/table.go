package store

import "github.com/scanoss/ldbgo/internal/config"

// MainKeyLen is the fixed width of a main key.
const MainKeyLen = 4

// Table binds a database/table name pair to its configuration and is
// the unit every sector/node/fetch/collate operation operates on.
type Table struct {
	DB     string
	Name   string
	Cfg    config.TableConfig

	// NodeLenWidth selects the node length field width: 2 (16-bit,
	// default) or 4 (32-bit, reserved for future growth). This is a
	// runtime table attribute, not part of the persisted `.cfg` line —
	// it is always defaulted, never read back from disk.
	NodeLenWidth int
}

// NewTable returns a Table with NodeLenWidth defaulted to 16-bit.
func NewTable(db, name string, cfg config.TableConfig) Table {
	return Table{DB: db, Name: name, Cfg: cfg, NodeLenWidth: 2}
}

// SubkeyLen is the per-record subkey width (key_ln - 4).
func (t Table) SubkeyLen() int { return t.Cfg.SubkeyLen() }

// FixedRecordWidth is the width, in bytes, of one record within a
// fixed-record node: the subkey plus the fixed data length.
func (t Table) FixedRecordWidth() int { return t.SubkeyLen() + t.Cfg.RecLen }

// MainKey returns the first 4 bytes of key.
func MainKey(key []byte) [MainKeyLen]byte {
	var out [MainKeyLen]byte
	copy(out[:], key[:MainKeyLen])
	return out
}

// Subkey returns the bytes of key past the main key.
func Subkey(key []byte) []byte {
	if len(key) <= MainKeyLen {
		return nil
	}
	return key[MainKeyLen:]
}

// SectorByte is the sector file selector: the main key's first byte.
func SectorByte(mainKey [MainKeyLen]byte) byte { return mainKey[0] }
