// Delete-tuple set: a sorted set of (key, optional wildcard text)
// tuples, partitioned by the key's first byte (the sector selector) and
// narrowed within each partition by an index over the key's second
// byte, so a collate-delete pass only has to scan the handful of
// tuples that could possibly match a given key instead of the whole
// set.
package store

import (
	"bytes"
	"sort"
	"strings"

	"github.com/scanoss/ldbgo/internal/bytesconv"
)

// DeleteTuple is one entry in a delete set. Key is the full key (main
// key + subkey) to match. Text, when non-empty, is a comma-separated
// wildcard template ("*" matches any field) compared field-by-field
// against the record's (optionally decoded) payload; an empty Text
// matches on Key alone.
type DeleteTuple struct {
	Key  []byte
	Text string
}

// DeleteSet is the narrowed, queryable form of a []DeleteTuple.
type DeleteSet struct {
	byFirstByte [256][]DeleteTuple
	byteIndex   [256][257]int
}

// NewDeleteSet partitions and sorts tuples for matching.
func NewDeleteSet(tuples []DeleteTuple) *DeleteSet {
	ds := &DeleteSet{}
	for _, t := range tuples {
		if len(t.Key) == 0 {
			continue
		}
		b0 := t.Key[0]
		ds.byFirstByte[b0] = append(ds.byFirstByte[b0], t)
	}
	for b0 := 0; b0 < 256; b0++ {
		group := ds.byFirstByte[b0]
		sort.Slice(group, func(i, j int) bool { return bytes.Compare(group[i].Key, group[j].Key) < 0 })
		ti := 0
		for b1 := 0; b1 < 256; b1++ {
			for ti < len(group) && int(keyByte1(group[ti].Key)) < b1 {
				ti++
			}
			ds.byteIndex[b0][b1] = ti
		}
		ds.byteIndex[b0][256] = len(group)
	}
	return ds
}

func keyByte1(key []byte) byte {
	if len(key) < 2 {
		return 0
	}
	return key[1]
}

// HasFirstByte reports whether any tuple in the set could match a key
// whose sector-selector byte is firstByte — letting a collate-delete
// pass skip sectors the set can't touch.
func (ds *DeleteSet) HasFirstByte(firstByte byte) bool {
	return ds != nil && len(ds.byFirstByte[firstByte]) > 0
}

// Matches reports whether key/payload is covered by the delete set.
// When encrypted is true, payload is run through decoder before text
// matching; a nil decoder on an encrypted table is DecoderUnavailable,
// not a silent pass-through of the undecoded bytes. keys/keyLen are the
// table's secondary-key count and width: for keys>1, the first
// (keys-1)*keyLen bytes of the (decoded) payload are compared as binary
// secondary keys before the remaining bytes are compared as free text.
func (ds *DeleteSet) Matches(key []byte, payload []byte, decoder Decoder, encrypted bool, keys, keyLen int) (bool, *Error) {
	if ds == nil || len(key) == 0 {
		return false, nil
	}
	b0 := key[0]
	group := ds.byFirstByte[b0]
	if len(group) == 0 {
		return false, nil
	}
	b1 := int(keyByte1(key))
	idx := ds.byteIndex[b0]

	data := payload
	if encrypted {
		d, lerr := requireDecoder(decoder)
		if lerr != nil {
			return false, lerr
		}
		decoded, err := d.Decode(payload)
		if err != nil {
			return false, Wrap(KindBadFormat, "E090", err, "cannot decode payload for delete-tuple match")
		}
		data = decoded
	}

	for i := idx[b1]; i < idx[b1+1]; i++ {
		t := group[i]
		if len(t.Key) > len(key) || !bytes.Equal(t.Key, key[:len(t.Key)]) {
			continue
		}
		if matchesText(t.Text, data, keys, keyLen) {
			return true, nil
		}
	}
	return false, nil
}

// matchesText implements the secondary-key-then-text comparison: an
// empty template always matches (key-only deletion). For a table with
// keys>1, the first keys-1 comma-separated template fields are hex-
// encoded secondary keys compared as keyLen-byte binary values against
// successive keyLen-byte chunks of payload (a field shorter than 4
// characters and containing "*" is a wildcard, skipped rather than
// compared); the remaining field(s) are compared as comma-split,
// `*`-wildcard free text against whatever payload bytes follow the
// secondary keys.
func matchesText(template string, payload []byte, keys, keyLen int) bool {
	if template == "" {
		return true
	}
	fields := strings.Split(template, ",")

	secondary := keys - 1
	if secondary > 0 {
		if len(fields) < secondary {
			return false
		}
		for i := 0; i < secondary; i++ {
			f := fields[i]
			if len(f) < 4 && strings.Contains(f, "*") {
				continue
			}
			want, err := bytesconv.HexToBin(f)
			if err != nil || len(want) != keyLen {
				return false
			}
			start := i * keyLen
			if start+keyLen > len(payload) || !bytes.Equal(payload[start:start+keyLen], want) {
				return false
			}
		}
		fields = fields[secondary:]
		offset := secondary * keyLen
		if offset > len(payload) {
			payload = nil
		} else {
			payload = payload[offset:]
		}
	}

	dataFields := strings.Split(string(payload), ",")
	if len(fields) != len(dataFields) {
		return false
	}
	for i, f := range fields {
		if f == "*" {
			continue
		}
		if f != dataFields[i] {
			return false
		}
	}
	return true
}
