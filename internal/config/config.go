// Package config implements the per-table cfg file and the
// per-database bulk-import config file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// TableFlags is the bitset of table definitions.
type TableFlags int

const (
	// Standard is the zero-value, no special definitions.
	Standard TableFlags = 0
	// Encrypted marks a table whose payloads require a Decoder.
	Encrypted TableFlags = 1 << 0
	// MZ marks a table backed by the MZ compressed-blob container.
	MZ TableFlags = 1 << 1
	// Compressed marks a table whose fixed/variable records are
	// independently compressed (distinct from the MZ container).
	Compressed TableFlags = 1 << 2
	// Undefined is the sentinel used when a cfg file predates the
	// flags field.
	Undefined TableFlags = -1
)

func (f TableFlags) Has(bit TableFlags) bool { return f != Undefined && f&bit != 0 }

// TableConfig is the decoded form of a `<db>/<table>.cfg` file.
type TableConfig struct {
	KeyLen int // 4..255
	RecLen int // 0..255, 0 = variable-length
	Keys   int // >=1; >=2 enables secondary-key comparison
	Flags  TableFlags
}

// SubkeyLen returns KeyLen-4, the portion of the key stored per-record.
func (c TableConfig) SubkeyLen() int { return c.KeyLen - 4 }

// Variable reports whether records in this table have variable length.
func (c TableConfig) Variable() bool { return c.RecLen == 0 }

// defaultConfig is the fallback used when a cfg file is missing or
// unreadable (key_ln=16, rec_ln=0, keys=1, flags=Undefined).
func defaultConfig() TableConfig {
	return TableConfig{KeyLen: 16, RecLen: 0, Keys: 1, Flags: Undefined}
}

// ParseResult carries the parsed config plus any non-fatal warning
// produced by backward-compatibility fallbacks.
type ParseResult struct {
	Config  TableConfig
	Warning string
}

// Parse decodes a `key_ln,rec_ln,keys,flags` line. Fewer than 2 fields
// is a hard failure (falls back to defaultConfig with an error); fewer
// than 4 fields is a soft backward-compatibility warning (keys=1,
// flags=Undefined), not a failure.
func Parse(line string) (ParseResult, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	// strings.Split on an all-whitespace/empty line still yields one
	// empty field; treat that as zero usable fields.
	n := len(fields)
	if n == 1 && fields[0] == "" {
		n = 0
	}

	if n < 2 {
		return ParseResult{Config: defaultConfig()}, fmt.Errorf("E061 cannot read table config: need at least key_ln,rec_ln, got %d fields", n)
	}

	keyLen, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return ParseResult{Config: defaultConfig()}, fmt.Errorf("E061 invalid key_ln: %w", err)
	}
	recLen, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return ParseResult{Config: defaultConfig()}, fmt.Errorf("E061 invalid rec_ln: %w", err)
	}
	if keyLen < 4 || keyLen > 255 {
		return ParseResult{Config: defaultConfig()}, fmt.Errorf("E076 key_ln out of range: %d", keyLen)
	}
	if recLen < 0 || recLen > 255 {
		return ParseResult{Config: defaultConfig()}, fmt.Errorf("E076 rec_ln out of range: %d", recLen)
	}

	cfg := TableConfig{KeyLen: keyLen, RecLen: recLen, Keys: 1, Flags: Undefined}

	var warning string
	if n < 4 {
		warning = "some fields are undefined in table config, using defaults (keys=1, flags=undefined)"
	} else {
		keys, err1 := strconv.Atoi(strings.TrimSpace(fields[2]))
		flags, err2 := strconv.Atoi(strings.TrimSpace(fields[3]))
		if err1 != nil || err2 != nil {
			warning = "some fields are undefined in table config, using defaults (keys=1, flags=undefined)"
		} else {
			cfg.Keys = keys
			cfg.Flags = TableFlags(flags)
		}
	}

	return ParseResult{Config: cfg, Warning: warning}, nil
}

// Format renders cfg as the `.cfg` file line.
func Format(cfg TableConfig) string {
	return fmt.Sprintf("%d,%d,%d,%d\n", cfg.KeyLen, cfg.RecLen, cfg.Keys, int(cfg.Flags))
}

// Load reads and parses a table cfg file at path.
func Load(path string) (ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ParseResult{Config: defaultConfig()}, err
	}
	return Parse(string(data))
}

// Write saves cfg to path, truncating any existing file.
func Write(path string, cfg TableConfig) error {
	return os.WriteFile(path, []byte(Format(cfg)), 0o644)
}
