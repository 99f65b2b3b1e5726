package config

import (
	"bufio"
	"fmt"
	"strings"
)

// ImportOptions is one table's (or GLOBAL's) bulk-insert option set,
// e.g. `file: (KEYS=2, FIELDS=3)`.
type ImportOptions map[string]string

// ImportConfig is a parsed per-database bulk-import config file
// (`<config-root>/<db>.conf`).
type ImportConfig struct {
	// Global holds GLOBAL: options, applied before per-table overrides.
	Global ImportOptions
	Tables map[string]ImportOptions
}

// DefaultImportConfig returns the engine's materialized defaults, used
// when no `.conf` file exists on disk.
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		Global: ImportOptions{
			"MAX_RECORD": "2048",
			"TMP_PATH":   "/tmp",
		},
		Tables: map[string]ImportOptions{
			"sources": {"MZ": "1"},
			"file":    {"KEYS": "2", "FIELDS": "3"},
			"wfp":     {"WFP": "1"},
		},
	}
}

// ParseImportConfig parses the `TABLE: (K=V, K=V, …)` grammar. Blank
// lines and lines starting with '#' are ignored. This is a small
// hand-rolled tokenizer, not JSON/YAML, because the grammar is neither.
func ParseImportConfig(r *bufio.Reader) (ImportConfig, error) {
	cfg := ImportConfig{Global: ImportOptions{}, Tables: map[string]ImportOptions{}}

	lineNo := 0
	for {
		lineNo++
		line, err := r.ReadString('\n')
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			name, opts, perr := parseImportLine(trimmed)
			if perr != nil {
				return cfg, fmt.Errorf("line %d: %w", lineNo, perr)
			}
			if strings.EqualFold(name, "GLOBAL") {
				for k, v := range opts {
					cfg.Global[k] = v
				}
			} else {
				cfg.Tables[name] = opts
			}
		}
		if err != nil {
			break
		}
	}
	return cfg, nil
}

func parseImportLine(line string) (string, ImportOptions, error) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return "", nil, fmt.Errorf("missing ':' in %q", line)
	}
	name := strings.TrimSpace(line[:colon])
	rest := strings.TrimSpace(line[colon+1:])
	rest = strings.TrimPrefix(rest, "(")
	rest = strings.TrimSuffix(rest, ")")

	opts := ImportOptions{}
	if strings.TrimSpace(rest) == "" {
		return name, opts, nil
	}
	for _, pair := range strings.Split(rest, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			return "", nil, fmt.Errorf("malformed option %q", pair)
		}
		key := strings.ToUpper(strings.TrimSpace(pair[:eq]))
		val := strings.TrimSpace(pair[eq+1:])
		opts[key] = val
	}
	return name, opts, nil
}

// OptionsFor merges Global options with a table's specific options,
// table options taking precedence.
func (c ImportConfig) OptionsFor(table string) ImportOptions {
	merged := ImportOptions{}
	for k, v := range c.Global {
		merged[k] = v
	}
	for k, v := range c.Tables[table] {
		merged[k] = v
	}
	return merged
}
