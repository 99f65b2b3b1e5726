// Database version stamp: <root>/<db>/version.json, a small JSON
// document holding the monthly and daily version strings. The file
// is edited by hand often enough in the field (comments, trailing
// commas) that it is parsed leniently with github.com/tailscale/hujson
// rather than encoding/json, and rewritten atomically.
package store

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/scanoss/ldbgo/internal/layout"
)

// Version is the decoded form of a database's version.json.
type Version struct {
	Monthly string `json:"monthly"`
	Daily   string `json:"daily"`
}

// ReadVersion loads <root>/<db>/version.json. A missing file is not an
// error: it returns the zero Version.
func ReadVersion(lay *layout.Layout, db string) (Version, *Error) {
	path := lay.VersionPath(db)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Version{}, nil
		}
		return Version{}, Wrap(KindIoFailure, "E056", err, "cannot read %s", path)
	}

	standard, err := hujson.Standardize(raw)
	if err != nil {
		return Version{}, Wrap(KindBadFormat, "E076", err, "cannot parse %s", path)
	}
	var v Version
	if err := json.Unmarshal(standard, &v); err != nil {
		return Version{}, Wrap(KindBadFormat, "E076", err, "cannot decode %s", path)
	}
	return v, nil
}

// WriteVersion atomically rewrites <root>/<db>/version.json.
func WriteVersion(lay *layout.Layout, db string, v Version) *Error {
	path := lay.VersionPath(db)
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Wrap(KindBadFormat, "E076", err, "cannot encode version for %s", db)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(encoded)); err != nil {
		return Wrap(KindIoFailure, "E074", err, "cannot write %s", path)
	}
	return nil
}
