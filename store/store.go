// Store is the top-level handle an application opens once and shares
// across operations: the on-disk layout root, the structured logger,
// the optional ENCRYPTED-table decoder, and the default sort/compare
// width used by collation.
package store

import (
	"os"

	"go.uber.org/zap"

	"github.com/scanoss/ldbgo/internal/config"
	"github.com/scanoss/ldbgo/internal/layout"
	"github.com/scanoss/ldbgo/internal/lock"
)

// Store binds a root directory to the logger, decoder and compare width
// every operation against it uses.
type Store struct {
	Layout       *layout.Layout
	Logger       *zap.Logger
	Decoder      Decoder
	CompareWidth int
	Counters     *Counters
}

// Option configures a Store at construction.
type Option func(*Store)

// WithLogger overrides the default production zap logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.Logger = l } }

// WithDecoder sets the decoder used for ENCRYPTED tables/MZ files.
func WithDecoder(d Decoder) Option { return func(s *Store) { s.Decoder = d } }

// WithCompareWidth sets the default collate sort comparison width.
func WithCompareWidth(n int) Option { return func(s *Store) { s.CompareWidth = n } }

// WithCounters attaches a shared progress-counter set.
func WithCounters(c *Counters) Option { return func(s *Store) { s.Counters = c } }

// NewStore opens root (creating nothing on disk) and applies opts. A
// nil logger defaults to zap's production JSON logger.
func NewStore(root string, opts ...Option) *Store {
	s := &Store{
		Layout:   layout.New(root),
		Logger:   newDefaultLogger(),
		Counters: &Counters{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.Logger == nil {
		s.Logger = newDefaultLogger()
	}
	return s
}

// OpenTable loads a table's config (key_ln, rec_ln, keys, flags) and
// returns a bound Table. A missing cfg file is not an error: it falls
// back to the default config non-fatally, the same way a brand-new
// table with no cfg file yet is expected to behave. Only a cfg file
// that exists but fails to parse is a hard failure.
func (s *Store) OpenTable(db, name string) (Table, *Error) {
	path := s.Layout.ConfigPath(db, name)
	result, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			if s.Logger != nil {
				s.Logger.Warn("table config missing, using defaults",
					zap.String("db", db), zap.String("table", name), zap.String("path", path))
			}
			return NewTable(db, name, result.Config), nil
		}
		return Table{}, Wrap(KindBadConfig, "E061", err, "cannot load config for %s/%s", db, name)
	}
	if result.Warning != "" && s.Logger != nil {
		s.Logger.Warn("table config loaded with backward-compatibility fallback",
			zap.String("db", db), zap.String("table", name), zap.String("warning", result.Warning))
	}
	return NewTable(db, name, result.Config), nil
}

// Locker returns an advisory writer lock for db/table. The lock
// namespace is keyed by table name alone, not db/table — preserved
// here rather than "fixed" (see internal/lock.New).
func (s *Store) Locker(db, table string) *lock.Locker {
	return lock.New(s.Layout.Root, db+"/"+table)
}
