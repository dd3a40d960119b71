// Package stats implements the replication engine's in-memory stat_log:
// an additive (category, subcategory) -> count sink plus gated debug
// lines, per spec.md §7. A Sink is passed by reference into every
// component so a single notification's run accumulates into one place,
// replacing the source's shared-mutable-state self.stat_log with an
// explicit value every component accepts.
package stats

import (
	"sync"

	"github.com/rs/zerolog"
)

// Category/subcategory pairs used throughout the engine, per spec.md §7.
const (
	CategoryRecord      = "record"
	CategoryReportKey   = "report_key"
	CategoryHashEncode  = "hash_encode"
	CategoryHashDecode  = "hash_decode"
	CategorySQLError    = "sql_error"
	CategoryAPIError    = "api_error"
	CategorySyncType    = "sync_type"
	CategoryAlert       = "alert"

	SubRecordInsert           = "insert"
	SubRecordUpdate           = "update"
	SubRecordAttachSucceeded  = "attach_succeeded"
	SubRecordMissing          = "missing"
	SubReportKeySame          = "same"
	SubReportKeyUpdated       = "updated"
	SubReportKeyDeleted       = "deleted"
	SubHashFromDB             = "hash(from db)"
	SubSyncTypeNoChange       = "no_change"
)

type key struct {
	category    string
	subcategory string
}

// Sink is the additive counter store for one replication run. The zero
// value is ready to use. A Sink is safe for concurrent use.
type Sink struct {
	mu     sync.Mutex
	counts map[key]int
	log    zerolog.Logger
	debug  bool
}

// New returns a Sink that emits debug lines through log when debug is
// true, gated on the CLI driver's --debug flag per spec.md §6.
func New(log zerolog.Logger, debug bool) *Sink {
	return &Sink{counts: map[key]int{}, log: log, debug: debug}
}

// Incr adds n to (category, subcategory)'s running count.
func (s *Sink) Incr(category, subcategory string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts == nil {
		s.counts = map[key]int{}
	}
	s.counts[key{category, subcategory}] += n
}

// Count returns the current count for (category, subcategory).
func (s *Sink) Count(category, subcategory string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key{category, subcategory}]
}

// Debug reproduces the source's interleaved print() debug lines as a
// structured zerolog event, keyed the same two-part way as the stat
// counters (category/subcategory), per SPEC_FULL.md's debug line format.
func (s *Sink) Debug(category, subcategory, msg string) {
	if !s.debug {
		return
	}
	s.log.Debug().Str("category", category).Str("subcategory", subcategory).Msg(msg)
}

// Snapshot returns a copy of every non-zero (category, subcategory)
// count, suitable for an end-of-run summary.
func (s *Sink) Snapshot() map[string]map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]map[string]int{}
	for k, v := range s.counts {
		if out[k.category] == nil {
			out[k.category] = map[string]int{}
		}
		out[k.category][k.subcategory] = v
	}
	return out
}
