// Package report implements the Report Aggregator of spec.md §4.5: it
// derives per-entity report rows from a résumé and turns the diff of two
// report-row sets into additive counter deltas plus detail-row
// insert/delete lists.
package report

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/senzing-garage/g2-replicator/pkg/resume"
)

// Category names used as report_summary's outer key, per spec.md §4.5.
const (
	CategoryResolved = "RESOLVED"
)

// Statistic names, per spec.md §4.5.
const (
	StatEntityCount       = "ENTITY_COUNT"
	StatSingleCount       = "SINGLE_COUNT"
	StatDuplicateCount    = "DUPLICATE_COUNT"
	StatMatchedCount      = "MATCHED_COUNT"
	StatDisclosedRelation = "DISCLOSED_RELATION_COUNT"
	StatAmbiguousMatch    = "AMBIGUOUS_MATCH_COUNT"
	StatPossibleMatch     = "POSSIBLE_MATCH_COUNT"
	StatPossiblyRelated   = "POSSIBLY_RELATED_COUNT"
)

var categoryStat = map[resume.MatchCategory]string{
	resume.Disclosed:       StatDisclosedRelation,
	resume.Ambiguous:       StatAmbiguousMatch,
	resume.PossibleMatch:   StatPossibleMatch,
	resume.PossiblyRelated: StatPossiblyRelated,
}

// Key is a report row's composite key: report_key = report|statistic|ds1|ds2
// with empty segments dropped, per spec.md §3.
type Key struct {
	Report      string
	Statistic   string
	DataSource1 string
	DataSource2 string
}

// String renders the report_key column value.
func (k Key) String() string {
	segs := make([]string, 0, 4)
	for _, s := range []string{k.Report, k.Statistic, k.DataSource1, k.DataSource2} {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return strings.Join(segs, "|")
}

// Row is one derived or diffed report row.
type Row struct {
	EntityCount   int
	RecordCount   int
	RelationCount int
	EntityID      int64
	RelatedIDs    []int64 // related ids backing this row's detail rows
}

// detailIDs returns the report-detail related_id values this row owns:
// the row's own RelatedIDs when set, otherwise a single (entity_id, 0)
// membership row when the row pertains to the entity alone.
func (r Row) detailIDs() []int64 {
	if len(r.RelatedIDs) > 0 {
		return append([]int64(nil), r.RelatedIDs...)
	}
	if r.EntityID != 0 {
		return []int64{0}
	}
	return nil
}

// Summary groups a résumé's records (under CategoryResolved) and relations
// (under their match category) by data source, ready for DeriveRows.
type Summary struct {
	RecordsByDataSource map[string][]string
	RelatedByCategoryDS map[resume.MatchCategory]map[string][]int64
}

// BuildSummary derives a Summary from a résumé, per spec.md §4.2 step 8:
// "G_report = G.record_summary under RESOLVED augmented with each
// relation under its match_category".
func BuildSummary(r resume.Resume) Summary {
	s := Summary{
		RecordsByDataSource: map[string][]string{},
		RelatedByCategoryDS: map[resume.MatchCategory]map[string][]int64{},
	}
	for ds, ids := range r.RecordSummary {
		s.RecordsByDataSource[ds] = append([]string(nil), ids...)
	}
	for _, relatedID := range r.RelatedIDs() {
		rel := r.RelationSummary[relatedID]
		for _, ds := range rel.DataSources {
			if s.RelatedByCategoryDS[rel.MatchCategory] == nil {
				s.RelatedByCategoryDS[rel.MatchCategory] = map[string][]int64{}
			}
			s.RelatedByCategoryDS[rel.MatchCategory][ds] = append(s.RelatedByCategoryDS[rel.MatchCategory][ds], relatedID)
		}
	}
	return s
}

func sortedDS(m map[string][]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DeriveRows computes the full set of report rows for entity eid, keyed
// by Key.String(), per the rules in spec.md §4.5.
func DeriveRows(eid int64, s Summary) map[string]Row {
	rows := map[string]Row{}

	total := 0
	for _, ids := range s.RecordsByDataSource {
		total += len(ids)
	}

	dataSources1 := sortedDS(s.RecordsByDataSource)
	for _, ds1 := range dataSources1 {
		ids := s.RecordsByDataSource[ds1]
		rows[Key{"DSS", StatEntityCount, ds1, ds1}.String()] = Row{EntityCount: 1}

		if len(ids) == 1 {
			rows[Key{"DSS", StatSingleCount, ds1, ds1}.String()] = Row{EntityCount: 1, RecordCount: 1}
		} else {
			rows[Key{"DSS", StatDuplicateCount, ds1, ds1}.String()] = Row{EntityCount: 1, RecordCount: len(ids), EntityID: eid}
		}

		for _, ds2 := range dataSources1 {
			if ds2 == ds1 {
				continue
			}
			rows[Key{"CSS", StatMatchedCount, ds1, ds2}.String()] = Row{EntityCount: 1, RecordCount: len(ids), EntityID: eid}
		}

		for category, byDS := range s.RelatedByCategoryDS {
			stat := categoryStat[category]
			for ds2, relatedIDs := range byDS {
				kind := "CSS"
				if ds2 == ds1 {
					kind = "DSS"
				}
				sorted := append([]int64(nil), relatedIDs...)
				sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
				rows[Key{kind, stat, ds1, ds2}.String()] = Row{
					EntityCount:   1,
					RelationCount: len(sorted),
					EntityID:      eid,
					RelatedIDs:    sorted,
				}
			}
		}
	}

	if total > 0 {
		rows[Key{"ESB", strconv.Itoa(total), "", ""}.String()] = Row{EntityCount: 1, EntityID: eid}
	}

	return rows
}

// Delta is a net-change counter update plus detail-row bookkeeping for one
// report key, per spec.md §4.5's "Net-change update".
type Delta struct {
	Key              string
	Report           string
	Statistic        string
	DataSource1      string
	DataSource2      string
	EntityCountDelta int
	RecordCountDelta int
	RelationDelta    int
	EntityID         int64
	AddDetailIDs     []int64
	DeleteDetailIDs  []int64
}

func int64SetDiff(a, b []int64) []int64 {
	set := map[int64]struct{}{}
	for _, id := range b {
		set[id] = struct{}{}
	}
	var out []int64
	for _, id := range a {
		if _, ok := set[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func rowEqual(a, b Row) bool {
	if a.EntityCount != b.EntityCount || a.RecordCount != b.RecordCount || a.RelationCount != b.RelationCount {
		return false
	}
	as, bs := append([]int64(nil), a.RelatedIDs...), append([]int64(nil), b.RelatedIDs...)
	sort.Slice(as, func(i, j int) bool { return as[i] < as[j] })
	sort.Slice(bs, func(i, j int) bool { return bs[i] < bs[j] })
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func splitKey(key string) (report, statistic, ds1, ds2 string) {
	segs := strings.Split(key, "|")
	// Keys are built without ambiguity in practice (report and statistic
	// never contain "|"), so a straightforward positional split suffices.
	if len(segs) > 0 {
		report = segs[0]
	}
	if len(segs) > 1 {
		statistic = segs[1]
	}
	if len(segs) > 2 {
		ds1 = segs[2]
	}
	if len(segs) > 3 {
		ds2 = segs[3]
	}
	return
}

// Diff computes the net-change deltas between the current (g) and prior
// (d) report row sets, per spec.md §4.5.
func Diff(g, d map[string]Row) []Delta {
	var deltas []Delta
	seen := map[string]struct{}{}

	for key, gr := range g {
		seen[key] = struct{}{}
		report, statistic, ds1, ds2 := splitKey(key)
		dr, inD := d[key]
		switch {
		case !inD:
			deltas = append(deltas, Delta{
				Key: key, Report: report, Statistic: statistic, DataSource1: ds1, DataSource2: ds2,
				EntityCountDelta: gr.EntityCount, RecordCountDelta: gr.RecordCount, RelationDelta: gr.RelationCount,
				EntityID: gr.EntityID, AddDetailIDs: gr.detailIDs(),
			})
		case rowEqual(gr, dr):
			// no-op
		default:
			deltas = append(deltas, Delta{
				Key: key, Report: report, Statistic: statistic, DataSource1: ds1, DataSource2: ds2,
				EntityCountDelta: gr.EntityCount - dr.EntityCount,
				RecordCountDelta: gr.RecordCount - dr.RecordCount,
				RelationDelta:    gr.RelationCount - dr.RelationCount,
				EntityID:         gr.EntityID,
				AddDetailIDs:     int64SetDiff(gr.RelatedIDs, dr.RelatedIDs),
				DeleteDetailIDs:  int64SetDiff(dr.RelatedIDs, gr.RelatedIDs),
			})
		}
	}

	for key, dr := range d {
		if _, ok := seen[key]; ok {
			continue
		}
		report, statistic, ds1, ds2 := splitKey(key)
		deltas = append(deltas, Delta{
			Key: key, Report: report, Statistic: statistic, DataSource1: ds1, DataSource2: ds2,
			EntityCountDelta: -dr.EntityCount, RecordCountDelta: -dr.RecordCount, RelationDelta: -dr.RelationCount,
			EntityID: dr.EntityID, DeleteDetailIDs: dr.detailIDs(),
		})
	}
	return deltas
}

// TotalDelta is the spec.md §4.4 sync_entity side effect: {TOTAL,
// ENTITY_COUNT} moves by +1/-1 whenever an entity row is inserted/deleted.
func TotalDelta(entityCountDelta int) Delta {
	return Delta{
		Key: Key{"TOTAL", StatEntityCount, "", ""}.String(), Report: "TOTAL", Statistic: StatEntityCount,
		EntityCountDelta: entityCountDelta,
	}
}

// DSSRecordCountDelta is the spec.md §4.4 sync_record side effect: {DSS,
// RECORD_COUNT, ds, ds} moves by +1/-1 whenever a record row is
// inserted/deleted.
func DSSRecordCountDelta(dataSource string, delta int) Delta {
	return Delta{
		Key: Key{"DSS", "RECORD_COUNT", dataSource, dataSource}.String(),
		Report: "DSS", Statistic: "RECORD_COUNT", DataSource1: dataSource, DataSource2: dataSource,
		RecordCountDelta: delta,
	}
}

// String implements fmt.Stringer for debug logging of a delta.
func (d Delta) String() string {
	return fmt.Sprintf("%s entity=%+d record=%+d relation=%+d", d.Key, d.EntityCountDelta, d.RecordCountDelta, d.RelationDelta)
}
