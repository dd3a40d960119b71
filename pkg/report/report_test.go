package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senzing-garage/g2-replicator/pkg/resume"
)

// S1 from spec.md §8: a brand-new single-record entity.
func TestDeriveRowsSingleRecord(t *testing.T) {
	r := resume.Resume{
		EntityID:      1,
		RecordSummary: map[string][]string{"CUSTOMER": {"1001"}},
	}
	rows := DeriveRows(1, BuildSummary(r))

	single := rows[Key{"DSS", StatSingleCount, "CUSTOMER", "CUSTOMER"}.String()]
	assert.Equal(t, Row{EntityCount: 1, RecordCount: 1}, single)

	esb := rows[Key{"ESB", "1", "", ""}.String()]
	assert.Equal(t, int64(1), esb.EntityID)
}

// S2 from spec.md §8: a second record joins, SINGLE_COUNT -> DUPLICATE_COUNT.
func TestDiffSingleToDuplicate(t *testing.T) {
	before := resume.Resume{EntityID: 1, RecordSummary: map[string][]string{"CUSTOMER": {"1001"}}}
	after := resume.Resume{EntityID: 1, RecordSummary: map[string][]string{"CUSTOMER": {"1001", "1002"}}}

	d := DeriveRows(1, BuildSummary(before))
	g := DeriveRows(1, BuildSummary(after))

	deltas := Diff(g, d)
	byKey := map[string]Delta{}
	for _, delta := range deltas {
		byKey[delta.Key] = delta
	}

	single := byKey[Key{"DSS", StatSingleCount, "CUSTOMER", "CUSTOMER"}.String()]
	assert.Equal(t, -1, single.EntityCountDelta)
	assert.Equal(t, -1, single.RecordCountDelta)

	dup := byKey[Key{"DSS", StatDuplicateCount, "CUSTOMER", "CUSTOMER"}.String()]
	assert.Equal(t, 1, dup.EntityCountDelta)
	assert.Equal(t, 2, dup.RecordCountDelta)

	esb1 := byKey[Key{"ESB", "1", "", ""}.String()]
	assert.Equal(t, -1, esb1.EntityCountDelta)
	esb2 := byKey[Key{"ESB", "2", "", ""}.String()]
	assert.Equal(t, 1, esb2.EntityCountDelta)
}

// S3 from spec.md §8: a new ambiguous relation between CUSTOMER and WATCHLIST.
func TestDeriveRowsAmbiguousRelation(t *testing.T) {
	r := resume.Resume{
		EntityID:      1,
		RecordSummary: map[string][]string{"CUSTOMER": {"1001"}},
		RelationSummary: map[int64]resume.Relation{
			2: {RelatedID: 2, MatchLevel: 1, MatchKey: "NAME", MatchCategory: resume.Ambiguous, DataSources: []string{"WATCHLIST"}},
		},
	}
	rows := DeriveRows(1, BuildSummary(r))

	key := Key{"CSS", StatAmbiguousMatch, "CUSTOMER", "WATCHLIST"}.String()
	row, ok := rows[key]
	require.True(t, ok)
	assert.Equal(t, 1, row.RelationCount)
	assert.Equal(t, []int64{2}, row.RelatedIDs)
}

func TestDiffKeyEqualRowsAreSkipped(t *testing.T) {
	r := resume.Resume{RecordSummary: map[string][]string{"CUSTOMER": {"1001"}}}
	rows := DeriveRows(1, BuildSummary(r))
	assert.Empty(t, Diff(rows, rows))
}
