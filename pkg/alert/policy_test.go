package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/senzing-garage/g2-replicator/pkg/resume"
)

func TestNoopPolicyRaisesNothing(t *testing.T) {
	r := resume.Resume{RecordSummary: map[string][]string{"WATCHLIST": {"1"}}}
	got := NoopPolicy{}.Alerts([]string{watchlistFlag}, 1, r)
	assert.Empty(t, got)
}

func TestNoopPolicyDerivesNoColumnsAndNeverFetches(t *testing.T) {
	cols, vals := NoopPolicy{}.EntityColumns(resume.Resume{})
	assert.Empty(t, cols)
	assert.Empty(t, vals)

	fetchCalled := false
	fetch := func() (map[string]interface{}, error) {
		fetchCalled = true
		return nil, nil
	}
	cols, vals, err := NoopPolicy{}.RecordColumns("CUSTOMER", "1001", fetch)
	assert.NoError(t, err)
	assert.Empty(t, cols)
	assert.Empty(t, vals)
	assert.False(t, fetchCalled)
}

func TestWatchlistPolicyEntityColumnsOnlyWhenDataSourcePresent(t *testing.T) {
	r := resume.Resume{RecordSummary: map[string][]string{"CUSTOMER": {"1001", "1002"}}}
	cols, vals := WatchlistPolicy{}.EntityColumns(r)
	assert.Equal(t, []string{"customer_count"}, cols)
	assert.Equal(t, []interface{}{2}, vals)
}

func TestWatchlistPolicyRecordColumnsSkipsOtherDataSources(t *testing.T) {
	fetchCalled := false
	fetch := func() (map[string]interface{}, error) {
		fetchCalled = true
		return nil, nil
	}
	cols, vals, err := WatchlistPolicy{}.RecordColumns("REFERENCE", "1", fetch)
	assert.NoError(t, err)
	assert.Empty(t, cols)
	assert.Empty(t, vals)
	assert.False(t, fetchCalled)
}

func TestWatchlistPolicyRecordColumnsDerivesCustomerFields(t *testing.T) {
	fetch := func() (map[string]interface{}, error) {
		return map[string]interface{}{
			"PRIMARY_NAME_LAST": "SMITH", "PRIMARY_NAME_FIRST": "JOHN",
			"DATE": "2024-01-01", "STATUS": "ACTIVE", "AMOUNT": "100.00",
		}, nil
	}
	cols, vals, err := WatchlistPolicy{}.RecordColumns("CUSTOMER", "1001", fetch)
	assert.NoError(t, err)
	assert.Equal(t, []string{"primary_name", "key_date", "key_status", "key_amount"}, cols)
	assert.Equal(t, []interface{}{"SMITH, JOHN", "2024-01-01", "ACTIVE", "100.00"}, vals)
}

func TestWatchlistPolicyRecordColumnsPropagatesFetchError(t *testing.T) {
	sentinel := assert.AnError
	fetch := func() (map[string]interface{}, error) { return nil, sentinel }
	cols, vals, err := WatchlistPolicy{}.RecordColumns("WATCHLIST", "2001", fetch)
	assert.Equal(t, sentinel, err)
	assert.Nil(t, cols)
	assert.Nil(t, vals)
}

func TestWatchlistPolicyRequiresFlag(t *testing.T) {
	r := resume.Resume{RecordSummary: map[string][]string{"WATCHLIST": {"1"}, "CUSTOMER": {"2"}}}
	got := WatchlistPolicy{}.Alerts(nil, 1, r)
	assert.Empty(t, got)
}

func TestWatchlistPolicyCrossJoinsOwnRecords(t *testing.T) {
	r := resume.Resume{RecordSummary: map[string][]string{"WATCHLIST": {"1041"}, "CUSTOMER": {"1001"}}}
	got := WatchlistPolicy{}.Alerts([]string{watchlistFlag}, 12, r)
	assert.Equal(t, []Tuple{{EntityID: 12, AlertReason: "WATCHLIST|CUSTOMER", MatchLevel: "IS"}}, got)
}

func TestWatchlistPolicySkipsNonWatchlistEntity(t *testing.T) {
	r := resume.Resume{RecordSummary: map[string][]string{"CUSTOMER": {"1001"}}}
	got := WatchlistPolicy{}.Alerts([]string{watchlistFlag}, 12, r)
	assert.Empty(t, got)
}

func TestWatchlistPolicyCrossJoinsRelations(t *testing.T) {
	r := resume.Resume{
		RecordSummary: map[string][]string{"WATCHLIST": {"1041"}},
		RelationSummary: map[int64]resume.Relation{
			2: {RelatedID: 2, MatchCategory: resume.Ambiguous, DataSources: []string{"CUSTOMER", "WATCHLIST"}},
		},
	}
	got := WatchlistPolicy{}.Alerts([]string{watchlistFlag}, 1, r)
	assert.Equal(t, []Tuple{{EntityID: 2, AlertReason: "WATCHLIST|CUSTOMER", MatchLevel: "AM"}}, got)
}
