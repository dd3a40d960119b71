// Package alert implements the Alert Processor of spec.md §4.6: for each
// interesting entity named in a notification, fetch its résumé and
// delegate to a Policy for domain-specific alert detection, then
// reconcile the resulting alert tuples against DM_ALERT.
//
// Adapted from the teacher's runtime-typed config hook points (Kong's
// plugin/custom-entity config overrides), generalized per spec.md §9 into
// a capability-set interface with a default no-op implementation; the
// Processor and Net-Change Engine are both polymorphic over Policy the
// same way the teacher's state builders are polymorphic over a Fill
// strategy.
package alert

import (
	"fmt"

	"github.com/senzing-garage/g2-replicator/pkg/resume"
)

// Tuple is one alert raised by a Policy: {entity_id, alert_reason,
// match_level}, per spec.md §4.6 step 2. PathHint is an optional
// find-path extension point (see PathHint's doc comment); the shipped
// policies leave it nil.
type Tuple struct {
	EntityID    int64
	AlertReason string
	MatchLevel  string
	PathHint    *PathHint
}

// PathHint is the "how are these two entities connected" hint a
// find-path-aware Policy could attach to a Tuple. The source's
// custom_alert_processing has a comment noting its related-entity fetch
// "should be a find-path" but never became one; FindPath is that
// extension point, left unimplemented, so a future Policy has somewhere
// to plug in without changing the Tuple shape.
type PathHint struct {
	RelatedID int64
	EntityIDs []int64
}

// FindPath is the no-op hook for deriving a PathHint between entityID
// and relatedID. No shipped Policy looks up a real path yet, so this
// always returns nil.
func FindPath(entityID, relatedID int64) *PathHint {
	return nil
}

// RecordFetcher lazily resolves a record's raw JSON payload. A Policy
// calls it only when it actually derives record_columns from the
// payload, so a policy with no record_columns of its own (NoopPolicy)
// costs zero ER Gateway round trips.
type RecordFetcher func() (map[string]interface{}, error)

// Policy is the only place with domain knowledge about what counts as
// alert-worthy and which derived columns ride along on DM_ENTITY/
// DM_RECORD rows, per spec.md §9's "runtime-typed config hook points"
// design note: the capability set is entity_columns(résumé)->rows,
// record_columns(ds,rid,json)->rows, alerts(flags,eid,résumé)->list. The
// Net-Change Engine and Alert Processor are both polymorphic over this
// one interface.
type Policy interface {
	// EntityColumns derives extra DM_ENTITY columns from an entity's
	// current résumé, appended to both the insert and update forms of
	// sync_entity (spec.md §4.4). Grounded on the source's
	// custom_dm_entity_fields.
	EntityColumns(r resume.Resume) (cols []string, vals []interface{})
	// RecordColumns derives extra DM_RECORD columns for one record,
	// appended to both the insert and update forms of sync_record
	// (spec.md §4.4). fetch resolves the record's JSON_DATA payload from
	// the ER Gateway; implementations that don't need it must not call
	// it. Grounded on the source's custom_dm_record_fields.
	RecordColumns(dataSource, recordID string, fetch RecordFetcher) (cols []string, vals []interface{}, err error)
	// Alerts decides which alert tuples an interesting entity raises.
	// flags are the interesting-entity's FLAGS; r is its current résumé.
	Alerts(flags []string, entityID int64, r resume.Resume) []Tuple
}

// NoopPolicy derives no custom columns and raises no alerts. It is the
// default, matching the source's empty base-class overrides.
type NoopPolicy struct{}

// EntityColumns implements Policy.
func (NoopPolicy) EntityColumns(resume.Resume) ([]string, []interface{}) { return nil, nil }

// RecordColumns implements Policy.
func (NoopPolicy) RecordColumns(string, string, RecordFetcher) ([]string, []interface{}, error) {
	return nil, nil, nil
}

// Alerts implements Policy.
func (NoopPolicy) Alerts([]string, int64, resume.Resume) []Tuple { return nil }

// WatchlistPolicy raises alerts when an interesting entity has a
// WATCHLIST_CONNECTION flag and itself carries a WATCHLIST record,
// cross-joining its WATCHLIST records against every other data source
// present on the entity and against every non-WATCHLIST data source of
// each related entity. It also derives the CUSTOMER_COUNT/WATCHLIST_COUNT
// entity columns and the CUSTOMER/WATCHLIST record columns. Grounded on
// MyReplicator.py's custom_alert_processing, custom_dm_entity_fields and
// custom_dm_record_fields, the example concrete policy referenced by
// spec.md §4.6 step 2 and §9's design note.
type WatchlistPolicy struct{}

const watchlistFlag = "WATCHLIST_CONNECTION"
const watchlistSource = "WATCHLIST"
const customerSource = "CUSTOMER"

// EntityColumns implements Policy, grounded on
// MyReplicator.py:custom_dm_entity_fields: CUSTOMER_COUNT and
// WATCHLIST_COUNT are appended only when the entity carries records from
// that data source.
func (WatchlistPolicy) EntityColumns(r resume.Resume) ([]string, []interface{}) {
	var cols []string
	var vals []interface{}
	if ids, ok := r.RecordSummary[customerSource]; ok {
		cols = append(cols, "customer_count")
		vals = append(vals, len(ids))
	}
	if ids, ok := r.RecordSummary[watchlistSource]; ok {
		cols = append(cols, "watchlist_count")
		vals = append(vals, len(ids))
	}
	return cols, vals
}

// RecordColumns implements Policy, grounded on
// MyReplicator.py:custom_dm_record_fields/custom_customer_fields/
// custom_watchlist_fields. Only CUSTOMER and WATCHLIST records carry
// derived columns, so fetch is only called for those two data sources.
func (WatchlistPolicy) RecordColumns(dataSource, recordID string, fetch RecordFetcher) ([]string, []interface{}, error) {
	if dataSource != customerSource && dataSource != watchlistSource {
		return nil, nil, nil
	}
	jsonData, err := fetch()
	if err != nil {
		return nil, nil, err
	}

	fullName := stringField(jsonData, "PRIMARY_NAME_LAST")
	if first := stringField(jsonData, "PRIMARY_NAME_FIRST"); first != "" {
		fullName += ", " + first
	}
	if middle := stringField(jsonData, "PRIMARY_NAME_MIDDLE"); middle != "" {
		fullName += " " + middle
	}
	cols := []string{"primary_name", "key_date", "key_status"}
	vals := []interface{}{fullName, stringField(jsonData, "DATE"), stringField(jsonData, "STATUS")}

	if dataSource == customerSource {
		cols = append(cols, "key_amount")
		vals = append(vals, stringField(jsonData, "AMOUNT"))
	} else {
		cols = append(cols, "key_category")
		vals = append(vals, stringField(jsonData, "CATEGORY"))
	}
	return cols, vals, nil
}

func stringField(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Alerts implements Policy.
func (WatchlistPolicy) Alerts(flags []string, entityID int64, r resume.Resume) []Tuple {
	if !hasFlag(flags, watchlistFlag) {
		return nil
	}

	if _, onWatchlist := r.RecordSummary[watchlistSource]; !onWatchlist {
		return nil
	}

	var alerts []Tuple
	for _, ds := range r.DataSources() {
		if ds == watchlistSource {
			continue
		}
		alerts = append(alerts, Tuple{
			EntityID:    entityID,
			AlertReason: "WATCHLIST|" + ds,
			MatchLevel:  "IS",
		})
	}

	for _, relatedID := range r.RelatedIDs() {
		rel := r.RelationSummary[relatedID]
		for _, ds := range rel.DataSources {
			if ds == watchlistSource {
				continue
			}
			alerts = append(alerts, Tuple{
				EntityID:    relatedID,
				AlertReason: "WATCHLIST|" + ds,
				MatchLevel:  string(rel.MatchCategory),
				PathHint:    FindPath(entityID, relatedID),
			})
		}
	}
	return alerts
}

func hasFlag(flags []string, target string) bool {
	for _, f := range flags {
		if f == target {
			return true
		}
	}
	return false
}
