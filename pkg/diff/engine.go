// Package diff implements the Net-Change Engine of spec.md §4.2:
// replicate_entity fetches the current ER résumé for one entity, diffs
// it against the datamart's stored résumé (expanding the size-bounded
// hash column back into record/relation summaries when needed), applies
// the minimal set of record, relation, and report mutations, and returns
// the set of related entity ids that must be resynced.
//
// Adapted from the teacher's diff.Syncer (pkg/diff), which walked two
// sides of a declarative Kong/Konnect state and dispatched mutations
// through a crud.Registry. The shape survives: two résumés
// (backed by resume.Store for indexed composite-key lookups) stand in
// for the two state sides, and the same crud.Registry dispatches
// per-kind mutations; only the Kind vocabulary and the diff rules
// changed, from Kong entity reconciliation to spec.md §4.2's record and
// relation diff.
package diff

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/senzing-garage/g2-replicator/pkg/alert"
	"github.com/senzing-garage/g2-replicator/pkg/crud"
	"github.com/senzing-garage/g2-replicator/pkg/datamart"
	"github.com/senzing-garage/g2-replicator/pkg/ergateway"
	"github.com/senzing-garage/g2-replicator/pkg/notification"
	"github.com/senzing-garage/g2-replicator/pkg/report"
	"github.com/senzing-garage/g2-replicator/pkg/resume"
	"github.com/senzing-garage/g2-replicator/pkg/stats"

	"github.com/senzing-garage/g2-replicator/pkg/codec"
)

// Engine is the Net-Change Engine.
type Engine struct {
	er     *ergateway.Client
	dm     *datamart.Gateway
	codec  *codec.Codec
	policy alert.Policy
	reg    *crud.Registry
	stats  *stats.Sink
	log    zerolog.Logger
}

// New constructs an Engine. policy derives the custom DM_ENTITY/DM_RECORD
// columns per spec.md §9 design note 1's capability set; a nil policy
// defaults to alert.NoopPolicy{}.
func New(er *ergateway.Client, dm *datamart.Gateway, cdc *codec.Codec, policy alert.Policy, sink *stats.Sink, log zerolog.Logger) *Engine {
	if policy == nil {
		policy = alert.NoopPolicy{}
	}
	return &Engine{
		er:     er,
		dm:     dm,
		codec:  cdc,
		policy: policy,
		reg:    newRegistry(dm),
		stats:  sink,
		log:    log.With().Str("component", "diff").Logger(),
	}
}

// ReplicateEntity implements spec.md §4.2's replicate_entity. tag
// distinguishes the "affected entity 0" sync_entity path from related
// resync cycles ("related cycle 1"), per spec.md §4.1/§4.4. at is the
// notification's single wall-clock timestamp (spec.md §4.1 step 1).
func (e *Engine) ReplicateEntity(ctx context.Context, entityID int64, tag string, at time.Time) ([]int64, notification.Status) {
	status := notification.StatusOK

	g, err := e.er.GetEntity(ctx, entityID)
	if err != nil && !errors.Is(err, ergateway.ErrEntityNotFound) {
		e.log.Error().Int64("entity_id", entityID).Err(err).Msg("api_error")
		e.stats.Incr(stats.CategoryAPIError, "get_entity", 1)
		return nil, notification.StatusAPIError
	}

	hash, form, encErr := e.codec.Encode(g)
	if encErr != nil {
		e.log.Error().Int64("entity_id", entityID).Err(encErr).Msg("résumé encode failed")
	} else {
		g.ResumeHash = hash
		e.stats.Incr(stats.CategoryHashEncode, string(form), 1)
	}

	stub, err := e.dm.GetEntityStub(ctx, entityID)
	if err != nil {
		e.stats.Incr(stats.CategorySQLError, "get_entity_stub", 1)
		return nil, notification.StatusSQLError
	}

	if stub.Found && stub.ResumeHash == g.ResumeHash {
		e.stats.Incr(stats.CategorySyncType, stats.SubSyncTypeNoChange, 1)
		return nil, status
	}
	if !stub.Found && g.ResumeHash == "" {
		e.stats.Incr(stats.CategorySyncType, stats.SubSyncTypeNoChange, 1)
		return nil, status
	}

	d, dStatus := e.expandStub(ctx, entityID, stub)
	status = status.Combine(dStatus)

	// 5. Synchronise the Entity row, and emit its TOTAL,ENTITY_COUNT side effect.
	entityCols, entityVals := e.policy.EntityColumns(g)
	eres := e.dm.SyncEntity(ctx, entityID, g.EntityName, g.RecordCount, g.RelationCount, g.ResumeHash, tag, at, entityCols, entityVals)
	if eres.Err != nil {
		e.stats.Incr(stats.CategorySQLError, "sync_entity", 1)
		status = status.Combine(notification.StatusSQLError)
	} else {
		switch {
		case g.RecordCount == 0 && eres.RowsAffected > 0:
			if err := e.applyReportDelta(ctx, report.TotalDelta(-1)); err != nil {
				status = status.Combine(notification.StatusSQLError)
			}
		case eres.Inserted:
			if err := e.applyReportDelta(ctx, report.TotalDelta(1)); err != nil {
				status = status.Combine(notification.StatusSQLError)
			}
		}
	}

	storeG, err := resume.NewStore(g)
	if err != nil {
		e.log.Error().Int64("entity_id", entityID).Err(err).Msg("building résumé store for G")
		return nil, status.Combine(notification.StatusSQLError)
	}
	storeD, err := resume.NewStore(d)
	if err != nil {
		e.log.Error().Int64("entity_id", entityID).Err(err).Msg("building résumé store for D")
		return nil, status.Combine(notification.StatusSQLError)
	}

	status = status.Combine(e.diffRecords(ctx, entityID, g, d, storeG, storeD, at))

	resync, relStatus := e.diffRelations(ctx, entityID, g, d, storeG, storeD, at)
	status = status.Combine(relStatus)

	status = status.Combine(e.diffReports(ctx, entityID, g, d))

	ids := make([]int64, 0, len(resync))
	for id := range resync {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, status
}

// expandStub rebuilds the full prior résumé D, per spec.md §4.2 step 4:
// decode the stored blob when possible, else rebuild from the Record and
// Relation tables. The SHA form, or any data/decode failure, forces the
// rebuild; per spec.md §7 a decode failure is a "data" error, not
// reported to the caller.
func (e *Engine) expandStub(ctx context.Context, entityID int64, stub datamart.EntityStub) (resume.Resume, notification.Status) {
	d := resume.Sentinel(entityID)
	d.RecordCount = stub.RecordCount

	if !stub.Found {
		return d, notification.StatusOK
	}

	toks, form, decErr := e.codec.Decode(stub.ResumeHash)
	if decErr == nil && form != codec.FormSha {
		records, relations, err := codec.ParseTokens(toks)
		if err == nil {
			d.RecordSummary, d.RelationSummary = records, relations
			e.stats.Incr(stats.CategoryHashDecode, string(form), 1)
			return d, notification.StatusOK
		}
	}

	// SHA form, or a decode/parse failure: rebuild from tables.
	records, err := e.dm.ListRecordsByEntity(ctx, entityID)
	if err != nil {
		e.stats.Incr(stats.CategorySQLError, "list_records_by_entity", 1)
		return d, notification.StatusSQLError
	}
	relations, err := e.dm.ListRelationsByEntity(ctx, entityID)
	if err != nil {
		e.stats.Incr(stats.CategorySQLError, "list_relations_by_entity", 1)
		return d, notification.StatusSQLError
	}
	d.RecordSummary, d.RelationSummary = records, relations
	e.stats.Incr(stats.CategoryHashDecode, stats.SubHashFromDB, 1)
	return d, notification.StatusOK
}

// SyncRecord applies spec.md §4.4's sync_record verb with the policy's
// derived record columns mixed in, per spec.md §9 design note 1. entityID
// < 0 deletes the row outright and never needs custom columns. Otherwise
// the policy's RecordColumns is given a lazy fetch closure onto the ER
// Gateway, grounded on the source's custom_dm_record_fields fetching the
// record's JSON via getRecordV2 before deriving fields from it: a fetch
// failure aborts the sync entirely and reports an API error, rather than
// writing a row with incomplete custom columns.
func (e *Engine) SyncRecord(ctx context.Context, dataSource, recordID string, entityID int64, at time.Time) (datamart.Result, notification.Status) {
	if entityID < 0 {
		return e.dm.SyncRecord(ctx, dataSource, recordID, entityID, at, nil, nil), notification.StatusOK
	}

	fetch := alert.RecordFetcher(func() (map[string]interface{}, error) {
		return e.er.GetRecord(ctx, dataSource, recordID)
	})
	cols, vals, err := e.policy.RecordColumns(dataSource, recordID, fetch)
	if err != nil {
		e.log.Error().Str("data_source", dataSource).Str("record_id", recordID).Err(err).Msg("api_error")
		e.stats.Incr(stats.CategoryAPIError, "get_record", 1)
		return datamart.Result{}, notification.StatusAPIError
	}
	return e.dm.SyncRecord(ctx, dataSource, recordID, entityID, at, cols, vals), notification.StatusOK
}

// diffRecords applies spec.md §4.2 step 6's record diff: attach records
// new in G, falling back to sync_record when the attach UPDATE touches
// no row; detach records dropped from G, predicated on the prior owner.
func (e *Engine) diffRecords(ctx context.Context, entityID int64, g, d resume.Resume, storeG, storeD *resume.Store, at time.Time) notification.Status {
	status := notification.StatusOK

	for ds, ids := range g.RecordSummary {
		for _, rid := range ids {
			if storeD.HasRecord(ds, rid) {
				continue
			}
			result, err := e.reg.Create(ctx, crud.KindRecord, AttachArg{DataSource: ds, RecordID: rid, EntityID: entityID, At: at})
			if err != nil {
				e.stats.Incr(stats.CategorySQLError, "attach_record", 1)
				status = status.Combine(notification.StatusSQLError)
				continue
			}
			ares := result.(datamart.Result)
			if !ares.NotFound {
				e.stats.Incr(stats.CategoryRecord, stats.SubRecordAttachSucceeded, 1)
				continue
			}

			e.stats.Incr(stats.CategoryRecord, stats.SubRecordMissing, 1)
			sres, apiStatus := e.SyncRecord(ctx, ds, rid, entityID, at)
			status = status.Combine(apiStatus)
			if sres.Err != nil {
				e.stats.Incr(stats.CategorySQLError, "sync_record", 1)
				status = status.Combine(notification.StatusSQLError)
				continue
			}
			if apiStatus != notification.StatusOK {
				continue
			}
			if sres.Inserted {
				e.stats.Incr(stats.CategoryRecord, stats.SubRecordInsert, 1)
				if err := e.applyReportDelta(ctx, report.DSSRecordCountDelta(ds, 1)); err != nil {
					status = status.Combine(notification.StatusSQLError)
				}
			} else {
				e.stats.Incr(stats.CategoryRecord, stats.SubRecordUpdate, 1)
			}
		}
	}

	for ds, ids := range d.RecordSummary {
		for _, rid := range ids {
			if storeG.HasRecord(ds, rid) {
				continue
			}
			_, err := e.reg.Delete(ctx, crud.KindRecord, DetachArg{DataSource: ds, RecordID: rid, FromEntityID: entityID, At: at})
			if err != nil {
				e.stats.Incr(stats.CategorySQLError, "detach_record", 1)
				status = status.Combine(notification.StatusSQLError)
			}
		}
	}

	return status
}

// diffRelations applies spec.md §4.2 step 7's relation diff and returns
// the de-duplicated resync set.
func (e *Engine) diffRelations(ctx context.Context, entityID int64, g, d resume.Resume, storeG, storeD *resume.Store, at time.Time) (map[int64]struct{}, notification.Status) {
	status := notification.StatusOK
	resync := map[int64]struct{}{}

	for relatedID, rel := range g.RelationSummary {
		dRel, ok := storeD.Relation(relatedID)
		if ok && dRel.Equal(rel) {
			continue
		}
		arg := RelationArg{
			EntityID: entityID, RelatedID: relatedID,
			MatchLevel: rel.MatchLevel, MatchKey: rel.MatchKey,
			MatchCategory:  string(rel.MatchCategory),
			DataSourcesCSV: datamart.DataSourcesCSV(rel.DataSources),
			At:             at,
		}
		if _, err := e.reg.Do(ctx, crud.KindRelation, crud.Update, arg); err != nil {
			e.stats.Incr(stats.CategorySQLError, "upsert_relation", 1)
			status = status.Combine(notification.StatusSQLError)
		}
		resync[relatedID] = struct{}{}
	}

	for relatedID := range d.RelationSummary {
		if _, ok := storeG.Relation(relatedID); ok {
			continue
		}
		arg := RelationArg{EntityID: entityID, RelatedID: relatedID}
		if _, err := e.reg.Do(ctx, crud.KindRelation, crud.Delete, arg); err != nil {
			e.stats.Incr(stats.CategorySQLError, "delete_relation", 1)
			status = status.Combine(notification.StatusSQLError)
		}
		resync[relatedID] = struct{}{}
	}

	// spec.md §4.2 step 7: a changed data-source *set* (independent of
	// which records moved) forces every unchanged related id back into
	// the resync set too, since its view of our data_sources must be
	// recomputed.
	if !dataSourceSetsEqual(g, d) {
		for relatedID := range g.RelationSummary {
			resync[relatedID] = struct{}{}
		}
	}

	return resync, status
}

func dataSourceSetsEqual(g, d resume.Resume) bool {
	gs, ds := g.DataSourceSet(), d.DataSourceSet()
	if len(gs) != len(ds) {
		return false
	}
	for k := range gs {
		if _, ok := ds[k]; !ok {
			return false
		}
	}
	return true
}

// diffReports applies spec.md §4.2 step 8 / §4.5's report diff.
func (e *Engine) diffReports(ctx context.Context, entityID int64, g, d resume.Resume) notification.Status {
	status := notification.StatusOK

	gRows := report.DeriveRows(entityID, report.BuildSummary(g))
	dRows := report.DeriveRows(entityID, report.BuildSummary(d))
	deltas := report.Diff(gRows, dRows)

	both := 0
	for key := range gRows {
		if _, ok := dRows[key]; ok {
			both++
		}
	}
	changed := 0
	for _, delta := range deltas {
		_, inG := gRows[delta.Key]
		_, inD := dRows[delta.Key]
		switch {
		case inG && inD:
			changed++
			e.stats.Incr(stats.CategoryReportKey, stats.SubReportKeyUpdated, 1)
		case inG && !inD:
			e.stats.Incr(stats.CategoryReportKey, stats.SubReportKeyUpdated, 1)
		case !inG && inD:
			e.stats.Incr(stats.CategoryReportKey, stats.SubReportKeyDeleted, 1)
		}
	}
	e.stats.Incr(stats.CategoryReportKey, stats.SubReportKeySame, both-changed)

	for _, delta := range deltas {
		if err := e.applyReportDelta(ctx, delta); err != nil {
			status = status.Combine(notification.StatusSQLError)
			continue
		}
		status = status.Combine(e.applyReportDetails(ctx, delta))
	}
	return status
}

// applyReportDelta applies one counter delta's UPDATE-then-INSERT-on-
// zero-rows sync_report verb, per spec.md §4.5.
func (e *Engine) applyReportDelta(ctx context.Context, d report.Delta) error {
	arg := ReportDeltaArg{
		ReportKey: d.Key, Report: d.Report, Statistic: d.Statistic,
		DataSource1: d.DataSource1, DataSource2: d.DataSource2,
		EntityDelta: d.EntityCountDelta, RecordDelta: d.RecordCountDelta, RelationDelta: d.RelationDelta,
	}
	_, err := e.reg.Do(ctx, crud.KindReport, crud.Update, arg)
	if err != nil {
		e.stats.Incr(stats.CategorySQLError, "sync_report", 1)
	}
	return err
}

// applyReportDetails applies a delta's add/delete detail-id bookkeeping.
// Per spec.md §9's design note, a failed detail row only stops
// subsequent details for *that* delta; the counter delta already
// committed and convergence relies on hash-based idempotence on replay.
func (e *Engine) applyReportDetails(ctx context.Context, d report.Delta) notification.Status {
	status := notification.StatusOK
	for _, id := range d.AddDetailIDs {
		if _, err := e.reg.Do(ctx, crud.KindReport, crud.Create, ReportDetailArg{ReportKey: d.Key, EntityID: d.EntityID, RelatedID: id}); err != nil {
			e.stats.Incr(stats.CategorySQLError, "insert_report_detail", 1)
			status = status.Combine(notification.StatusSQLError)
			break
		}
	}
	for _, id := range d.DeleteDetailIDs {
		if _, err := e.reg.Do(ctx, crud.KindReport, crud.Delete, ReportDetailArg{ReportKey: d.Key, EntityID: d.EntityID, RelatedID: id}); err != nil {
			e.stats.Incr(stats.CategorySQLError, "delete_report_detail", 1)
			status = status.Combine(notification.StatusSQLError)
			break
		}
	}
	return status
}
