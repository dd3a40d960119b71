// Package datamart implements the Datamart Gateway of spec.md §4.4: a
// narrow row-level data-access layer over the DM_ENTITY, DM_RECORD,
// DM_RELATION, DM_REPORT, DM_REPORT_DETAIL and DM_ALERT tables (spec.md
// §6), exposing one function per semantic verb with a uniform result.
//
// The SQL idiom here (hand-built statements with a *sql.DB and
// github.com/lib/pq, insert-then-fallback-to-update on conflict) is
// grounded on the pack's DBAShand-cdc-sink-redshift example (Sink.upsertRow
// / Sink.deleteRow), adapted from single-row JSON-column upserts to the
// replicator's fixed-column Entity/Record/Relation/Report rows.
package datamart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/senzing-garage/g2-replicator/pkg/resume"
)

// ErrNotFound is returned by conditional updates that touched zero rows.
var ErrNotFound = errors.New("datamart: not found")

// Result is the uniform outcome of a Gateway operation, per spec.md §4.4.
type Result struct {
	RowsAffected int64
	DuplicateKey bool
	NotFound     bool
	// Inserted is true only when the operation committed a brand-new row
	// via its primary INSERT path (not a duplicate-key fallback update).
	// The Net-Change Engine gates report.TotalDelta / DSSRecordCountDelta
	// on this flag, per spec.md §4.4's "Insert -> Report delta" rule.
	Inserted bool
	Err      error
}

// OK reports whether the operation completed without an error.
func (r Result) OK() bool { return r.Err == nil }

func isDuplicateKey(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	return false
}

// Gateway is the Datamart Gateway. It holds a single connection pool, per
// spec.md §5 ("A Replicator holds a single datamart connection").
type Gateway struct {
	db  *sql.DB
	log zerolog.Logger
}

// New wraps db as a Gateway.
func New(db *sql.DB, log zerolog.Logger) *Gateway {
	return &Gateway{db: db, log: log.With().Str("component", "datamart").Logger()}
}

func (g *Gateway) logSQLError(op string, err error) {
	g.log.Error().Str("op", op).Err(err).Msg("sql_error")
}

// EntityStub is the prior-résumé stub fetched before a diff (spec.md §4.2
// step 2): SELECT record_count, résumé_hash FROM Entity WHERE entity_id=?.
type EntityStub struct {
	EntityID    int64
	RecordCount int
	ResumeHash  string
	Found       bool
}

// GetEntityStub fetches the prior-résumé stub for entityID.
func (g *Gateway) GetEntityStub(ctx context.Context, entityID int64) (EntityStub, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT record_count, resume_hash FROM dm_entity WHERE entity_id = $1`, entityID)
	var stub EntityStub
	stub.EntityID = entityID
	err := row.Scan(&stub.RecordCount, &stub.ResumeHash)
	switch {
	case err == sql.ErrNoRows:
		return stub, nil
	case err != nil:
		g.logSQLError("get_entity_stub", err)
		return stub, err
	}
	stub.Found = true
	return stub, nil
}

// buildInsert renders "INSERT INTO table (c1, c2, ...) VALUES ($1, $2,
// ...)" over cols/vals with customCols/customVals appended after them, so
// a Policy's derived columns (spec.md §9 design note 1) ride along on the
// same statement as the fixed ones.
func buildInsert(table string, cols []string, vals []interface{}, customCols []string, customVals []interface{}) (string, []interface{}) {
	allCols := append(append([]string{}, cols...), customCols...)
	allVals := append(append([]interface{}{}, vals...), customVals...)
	placeholders := make([]string, len(allCols))
	for i := range allCols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(allCols, ", "), strings.Join(placeholders, ", "))
	return stmt, allVals
}

// buildUpdate renders "UPDATE table SET c1 = $2, ... WHERE key = $1" over
// cols/vals with customCols/customVals appended after them.
func buildUpdate(table, key string, keyVal interface{}, cols []string, vals []interface{}, customCols []string, customVals []interface{}) (string, []interface{}) {
	allCols := append(append([]string{}, cols...), customCols...)
	allVals := append(append([]interface{}{}, vals...), customVals...)
	sets := make([]string, len(allCols))
	args := make([]interface{}, 0, len(allCols)+1)
	args = append(args, keyVal)
	for i, c := range allCols {
		sets[i] = fmt.Sprintf("%s = $%d", c, i+2)
		args = append(args, allVals[i])
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = $1", table, strings.Join(sets, ", "), key)
	return stmt, args
}

// SyncEntity applies spec.md §4.4's sync_entity verb. tag distinguishes
// the "affected entity 0" path (insert-first) from all other sync tags
// (update-first), per spec.md §4.2/§4.4. customCols/customVals are a
// Policy's EntityColumns result (spec.md §9 design note 1), appended to
// both the insert and update forms.
func (g *Gateway) SyncEntity(ctx context.Context, entityID int64, name string, recordCount, relationCount int, resumeHash string, tag string, at time.Time, customCols []string, customVals []interface{}) Result {
	if recordCount == 0 {
		res, err := g.db.ExecContext(ctx, `DELETE FROM dm_entity WHERE entity_id = $1`, entityID)
		if err != nil {
			g.logSQLError("sync_entity.delete", err)
			return Result{Err: err}
		}
		n, _ := res.RowsAffected()
		return Result{RowsAffected: n}
	}

	insert := func() (sql.Result, error) {
		stmt, args := buildInsert("dm_entity",
			[]string{"entity_id", "entity_name", "record_count", "relation_count", "resume_hash", "first_seen", "last_seen"},
			[]interface{}{entityID, name, recordCount, relationCount, resumeHash, at, at},
			customCols, customVals)
		return g.db.ExecContext(ctx, stmt, args...)
	}
	update := func() (sql.Result, error) {
		stmt, args := buildUpdate("dm_entity", "entity_id", entityID,
			[]string{"entity_name", "record_count", "relation_count", "resume_hash", "last_seen"},
			[]interface{}{name, recordCount, relationCount, resumeHash, at},
			customCols, customVals)
		return g.db.ExecContext(ctx, stmt, args...)
	}

	if tag == "affected entity 0" {
		res, err := insert()
		if err != nil {
			if isDuplicateKey(err) {
				res, err = update()
				if err != nil {
					g.logSQLError("sync_entity.update", err)
					return Result{Err: err}
				}
				n, _ := res.RowsAffected()
				return Result{RowsAffected: n, DuplicateKey: true}
			}
			g.logSQLError("sync_entity.insert", err)
			return Result{Err: err}
		}
		n, _ := res.RowsAffected()
		return Result{RowsAffected: n, Inserted: true}
	}

	res, err := update()
	if err != nil {
		g.logSQLError("sync_entity.update", err)
		return Result{Err: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		res, err = insert()
		if err != nil {
			g.logSQLError("sync_entity.insert", err)
			return Result{Err: err}
		}
		n, _ = res.RowsAffected()
		return Result{RowsAffected: n, Inserted: true}
	}
	return Result{RowsAffected: n}
}

// DeleteEntity removes an entity row outright (used by dissolution).
func (g *Gateway) DeleteEntity(ctx context.Context, entityID int64) Result {
	res, err := g.db.ExecContext(ctx, `DELETE FROM dm_entity WHERE entity_id = $1`, entityID)
	if err != nil {
		g.logSQLError("delete_entity", err)
		return Result{Err: err}
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n}
}

// SyncRecord applies spec.md §4.4's sync_record verb: entityID < 0
// deletes the DM_RECORD row outright; entityID >= 0 inserts it attached
// to that entity, falling back to an update on a duplicate key.
// DetachRecord (below) is the separate operation that sets entity_id=-1
// in place without removing the row. customCols/customVals are a
// Policy's RecordColumns result (spec.md §9 design note 1), appended to
// both the insert and update forms.
func (g *Gateway) SyncRecord(ctx context.Context, dataSource, recordID string, entityID int64, at time.Time, customCols []string, customVals []interface{}) Result {
	if entityID < 0 {
		res, err := g.db.ExecContext(ctx,
			`DELETE FROM dm_record WHERE data_source = $1 AND record_id = $2`, dataSource, recordID)
		if err != nil {
			g.logSQLError("sync_record.delete", err)
			return Result{Err: err}
		}
		n, _ := res.RowsAffected()
		return Result{RowsAffected: n}
	}

	insertCols := append([]string{"data_source", "record_id", "entity_id", "first_seen", "last_seen"}, customCols...)
	insertPlaceholders := []string{"$1", "$2", "$3", "$4", "$4"}
	insertArgs := []interface{}{dataSource, recordID, entityID, at}
	for i, v := range customVals {
		insertPlaceholders = append(insertPlaceholders, fmt.Sprintf("$%d", 5+i))
		insertArgs = append(insertArgs, v)
	}
	insertStmt := fmt.Sprintf("INSERT INTO dm_record (%s) VALUES (%s)",
		strings.Join(insertCols, ", "), strings.Join(insertPlaceholders, ", "))

	res, err := g.db.ExecContext(ctx, insertStmt, insertArgs...)
	if err != nil {
		if isDuplicateKey(err) {
			sets := []string{"entity_id = $3", "last_seen = $4"}
			updateArgs := []interface{}{dataSource, recordID, entityID, at}
			for i, c := range customCols {
				sets = append(sets, fmt.Sprintf("%s = $%d", c, 5+i))
				updateArgs = append(updateArgs, customVals[i])
			}
			updateStmt := fmt.Sprintf("UPDATE dm_record SET %s WHERE data_source = $1 AND record_id = $2",
				strings.Join(sets, ", "))
			res, err = g.db.ExecContext(ctx, updateStmt, updateArgs...)
			if err != nil {
				g.logSQLError("sync_record.update", err)
				return Result{Err: err}
			}
			n, _ := res.RowsAffected()
			return Result{RowsAffected: n, DuplicateKey: true}
		}
		g.logSQLError("sync_record.insert", err)
		return Result{Err: err}
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n, Inserted: true}
}

// AttachRecord performs a bare UPDATE, returning NotFound if it affected
// zero rows (spec.md §4.2 step 6's attach_record fallback trigger).
func (g *Gateway) AttachRecord(ctx context.Context, dataSource, recordID string, entityID int64, at time.Time) Result {
	res, err := g.db.ExecContext(ctx, `
		UPDATE dm_record SET entity_id = $3, last_seen = $4
		WHERE data_source = $1 AND record_id = $2`, dataSource, recordID, entityID, at)
	if err != nil {
		g.logSQLError("attach_record", err)
		return Result{Err: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return Result{NotFound: true}
	}
	return Result{RowsAffected: n}
}

// DetachRecord sets entity_id=-1, predicated on the record's previous
// entity_id to avoid clobbering a record that already moved elsewhere
// (spec.md §4.2 step 6, §5 "Detach safety").
func (g *Gateway) DetachRecord(ctx context.Context, dataSource, recordID string, fromEntityID int64, at time.Time) Result {
	res, err := g.db.ExecContext(ctx, `
		UPDATE dm_record SET entity_id = -1, last_seen = $4
		WHERE data_source = $1 AND record_id = $2 AND entity_id = $3`,
		dataSource, recordID, fromEntityID, at)
	if err != nil {
		g.logSQLError("detach_record", err)
		return Result{Err: err}
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n}
}

// UpsertRelation inserts or updates a (entity_id, related_id) relation row.
func (g *Gateway) UpsertRelation(ctx context.Context, entityID, relatedID int64, matchLevel int, matchKey, matchCategory, dataSources string, at time.Time) Result {
	res, err := g.db.ExecContext(ctx, `
		INSERT INTO dm_relation (entity_id, related_id, match_level, match_key, match_category, data_sources, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (entity_id, related_id) DO UPDATE SET
			match_level = EXCLUDED.match_level,
			match_key = EXCLUDED.match_key,
			match_category = EXCLUDED.match_category,
			data_sources = EXCLUDED.data_sources,
			last_seen = EXCLUDED.last_seen`,
		entityID, relatedID, matchLevel, matchKey, matchCategory, dataSources, at)
	if err != nil {
		g.logSQLError("upsert_relation", err)
		return Result{Err: err}
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n}
}

// DeleteRelation removes a relation row.
func (g *Gateway) DeleteRelation(ctx context.Context, entityID, relatedID int64) Result {
	res, err := g.db.ExecContext(ctx,
		`DELETE FROM dm_relation WHERE entity_id = $1 AND related_id = $2`, entityID, relatedID)
	if err != nil {
		g.logSQLError("delete_relation", err)
		return Result{Err: err}
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n}
}

// SyncReport applies a counter delta via sync_report (spec.md §4.5): try
// UPDATE, INSERT on zero rows affected. The defined err value is logged
// before use in all branches; spec.md §9 flags the original
// implementation for logging str(err) before err was defined, and this
// gateway never does that.
func (g *Gateway) SyncReport(ctx context.Context, reportKey, report, statistic, dataSource1, dataSource2 string, entityDelta, recordDelta, relationDelta int) Result {
	res, err := g.db.ExecContext(ctx, `
		UPDATE dm_report SET entity_count = entity_count + $2, record_count = record_count + $3, relation_count = relation_count + $4
		WHERE report_key = $1`, reportKey, entityDelta, recordDelta, relationDelta)
	if err != nil {
		g.logSQLError("update_dm_report", err)
		return Result{Err: err}
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		return Result{RowsAffected: n}
	}

	res, err = g.db.ExecContext(ctx, `
		INSERT INTO dm_report (report_key, report, statistic, data_source1, data_source2, entity_count, record_count, relation_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		reportKey, report, statistic, dataSource1, dataSource2, entityDelta, recordDelta, relationDelta)
	if err != nil {
		g.logSQLError("insert_dm_report", err)
		return Result{Err: err}
	}
	n, _ = res.RowsAffected()
	return Result{RowsAffected: n}
}

// InsertReportDetail and DeleteReportDetail are independent of the
// counter update: per spec.md §9's design note, a failed counter update
// skips detail work entirely, and a failed detail row only stops
// subsequent details for that delta. The counter delta is already
// committed, and convergence relies on hash-based idempotence on replay.
func (g *Gateway) InsertReportDetail(ctx context.Context, reportKey string, entityID, relatedID int64) Result {
	res, err := g.db.ExecContext(ctx, `
		INSERT INTO dm_report_detail (report_key, entity_id, related_id) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, reportKey, entityID, relatedID)
	if err != nil {
		g.logSQLError("insert_dm_report_detail", err)
		return Result{Err: err}
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n}
}

func (g *Gateway) DeleteReportDetail(ctx context.Context, reportKey string, entityID, relatedID int64) Result {
	res, err := g.db.ExecContext(ctx, `
		DELETE FROM dm_report_detail WHERE report_key = $1 AND entity_id = $2 AND related_id = $3`,
		reportKey, entityID, relatedID)
	if err != nil {
		g.logSQLError("delete_dm_report_detail", err)
		return Result{Err: err}
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n}
}

// AlertRow mirrors DM_ALERT, per spec.md §3.
type AlertRow struct {
	EntityID    int64
	ResumeHash  string
	AlertReason string
	AlertStatus string
	Found       bool
}

// GetAlert fetches the existing alert row for (entityID, alertReason), if any.
func (g *Gateway) GetAlert(ctx context.Context, entityID int64, alertReason string) (AlertRow, error) {
	row := g.db.QueryRowContext(ctx, `
		SELECT entity_id, resume_hash, alert_reason, alert_status FROM dm_alert
		WHERE entity_id = $1 AND alert_reason = $2
		ORDER BY last_seen DESC LIMIT 1`, entityID, alertReason)
	var a AlertRow
	err := row.Scan(&a.EntityID, &a.ResumeHash, &a.AlertReason, &a.AlertStatus)
	switch {
	case err == sql.ErrNoRows:
		return a, nil
	case err != nil:
		g.logSQLError("get_alert", err)
		return a, err
	}
	a.Found = true
	return a, nil
}

// InsertAlert inserts a new, pending alert row.
func (g *Gateway) InsertAlert(ctx context.Context, entityID int64, resumeHash, alertReason string, at time.Time) Result {
	res, err := g.db.ExecContext(ctx, `
		INSERT INTO dm_alert (entity_id, resume_hash, alert_reason, alert_status, first_seen, last_seen)
		VALUES ($1, $2, $3, 'pending', $4, $4)`, entityID, resumeHash, alertReason, at)
	if err != nil {
		g.logSQLError("insert_alert", err)
		return Result{Err: err}
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n}
}

// UpdateAlert refreshes a pending alert's résumé hash and last_seen.
func (g *Gateway) UpdateAlert(ctx context.Context, entityID int64, resumeHash, alertReason string, at time.Time) Result {
	res, err := g.db.ExecContext(ctx, `
		UPDATE dm_alert SET resume_hash = $2, last_seen = $4
		WHERE entity_id = $1 AND alert_reason = $3 AND alert_status = 'pending'`,
		entityID, resumeHash, alertReason, at)
	if err != nil {
		g.logSQLError("update_alert", err)
		return Result{Err: err}
	}
	n, _ := res.RowsAffected()
	return Result{RowsAffected: n}
}

// PurgeAll truncates every datamart table. Per spec.md §9 (supplemented
// from original_source/'s --purge flag) this is driver behavior only: the
// Orchestrator and Net-Change Engine never call it.
func (g *Gateway) PurgeAll(ctx context.Context) error {
	for _, table := range []string{"dm_report_detail", "dm_report", "dm_alert", "dm_relation", "dm_record", "dm_entity"} {
		if _, err := g.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", table)); err != nil {
			return fmt.Errorf("datamart: purging %s: %w", table, err)
		}
	}
	return nil
}

// ListRecordsByEntity rebuilds the record_summary half of a stored
// résumé from DM_RECORD, per spec.md §4.2 step 4's SHA-marker rebuild
// path.
func (g *Gateway) ListRecordsByEntity(ctx context.Context, entityID int64) (map[string][]string, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT data_source, record_id FROM dm_record WHERE entity_id = $1`, entityID)
	if err != nil {
		g.logSQLError("list_records_by_entity", err)
		return nil, err
	}
	defer rows.Close()

	out := map[string][]string{}
	for rows.Next() {
		var ds, rid string
		if err := rows.Scan(&ds, &rid); err != nil {
			g.logSQLError("list_records_by_entity", err)
			return nil, err
		}
		out[ds] = append(out[ds], rid)
	}
	if err := rows.Err(); err != nil {
		g.logSQLError("list_records_by_entity", err)
		return nil, err
	}
	return out, nil
}

// ListRelationsByEntity rebuilds the relation_summary half of a stored
// résumé from DM_RELATION, per spec.md §4.2 step 4's SHA-marker rebuild
// path. data_sources is stored as a stable CSV (spec.md §3).
func (g *Gateway) ListRelationsByEntity(ctx context.Context, entityID int64) (map[int64]resume.Relation, error) {
	rows, err := g.db.QueryContext(ctx, `
		SELECT related_id, match_level, match_key, match_category, data_sources
		FROM dm_relation WHERE entity_id = $1`, entityID)
	if err != nil {
		g.logSQLError("list_relations_by_entity", err)
		return nil, err
	}
	defer rows.Close()

	out := map[int64]resume.Relation{}
	for rows.Next() {
		var relatedID int64
		var matchLevel int
		var matchKey, matchCategory, dataSources string
		if err := rows.Scan(&relatedID, &matchLevel, &matchKey, &matchCategory, &dataSources); err != nil {
			g.logSQLError("list_relations_by_entity", err)
			return nil, err
		}
		var ds []string
		if dataSources != "" {
			ds = strings.Split(dataSources, ",")
		}
		out[relatedID] = resume.Relation{
			RelatedID:     relatedID,
			MatchLevel:    matchLevel,
			MatchKey:      matchKey,
			MatchCategory: resume.MatchCategory(matchCategory),
			DataSources:   ds,
		}
	}
	if err := rows.Err(); err != nil {
		g.logSQLError("list_relations_by_entity", err)
		return nil, err
	}
	return out, nil
}

// EntityName fetches the stored entity_name, used when rebuilding a
// full stored résumé from tables (the stub alone lacks a name).
func (g *Gateway) EntityName(ctx context.Context, entityID int64) (string, error) {
	row := g.db.QueryRowContext(ctx, `SELECT entity_name FROM dm_entity WHERE entity_id = $1`, entityID)
	var name string
	err := row.Scan(&name)
	switch {
	case err == sql.ErrNoRows:
		return "", nil
	case err != nil:
		g.logSQLError("entity_name", err)
		return "", err
	}
	return name, nil
}

// DataSourcesCSV joins data sources into the stable CSV form stored in
// DM_RELATION.data_sources, per spec.md §3.
func DataSourcesCSV(ds []string) string {
	return strings.Join(ds, ",")
}

// CountRecords returns the number of DM_RECORD rows attached (entity_id >= 0)
// to dataSource; used by spec.md §8's counter-consistency property.
func (g *Gateway) CountRecords(ctx context.Context, dataSource string) (int, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT count(*) FROM dm_record WHERE data_source = $1 AND entity_id >= 0`, dataSource)
	var n int
	if err := row.Scan(&n); err != nil {
		g.logSQLError("count_records", err)
		return 0, err
	}
	return n, nil
}
