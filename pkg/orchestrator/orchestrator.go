// Package orchestrator implements the Replication Orchestrator of
// spec.md §4.1: the per-notification driver that synchronises the named
// record, fans out to the Net-Change Engine for every affected entity
// plus one resync cycle, and dispatches interesting entities to the
// Alert Processor.
//
// Adapted from the teacher's top-level Konnect sync entrypoint, which
// drove a single declarative pass over a crud.Registry; here the single
// pass is over one notification's affected/interesting entity lists
// instead of a whole state file.
package orchestrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/senzing-garage/g2-replicator/pkg/alert"
	"github.com/senzing-garage/g2-replicator/pkg/datamart"
	"github.com/senzing-garage/g2-replicator/pkg/diff"
	"github.com/senzing-garage/g2-replicator/pkg/notification"
	"github.com/senzing-garage/g2-replicator/pkg/report"
	"github.com/senzing-garage/g2-replicator/pkg/stats"
)

// Orchestrator is a per-notification synchronous unit (spec.md §5): it
// holds one datamart connection and one ER-engine handle. Running many
// notifications concurrently means running many Orchestrators, each with
// its own Gateway, per spec.md §5's concurrency model.
type Orchestrator struct {
	dm            *datamart.Gateway
	engine        *diff.Engine
	alerts        *alert.Processor
	alertsEnabled bool
	stats         *stats.Sink
	log           zerolog.Logger
}

// New constructs an Orchestrator. alertsEnabled gates step 5 of spec.md
// §4.1; the CLI driver sets it from the config's alerts.enabled setting.
func New(dm *datamart.Gateway, engine *diff.Engine, alerts *alert.Processor, alertsEnabled bool, sink *stats.Sink, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		dm: dm, engine: engine, alerts: alerts, alertsEnabled: alertsEnabled,
		stats: sink, log: log.With().Str("component", "orchestrator").Logger(),
	}
}

// Process runs one notification to completion, per spec.md §4.1.
func (o *Orchestrator) Process(ctx context.Context, n notification.Notification) notification.Status {
	status := notification.StatusOK
	at := time.Now()

	entityID := int64(0)
	if len(n.AffectedEntities) == 1 {
		entityID = n.AffectedEntities[0].EntityID
	}
	if n.RecordID != "" {
		res, apiStatus := o.engine.SyncRecord(ctx, n.DataSource, n.RecordID, entityID, at)
		status = status.Combine(apiStatus)
		switch {
		case apiStatus != notification.StatusOK:
			// record fetch for a policy's derived columns failed; the sync
			// never ran, so there's no report delta to apply.
		case res.Err != nil:
			o.stats.Incr(stats.CategorySQLError, "sync_record", 1)
			status = status.Combine(notification.StatusSQLError)
		default:
			status = status.Combine(o.syncRecordReportDelta(ctx, n.DataSource, entityID, res))
		}
	}

	resync := map[int64]struct{}{}
	for _, ae := range n.AffectedEntities {
		ids, s := o.engine.ReplicateEntity(ctx, ae.EntityID, "affected entity 0", at)
		status = status.Combine(s)
		for _, id := range ids {
			resync[id] = struct{}{}
		}
	}

	for id := range resync {
		ids, s := o.engine.ReplicateEntity(ctx, id, "related cycle 1", at)
		status = status.Combine(s)
		// spec.md §4.1 step 4: do not recurse further; any further resync
		// ids are logged to stats only.
		o.stats.Incr(stats.CategorySyncType, "further_resync_deferred", len(ids))
	}

	if o.alertsEnabled {
		for _, ie := range n.InterestingEntities {
			status = status.Combine(o.alerts.Process(ctx, ie, at))
		}
	}

	return status
}

// syncRecordReportDelta applies spec.md §4.4 sync_record's side effect:
// {DSS, RECORD_COUNT, ds, ds} moves by +1 on a fresh insert, -1 on a
// negative-entityID delete. res.Inserted and the entityID<0 delete path
// are mutually exclusive by construction of SyncRecord.
func (o *Orchestrator) syncRecordReportDelta(ctx context.Context, dataSource string, entityID int64, res datamart.Result) notification.Status {
	var delta int
	switch {
	case entityID < 0 && res.RowsAffected > 0:
		delta = -1
	case res.Inserted:
		delta = 1
		o.stats.Incr(stats.CategoryRecord, stats.SubRecordInsert, 1)
	default:
		o.stats.Incr(stats.CategoryRecord, stats.SubRecordUpdate, 1)
		return notification.StatusOK
	}

	d := report.DSSRecordCountDelta(dataSource, delta)
	dres := o.dm.SyncReport(ctx, d.Key, d.Report, d.Statistic, d.DataSource1, d.DataSource2, d.EntityCountDelta, d.RecordCountDelta, d.RelationDelta)
	if dres.Err != nil {
		o.stats.Incr(stats.CategorySQLError, "sync_report", 1)
		return notification.StatusSQLError
	}
	return notification.StatusOK
}
