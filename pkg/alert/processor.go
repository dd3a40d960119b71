package alert

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/senzing-garage/g2-replicator/pkg/datamart"
	"github.com/senzing-garage/g2-replicator/pkg/ergateway"
	"github.com/senzing-garage/g2-replicator/pkg/notification"
	"github.com/senzing-garage/g2-replicator/pkg/stats"
)

// Processor implements spec.md §4.6's Alert Processor.
type Processor struct {
	er     *ergateway.Client
	dm     *datamart.Gateway
	policy Policy
	stats  *stats.Sink
	log    zerolog.Logger
}

// New constructs a Processor. A nil policy defaults to NoopPolicy.
func New(er *ergateway.Client, dm *datamart.Gateway, policy Policy, sink *stats.Sink, log zerolog.Logger) *Processor {
	if policy == nil {
		policy = NoopPolicy{}
	}
	return &Processor{er: er, dm: dm, policy: policy, stats: sink, log: log.With().Str("component", "alert").Logger()}
}

// Process handles one interesting-entity entry, per spec.md §4.6.
// e.Degrees and e.SampleRecords are carried for completeness but unused
// by the shipped policies; a find-path-based policy (spec.md §9's
// "interesting-entity path" extension point) would consume them.
func (p *Processor) Process(ctx context.Context, e notification.InterestingEntity, at time.Time) notification.Status {
	p.stats.Incr(stats.CategoryAlert, "interesting_entity", 1)

	r, err := p.er.GetEntity(ctx, e.EntityID)
	if err != nil && !errors.Is(err, ergateway.ErrEntityNotFound) {
		p.log.Error().Int64("entity_id", e.EntityID).Err(err).Msg("api_error")
		p.stats.Incr(stats.CategoryAPIError, "get_entity", 1)
		return notification.StatusAPIError
	}

	tuples := p.policy.Alerts(e.Flags, e.EntityID, r)

	status := notification.StatusOK
	for _, t := range tuples {
		status = status.Combine(p.reconcile(ctx, t, at))
	}
	return status
}

// reconcile applies spec.md §4.6 step 3's insert/update/no-op rule for
// one alert tuple.
func (p *Processor) reconcile(ctx context.Context, t Tuple, at time.Time) notification.Status {
	stub, err := p.dm.GetEntityStub(ctx, t.EntityID)
	if err != nil {
		p.stats.Incr(stats.CategorySQLError, "get_entity_stub", 1)
		return notification.StatusSQLError
	}
	currentHash := stub.ResumeHash

	existing, err := p.dm.GetAlert(ctx, t.EntityID, t.AlertReason)
	if err != nil {
		p.stats.Incr(stats.CategorySQLError, "get_alert", 1)
		return notification.StatusSQLError
	}

	var res datamart.Result
	switch {
	case !existing.Found:
		res = p.dm.InsertAlert(ctx, t.EntityID, currentHash, t.AlertReason, at)
	case existing.AlertStatus == "pending":
		res = p.dm.UpdateAlert(ctx, t.EntityID, currentHash, t.AlertReason, at)
	case existing.ResumeHash != currentHash:
		res = p.dm.InsertAlert(ctx, t.EntityID, currentHash, t.AlertReason, at)
	default:
		return notification.StatusOK
	}

	if res.Err != nil {
		p.stats.Incr(stats.CategorySQLError, "alert", 1)
		return notification.StatusSQLError
	}
	return notification.StatusOK
}
