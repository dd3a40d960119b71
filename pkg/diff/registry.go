package diff

import (
	"context"
	"fmt"
	"time"

	"github.com/senzing-garage/g2-replicator/pkg/crud"
	"github.com/senzing-garage/g2-replicator/pkg/datamart"
)

// AttachArg carries the payload for a record-attach mutation (spec.md
// §4.2 step 6): claim (DataSource, RecordID) for EntityID.
type AttachArg struct {
	DataSource, RecordID string
	EntityID             int64
	At                   time.Time
}

// DetachArg carries the payload for a record-detach mutation: release
// (DataSource, RecordID) from FromEntityID, predicated on it still being
// the current owner (spec.md §5 "Detach safety").
type DetachArg struct {
	DataSource, RecordID string
	FromEntityID         int64
	At                   time.Time
}

// RelationArg carries an upsert or delete for one (EntityID, RelatedID)
// relation edge.
type RelationArg struct {
	EntityID, RelatedID int64
	MatchLevel          int
	MatchKey            string
	MatchCategory        string
	DataSourcesCSV       string
	At                   time.Time
}

// ReportDeltaArg carries a counter update for one report key.
type ReportDeltaArg struct {
	ReportKey, Report, Statistic, DataSource1, DataSource2 string
	EntityDelta, RecordDelta, RelationDelta                int
}

// ReportDetailArg carries one report-detail membership row mutation.
type ReportDetailArg struct {
	ReportKey           string
	EntityID, RelatedID int64
}

// recordActions dispatches KindRecord mutations onto the Datamart
// Gateway's attach/detach verbs.
type recordActions struct{ dm *datamart.Gateway }

func (a *recordActions) Create(ctx context.Context, args ...crud.Arg) (crud.Arg, error) {
	arg := args[0].(AttachArg)
	res := a.dm.AttachRecord(ctx, arg.DataSource, arg.RecordID, arg.EntityID, arg.At)
	return res, res.Err
}

func (a *recordActions) Delete(ctx context.Context, args ...crud.Arg) (crud.Arg, error) {
	arg := args[0].(DetachArg)
	res := a.dm.DetachRecord(ctx, arg.DataSource, arg.RecordID, arg.FromEntityID, arg.At)
	return res, res.Err
}

func (a *recordActions) Update(context.Context, ...crud.Arg) (crud.Arg, error) {
	return nil, fmt.Errorf("diff: record kind has no update verb")
}

// relationActions dispatches KindRelation mutations. Create and Update
// both map onto the single upsert verb (spec.md §4.4's `upsert_relation`
// is insert-on-conflict-update); Delete removes the edge outright.
type relationActions struct{ dm *datamart.Gateway }

func (a *relationActions) upsert(ctx context.Context, args ...crud.Arg) (crud.Arg, error) {
	arg := args[0].(RelationArg)
	res := a.dm.UpsertRelation(ctx, arg.EntityID, arg.RelatedID, arg.MatchLevel, arg.MatchKey, arg.MatchCategory, arg.DataSourcesCSV, arg.At)
	return res, res.Err
}

func (a *relationActions) Create(ctx context.Context, args ...crud.Arg) (crud.Arg, error) {
	return a.upsert(ctx, args...)
}

func (a *relationActions) Update(ctx context.Context, args ...crud.Arg) (crud.Arg, error) {
	return a.upsert(ctx, args...)
}

func (a *relationActions) Delete(ctx context.Context, args ...crud.Arg) (crud.Arg, error) {
	arg := args[0].(RelationArg)
	res := a.dm.DeleteRelation(ctx, arg.EntityID, arg.RelatedID)
	return res, res.Err
}

// reportActions dispatches KindReport mutations: Update applies a
// counter delta, Create/Delete add or remove a detail membership row,
// per spec.md §4.5.
type reportActions struct{ dm *datamart.Gateway }

func (a *reportActions) Update(ctx context.Context, args ...crud.Arg) (crud.Arg, error) {
	arg := args[0].(ReportDeltaArg)
	res := a.dm.SyncReport(ctx, arg.ReportKey, arg.Report, arg.Statistic, arg.DataSource1, arg.DataSource2,
		arg.EntityDelta, arg.RecordDelta, arg.RelationDelta)
	return res, res.Err
}

func (a *reportActions) Create(ctx context.Context, args ...crud.Arg) (crud.Arg, error) {
	arg := args[0].(ReportDetailArg)
	res := a.dm.InsertReportDetail(ctx, arg.ReportKey, arg.EntityID, arg.RelatedID)
	return res, res.Err
}

func (a *reportActions) Delete(ctx context.Context, args ...crud.Arg) (crud.Arg, error) {
	arg := args[0].(ReportDetailArg)
	res := a.dm.DeleteReportDetail(ctx, arg.ReportKey, arg.EntityID, arg.RelatedID)
	return res, res.Err
}

// newRegistry wires the Net-Change Engine's verb dispatch, mirroring the
// teacher's diff.Syncer -> crud.Registry wiring: one Actions
// implementation per Kind, registered once at construction.
func newRegistry(dm *datamart.Gateway) *crud.Registry {
	reg := &crud.Registry{}
	reg.MustRegister(crud.KindRecord, &recordActions{dm: dm})
	reg.MustRegister(crud.KindRelation, &relationActions{dm: dm})
	reg.MustRegister(crud.KindReport, &reportActions{dm: dm})
	return reg
}
