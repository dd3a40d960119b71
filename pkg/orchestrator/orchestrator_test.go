package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senzing-garage/g2-replicator/pkg/alert"
	"github.com/senzing-garage/g2-replicator/pkg/codec"
	"github.com/senzing-garage/g2-replicator/pkg/datamart"
	"github.com/senzing-garage/g2-replicator/pkg/diff"
	"github.com/senzing-garage/g2-replicator/pkg/ergateway"
	"github.com/senzing-garage/g2-replicator/pkg/notification"
	"github.com/senzing-garage/g2-replicator/pkg/stats"
)

// TestProcessSkipsAlertsWhenDisabled covers spec.md §4.1 step 5: with
// alerts off, interesting entities never reach the ER Gateway or the
// datamart, so a notification naming one can be processed with zero
// alert-side SQL expectations and no alert Processor wired at all.
func TestProcessSkipsAlertsWhenDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dm := datamart.New(db, zerolog.Nop())
	er := ergateway.New(srv.URL)
	sink := stats.New(zerolog.Nop(), false)
	engine := diff.New(er, dm, codec.New(codec.DefaultCap), alert.NoopPolicy{}, sink, zerolog.Nop())

	o := New(dm, engine, nil, false, sink, zerolog.Nop())

	mock.ExpectExec(`INSERT INTO dm_record`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE dm_report`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO dm_report`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT record_count, resume_hash FROM dm_entity`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"record_count", "resume_hash"}))

	n := notification.Notification{
		DataSource: "CUSTOMER", RecordID: "1001",
		AffectedEntities:    []notification.AffectedEntity{{EntityID: 1}},
		InterestingEntities: []notification.InterestingEntity{{EntityID: 99, Flags: []string{"WATCHLIST_CONNECTION"}}},
	}

	status := o.Process(context.Background(), n)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, notification.StatusOK, status)
}

// TestProcessPassesZeroEntityIDWhenAmbiguous covers spec.md §4.1 step 2:
// more than one affected entity means sync_record gets entity_id 0.
func TestProcessPassesZeroEntityIDWhenAmbiguous(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	dm := datamart.New(db, zerolog.Nop())
	er := ergateway.New(srv.URL)
	sink := stats.New(zerolog.Nop(), false)
	engine := diff.New(er, dm, codec.New(codec.DefaultCap), alert.NoopPolicy{}, sink, zerolog.Nop())
	ap := alert.New(er, dm, alert.NoopPolicy{}, sink, zerolog.Nop())

	o := New(dm, engine, ap, true, sink, zerolog.Nop())

	mock.ExpectExec(`INSERT INTO dm_record`).
		WithArgs("CUSTOMER", "1001", int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE dm_report`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO dm_report`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`SELECT record_count, resume_hash FROM dm_entity`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"record_count", "resume_hash"}))
	mock.ExpectQuery(`SELECT record_count, resume_hash FROM dm_entity`).
		WithArgs(int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"record_count", "resume_hash"}))

	n := notification.Notification{
		DataSource: "CUSTOMER", RecordID: "1001",
		AffectedEntities: []notification.AffectedEntity{{EntityID: 1}, {EntityID: 2}},
	}

	status := o.Process(context.Background(), n)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, notification.StatusOK, status)
}
