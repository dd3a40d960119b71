package ergateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/senzing-garage/g2-replicator/pkg/resume"
)

func TestGetEntityNormalizesResume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"RESOLVED_ENTITY": map[string]interface{}{
				"ENTITY_ID":   1,
				"ENTITY_NAME": "JOHN SMITH",
				"RECORDS": []map[string]interface{}{
					{"DATA_SOURCE": "CUSTOMER", "RECORD_ID": "1001"},
				},
			},
			"RELATED_ENTITIES": []map[string]interface{}{
				{
					"ENTITY_ID":      2,
					"MATCH_LEVEL":    1,
					"MATCH_KEY":      "NAME",
					"IS_DISCLOSED":   0,
					"IS_AMBIGUOUS":   1,
					"RECORD_SUMMARY": []map[string]interface{}{{"DATA_SOURCE": "WATCHLIST"}},
				},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.GetEntity(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.EntityID)
	assert.Equal(t, []string{"1001"}, got.RecordSummary["CUSTOMER"])
	require.Contains(t, got.RelationSummary, int64(2))
	assert.Equal(t, resume.Ambiguous, got.RelationSummary[2].MatchCategory)
}

func TestGetEntityNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL)
	got, err := c.GetEntity(context.Background(), 99)
	require.ErrorIs(t, err, ErrEntityNotFound)
	assert.Equal(t, 0, got.RecordCount)
}

func TestGetEntityServerErrorIsNotPermanent(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetEntity(context.Background(), 1)
	require.Error(t, err)
	assert.Greater(t, attempts, 1, "transient 5xx responses should be retried")
}
