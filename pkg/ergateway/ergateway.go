// Package ergateway implements the ER Gateway component of spec.md §4,
// fetching an entity's resolved records and related entities from the
// external ER engine and normalizing the payload into a résumé.
package ergateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/senzing-garage/g2-replicator/pkg/resume"
)

// ErrEntityNotFound is returned when the ER engine has no record of an
// entity id. Per spec.md §4.2 step 1 this is not an api error: GetEntity
// returns it together with resume.Sentinel for that id.
var ErrEntityNotFound = errors.New("ergateway: entity not found")

// wire shapes, per spec.md §6.
type getEntityResponse struct {
	ResolvedEntity *struct {
		EntityID   int64  `json:"ENTITY_ID"`
		EntityName string `json:"ENTITY_NAME"`
		Records    []struct {
			DataSource string `json:"DATA_SOURCE"`
			RecordID   string `json:"RECORD_ID"`
		} `json:"RECORDS"`
	} `json:"RESOLVED_ENTITY"`
	RelatedEntities []struct {
		EntityID    int64 `json:"ENTITY_ID"`
		MatchLevel  int   `json:"MATCH_LEVEL"`
		MatchKey    string `json:"MATCH_KEY"`
		IsDisclosed int   `json:"IS_DISCLOSED"`
		IsAmbiguous int   `json:"IS_AMBIGUOUS"`
		RecordSummary []struct {
			DataSource string `json:"DATA_SOURCE"`
		} `json:"RECORD_SUMMARY"`
	} `json:"RELATED_ENTITIES"`
}

type getRecordResponse struct {
	JSONData map[string]interface{} `json:"JSON_DATA"`
}

// Client fetches entity résumés and raw records from the ER engine over
// HTTP. The transport is a retryablehttp client (connection-level retry);
// business-level retry of transient 5xx responses is layered on top with
// backoff, mirroring the teacher's diff.Syncer / defaultBackOff split
// between transport retry and request retry.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	backoff func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the retryable HTTP client, primarily for tests.
func WithHTTPClient(c *retryablehttp.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New constructs a Client against baseURL (e.g. "http://er-engine:8080").
func New(baseURL string, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil

	c := &Client{
		baseURL: baseURL,
		http:    rc,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxElapsedTime = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetEntity fetches entity id's current résumé, per spec.md §6's
// get_entity(entity_id) interface. A 404 response yields
// resume.Sentinel(entityID) together with ErrEntityNotFound; any other failure (after retries) is returned as
// an error for the caller to classify as an api error (spec.md §4.2 step 1).
func (c *Client) GetEntity(ctx context.Context, entityID int64) (resume.Resume, error) {
	var out resume.Resume
	op := func() error {
		var status int
		var body getEntityResponse
		err := c.doJSON(ctx, fmt.Sprintf("%s/entities/%d", c.baseURL, entityID), &body, &status)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound {
			return backoff.Permanent(ErrEntityNotFound)
		}
		if status >= 500 {
			return fmt.Errorf("ergateway: server error %d fetching entity %d", status, entityID)
		}
		if status >= 400 {
			return backoff.Permanent(fmt.Errorf("ergateway: client error %d fetching entity %d", status, entityID))
		}
		out = toResume(body)
		return nil
	}

	if err := backoff.Retry(op, c.backoff()); err != nil {
		if errors.Is(err, ErrEntityNotFound) {
			return resume.Sentinel(entityID), ErrEntityNotFound
		}
		return resume.Resume{}, err
	}
	return out, nil
}

// GetRecord fetches a single record's raw JSON_DATA payload. diff.Engine
// calls this lazily, through a Policy's RecordColumns closure, only when
// that Policy actually derives DM_RECORD columns from it (spec.md §6, §9
// design note 1).
func (c *Client) GetRecord(ctx context.Context, dataSource, recordID string) (map[string]interface{}, error) {
	var body getRecordResponse
	var status int
	url := fmt.Sprintf("%s/records/%s/%s", c.baseURL, dataSource, recordID)
	if err := c.doJSON(ctx, url, &body, &status); err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrEntityNotFound
	}
	if status >= 400 {
		return nil, fmt.Errorf("ergateway: error %d fetching record %s/%s", status, dataSource, recordID)
	}
	return body.JSONData, nil
}

func (c *Client) doJSON(ctx context.Context, url string, out interface{}, status *int) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("ergateway: building request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ergateway: request failed: %w", err)
	}
	defer resp.Body.Close()

	*status = resp.StatusCode
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode >= 300 {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("ergateway: decoding response: %w", err)
	}
	return nil
}

func toResume(body getEntityResponse) resume.Resume {
	r := resume.Resume{
		RecordSummary:   map[string][]string{},
		RelationSummary: map[int64]resume.Relation{},
	}
	if body.ResolvedEntity != nil {
		r.EntityID = body.ResolvedEntity.EntityID
		r.EntityName = body.ResolvedEntity.EntityName
		for _, rec := range body.ResolvedEntity.Records {
			r.RecordSummary[rec.DataSource] = append(r.RecordSummary[rec.DataSource], rec.RecordID)
		}
		r.RecordCount = len(body.ResolvedEntity.Records)
	}
	for _, rel := range body.RelatedEntities {
		sources := make([]string, 0, len(rel.RecordSummary))
		for _, s := range rel.RecordSummary {
			sources = append(sources, s.DataSource)
		}
		category := resume.CategoryFromFlags(rel.MatchLevel, rel.IsDisclosed != 0, rel.IsAmbiguous != 0)
		r.RelationSummary[rel.EntityID] = resume.Relation{
			RelatedID:     rel.EntityID,
			MatchLevel:    rel.MatchLevel,
			MatchKey:      rel.MatchKey,
			MatchCategory: category,
			DataSources:   sources,
		}
	}
	r.RelationCount = len(r.RelationSummary)
	return r
}
