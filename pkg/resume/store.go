package resume

import (
	"fmt"

	memdb "github.com/hashicorp/go-memdb"
)

const (
	recordTable   = "record"
	relationTable = "relation"
)

// recordRow and relationRow are the rows go-memdb indexes. They exist
// purely to give the composite indexer named, exported fields to read via
// reflection (see indexer.go).
type recordRow struct {
	DataSource string
	RecordID   string
}

type relationRow struct {
	RelatedID int64
	Relation  Relation
}

// Store is an indexed, queryable view of one résumé's record and relation
// summaries. It exists so that diffing two résumés (spec.md §4.2, steps 6
// and 7) can do membership lookups by composite key instead of repeated
// map constructions. Adapted from the teacher's `pkg/state` collection
// pattern (e.g. ServicesCollection wrapping a *memdb.MemDB), generalized
// here to the (data_source, record_id) record key and the related_id
// relation key; a Store holds one entity's résumé, so entity_id is the
// same for every row and is not part of either index.
type Store struct {
	db *memdb.MemDB
}

// NewStore builds an empty Store and loads it from r.
func NewStore(r Resume) (*Store, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			recordTable: {
				Name: recordTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &compositeIndexer{Fields: []string{"DataSource", "RecordID"}},
					},
				},
			},
			relationTable: {
				Name: relationTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &compositeIndexer{Fields: []string{"RelatedID"}},
					},
				},
			},
		},
	}
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("resume: building store: %w", err)
	}
	s := &Store{db: db}
	if err := s.load(r); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load(r Resume) error {
	txn := s.db.Txn(true)
	for ds, ids := range r.RecordSummary {
		for _, id := range ids {
			if err := txn.Insert(recordTable, recordRow{DataSource: ds, RecordID: id}); err != nil {
				txn.Abort()
				return fmt.Errorf("resume: loading record %s/%s: %w", ds, id, err)
			}
		}
	}
	for relatedID, rel := range r.RelationSummary {
		if err := txn.Insert(relationTable, relationRow{RelatedID: relatedID, Relation: rel}); err != nil {
			txn.Abort()
			return fmt.Errorf("resume: loading relation %d: %w", relatedID, err)
		}
	}
	txn.Commit()
	return nil
}

// HasRecord reports whether (ds, recordID) is present.
func (s *Store) HasRecord(ds, recordID string) bool {
	txn := s.db.Txn(false)
	defer txn.Abort()
	row, err := txn.First(recordTable, "id", ds, recordID)
	return err == nil && row != nil
}

// Relation returns the relation to relatedID, if present.
func (s *Store) Relation(relatedID int64) (Relation, bool) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	row, err := txn.First(relationTable, "id", relatedID)
	if err != nil || row == nil {
		return Relation{}, false
	}
	return row.(relationRow).Relation, true
}
