// Package crud is the verb registry the Net-Change Engine dispatches
// mutations through: one Kind per datamart row family the engine walks a
// diff over (record, relation, report), each registered with
// Create/Update/Delete callbacks. Adapted from the teacher's generic
// crud.Registry/Actions/Op machinery (originally dispatching Kong Admin
// API calls per entity type). The verb/kind shape is kept
// unchanged; only the Kind vocabulary and the doc comments describing
// "what gets closer to target state" have been rewritten for the
// résumé-diff domain.
package crud

import (
	"context"
	"fmt"
)

// Op represents the type of mutation being applied.
type Op struct {
	name string
}

func (op Op) String() string {
	return op.name
}

var (
	// Create is a constant representing create operations.
	Create = Op{"Create"}
	// Update is a constant representing update operations.
	Update = Op{"Update"}
	// Delete is a constant representing delete operations.
	Delete = Op{"Delete"}
)

// Kind names a datamart row family a mutation applies to.
type Kind string

// Kinds the Net-Change Engine and Report Aggregator dispatch through.
// Entity and alert rows are synchronized directly by pkg/diff and
// pkg/alert respectively, not through this registry (see DESIGN.md).
const (
	KindRecord   Kind = "record"
	KindRelation Kind = "relation"
	KindReport   Kind = "report"
)

// Arg is an argument to a callback function.
type Arg interface{}

// Actions is an interface for CRUD operations on any row family.
type Actions interface {
	Create(context.Context, ...Arg) (Arg, error)
	Delete(context.Context, ...Arg) (Arg, error)
	Update(context.Context, ...Arg) (Arg, error)
}

// ActionError represents an error encountered while performing a CRUD
// action for a given Kind.
type ActionError struct {
	OperationType Op     `json:"operation"`
	Kind          Kind   `json:"kind"`
	Name          string `json:"name"`
	Err           error  `json:"error"`
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s %s failed: %v", e.OperationType.String(), e.Kind, e.Name, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
