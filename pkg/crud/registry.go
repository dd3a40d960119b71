package crud

import (
	"context"
	"fmt"
)

// Registry maps a Kind to the Actions that perform its mutations.
// Reconstructed from the teacher's registry_test.go (the registry.go
// source itself was not retrieved): Register/MustRegister/Get/Do plus
// the three verb convenience wrappers, unchanged in behavior.
type Registry struct {
	actions map[Kind]Actions
}

// Register associates kind with a. It returns an error if kind is empty
// or already registered.
func (r *Registry) Register(kind Kind, a Actions) error {
	if kind == "" {
		return fmt.Errorf("crud: kind must not be empty")
	}
	if r.actions == nil {
		r.actions = map[Kind]Actions{}
	}
	if _, ok := r.actions[kind]; ok {
		return fmt.Errorf("crud: kind %q already registered", kind)
	}
	r.actions[kind] = a
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(kind Kind, a Actions) {
	if err := r.Register(kind, a); err != nil {
		panic(err)
	}
}

// Get returns the Actions registered for kind.
func (r *Registry) Get(kind Kind) (Actions, error) {
	if kind == "" {
		return nil, fmt.Errorf("crud: kind must not be empty")
	}
	a, ok := r.actions[kind]
	if !ok {
		return nil, fmt.Errorf("crud: no actions registered for kind %q", kind)
	}
	return a, nil
}

// Create dispatches a Create call to kind's registered Actions.
func (r *Registry) Create(ctx context.Context, kind Kind, args ...Arg) (Arg, error) {
	a, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	return a.Create(ctx, args...)
}

// Update dispatches an Update call to kind's registered Actions.
func (r *Registry) Update(ctx context.Context, kind Kind, args ...Arg) (Arg, error) {
	a, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	return a.Update(ctx, args...)
}

// Delete dispatches a Delete call to kind's registered Actions.
func (r *Registry) Delete(ctx context.Context, kind Kind, args ...Arg) (Arg, error) {
	a, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	return a.Delete(ctx, args...)
}

// Do dispatches op against kind's registered Actions.
func (r *Registry) Do(ctx context.Context, kind Kind, op Op, args ...Arg) (Arg, error) {
	a, err := r.Get(kind)
	if err != nil {
		return nil, err
	}
	switch op {
	case Create:
		return a.Create(ctx, args...)
	case Update:
		return a.Update(ctx, args...)
	case Delete:
		return a.Delete(ctx, args...)
	default:
		return nil, fmt.Errorf("crud: unknown operation %q", op.String())
	}
}
