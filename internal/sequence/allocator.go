package sequence

import (
	"context"
	"fmt"
	"time"
)

// CounterStore advances persistent per-scope counters. Next and Raise must be
// atomic with respect to concurrent callers for the same key; the Postgres
// implementation satisfies this with a single INSERT .. ON CONFLICT .. DO
// UPDATE .. RETURNING statement.
type CounterStore interface {
	// Next creates the counter at floor when absent and otherwise advances
	// it by one, returning the issued value.
	Next(ctx context.Context, key string, floor int64) (int64, error)
	// Raise lifts the counter to at least value, creating it when absent.
	// It never lowers an existing counter.
	Raise(ctx context.Context, key string, value int64) error
}

// Allocator issues identifiers for numbering scopes.
type Allocator struct {
	store CounterStore
	now   func() time.Time
}

// NewAllocator constructs an Allocator over the given counter store.
func NewAllocator(store CounterStore) *Allocator {
	return &Allocator{store: store, now: time.Now}
}

// WithClock overrides the time source, used by tests and by callers that
// must pin a document to a business date rather than the wall clock.
func (a *Allocator) WithClock(now func() time.Time) *Allocator {
	return &Allocator{store: a.store, now: now}
}

// Allocate issues the next identifier for the scope. The scope's date bucket
// defaults to the current time when Scope.Date is zero.
func (a *Allocator) Allocate(ctx context.Context, scope Scope) (string, error) {
	f, ok := FormatFor(scope.Category)
	if !ok {
		return "", ErrUnknownCategory
	}
	if scope.Category == CategorySKU && len(scope.Qualifier) != 3 {
		return "", fmt.Errorf("sequence: sku scope requires a three-letter category code, got %q", scope.Qualifier)
	}
	at := scope.Date
	if at.IsZero() {
		at = a.now()
	}

	key, err := scope.Key(at)
	if err != nil {
		return "", err
	}
	prefix, err := scope.Prefix(at)
	if err != nil {
		return "", err
	}

	value, err := a.store.Next(ctx, key, f.Floor)
	if err != nil {
		return "", fmt.Errorf("sequence: advance %s: %w", key, err)
	}
	return f.Render(prefix, value), nil
}

// SeedFromExisting lifts a scope's counter to cover an identifier issued
// before the counter table existed. The identifier's suffix must parse;
// a malformed stored value surfaces as ErrCorruptSequenceState so an
// operator can repair the data instead of the stream silently restarting.
func (a *Allocator) SeedFromExisting(ctx context.Context, scope Scope, identifier string) error {
	at := scope.Date
	if at.IsZero() {
		at = a.now()
	}
	key, err := scope.Key(at)
	if err != nil {
		return err
	}
	prefix, err := scope.Prefix(at)
	if err != nil {
		return err
	}
	value, err := ParseSuffix(prefix, identifier)
	if err != nil {
		return err
	}
	if err := a.store.Raise(ctx, key, value); err != nil {
		return fmt.Errorf("sequence: raise %s: %w", key, err)
	}
	return nil
}
