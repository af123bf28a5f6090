// Package ledger is the raffle wheel: an ordered multiset of names where each
// occurrence is one slot. Gifts append, an authorized clear empties it, and a
// uniform pick over the slots is the weighted draw.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/cadegiameos/Reaper-Gift-Wheel/store"
	"github.com/cadegiameos/Reaper-Gift-Wheel/telemetry"
)

// MaxAppend bounds a single Append.
const MaxAppend = 1000

var (
	ErrInvalidEntry = errors.New("invalid entry")
	ErrEmpty        = errors.New("wheel is empty")
)

// Authorizer decides whether a credential may clear the wheel.
type Authorizer interface {
	AuthorizeDestructive(ctx context.Context, credential string) error
}

// Ledger persists entries as a list in the store.
type Ledger struct {
	store store.Store
	gate  Authorizer
	key   string

	mu sync.Mutex // Append and Clear never interleave within a process
}

// New returns a Ledger over s guarded by gate.
func New(s store.Store, gate Authorizer) *Ledger {
	return &Ledger{store: s, gate: gate, key: store.KeyWheelEntries}
}

// Append adds count occurrences of name in one atomic push and returns the new size.
// The ledger does not deduplicate; callers do.
func (l *Ledger) Append(ctx context.Context, name string, count int) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: name is required", ErrInvalidEntry)
	}
	if count < 1 || count > MaxAppend {
		return 0, fmt.Errorf("%w: count must be between 1 and %d", ErrInvalidEntry, MaxAppend)
	}
	values := make([]string, count)
	for i := range values {
		values[i] = name
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	n, err := l.store.Append(ctx, l.key, values...)
	if err != nil {
		return 0, fmt.Errorf("append entries: %w", err)
	}
	telemetry.SetWheelSize(int(n))
	return n, nil
}

// List returns entries in insertion order.
func (l *Ledger) List(ctx context.Context) ([]string, error) {
	entries, err := l.store.Range(ctx, l.key)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}

// Clear empties the wheel when credential is authorized. Dedup history is
// left alone so already-counted gifts are not re-absorbed on the next poll.
func (l *Ledger) Clear(ctx context.Context, credential string) error {
	if err := l.gate.AuthorizeDestructive(ctx, credential); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.store.Delete(ctx, l.key); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	telemetry.SetWheelSize(0)
	return nil
}

// SelectWinner picks a uniform index into entries. A nil rng uses the global source.
func SelectWinner(entries []string, rng *rand.Rand) (int, error) {
	if len(entries) == 0 {
		return 0, ErrEmpty
	}
	if rng == nil {
		return rand.IntN(len(entries)), nil
	}
	return rng.IntN(len(entries)), nil
}

// Draw lists the wheel and selects a winner.
func (l *Ledger) Draw(ctx context.Context, rng *rand.Rand) (int, string, error) {
	entries, err := l.List(ctx)
	if err != nil {
		return 0, "", err
	}
	i, err := SelectWinner(entries, rng)
	if err != nil {
		return 0, "", err
	}
	return i, entries[i], nil
}
