// Package quota owns the single-use guest permission flag.
package quota

import (
	"context"
	"errors"
	"fmt"

	"oneiro/internal/store"
)

// AttemptUsedKey is the persisted flag marking the free guest interpretation
// as consumed. It is keyed to the profile, not to any identity.
const AttemptUsedKey = "guest_attempt_used"

// Gate reads and writes the guest quota flag. There is no reset: once the
// free attempt is consumed only external cleanup of the store brings it back.
type Gate struct {
	store store.Store
}

// NewGate builds a gate over the injected store.
func NewGate(st store.Store) *Gate {
	return &Gate{store: st}
}

// HasQuota reports whether the guest still has their free interpretation.
func (g *Gate) HasQuota(ctx context.Context) (bool, error) {
	value, err := g.store.Get(ctx, AttemptUsedKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("read guest quota: %w", err)
	}
	return value != "true", nil
}

// Consume irrevocably marks the free attempt as used.
func (g *Gate) Consume(ctx context.Context) error {
	if err := g.store.Set(ctx, AttemptUsedKey, "true"); err != nil {
		return fmt.Errorf("consume guest quota: %w", err)
	}
	return nil
}
