package services

import (
	"context"
	"fmt"

	"dealtracker/models"
	"dealtracker/storage"
)

// CloseCycle runs the end-of-cycle sweep: every active listing that no
// candidate touched this cycle takes a miss, and a listing whose miss count
// reaches the threshold is flipped inactive. Deactivation clears nothing
// else; price, history, and score stay put for a possible reactivation.
func CloseCycle(ctx context.Context, store storage.Store, seen map[string]bool, threshold int) (int, error) {
	if threshold <= 0 {
		threshold = 3
	}

	ids, err := store.ActiveListingIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("active listings: %w", err)
	}

	deactivated := 0
	for _, id := range ids {
		if seen[id] {
			continue
		}
		misses, err := store.RecordMiss(ctx, id)
		if err != nil {
			return deactivated, fmt.Errorf("record miss %s: %w", id, err)
		}
		if misses >= threshold {
			if err := store.MarkListingInactive(ctx, id); err != nil {
				return deactivated, fmt.Errorf("deactivate %s: %w", id, err)
			}
			store.Log(ctx, nil, models.LogLevelInfo, fmt.Sprintf("listing %s inactive after %d misses", id, misses))
			deactivated++
		}
	}
	return deactivated, nil
}
