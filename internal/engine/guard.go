package engine

import (
	"context"
	"fmt"

	"github.com/calcflow/calcflow/internal/store"
)

// Exists reports whether a calculation of this type was already created for
// the material. Pending, submitted, running and completed records count, as
// do failed records that still have retries left: those belong to Retry,
// not to a fresh generation.
func (e *Engine) Exists(ctx context.Context, materialID, token string) (bool, error) {
	calcs, err := e.store.ListCalculations(ctx, store.Filter{MaterialID: materialID, CalcType: token})
	if err != nil {
		return false, fmt.Errorf("checking existing %s/%s: %w", materialID, token, err)
	}
	for _, c := range calcs {
		if c.Status.IsActive() {
			return true, nil
		}
		if c.Status == store.StatusFailed && !c.RetriesExhausted(e.opts.MaxRetries) {
			return true, nil
		}
	}
	return false, nil
}
