package session

import (
	"context"
	"errors"
)

// ErrVisionAmbiguous marks zero or conflicting template matches where
// a unique match was required. Callers treat it as "not yet" and
// retry within the current state.
var ErrVisionAmbiguous = errors.New("ambiguous vision match")

// errStashClosed: the stash did not open after repeated clicks.
var errStashClosed = errors.New("stash did not open")

// runTradeWindow drives one open trade window: while the window stays
// open, step is invoked up to maxAttempts times. Returns whether the
// window was ever observed open. The trade is only ever accepted from
// inside step, and only when the matched quantity meets or exceeds
// the expected amount; ambiguous matches never confirm.
func runTradeWindow(ctx context.Context, screen *Screen, maxAttempts int, step func(ctx context.Context) error) bool {
	opened := false
	attempts := 0
	for screen.TradeOpened(ctx) {
		if ctx.Err() != nil {
			return opened
		}
		if attempts >= maxAttempts {
			return opened
		}
		opened = true
		if err := step(ctx); err != nil && !errors.Is(err, ErrVisionAmbiguous) {
			screen.logger.Debug("Trade step failed", "error", err)
		}
		attempts++
	}
	return opened
}

// matchedQuantity sums the stack counts of an item visible in a trade
// region, checking the full stack size first and the remainder stack
// second, mirroring how currency is staged.
func matchedQuantity(ctx context.Context, screen *Screen, itemID string, expected int, region string) int {
	full := expected
	if full > 10 {
		full = 10
	}
	total := 0
	for _, m := range screen.CountItems(ctx, itemID, full, region) {
		total += m.Count
	}
	if rem := expected % 10; rem != 0 && expected > 10 {
		for _, m := range screen.CountItems(ctx, itemID, rem, region) {
			total += m.Count
		}
	}
	return total
}
