package main

import (
	"context"
	"time"
)

// pruneStalePushTokensDaily drops device tokens that have not checked in
// for 90 days. Expo rejects them anyway; keeping them just slows fan-out.
func (app *application) pruneStalePushTokensDaily() {
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		prune := func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := app.pushTokens.PruneStale(ctx, 90*24*time.Hour); err != nil {
				app.logger.Errorf("Error pruning stale push tokens: %v", err)
			} else {
				app.logger.Infof("Pruned stale push tokens at %s", time.Now().Format(time.RFC1123))
			}
		}

		// Run once immediately
		prune()

		for range ticker.C {
			prune()
		}
	}()
}

// pruneFinishedAttemptsHourly evicts terminal checkout attempts from the
// live registry once they have been idle for an hour. Shoppers keep the
// persisted snapshot through GET /checkout/{ref}.
func (app *application) pruneFinishedAttemptsHourly() {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for range ticker.C {
			if n := app.checkout.PruneTerminal(time.Hour); n > 0 {
				app.logger.Infof("Pruned %d finished checkout attempts", n)
			}
		}
	}()
}
