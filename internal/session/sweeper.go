package session

import (
	"context"
	"log"
	"time"
)

// Sweep calls store.Cleanup every interval until ctx is cancelled. Cleanup
// errors are logged and do not stop the loop.
func Sweep(ctx context.Context, store Store, interval time.Duration, logger *log.Logger) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := store.Cleanup(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Printf("session cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				logger.Printf("session cleanup removed=%d", removed)
			}
		}
	}
}
