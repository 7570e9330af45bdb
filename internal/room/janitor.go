// internal/room/janitor.go
package room

import (
	"context"
	"time"
)

// StartJanitor sweeps expired rooms every interval until ctx is done. It backs up the per-room
// timers, which stay the primary close path.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := s.CleanupExpiredRooms(now); n > 0 {
					s.log.WithField("closed", n).Info("janitor closed expired rooms")
				}
			}
		}
	}()
}
