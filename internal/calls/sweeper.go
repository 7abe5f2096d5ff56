// internal/calls/sweeper.go

package calls

import (
	"context"
	"log"
	"time"
)

// Sweeper times out calls nobody answered or that never started ringing
type Sweeper struct {
	service         Service
	interval        time.Duration
	ringTimeout     time.Duration
	initiateTimeout time.Duration
}

func NewSweeper(service Service, interval, ringTimeout, initiateTimeout time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Sweeper{
		service:         service,
		interval:        interval,
		ringTimeout:     ringTimeout,
		initiateTimeout: initiateTimeout,
	}
}

// Start runs until ctx is canceled
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[calls] sweeper started (ring timeout %s, initiate timeout %s)", s.ringTimeout, s.initiateTimeout)
	for {
		select {
		case <-ctx.Done():
			log.Println("[calls] sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many calls it expired
func (s *Sweeper) Sweep(ctx context.Context) int {
	expired, err := s.service.ExpireStale(ctx, s.ringTimeout, s.initiateTimeout)
	if err != nil {
		log.Printf("[calls] sweep failed: %v", err)
	}
	if len(expired) > 0 {
		log.Printf("[calls] expired %d stale calls", len(expired))
	}
	return len(expired)
}
