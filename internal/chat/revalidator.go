package chat

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Revalidator periodically re-fetches a conversation's history so the
// store converges even when the live channel is down.
type Revalidator struct {
	Interval time.Duration
	Refresh  func(ctx context.Context) error

	mu   sync.Mutex
	cron *cron.Cron
}

// Start schedules Refresh every Interval. Runs never overlap; a tick that
// fires while a refresh is still in flight is skipped.
func (r *Revalidator) Start() error {
	if r.Interval <= 0 {
		return fmt.Errorf("chat: revalidation interval must be positive, got %s", r.Interval)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+r.Interval.String(), r.run); err != nil {
		return fmt.Errorf("chat: schedule revalidation: %w", err)
	}
	c.Start()
	r.cron = c
	return nil
}

// Stop cancels future runs. It does not wait for a refresh in flight.
func (r *Revalidator) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		r.cron.Stop()
		r.cron = nil
	}
}

func (r *Revalidator) run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.Interval)
	defer cancel()

	if err := r.Refresh(ctx); err != nil {
		log.Printf("WARNING: scheduled history refresh failed: %v", err)
	}
}
