// services/scheduler.go
package services

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartSweepScheduler runs the match sweeps every minute: force-settling
// completed matches past their confirmation window and refunding challenges
// nobody played. Returns the scheduler so the caller can shut it down.
func (s *MatchService) StartSweepScheduler() gocron.Scheduler {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	// Every minute: auto-resolve unconfirmed results
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
			defer cancel()

			n, err := s.AutoResolveDue(ctx, time.Now())
			if err != nil {
				log.Printf("[Scheduler] auto-resolve error: %v", err)
				return
			}
			if n > 0 {
				log.Printf("✅ Auto-resolved %d unconfirmed matches", n)
			}
		}),
	)

	// Every minute: refund stale open challenges
	_, _ = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
			defer cancel()

			n, err := s.ExpireOpen(ctx, time.Now())
			if err != nil {
				log.Printf("[Scheduler] expiry error: %v", err)
				return
			}
			if n > 0 {
				log.Printf("✅ Expired and refunded %d open challenges", n)
			}
		}),
	)

	return sched
}
