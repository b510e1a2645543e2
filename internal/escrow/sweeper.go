package escrow

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Sweeper periodically refunds matches that have waited too long for an
// opponent. A ttl of zero disables it entirely.
type Sweeper struct {
	svc       *Service
	ttl       time.Duration
	scheduler gocron.Scheduler
}

func NewSweeper(svc *Service, ttl, interval time.Duration) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	s := &Sweeper{svc: svc, ttl: ttl, scheduler: scheduler}
	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.sweep),
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sweeper) sweep() {
	if _, err := s.svc.SweepStaleMatches(context.Background(), s.ttl); err != nil {
		log.Printf("Stale sweep error: %v", err)
	}
}

func (s *Sweeper) Start() {
	s.scheduler.Start()
}

func (s *Sweeper) Stop() error {
	return s.scheduler.Shutdown()
}
