package ingest

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

const reindexLockKey = "ingest:reindex:lock"

// Scheduler re-runs the ingestion pipeline on a cron schedule. When a Redis
// client is configured, a SetNX lock keeps concurrent replicas from reindexing
// at the same time.
type Scheduler struct {
	Pipeline *Pipeline
	CronSpec string
	Rdb      *redis.Client
	Stop     chan struct{}
	Logger   *log.Logger

	lastRun time.Time
}

// Start launches the scheduler loop. It is a no-op when no cron spec is set.
func (s *Scheduler) Start() {
	if s.CronSpec == "" {
		return
	}
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	if _, err := cronexpr.Parse(s.CronSpec); err != nil {
		s.Logger.Printf("invalid refresh cron %q, scheduler disabled: %v", s.CronSpec, err)
		return
	}
	// the serve path already ran the initial ingest; reindex on schedule only
	s.lastRun = time.Now()
	ticker := time.NewTicker(time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.Stop:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	if !s.due(time.Now()) {
		return
	}
	ctx := context.Background()
	if s.Rdb != nil {
		// distributed lock to avoid duplicate reindex runs
		ok, err := s.Rdb.SetNX(ctx, reindexLockKey, "1", 10*time.Minute).Result()
		if err != nil {
			s.Logger.Printf("reindex lock: %v", err)
			return
		}
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, reindexLockKey)
	}

	s.lastRun = time.Now()
	stats, err := s.Pipeline.Run(ctx)
	if err != nil {
		s.Logger.Printf("scheduled reindex failed: %v", err)
		return
	}
	s.Logger.Printf("scheduled reindex done: %d passages", stats.Passages)
}

func (s *Scheduler) due(now time.Time) bool {
	if s.lastRun.IsZero() {
		return true
	}
	expr, err := cronexpr.Parse(s.CronSpec)
	if err != nil {
		return false
	}
	next := expr.Next(s.lastRun)
	return !next.IsZero() && !next.After(now)
}
