// Package sweep cancels stale reminder jobs.
//
// A 1-hour job goes stale when its record's completion flag was set
// out-of-band after scheduling: a human marked the row done, a manual
// trigger fired early, or another process wrote the flag. The job's own
// fire-time re-check would catch it too, but sweeping early frees the
// registry slot and keeps the pending list honest.
package sweep

import (
	"context"
	"log"
	"time"

	"github.com/djlord-it/checkin/internal/domain"
	"github.com/djlord-it/checkin/internal/registry"
	"github.com/djlord-it/checkin/internal/source"
)

// Registry is the slice of the job registry the sweeper consumes.
type Registry interface {
	List() []registry.JobInfo
	RemoveByMarket(market string) bool
}

// RowReader reads flags from the record source.
type RowReader interface {
	ListRows(ctx context.Context) ([]source.Row, error)
	GetFlag(row source.Row, column string) (bool, error)
}

// Normalizer extracts the work-market key used to match rows to jobs.
type Normalizer interface {
	WorkMarketNum(row source.Row) (string, error)
}

// Config holds sweeper configuration.
type Config struct {
	// Interval is how often the sweeper runs.
	// Default: 5 minutes.
	Interval time.Duration
}

// DefaultConfig returns the default sweeper configuration.
func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
	}
}

// Sweeper periodically compares pending 1-hour jobs against live record
// flags and removes jobs whose record is already complete.
type Sweeper struct {
	config Config
	reg    Registry
	src    RowReader
	norm   Normalizer
}

// New creates a new Sweeper.
func New(config Config, reg Registry, src RowReader, norm Normalizer) *Sweeper {
	if config.Interval == 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Sweeper{
		config: config,
		reg:    reg,
		src:    src,
		norm:   norm,
	}
}

// Run starts the sweep loop. It blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	log.Printf("sweep: started (interval=%s)", s.config.Interval)

	// Run immediately on startup, then on ticker
	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("sweep: stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle executes one sweep cycle.
func (s *Sweeper) runCycle(ctx context.Context) {
	jobs := s.pendingOneShots()
	if len(jobs) == 0 {
		// Nothing scheduled. Silent success.
		return
	}

	doneByMarket, err := s.completedMarkets(ctx)
	if err != nil {
		// Source error: log and abort cycle. Will retry next interval.
		log.Printf("sweep: failed to read records: %v", err)
		return
	}

	removed := 0
	for _, job := range jobs {
		if ctx.Err() != nil {
			log.Printf("sweep: cycle interrupted, removed %d/%d stale jobs", removed, len(jobs))
			return
		}
		if !doneByMarket[job.WorkMarketNum] {
			continue
		}
		if s.reg.RemoveByMarket(job.WorkMarketNum) {
			log.Printf("sweep: cancelled stale job WM#%s (record completed out-of-band)", job.WorkMarketNum)
			removed++
		}
	}

	if removed > 0 {
		log.Printf("sweep: cycle complete, removed=%d", removed)
	}
}

// pendingOneShots filters the registry listing down to jobs carrying a
// work-market key, i.e. the one-shot reminders.
func (s *Sweeper) pendingOneShots() []registry.JobInfo {
	var out []registry.JobInfo
	for _, job := range s.reg.List() {
		if job.WorkMarketNum != "" {
			out = append(out, job)
		}
	}
	return out
}

// completedMarkets reads a fresh snapshot and returns the set of
// work-market numbers whose 1-hour flag is already set.
func (s *Sweeper) completedMarkets(ctx context.Context) (map[string]bool, error) {
	rows, err := s.src.ListRows(ctx)
	if err != nil {
		return nil, err
	}

	done := make(map[string]bool)
	for _, row := range rows {
		set, err := s.src.GetFlag(row, domain.Flag1Hour)
		if err != nil || !set {
			continue
		}
		market, err := s.norm.WorkMarketNum(row)
		if err != nil {
			continue
		}
		done[market] = true
	}
	return done, nil
}
