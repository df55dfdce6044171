// Package registry is a cancellable, introspectable timer registry. The
// two periodic scan triggers and every one-shot reminder job live here;
// one-shots are deduplicated by work-market number so re-scheduling a
// pass never double-books an appointment.
package registry

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrNotFound = errors.New("job not found")

	// ErrProtectedJob rejects removal of the periodic scan triggers.
	ErrProtectedJob = errors.New("job is protected")
)

// JobInfo is the operator-facing view of one registered job.
type JobInfo struct {
	ID            int
	DisplayName   string
	NextFire      time.Time
	WorkMarketNum string // empty for periodic triggers
}

type jobMeta struct {
	name      string
	market    string
	protected bool
}

// Registry wraps a cron runner with one-shot schedules and bookkeeping.
type Registry struct {
	c *cron.Cron

	mu       sync.Mutex
	meta     map[cron.EntryID]jobMeta
	byMarket map[string]cron.EntryID
}

func New() *Registry {
	return &Registry{
		c:        cron.New(),
		meta:     make(map[cron.EntryID]jobMeta),
		byMarket: make(map[string]cron.EntryID),
	}
}

// Start launches the runner. Jobs execute on their own goroutines.
func (r *Registry) Start() { r.c.Start() }

// Stop halts scheduling and returns a context that completes when running
// jobs finish.
func (r *Registry) Stop() { <-r.c.Stop().Done() }

// AddPeriodic registers a protected recurring trigger from a cron
// expression. Protected entries cannot be removed through Remove.
func (r *Registry) AddPeriodic(expr, name string, run func()) (int, error) {
	id, err := r.c.AddFunc(expr, run)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	r.meta[id] = jobMeta{name: name, protected: true}
	r.mu.Unlock()

	log.Printf("registry: periodic job %q registered (%s)", name, expr)
	return int(id), nil
}

// oneShot fires exactly once at a fixed instant.
type oneShot struct {
	at time.Time
}

func (s oneShot) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{} // never again
}

// AddOneShot registers a job firing once at fireAt. When a pending job
// already exists for market, the existing job's ID is returned and no new
// job is created. A fireAt that has already passed would never come up
// through the runner again, so the job runs immediately instead and the
// returned ID is 0.
func (r *Registry) AddOneShot(name, market string, fireAt time.Time, run func()) (int, error) {
	r.mu.Lock()
	if existing, ok := r.byMarket[market]; ok {
		r.mu.Unlock()
		return int(existing), nil
	}
	r.mu.Unlock()

	if !fireAt.After(time.Now()) {
		log.Printf("registry: one-shot %q fire time %s already passed, running now", name, fireAt.Format(time.RFC3339))
		go run()
		return 0, nil
	}

	// The entry body must not observe id or the bookkeeping maps until
	// registration below has finished.
	registered := make(chan struct{})
	var id cron.EntryID
	id = r.c.Schedule(oneShot{at: fireAt}, cron.FuncJob(func() {
		<-registered
		r.mu.Lock()
		_, live := r.meta[id]
		r.mu.Unlock()
		if !live {
			// Cancelled between scheduling and firing.
			return
		}
		defer r.complete(id)
		run()
	}))

	r.mu.Lock()
	// Lost race: another caller registered the same market between the
	// check above and here. Keep the first registration.
	if existing, ok := r.byMarket[market]; ok {
		r.mu.Unlock()
		close(registered)
		r.c.Remove(id)
		return int(existing), nil
	}
	r.meta[id] = jobMeta{name: name, market: market}
	if market != "" {
		r.byMarket[market] = id
	}
	r.mu.Unlock()
	close(registered)

	log.Printf("registry: one-shot %q scheduled for %s", name, fireAt.Format(time.RFC3339))
	return int(id), nil
}

// HasPending reports whether a one-shot job for market has been scheduled
// and not yet fired or cancelled.
func (r *Registry) HasPending(market string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byMarket[market]
	return ok
}

// complete clears bookkeeping after a one-shot fires.
func (r *Registry) complete(id cron.EntryID) {
	r.c.Remove(id)
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.meta[id]; ok {
		delete(r.meta, id)
		if m.market != "" {
			delete(r.byMarket, m.market)
		}
	}
}

// List returns all registered jobs ordered by next fire time.
func (r *Registry) List() []JobInfo {
	r.mu.Lock()
	metas := make(map[cron.EntryID]jobMeta, len(r.meta))
	for id, m := range r.meta {
		metas[id] = m
	}
	r.mu.Unlock()

	infos := make([]JobInfo, 0, len(metas))
	for id, m := range metas {
		entry := r.c.Entry(id)
		infos = append(infos, JobInfo{
			ID:            int(id),
			DisplayName:   m.name,
			NextFire:      entry.Next,
			WorkMarketNum: m.market,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].NextFire.Before(infos[j].NextFire) })
	return infos
}

// Get returns one job by ID.
func (r *Registry) Get(id int) (JobInfo, error) {
	r.mu.Lock()
	m, ok := r.meta[cron.EntryID(id)]
	r.mu.Unlock()
	if !ok {
		return JobInfo{}, ErrNotFound
	}
	entry := r.c.Entry(cron.EntryID(id))
	return JobInfo{
		ID:            id,
		DisplayName:   m.name,
		NextFire:      entry.Next,
		WorkMarketNum: m.market,
	}, nil
}

// Remove cancels a pending job. The underlying appointment record is
// untouched. The periodic triggers reject removal.
func (r *Registry) Remove(id int) error {
	r.mu.Lock()
	m, ok := r.meta[cron.EntryID(id)]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if m.protected {
		r.mu.Unlock()
		return ErrProtectedJob
	}
	delete(r.meta, cron.EntryID(id))
	if m.market != "" {
		delete(r.byMarket, m.market)
	}
	r.mu.Unlock()

	r.c.Remove(cron.EntryID(id))
	log.Printf("registry: job %d (%s) cancelled", id, m.name)
	return nil
}

// RemoveByMarket cancels the pending one-shot for market, if any.
func (r *Registry) RemoveByMarket(market string) bool {
	r.mu.Lock()
	id, ok := r.byMarket[market]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.Remove(int(id)) == nil
}
