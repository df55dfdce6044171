// Package checkin is the orchestrating state machine: it scans appointment
// records, decides which need a 24-hour or 1-hour reminder, fires
// notification jobs exactly once per record per window, and reconciles
// completion state after a successful send.
package checkin

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/djlord-it/checkin/internal/domain"
	"github.com/djlord-it/checkin/internal/sms"
	"github.com/djlord-it/checkin/internal/source"
)

// Reminder windows, used as metric and analytics labels.
const (
	Window24Hour = "24h"
	Window1Hour  = "1h"
)

// Normalizer is the slice of the record normalizer the engine consumes.
type Normalizer interface {
	Normalize(ctx context.Context, row source.Row) (domain.TechDetails, error)
	ApptDate(row source.Row) (time.Time, error)
	WorkMarketNum(row source.Row) (string, error)
}

// Sender delivers reminder texts and relays row-level failures.
type Sender interface {
	Send(ctx context.Context, to, body string) (sms.Receipt, error)
	NotifyAdmin(ctx context.Context, message string)
	HasAdminContact() bool
}

// Scheduler registers one-shot reminder jobs.
type Scheduler interface {
	AddOneShot(name, market string, fireAt time.Time, run func()) (int, error)
	HasPending(market string) bool
}

// MetricsSink records engine metrics. Non-blocking, fire-and-forget.
type MetricsSink interface {
	PassStarted(window string)
	PassCompleted(window string, duration time.Duration, sent, skipped int, err error)
	JobScheduled(window string)
	JobFired(window string, skipped bool)
	WriteBackFailure()
}

// AnalyticsSink counts sent notifications. Best-effort; errors are the
// sink's problem.
type AnalyticsSink interface {
	RecordSend(ctx context.Context, window, workMarketNum string)
}

// Config holds the engine's tunables.
type Config struct {
	// FormURL is the base URL of the confirmation form.
	FormURL string

	// EscapeFormHash enables the %23 -> %2523 double-encoding workaround
	// for site identifiers containing '#'.
	EscapeFormHash bool

	// Lookahead bounds Compute1HourDue's window. Default 24h.
	Lookahead time.Duration
}

// Engine drives the scan passes and one-shot reminder jobs. Scan passes
// never run concurrently with themselves: a trigger arriving while the
// previous pass still runs skips with a log line. One-shot fires run
// concurrently with each other and with passes.
type Engine struct {
	cfg       Config
	src       source.RecordSource
	norm      Normalizer
	disp      Sender
	sched     Scheduler
	metrics   MetricsSink      // optional, nil = disabled
	analytics AnalyticsSink    // optional, nil = disabled
	corrector source.Corrector // optional, nil = corrections rejected
	clock     func() time.Time

	passMu sync.Mutex // serializes scan passes
}

func New(cfg Config, src source.RecordSource, norm Normalizer, disp Sender, sched Scheduler) *Engine {
	if cfg.Lookahead == 0 {
		cfg.Lookahead = 24 * time.Hour
	}
	return &Engine{
		cfg:   cfg,
		src:   src,
		norm:  norm,
		disp:  disp,
		sched: sched,
		clock: time.Now,
	}
}

func (e *Engine) WithMetrics(m MetricsSink) *Engine {
	e.metrics = m
	return e
}

func (e *Engine) WithAnalytics(a AnalyticsSink) *Engine {
	e.analytics = a
	return e
}

// Run24HourPass scans every record and synchronously sends the "please
// confirm" nudge to rows whose appointment is tomorrow (process-local
// wall clock) and whose 24-hour flag is still unset. The pass never sets
// the flag itself: completion arrives out-of-band via HandleConfirmation.
//
// Row-level failures are relayed to the admin contact and never abort
// the pass. A record-source failure aborts and propagates; the periodic
// trigger logs it and retries next tick.
func (e *Engine) Run24HourPass(ctx context.Context) error {
	if !e.passMu.TryLock() {
		log.Printf("checkin: 24h pass skipped, previous pass still running")
		return nil
	}
	defer e.passMu.Unlock()

	start := e.clock()
	if e.metrics != nil {
		e.metrics.PassStarted(Window24Hour)
	}
	log.Printf("checkin: scheduling 24 hour checks...")

	sent, skipped := 0, 0
	err := e.run24Hour(ctx, &sent, &skipped)

	if e.metrics != nil {
		e.metrics.PassCompleted(Window24Hour, e.clock().Sub(start), sent, skipped, err)
	}
	return err
}

func (e *Engine) run24Hour(ctx context.Context, sent, skipped *int) error {
	rows, err := e.src.ListRows(ctx)
	if err != nil {
		return fmt.Errorf("list rows: %w", err)
	}

	tomorrow := e.clock().AddDate(0, 0, 1)

	for _, row := range rows {
		done, err := e.src.GetFlag(row, domain.Flag24Hour)
		if err != nil {
			return fmt.Errorf("read 24h flag: %w", err)
		}
		if done {
			continue
		}

		apptDate, err := e.norm.ApptDate(row)
		if err != nil {
			e.relayRowError(ctx, fmt.Sprintf("Error parsing date for row #%d. Error: %q", row.Number(), err))
			*skipped++
			continue
		}
		if !sameDate(apptDate, tomorrow) {
			continue
		}

		td, err := e.norm.Normalize(ctx, row)
		if err != nil {
			e.relayRowError(ctx, fmt.Sprintf("Could not schedule 24 hour pre-text while parsing row #%d. Error: %q", row.Number(), err))
			*skipped++
			continue
		}

		formURL := BuildFormURL(e.cfg.FormURL, td, e.cfg.EscapeFormHash)
		body := "Please confirm the details of your appointment tomorrow: " + formURL

		if _, err := e.disp.Send(ctx, td.TechContact, body); err != nil {
			log.Printf("checkin: 24h send to row #%d failed: %v", row.Number(), err)
			*skipped++
			continue
		}
		e.recordSend(ctx, Window24Hour, td.WorkMarketNum)
		log.Printf("checkin: 24h reminder sent for WM#%s", td.WorkMarketNum)
		*sent++
	}
	return nil
}

// DueCheck is one appointment selected for a 1-hour reminder.
type DueCheck struct {
	FireAt  time.Time
	Details domain.TechDetails
	Row     source.Row
}

// Compute1HourDue selects rows whose appointment falls strictly between
// now and now+Lookahead and whose 1-hour flag is unset. Fire time is the
// appointment minus one hour, re-localized in the appointment's own zone
// so a DST transition between the two instants cannot shift the result.
func (e *Engine) Compute1HourDue(ctx context.Context) ([]DueCheck, error) {
	rows, err := e.src.ListRows(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}

	now := e.clock()
	until := now.Add(e.cfg.Lookahead)

	var due []DueCheck
	for _, row := range rows {
		done, err := e.src.GetFlag(row, domain.Flag1Hour)
		if err != nil {
			return nil, fmt.Errorf("read 1h flag: %w", err)
		}
		if done {
			continue
		}

		td, err := e.norm.Normalize(ctx, row)
		if err != nil {
			e.relayRowError(ctx, fmt.Sprintf("Could not schedule 1 hour pre-text while parsing row #%d. Error: %q", row.Number(), err))
			continue
		}

		if now.Before(td.ApptAt) && td.ApptAt.Before(until) {
			fireAt := td.ApptAt.Add(-time.Hour).In(td.ApptAt.Location())
			due = append(due, DueCheck{FireAt: fireAt, Details: td, Row: row})
		}
	}
	return due, nil
}

// Schedule1HourJobs registers a one-shot job per due item, deduplicating
// on work-market number against jobs already pending, so re-running on
// every periodic tick never double-books an appointment. An appointment
// discovered inside its final hour has no future fire time left, so its
// reminder is sent on this pass instead of being booked as a job.
func (e *Engine) Schedule1HourJobs(due []DueCheck) int {
	scheduled := 0
	for _, d := range due {
		d := d
		if e.sched.HasPending(d.Details.WorkMarketNum) {
			continue
		}
		if !d.FireAt.After(e.clock()) {
			log.Printf("checkin: 1h reminder WM#%s already due, sending now", d.Details.WorkMarketNum)
			if err := e.Fire1HourJob(context.Background(), d); err != nil {
				log.Printf("checkin: 1h job WM#%s: %v", d.Details.WorkMarketNum, err)
				continue
			}
			scheduled++
			continue
		}
		name := fmt.Sprintf("1hr reminder WM#%s", d.Details.WorkMarketNum)
		_, err := e.sched.AddOneShot(name, d.Details.WorkMarketNum, d.FireAt, func() {
			if err := e.Fire1HourJob(context.Background(), d); err != nil {
				log.Printf("checkin: 1h job WM#%s: %v", d.Details.WorkMarketNum, err)
			}
		})
		if err != nil {
			log.Printf("checkin: schedule 1h job WM#%s: %v", d.Details.WorkMarketNum, err)
			continue
		}
		if e.metrics != nil {
			e.metrics.JobScheduled(Window1Hour)
		}
		scheduled++
	}
	return scheduled
}

// Run1HourPass computes the due set and schedules jobs, serialized on the
// same lane as the 24-hour pass.
func (e *Engine) Run1HourPass(ctx context.Context) error {
	if !e.passMu.TryLock() {
		log.Printf("checkin: 1h pass skipped, previous pass still running")
		return nil
	}
	defer e.passMu.Unlock()

	start := e.clock()
	if e.metrics != nil {
		e.metrics.PassStarted(Window1Hour)
	}
	log.Printf("checkin: scheduling 1 hour checks...")

	due, err := e.Compute1HourDue(ctx)
	scheduled := 0
	if err == nil {
		scheduled = e.Schedule1HourJobs(due)
	}

	if e.metrics != nil {
		e.metrics.PassCompleted(Window1Hour, e.clock().Sub(start), scheduled, len(due)-scheduled, err)
	}
	return err
}

// Fire1HourJob sends one 1-hour reminder. The completion flag is
// re-checked immediately before the send: a concurrent path (manual
// trigger, human correction) may have completed the record between
// scheduling and firing, in which case the send is skipped, not errored.
// On a confirmed send the flag is set and flushed; a write-back failure
// is surfaced since it risks a duplicate send on the next pass.
func (e *Engine) Fire1HourJob(ctx context.Context, d DueCheck) error {
	market := d.Details.WorkMarketNum

	done, err := e.src.GetFlag(d.Row, domain.Flag1Hour)
	if err != nil {
		return fmt.Errorf("re-check 1h flag WM#%s: %w", market, err)
	}
	if done {
		log.Printf("checkin: 1h job WM#%s skipped, flag set since scheduling", market)
		if e.metrics != nil {
			e.metrics.JobFired(Window1Hour, true)
		}
		return nil
	}

	body := fmt.Sprintf("Reminder that your appointment (ID %s) is in one hour !", d.Details.SiteID)
	if _, err := e.disp.Send(ctx, d.Details.TechContact, body); err != nil {
		// Flag stays false; the record is eligible again on the next
		// scan or manual trigger. No automatic reschedule here.
		return fmt.Errorf("send 1h reminder WM#%s: %w", market, err)
	}
	e.recordSend(ctx, Window1Hour, market)
	if e.metrics != nil {
		e.metrics.JobFired(Window1Hour, false)
	}

	if err := e.src.SetFlag(d.Row, domain.Flag1Hour, true); err != nil {
		return fmt.Errorf("set 1h flag WM#%s: %w", market, err)
	}
	if err := e.src.Flush(ctx); err != nil {
		if e.metrics != nil {
			e.metrics.WriteBackFailure()
		}
		return err
	}
	log.Printf("checkin: 1h reminder sent and recorded for WM#%s", market)
	return nil
}

// Send24HourOne is the manual-override variant: send the 24-hour nudge
// for a single record identified by work-market number.
func (e *Engine) Send24HourOne(ctx context.Context, id string) error {
	row, err := e.findRow(ctx, id)
	if err != nil {
		return err
	}

	done, err := e.src.GetFlag(row, domain.Flag24Hour)
	if err != nil {
		return err
	}
	if done {
		return ErrAlreadyDone
	}

	td, err := e.norm.Normalize(ctx, row)
	if err != nil {
		return err
	}

	formURL := BuildFormURL(e.cfg.FormURL, td, e.cfg.EscapeFormHash)
	body := "Please confirm the details of your appointment tomorrow: " + formURL
	if _, err := e.disp.Send(ctx, td.TechContact, body); err != nil {
		return err
	}
	e.recordSend(ctx, Window24Hour, td.WorkMarketNum)
	return nil
}

// Schedule1HourOne is the manual-override variant: register the 1-hour
// job for a single record. Fails with ErrPastDue when the computed fire
// time has already passed.
func (e *Engine) Schedule1HourOne(ctx context.Context, id string) (int, error) {
	row, err := e.findRow(ctx, id)
	if err != nil {
		return 0, err
	}

	done, err := e.src.GetFlag(row, domain.Flag1Hour)
	if err != nil {
		return 0, err
	}
	if done {
		return 0, ErrAlreadyDone
	}

	td, err := e.norm.Normalize(ctx, row)
	if err != nil {
		return 0, err
	}

	fireAt := td.ApptAt.Add(-time.Hour).In(td.ApptAt.Location())
	if !fireAt.After(e.clock()) {
		return 0, ErrPastDue
	}

	d := DueCheck{FireAt: fireAt, Details: td, Row: row}
	name := fmt.Sprintf("1hr reminder WM#%s", td.WorkMarketNum)
	jobID, err := e.sched.AddOneShot(name, td.WorkMarketNum, fireAt, func() {
		if err := e.Fire1HourJob(context.Background(), d); err != nil {
			log.Printf("checkin: 1h job WM#%s: %v", td.WorkMarketNum, err)
		}
	})
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.JobScheduled(Window1Hour)
	}
	return jobID, nil
}

// findRow locates the row whose work-market number matches id, reading a
// fresh snapshot.
func (e *Engine) findRow(ctx context.Context, id string) (source.Row, error) {
	rows, err := e.src.ListRows(ctx)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		market, err := e.norm.WorkMarketNum(row)
		if err != nil {
			continue // unparseable market numbers cannot match
		}
		if market == id {
			return row, nil
		}
	}
	return nil, ErrNotFound
}

// relayRowError logs a row-level failure and forwards it to the admin
// contact when one is configured.
func (e *Engine) relayRowError(ctx context.Context, msg string) {
	log.Printf("checkin: %s", msg)
	if e.disp.HasAdminContact() {
		e.disp.NotifyAdmin(ctx, msg)
	}
}

func (e *Engine) recordSend(ctx context.Context, window, market string) {
	if e.analytics != nil {
		e.analytics.RecordSend(ctx, window, market)
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
