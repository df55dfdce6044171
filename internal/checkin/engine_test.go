package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/djlord-it/checkin/internal/domain"
	"github.com/djlord-it/checkin/internal/sms"
	"github.com/djlord-it/checkin/internal/source"
	"github.com/djlord-it/checkin/internal/testutil"
)

type memRow struct {
	num int
}

func (r *memRow) Number() int { return r.num }

// memSource is an in-memory RecordSource and Corrector with buffered
// flag writes, mirroring the real sources' commit discipline.
type memSource struct {
	mu          sync.Mutex
	rows        []source.Row
	flags       map[int]map[string]bool
	pending     map[int]map[string]bool
	listErr     error
	flushErr    error
	flushCalls  int
	corrections []string
}

func newMemSource(rows ...*memRow) *memSource {
	s := &memSource{
		flags:   make(map[int]map[string]bool),
		pending: make(map[int]map[string]bool),
	}
	for _, r := range rows {
		s.rows = append(s.rows, r)
	}
	return s
}

func (s *memSource) ListRows(ctx context.Context) ([]source.Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]source.Row(nil), s.rows...), nil
}

func (s *memSource) GetField(row source.Row, column string) (any, error) {
	return nil, source.ErrUnknownColumn
}

func (s *memSource) GetFlag(row source.Row, flag string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := row.Number()
	if v, ok := s.pending[n][flag]; ok {
		return v, nil
	}
	return s.flags[n][flag], nil
}

func (s *memSource) SetFlag(row source.Row, flag string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := row.Number()
	if s.pending[n] == nil {
		s.pending[n] = make(map[string]bool)
	}
	s.pending[n][flag] = value
	return nil
}

func (s *memSource) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushCalls++
	if s.flushErr != nil {
		return s.flushErr
	}
	for n, flags := range s.pending {
		if s.flags[n] == nil {
			s.flags[n] = make(map[string]bool)
		}
		for flag, v := range flags {
			s.flags[n][flag] = v
		}
	}
	s.pending = make(map[int]map[string]bool)
	return nil
}

func (s *memSource) AddCorrection(ctx context.Context, row source.Row, title, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corrections = append(s.corrections, title)
	return nil
}

func (s *memSource) committedFlag(num int, flag string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[num][flag]
}

func (s *memSource) setFlagDirect(num int, flag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags[num] == nil {
		s.flags[num] = make(map[string]bool)
	}
	s.flags[num][flag] = true
}

// fakeNorm serves canned TechDetails per row number.
type fakeNorm struct {
	details map[int]domain.TechDetails
	errs    map[int]error
}

func (n *fakeNorm) Normalize(ctx context.Context, row source.Row) (domain.TechDetails, error) {
	if err := n.errs[row.Number()]; err != nil {
		return domain.TechDetails{}, err
	}
	return n.details[row.Number()], nil
}

func (n *fakeNorm) ApptDate(row source.Row) (time.Time, error) {
	if err := n.errs[row.Number()]; err != nil {
		return time.Time{}, err
	}
	return n.details[row.Number()].ApptAt, nil
}

func (n *fakeNorm) WorkMarketNum(row source.Row) (string, error) {
	if err := n.errs[row.Number()]; err != nil {
		return "", err
	}
	return n.details[row.Number()].WorkMarketNum, nil
}

type sentMessage struct {
	to   string
	body string
}

type fakeSender struct {
	mu        sync.Mutex
	sent      []sentMessage
	sendErr   error
	admin     bool
	adminMsgs []string
}

func (s *fakeSender) Send(ctx context.Context, to, body string) (sms.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return sms.Receipt{}, s.sendErr
	}
	s.sent = append(s.sent, sentMessage{to: to, body: body})
	return sms.Receipt{ID: fmt.Sprintf("msg-%d", len(s.sent)), Status: "sent"}, nil
}

func (s *fakeSender) NotifyAdmin(ctx context.Context, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adminMsgs = append(s.adminMsgs, message)
}

func (s *fakeSender) HasAdminContact() bool { return s.admin }

func (s *fakeSender) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type scheduledJob struct {
	name   string
	market string
	fireAt time.Time
}

type fakeSched struct {
	mu      sync.Mutex
	pending map[string]bool
	added   []scheduledJob
	addErr  error
}

func newFakeSched() *fakeSched {
	return &fakeSched{pending: make(map[string]bool)}
}

func (s *fakeSched) AddOneShot(name, market string, fireAt time.Time, run func()) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return 0, s.addErr
	}
	s.added = append(s.added, scheduledJob{name: name, market: market, fireAt: fireAt})
	s.pending[market] = true
	return len(s.added), nil
}

func (s *fakeSched) HasPending(market string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[market]
}

func details(market, phone string, apptAt time.Time) domain.TechDetails {
	return domain.TechDetails{
		SiteID:        "STORE #42",
		TechName:      "Ana Flores",
		TechContact:   phone,
		Address:       "1 Main St, New York, NY, 10001",
		ApptAt:        apptAt,
		WorkMarketNum: market,
		WorkOrderNum:  "WO-77",
	}
}

func newTestEngine(src *memSource, norm *fakeNorm, sender *fakeSender, sched *fakeSched, now time.Time) *Engine {
	eng := New(Config{FormURL: "https://forms.example.com/checkin"}, src, norm, sender, sched)
	clock := testutil.NewFakeClock(now)
	eng.clock = clock.Now
	return eng
}

func TestRun24HourPass_SendsForTomorrowOnly(t *testing.T) {
	now := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	tomorrow := time.Date(2026, 9, 15, 13, 30, 0, 0, time.UTC)

	src := newMemSource(&memRow{num: 1}, &memRow{num: 2}, &memRow{num: 3})
	src.setFlagDirect(3, domain.Flag24Hour)

	norm := &fakeNorm{details: map[int]domain.TechDetails{
		1: details("111", "+12125550134", tomorrow),
		2: details("222", "+12125550135", now.Add(2*time.Hour)), // today, not tomorrow
		3: details("333", "+12125550136", tomorrow),             // already confirmed
	}}
	sender := &fakeSender{}
	eng := newTestEngine(src, norm, sender, newFakeSched(), now)

	if err := eng.Run24HourPass(testutil.TestContext(t)); err != nil {
		t.Fatalf("Run24HourPass() error = %v", err)
	}

	if got := sender.sentCount(); got != 1 {
		t.Fatalf("sent %d messages, want 1", got)
	}
	msg := sender.sent[0]
	if msg.to != "+12125550134" {
		t.Errorf("sent to %s, want +12125550134", msg.to)
	}
	if !strings.Contains(msg.body, "Please confirm the details of your appointment tomorrow") {
		t.Errorf("body %q missing confirmation text", msg.body)
	}
	if !strings.Contains(msg.body, "https://forms.example.com/checkin?") {
		t.Errorf("body %q missing form link", msg.body)
	}

	// Completion arrives via the form, never from the pass itself.
	if src.committedFlag(1, domain.Flag24Hour) {
		t.Error("pass must not set the 24 hour flag")
	}
}

func TestRun24HourPass_RelaysRowErrors(t *testing.T) {
	now := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	tomorrow := time.Date(2026, 9, 15, 10, 0, 0, 0, time.UTC)

	src := newMemSource(&memRow{num: 1}, &memRow{num: 2})
	norm := &fakeNorm{
		details: map[int]domain.TechDetails{2: details("222", "+12125550135", tomorrow)},
		errs:    map[int]error{1: errors.New("phone \"123\" is garbage")},
	}
	sender := &fakeSender{admin: true}
	eng := newTestEngine(src, norm, sender, newFakeSched(), now)

	if err := eng.Run24HourPass(testutil.TestContext(t)); err != nil {
		t.Fatalf("Run24HourPass() error = %v", err)
	}

	// Bad row relayed, good row still served.
	if len(sender.adminMsgs) != 1 {
		t.Fatalf("admin received %d messages, want 1", len(sender.adminMsgs))
	}
	if !strings.Contains(sender.adminMsgs[0], "row #1") {
		t.Errorf("admin message %q should cite row #1", sender.adminMsgs[0])
	}
	if got := sender.sentCount(); got != 1 {
		t.Errorf("sent %d reminders, want 1", got)
	}
}

func TestRun24HourPass_SourceErrorAborts(t *testing.T) {
	src := newMemSource(&memRow{num: 1})
	src.listErr = errors.New("api unreachable")
	eng := newTestEngine(src, &fakeNorm{}, &fakeSender{}, newFakeSched(), time.Now())

	if err := eng.Run24HourPass(testutil.TestContext(t)); err == nil {
		t.Fatal("Run24HourPass() should propagate record source errors")
	}
}

func TestCompute1HourDue_WindowIsStrict(t *testing.T) {
	loc := testutil.MustLoadLocation(t, "America/New_York")
	now := time.Date(2026, 9, 14, 9, 0, 0, 0, loc)

	src := newMemSource(&memRow{num: 1}, &memRow{num: 2}, &memRow{num: 3}, &memRow{num: 4})
	src.setFlagDirect(4, domain.Flag1Hour)

	norm := &fakeNorm{details: map[int]domain.TechDetails{
		1: details("111", "+12125550134", now.Add(90*time.Minute)), // in window
		2: details("222", "+12125550135", now.Add(-1*time.Minute)), // already past
		3: details("333", "+12125550136", now.Add(25*time.Hour)),   // beyond lookahead
		4: details("444", "+12125550137", now.Add(90*time.Minute)), // already reminded
	}}
	eng := newTestEngine(src, norm, &fakeSender{}, newFakeSched(), now)

	due, err := eng.Compute1HourDue(testutil.TestContext(t))
	if err != nil {
		t.Fatalf("Compute1HourDue() error = %v", err)
	}

	if len(due) != 1 {
		t.Fatalf("got %d due checks, want 1", len(due))
	}
	if due[0].Details.WorkMarketNum != "111" {
		t.Errorf("due WM = %s, want 111", due[0].Details.WorkMarketNum)
	}
	wantFire := now.Add(30 * time.Minute)
	if !due[0].FireAt.Equal(wantFire) {
		t.Errorf("FireAt = %v, want %v", due[0].FireAt, wantFire)
	}
}

func TestCompute1HourDue_FireTimeCrossesDSTSafely(t *testing.T) {
	// Spring forward 2026-03-08 02:00 America/New_York: the appointment at
	// 03:30 EDT minus one hour lands at 01:30 EST, one wall hour earlier
	// but exactly 3600 seconds before the appointment.
	loc := testutil.MustLoadLocation(t, "America/New_York")
	appt := time.Date(2026, 3, 8, 3, 30, 0, 0, loc)
	now := time.Date(2026, 3, 8, 0, 0, 0, 0, loc)

	src := newMemSource(&memRow{num: 1})
	norm := &fakeNorm{details: map[int]domain.TechDetails{
		1: details("111", "+12125550134", appt),
	}}
	eng := newTestEngine(src, norm, &fakeSender{}, newFakeSched(), now)

	due, err := eng.Compute1HourDue(testutil.TestContext(t))
	if err != nil {
		t.Fatalf("Compute1HourDue() error = %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("got %d due checks, want 1", len(due))
	}

	if got := appt.Sub(due[0].FireAt); got != time.Hour {
		t.Errorf("appointment minus fire time = %v, want exactly 1h", got)
	}
	if got := due[0].FireAt.Format("15:04"); got != "01:30" {
		t.Errorf("fire wall time = %s, want 01:30", got)
	}
}

func TestSchedule1HourJobs_DedupsPendingMarkets(t *testing.T) {
	now := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	sched := newFakeSched()
	sched.pending["111"] = true

	eng := newTestEngine(newMemSource(), &fakeNorm{}, &fakeSender{}, sched, now)

	due := []DueCheck{
		{FireAt: now.Add(time.Hour), Details: details("111", "+12125550134", now.Add(2*time.Hour)), Row: &memRow{num: 1}},
		{FireAt: now.Add(time.Hour), Details: details("222", "+12125550135", now.Add(2*time.Hour)), Row: &memRow{num: 2}},
	}

	if got := eng.Schedule1HourJobs(due); got != 1 {
		t.Fatalf("scheduled %d jobs, want 1", got)
	}
	if len(sched.added) != 1 || sched.added[0].market != "222" {
		t.Errorf("added = %+v, want single job for market 222", sched.added)
	}
}

func TestSchedule1HourJobs_SendsImmediatelyWhenInsideTheHour(t *testing.T) {
	now := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	src := newMemSource(&memRow{num: 1})
	sender := &fakeSender{}
	sched := newFakeSched()
	eng := newTestEngine(src, &fakeNorm{}, sender, sched, now)

	// Discovered 30 minutes before the appointment: the fire time is
	// already behind us, so the reminder goes out on the pass itself.
	due := []DueCheck{{
		FireAt:  now.Add(-30 * time.Minute),
		Details: details("111", "+12125550134", now.Add(30*time.Minute)),
		Row:     src.rows[0],
	}}

	if got := eng.Schedule1HourJobs(due); got != 1 {
		t.Fatalf("handled %d due checks, want 1", got)
	}
	if got := sender.sentCount(); got != 1 {
		t.Fatalf("sent %d messages, want 1", got)
	}
	if !src.committedFlag(1, domain.Flag1Hour) {
		t.Error("1 hour flag should be committed after the immediate send")
	}
	if len(sched.added) != 0 {
		t.Errorf("added = %+v, want no booked jobs for an already-due reminder", sched.added)
	}
}

func TestFire1HourJob_SendsAndRecordsCompletion(t *testing.T) {
	now := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	src := newMemSource(&memRow{num: 1})
	sender := &fakeSender{}
	eng := newTestEngine(src, &fakeNorm{}, sender, newFakeSched(), now)

	d := DueCheck{
		FireAt:  now.Add(time.Hour),
		Details: details("111", "+12125550134", now.Add(2*time.Hour)),
		Row:     src.rows[0],
	}
	if err := eng.Fire1HourJob(testutil.TestContext(t), d); err != nil {
		t.Fatalf("Fire1HourJob() error = %v", err)
	}

	if got := sender.sentCount(); got != 1 {
		t.Fatalf("sent %d messages, want 1", got)
	}
	if want := "Reminder that your appointment (ID STORE #42) is in one hour !"; sender.sent[0].body != want {
		t.Errorf("body = %q, want %q", sender.sent[0].body, want)
	}
	if !src.committedFlag(1, domain.Flag1Hour) {
		t.Error("1 hour flag should be committed after a confirmed send")
	}
	if src.flushCalls != 1 {
		t.Errorf("flushCalls = %d, want 1", src.flushCalls)
	}
}

func TestFire1HourJob_SkipsWhenCompletedSinceScheduling(t *testing.T) {
	now := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	src := newMemSource(&memRow{num: 1})
	src.setFlagDirect(1, domain.Flag1Hour)
	sender := &fakeSender{}
	eng := newTestEngine(src, &fakeNorm{}, sender, newFakeSched(), now)

	d := DueCheck{
		FireAt:  now.Add(time.Hour),
		Details: details("111", "+12125550134", now.Add(2*time.Hour)),
		Row:     src.rows[0],
	}
	if err := eng.Fire1HourJob(testutil.TestContext(t), d); err != nil {
		t.Fatalf("Fire1HourJob() error = %v", err)
	}
	if got := sender.sentCount(); got != 0 {
		t.Errorf("sent %d messages, want 0 after out-of-band completion", got)
	}
}

func TestFire1HourJob_SendFailureLeavesFlagUnset(t *testing.T) {
	now := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	src := newMemSource(&memRow{num: 1})
	sender := &fakeSender{sendErr: errors.New("provider down")}
	eng := newTestEngine(src, &fakeNorm{}, sender, newFakeSched(), now)

	d := DueCheck{
		FireAt:  now.Add(time.Hour),
		Details: details("111", "+12125550134", now.Add(2*time.Hour)),
		Row:     src.rows[0],
	}
	if err := eng.Fire1HourJob(testutil.TestContext(t), d); err == nil {
		t.Fatal("Fire1HourJob() should report the send failure")
	}
	if src.committedFlag(1, domain.Flag1Hour) {
		t.Error("flag must stay unset when the send failed")
	}
}

func TestFire1HourJob_WriteBackFailureIsSurfaced(t *testing.T) {
	now := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	src := newMemSource(&memRow{num: 1})
	src.flushErr = &source.WriteBackError{Collection: "sheet-1", Err: errors.New("api 500")}
	eng := newTestEngine(src, &fakeNorm{}, &fakeSender{}, newFakeSched(), now)

	d := DueCheck{
		FireAt:  now.Add(time.Hour),
		Details: details("111", "+12125550134", now.Add(2*time.Hour)),
		Row:     src.rows[0],
	}
	err := eng.Fire1HourJob(testutil.TestContext(t), d)

	var wbe *source.WriteBackError
	if !errors.As(err, &wbe) {
		t.Fatalf("Fire1HourJob() error = %v, want WriteBackError", err)
	}
}

func TestSend24HourOne(t *testing.T) {
	now := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	src := newMemSource(&memRow{num: 1}, &memRow{num: 2})
	src.setFlagDirect(2, domain.Flag24Hour)
	norm := &fakeNorm{details: map[int]domain.TechDetails{
		1: details("111", "+12125550134", now.Add(26*time.Hour)),
		2: details("222", "+12125550135", now.Add(26*time.Hour)),
	}}
	sender := &fakeSender{}
	eng := newTestEngine(src, norm, sender, newFakeSched(), now)
	ctx := testutil.TestContext(t)

	if err := eng.Send24HourOne(ctx, "111"); err != nil {
		t.Fatalf("Send24HourOne(111) error = %v", err)
	}
	if got := sender.sentCount(); got != 1 {
		t.Errorf("sent %d messages, want 1", got)
	}

	if err := eng.Send24HourOne(ctx, "222"); !errors.Is(err, ErrAlreadyDone) {
		t.Errorf("Send24HourOne(222) error = %v, want ErrAlreadyDone", err)
	}
	if err := eng.Send24HourOne(ctx, "999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Send24HourOne(999) error = %v, want ErrNotFound", err)
	}
}

func TestSchedule1HourOne_PastDue(t *testing.T) {
	now := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	src := newMemSource(&memRow{num: 1})
	norm := &fakeNorm{details: map[int]domain.TechDetails{
		// 30 minutes out: the 1-hour mark is already behind us.
		1: details("111", "+12125550134", now.Add(30*time.Minute)),
	}}
	eng := newTestEngine(src, norm, &fakeSender{}, newFakeSched(), now)

	_, err := eng.Schedule1HourOne(testutil.TestContext(t), "111")
	if !errors.Is(err, ErrPastDue) {
		t.Errorf("Schedule1HourOne() error = %v, want ErrPastDue", err)
	}
}

func TestSchedule1HourOne_RegistersJob(t *testing.T) {
	now := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
	src := newMemSource(&memRow{num: 1})
	norm := &fakeNorm{details: map[int]domain.TechDetails{
		1: details("111", "+12125550134", now.Add(3*time.Hour)),
	}}
	sched := newFakeSched()
	eng := newTestEngine(src, norm, &fakeSender{}, sched, now)

	id, err := eng.Schedule1HourOne(testutil.TestContext(t), "111")
	if err != nil {
		t.Fatalf("Schedule1HourOne() error = %v", err)
	}
	if id == 0 {
		t.Error("expected a non-zero job id")
	}
	if len(sched.added) != 1 {
		t.Fatalf("added %d jobs, want 1", len(sched.added))
	}
	if want := now.Add(2 * time.Hour); !sched.added[0].fireAt.Equal(want) {
		t.Errorf("fireAt = %v, want %v", sched.added[0].fireAt, want)
	}
}
