/*
Mailstash - Self-hostable email archiving service.
Copyright © 2024-2026 Mailstash contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package routine

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mailstash/mailstash/framework/buffer"
	"github.com/mailstash/mailstash/framework/module"
	"github.com/mailstash/mailstash/internal/archive"
	"github.com/mailstash/mailstash/internal/fetch"
	"github.com/mailstash/mailstash/internal/health"
	"github.com/mailstash/mailstash/internal/msgparse"
	"github.com/mailstash/mailstash/internal/storage"
	"github.com/mailstash/mailstash/internal/testutils"
)

// The test binary does not import the protocol subpackages, the slot
// for imap_tls is free to host scripted sessions.
var (
	sessLock    sync.Mutex
	currentSess fetch.Session
)

func setSession(s fetch.Session) {
	sessLock.Lock()
	currentSess = s
	sessLock.Unlock()
}

func init() {
	fetch.RegisterProtocol(fetch.ProtoIMAPTLS, func(fetch.Account) fetch.Session {
		sessLock.Lock()
		defer sessLock.Unlock()
		return currentSess
	})
}

func testScheduler(t *testing.T) *Scheduler {
	t.Helper()
	ar := archive.NewDirect(testutils.Storage(t), testutils.NewBlobStore(), false, testutils.Logger(t, "archive"))
	s := &Scheduler{
		instName:        "scheduler",
		maxParallelism:  4,
		restartDelay:    time.Millisecond,
		maxRestarts:     2,
		logRoot:         t.TempDir(),
		logMaxSizeMB:    1,
		logBackups:      1,
		shutdownTimeout: 10 * time.Second,
		ar:              ar,
		workers:         map[string]*worker{},
		Log:             testutils.Logger(t, "scheduler"),
	}
	s.tracker = health.NewTracker(ar.Storage(), testutils.Logger(t, "health"))
	s.cycleSemaphore = make(chan struct{}, s.maxParallelism)
	s.wheel = newTimeWheel(s.dispatch)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRoutine(t *testing.T, s *Scheduler, enabled bool) *storage.Routine {
	t.Helper()
	ctx := context.Background()
	db := s.ar.Storage()

	user, err := db.GetOrCreateUser(ctx, "tester")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	acct := storage.Account{
		OwnerID:  user.ID,
		Address:  "tester@example.org",
		Password: "hunter2",
		Host:     "mail.example.org",
		Protocol: fetch.ProtoIMAPTLS,
	}
	if err := db.CreateAccount(ctx, &acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	mb := storage.Mailbox{AccountID: acct.ID, Name: "INBOX", Type: fetch.MailboxInbox, SaveToEML: true}
	if err := db.UpsertMailbox(ctx, &mb); err != nil {
		t.Fatalf("UpsertMailbox: %v", err)
	}

	r, err := s.Register(ctx, &storage.Routine{
		MailboxID:      mb.ID,
		Criterion:      fetch.CritAll,
		IntervalEvery:  1,
		IntervalPeriod: "hours",
		Enabled:        enabled,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return r
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func rawMsg(id string) []byte {
	return []byte("From: alice@example.org\r\n" +
		"Date: Mon, 12 Jan 2026 10:30:00 +0000\r\n" +
		"Message-Id: <" + id + "@example.org>\r\n" +
		"Subject: " + id + "\r\n" +
		"\r\n" +
		"body " + id + "\r\n")
}

func TestRunCycleOnce(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, false)
	ctx := context.Background()

	setSession(&testutils.FetchSession{
		Messages: map[string][][]byte{
			"INBOX": {rawMsg("1"), rawMsg("2"), rawMsg("1")},
		},
	})

	if err := s.RunCycleOnce(ctx, r.UUID); err != nil {
		t.Fatalf("RunCycleOnce: %v", err)
	}

	var count int
	err := s.ar.Storage().EmailsByMailbox(ctx, r.MailboxID, func(*storage.Email) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("EmailsByMailbox: %v", err)
	}
	if count != 2 {
		t.Errorf("archived %d emails, want 2 (one duplicate)", count)
	}

	loaded, err := s.ar.Storage().RoutineByUUID(ctx, r.UUID)
	if err != nil {
		t.Fatalf("RoutineByUUID: %v", err)
	}
	if loaded.Health != storage.HealthHealthy {
		t.Errorf("routine health = %q, want healthy", loaded.Health)
	}
	acct, err := s.ar.Storage().AccountByID(ctx, loaded.Mailbox.AccountID)
	if err != nil {
		t.Fatalf("AccountByID: %v", err)
	}
	if acct.Health != storage.HealthHealthy {
		t.Errorf("account health = %q, want healthy", acct.Health)
	}
}

func TestRegisterIdempotent(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, false)
	ctx := context.Background()

	again, err := s.Register(ctx, &storage.Routine{
		MailboxID:      r.MailboxID,
		Criterion:      r.Criterion,
		CriterionArg:   r.CriterionArg,
		IntervalEvery:  5,
		IntervalPeriod: "minutes",
		Enabled:        true,
	})
	if err != nil {
		t.Fatalf("Register (repeat): %v", err)
	}
	if again.UUID != r.UUID {
		t.Errorf("repeated registration produced a new routine: %s != %s", again.UUID, r.UUID)
	}

	routines, err := s.ar.Storage().RoutinesByMailbox(ctx, r.MailboxID)
	if err != nil {
		t.Fatalf("RoutinesByMailbox: %v", err)
	}
	if len(routines) != 1 {
		t.Errorf("got %d routines, want 1", len(routines))
	}
}

func TestRegisterPersistsEnvelope(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, true)
	ctx := context.Background()

	entries, err := s.ar.Storage().ScheduleEntries(ctx)
	if err != nil {
		t.Fatalf("ScheduleEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].RoutineUUID != r.UUID {
		t.Fatalf("entries = %+v", entries)
	}

	var env taskEnvelope
	if err := json.Unmarshal(entries[0].Payload, &env); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if env.Task != "fetch_emails" || !reflect.DeepEqual(env.Args, []string{r.UUID}) {
		t.Errorf("envelope = %+v", env)
	}
	if env.Interval.Every != 1 || env.Interval.Period != "hours" || !env.Enabled {
		t.Errorf("envelope = %+v", env)
	}
}

func TestUpdate(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, true)
	ctx := context.Background()

	s.workersLock.Lock()
	_, running := s.workers[r.UUID]
	s.workersLock.Unlock()
	if !running {
		t.Fatal("enabled routine has no worker")
	}

	if err := s.Update(ctx, r.UUID, 2, "hours", false); err != nil {
		t.Fatalf("Update (disable): %v", err)
	}
	s.workersLock.Lock()
	_, running = s.workers[r.UUID]
	s.workersLock.Unlock()
	if running {
		t.Error("disabled routine still has a worker")
	}

	if err := s.Update(ctx, r.UUID, 3, "hours", true); err != nil {
		t.Fatalf("Update (enable): %v", err)
	}
	s.workersLock.Lock()
	w := s.workers[r.UUID]
	s.workersLock.Unlock()
	if w == nil {
		t.Fatal("enabled routine has no worker")
	}
	if got := w.interval(); got != 3*time.Hour {
		t.Errorf("worker interval = %v, want 3h", got)
	}

	loaded, err := s.ar.Storage().RoutineByUUID(ctx, r.UUID)
	if err != nil {
		t.Fatalf("RoutineByUUID: %v", err)
	}
	if loaded.IntervalEvery != 3 || !loaded.Enabled {
		t.Errorf("persisted routine = %+v", loaded)
	}
}

func TestUnregister(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, true)
	ctx := context.Background()

	if err := s.Unregister(ctx, r.UUID); err != nil {
		t.Fatalf("Unregister: %v", err)
	}

	s.workersLock.Lock()
	_, running := s.workers[r.UUID]
	s.workersLock.Unlock()
	if running {
		t.Error("unregistered routine still has a worker")
	}

	if _, err := s.ar.Storage().RoutineByUUID(ctx, r.UUID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("RoutineByUUID: got %v, want ErrNotFound", err)
	}
	entries, err := s.ar.Storage().ScheduleEntries(ctx)
	if err != nil {
		t.Fatalf("ScheduleEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("schedule entries left behind: %+v", entries)
	}
}

func TestHealthcheck(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, true)
	ctx := context.Background()

	if err := s.Healthcheck(ctx); err != nil {
		t.Fatalf("Healthcheck: %v", err)
	}

	// Worker without an enabled schedule entry.
	if err := s.ar.Storage().SetRoutineEnabled(ctx, r.UUID, false); err != nil {
		t.Fatalf("SetRoutineEnabled: %v", err)
	}
	payload, err := envelopeFor(&storage.Routine{
		UUID: r.UUID, IntervalEvery: 1, IntervalPeriod: "hours", Enabled: false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ar.Storage().SaveScheduleEntry(ctx, r.UUID, payload); err != nil {
		t.Fatalf("SaveScheduleEntry: %v", err)
	}
	if err := s.Healthcheck(ctx); err == nil {
		t.Error("stray worker not reported")
	}

	// Enabled schedule entry without a worker.
	s.stopWorker(r.UUID)
	payload, err = envelopeFor(&storage.Routine{
		UUID: r.UUID, IntervalEvery: 1, IntervalPeriod: "hours", Enabled: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.ar.Storage().SaveScheduleEntry(ctx, r.UUID, payload); err != nil {
		t.Fatalf("SaveScheduleEntry: %v", err)
	}
	if err := s.Healthcheck(ctx); err == nil {
		t.Error("missing worker not reported")
	}
}

// blockingSession holds Fetch open until released so tick coalescing is
// observable.
type blockingSession struct {
	*testutils.FetchSession
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSession) Fetch(ctx context.Context, mailbox string, crit fetch.Criterion, arg string, each func(raw buffer.Buffer) error) error {
	s.entered <- struct{}{}
	<-s.release
	return s.FetchSession.Fetch(ctx, mailbox, crit, arg, each)
}

func TestRunNowCoalesces(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, true)

	sess := &blockingSession{
		FetchSession: &testutils.FetchSession{},
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	setSession(sess)

	if err := s.RunNow(r.UUID); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	<-sess.entered
	if !s.IsRunning(r.UUID) {
		t.Error("IsRunning false mid-cycle")
	}

	// One extra tick fits the channel, the rest are dropped.
	for i := 0; i < 3; i++ {
		if err := s.RunNow(r.UUID); err != nil {
			t.Fatalf("RunNow: %v", err)
		}
	}
	sess.release <- struct{}{}
	<-sess.entered
	sess.release <- struct{}{}

	waitFor(t, "second cycle never finished", func() bool {
		return !s.IsRunning(r.UUID)
	})
	if got := sess.Calls(); got != 2 {
		t.Errorf("Fetch ran %d times, want 2", got)
	}
}

func TestWorkerRestartsAndGivesUp(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, true)
	ctx := context.Background()

	sess := &testutils.FetchSession{FetchErr: errors.New("disk full")}
	setSession(sess)

	s.workersLock.Lock()
	w := s.workers[r.UUID]
	s.workersLock.Unlock()
	if w == nil {
		t.Fatal("no worker")
	}

	if err := s.RunNow(r.UUID); err != nil {
		t.Fatalf("RunNow: %v", err)
	}

	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not give up after repeated failures")
	}

	// Initial cycle plus max_restarts retries.
	if got := sess.Calls(); got != 3 {
		t.Errorf("Fetch ran %d times, want 3", got)
	}

	// A worker that gave up is fully detached, not a zombie.
	s.workersLock.Lock()
	_, present := s.workers[r.UUID]
	s.workersLock.Unlock()
	if present {
		t.Error("given-up worker still in the worker table")
	}
	if s.IsRunning(r.UUID) {
		t.Error("IsRunning true for a given-up worker")
	}
	// The schedule entry is still enabled, so the missing worker is a
	// healthcheck finding.
	if err := s.Healthcheck(ctx); err == nil {
		t.Error("Healthcheck did not report the enabled routine without a worker")
	}

	loaded, err := s.ar.Storage().RoutineByUUID(ctx, r.UUID)
	if err != nil {
		t.Fatalf("RoutineByUUID: %v", err)
	}
	if loaded.Health != storage.HealthUnhealthy {
		t.Errorf("routine health = %q, want unhealthy", loaded.Health)
	}
	if loaded.LastError == "" {
		t.Error("routine kept no last error after giving up")
	}
}

func TestMailboxErrorDoesNotRestart(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, true)
	ctx := context.Background()

	sess := &testutils.FetchSession{
		FetchErr: &fetch.MailboxError{Verb: "select", Mailbox: "INBOX", Err: errors.New("no such folder")},
	}
	setSession(sess)

	if err := s.RunNow(r.UUID); err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	waitFor(t, "cycle never ran", func() bool {
		return sess.Calls() == 1 && !s.IsRunning(r.UUID)
	})

	// No restart retry, the next scheduled tick handles it.
	time.Sleep(20 * time.Millisecond)
	if got := sess.Calls(); got != 1 {
		t.Errorf("Fetch ran %d times, want 1", got)
	}

	s.workersLock.Lock()
	w := s.workers[r.UUID]
	s.workersLock.Unlock()
	select {
	case <-w.done:
		t.Error("worker exited on a mailbox-scoped failure")
	default:
	}

	mb, err := s.ar.Storage().MailboxByID(ctx, r.MailboxID)
	if err != nil {
		t.Fatalf("MailboxByID: %v", err)
	}
	if mb.Health != storage.HealthUnhealthy {
		t.Errorf("mailbox health = %q, want unhealthy", mb.Health)
	}
	acct, err := s.ar.Storage().AccountByID(ctx, mb.AccountID)
	if err != nil {
		t.Fatalf("AccountByID: %v", err)
	}
	if acct.Health != storage.HealthUnknown {
		t.Errorf("account health = %q, want untouched unknown", acct.Health)
	}
}

func TestTestRoutine(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, false)
	ctx := context.Background()

	setSession(&testutils.FetchSession{})
	ok, detail := s.TestRoutine(ctx, r.UUID)
	if !ok || detail != "ok" {
		t.Errorf("TestRoutine = %v, %q", ok, detail)
	}
	loaded, err := s.ar.Storage().RoutineByUUID(ctx, r.UUID)
	if err != nil {
		t.Fatalf("RoutineByUUID: %v", err)
	}
	if loaded.Health != storage.HealthHealthy {
		t.Errorf("routine health = %q, want healthy after a passing test", loaded.Health)
	}

	setSession(&testutils.FetchSession{
		FetchErr: &fetch.MailboxError{Verb: "select", Mailbox: "INBOX", Err: errors.New("gone")},
	})
	ok, detail = s.TestRoutine(ctx, r.UUID)
	if ok {
		t.Error("TestRoutine reported ok for a failing mailbox")
	}
	if detail == "" {
		t.Error("TestRoutine returned no failure detail")
	}

	// A test run updates health exactly like a scheduled cycle.
	mb, err := s.ar.Storage().MailboxByID(ctx, r.MailboxID)
	if err != nil {
		t.Fatalf("MailboxByID: %v", err)
	}
	if mb.Health != storage.HealthUnhealthy {
		t.Errorf("mailbox health = %q, want unhealthy after a failing test", mb.Health)
	}
}

// TestScheduledTickRearms drives a worker through the real time wheel:
// every fired slot must run a cycle and arm the next one, so a short
// interval produces consecutive cycles without any manual kick.
func TestScheduledTickRearms(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, true)

	sess := &testutils.FetchSession{}
	setSession(sess)

	s.workersLock.Lock()
	w := s.workers[r.UUID]
	s.workersLock.Unlock()
	if w == nil {
		t.Fatal("no worker")
	}
	w.setInterval(10 * time.Millisecond)
	s.wheel.Add(time.Now().Add(10*time.Millisecond), r.UUID)

	waitFor(t, "wheel did not fire consecutive cycles", func() bool {
		return sess.Calls() >= 2
	})
}

func TestRestoreEmail(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, false)
	ctx := context.Background()

	raw := rawMsg("1")
	parsed, err := msgparse.Parse(raw, testutils.Logger(t, "msgparse"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	mb, err := s.ar.Storage().MailboxByID(ctx, r.MailboxID)
	if err != nil {
		t.Fatalf("MailboxByID: %v", err)
	}
	res, err := s.ar.Write(ctx, mb, parsed, raw)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	sess := &testutils.FetchSession{}
	setSession(sess)

	if err := s.RestoreEmail(ctx, res.EmailID); err != nil {
		t.Fatalf("RestoreEmail: %v", err)
	}
	restored := sess.RestoredIn("INBOX")
	if len(restored) != 1 || string(restored[0]) != string(raw) {
		t.Errorf("restored = %q, want the original bytes", restored)
	}

	if err := s.RestoreEmail(ctx, res.EmailID+100); err == nil {
		t.Error("restoring a missing email succeeded")
	}
}

func TestRestoreEmailNoStoredFile(t *testing.T) {
	s := testScheduler(t)
	r := seedRoutine(t, s, false)
	ctx := context.Background()

	inbox, err := s.ar.Storage().MailboxByID(ctx, r.MailboxID)
	if err != nil {
		t.Fatalf("MailboxByID: %v", err)
	}
	// A mailbox that keeps metadata only, no .eml bytes.
	noEML := storage.Mailbox{AccountID: inbox.AccountID, Name: "Archive", Type: fetch.MailboxArchive}
	if err := s.ar.Storage().UpsertMailbox(ctx, &noEML); err != nil {
		t.Fatalf("UpsertMailbox: %v", err)
	}
	mb, err := s.ar.Storage().MailboxByID(ctx, noEML.ID)
	if err != nil {
		t.Fatalf("MailboxByID: %v", err)
	}

	raw := rawMsg("1")
	parsed, err := msgparse.Parse(raw, testutils.Logger(t, "msgparse"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := s.ar.Write(ctx, mb, parsed, raw)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	setSession(&testutils.FetchSession{})
	err = s.RestoreEmail(ctx, res.EmailID)
	if !errors.Is(err, module.ErrNoSuchBlob) {
		t.Errorf("RestoreEmail = %v, want ErrNoSuchBlob", err)
	}
}

func TestTimeWheelDispatch(t *testing.T) {
	fired := make(chan tickSlot, 1)
	tw := newTimeWheel(func(s tickSlot) { fired <- s })
	defer tw.Close()

	tw.Add(time.Now().Add(20*time.Millisecond), "u1")
	select {
	case slot := <-fired:
		if slot.UUID != "u1" {
			t.Errorf("dispatched %q, want u1", slot.UUID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("slot never dispatched")
	}
}

func TestTimeWheelRemove(t *testing.T) {
	fired := make(chan tickSlot, 1)
	tw := newTimeWheel(func(s tickSlot) { fired <- s })
	defer tw.Close()

	tw.Add(time.Now().Add(50*time.Millisecond), "u1")
	tw.Remove("u1")
	select {
	case slot := <-fired:
		t.Errorf("removed slot dispatched: %+v", slot)
	case <-time.After(200 * time.Millisecond):
	}
}
