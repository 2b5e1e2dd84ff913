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
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mailstash/mailstash/framework/module"
	"github.com/mailstash/mailstash/internal/storage"
)

// taskEnvelope is the persisted scheduling record payload. The shape is
// stable so external tools can inspect the schedule table directly.
type taskEnvelope struct {
	Task     string   `json:"task"`
	Args     []string `json:"args"`
	Interval struct {
		Every  int    `json:"every"`
		Period string `json:"period"`
	} `json:"interval"`
	Enabled bool `json:"enabled"`
}

func envelopeFor(r *storage.Routine) ([]byte, error) {
	env := taskEnvelope{
		Task:    "fetch_emails",
		Args:    []string{r.UUID},
		Enabled: r.Enabled,
	}
	env.Interval.Every = r.IntervalEvery
	env.Interval.Period = r.IntervalPeriod
	return json.Marshal(env)
}

// Register persists a new routine and, if it is enabled, begins running
// it. Registering the (mailbox, criterion, argument) triple again
// returns the already registered routine unchanged.
func (s *Scheduler) Register(ctx context.Context, r *storage.Routine) (*storage.Routine, error) {
	db := s.ar.Storage()

	mb, err := db.MailboxByID(ctx, r.MailboxID)
	if err != nil {
		return nil, err
	}
	if r.UUID == "" {
		r.UUID = uuid.NewString()
	}

	if err := db.CreateRoutine(ctx, r, mb.Account.Protocol); err != nil {
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}
		existing, lookupErr := s.existingRoutine(ctx, r)
		if lookupErr != nil {
			return nil, fmt.Errorf("scheduler: routine exists but lookup failed: %w", lookupErr)
		}
		return existing, nil
	}

	payload, err := envelopeFor(r)
	if err != nil {
		return nil, err
	}
	if err := db.SaveScheduleEntry(ctx, r.UUID, payload); err != nil {
		return nil, err
	}

	if r.Enabled && !module.NoRun {
		if err := s.startWorker(r); err != nil {
			return nil, err
		}
	}
	s.Log.Msg("routine registered", "uuid", r.UUID, "mailbox", mb.Name, "enabled", r.Enabled)
	return r, nil
}

func (s *Scheduler) existingRoutine(ctx context.Context, r *storage.Routine) (*storage.Routine, error) {
	routines, err := s.ar.Storage().RoutinesByMailbox(ctx, r.MailboxID)
	if err != nil {
		return nil, err
	}
	for i := range routines {
		if routines[i].Criterion == r.Criterion && routines[i].CriterionArg == r.CriterionArg {
			return &routines[i], nil
		}
	}
	return nil, storage.ErrNotFound
}

// Update changes the interval and enabled flag of a registered routine,
// adjusting the running worker to match.
func (s *Scheduler) Update(ctx context.Context, uuid string, every int, period string, enabled bool) error {
	db := s.ar.Storage()

	if err := db.SetRoutineInterval(ctx, uuid, every, period); err != nil {
		return err
	}
	if err := db.SetRoutineEnabled(ctx, uuid, enabled); err != nil {
		return err
	}

	r, err := db.RoutineByUUID(ctx, uuid)
	if err != nil {
		return err
	}
	payload, err := envelopeFor(r)
	if err != nil {
		return err
	}
	if err := db.SaveScheduleEntry(ctx, uuid, payload); err != nil {
		return err
	}

	if !enabled {
		s.stopWorker(uuid)
		return nil
	}

	s.workersLock.Lock()
	w := s.workers[uuid]
	if w != nil {
		w.setInterval(r.Interval())
	}
	s.workersLock.Unlock()
	if w == nil && !module.NoRun {
		return s.startWorker(r)
	}
	return nil
}

// Unregister stops the routine's worker and deletes the routine with
// its scheduling record. Archived emails are untouched.
func (s *Scheduler) Unregister(ctx context.Context, uuid string) error {
	s.stopWorker(uuid)
	if err := s.ar.Storage().DeleteRoutine(ctx, uuid); err != nil {
		return err
	}
	s.Log.Msg("routine unregistered", "uuid", uuid)
	return nil
}

// IsRunning reports whether the routine has a live worker that is
// either mid-cycle or has a tick waiting.
func (s *Scheduler) IsRunning(uuid string) bool {
	s.workersLock.Lock()
	w := s.workers[uuid]
	s.workersLock.Unlock()
	if w == nil {
		return false
	}
	return atomic.LoadUint32(&w.inCycle) == 1 || len(w.tick) > 0
}

// RunNow queues an immediate tick for the routine, coalescing with a
// cycle already in flight.
func (s *Scheduler) RunNow(uuid string) error {
	s.workersLock.Lock()
	defer s.workersLock.Unlock()

	w := s.workers[uuid]
	if w == nil {
		return fmt.Errorf("scheduler: routine %s is not running", uuid)
	}
	select {
	case w.tick <- struct{}{}:
	default:
	}
	return nil
}

// Healthcheck verifies the persisted schedule and the in-memory workers
// agree: every enabled scheduling record has a worker and vice versa.
func (s *Scheduler) Healthcheck(ctx context.Context) error {
	entries, err := s.ar.Storage().ScheduleEntries(ctx)
	if err != nil {
		return err
	}

	enabled := map[string]bool{}
	for _, entry := range entries {
		var env taskEnvelope
		if err := json.Unmarshal(entry.Payload, &env); err != nil {
			return fmt.Errorf("scheduler: malformed schedule entry %s: %w", entry.RoutineUUID, err)
		}
		if env.Enabled {
			enabled[entry.RoutineUUID] = true
		}
	}

	s.workersLock.Lock()
	defer s.workersLock.Unlock()

	for uuid := range enabled {
		if _, ok := s.workers[uuid]; !ok {
			return fmt.Errorf("scheduler: routine %s is enabled but has no worker", uuid)
		}
	}
	for uuid := range s.workers {
		if !enabled[uuid] {
			return fmt.Errorf("scheduler: worker %s has no enabled schedule entry", uuid)
		}
	}
	return nil
}
