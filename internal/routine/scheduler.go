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

// Package routine runs periodic fetching routines: the scheduler wakes
// per-routine workers over coalescing tick channels, each cycle pulls
// messages through a protocol session into the archive and rolls the
// outcome into the health flags.
package routine

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/mailstash/mailstash/framework/config"
	modconfig "github.com/mailstash/mailstash/framework/config/module"
	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/framework/module"
	"github.com/mailstash/mailstash/internal/archive"
	"github.com/mailstash/mailstash/internal/health"
	"github.com/mailstash/mailstash/internal/storage"
)

const modName = "scheduler"

// dontRecover controls the behavior of panic handlers. If it is set to
// true - they are disabled and so tests will panic fatally instead of
// restarting the worker.
var dontRecover = false

// Scheduler is the task runner module: it owns one worker per enabled
// routine and a time wheel that wakes them at their intervals.
type Scheduler struct {
	instName string

	maxParallelism  int
	restartDelay    time.Duration
	maxRestarts     int
	logRoot         string
	logMaxSizeMB    int
	logBackups      int
	shutdownTimeout time.Duration

	ar      *archive.Archive
	tracker *health.Tracker
	baseTLS *tls.Config

	wheel *timeWheel

	workersLock sync.Mutex
	workers     map[string]*worker

	cycleWg        sync.WaitGroup
	cycleSemaphore chan struct{}

	Log log.Logger
}

func New(_, instName string, _, inlineArgs []string) (module.Module, error) {
	if len(inlineArgs) != 0 {
		return nil, errors.New("scheduler: expected 0 arguments")
	}
	return &Scheduler{
		instName: instName,
		workers:  map[string]*worker{},
		Log:      log.Logger{Name: modName},
	}, nil
}

func (s *Scheduler) Init(cfg *config.Map) error {
	var logfileSize int64
	cfg.Bool("debug", true, false, &s.Log.Debug)
	cfg.Int("max_parallelism", false, false, 16, &s.maxParallelism)
	cfg.Duration("restart_delay", false, false, 60*time.Second, &s.restartDelay)
	cfg.Int("max_restarts", false, false, 10, &s.maxRestarts)
	cfg.String("log_root", false, false, filepath.Join(config.StateDirectory, "routine-logs"), &s.logRoot)
	cfg.DataSize("logfile_size", false, false, 10*1024*1024, &logfileSize)
	cfg.Int("logfile_backups", false, false, 5, &s.logBackups)
	cfg.Duration("shutdown_timeout", false, false, 30*time.Second, &s.shutdownTimeout)
	cfg.Custom("archive", false, false, func() (interface{}, error) {
		mod, err := module.GetInstance("archive")
		if err != nil {
			return nil, err
		}
		ar, ok := mod.(*archive.Archive)
		if !ok {
			return nil, fmt.Errorf("scheduler: archive config block is not an archive writer")
		}
		return ar, nil
	}, func(m *config.Map, node config.Node) (interface{}, error) {
		var ar *archive.Archive
		err := modconfig.ModuleFromNode("", node.Args, node, m.Globals, &ar)
		return ar, err
	}, &s.ar)
	if _, err := cfg.Process(); err != nil {
		return err
	}
	if s.maxParallelism <= 0 || s.maxRestarts <= 0 {
		return errors.New("scheduler: max_parallelism and max_restarts must be positive")
	}
	if tcfg, ok := cfg.Globals["tls_client"].(*tls.Config); ok {
		s.baseTLS = tcfg
	}
	// lumberjack counts in whole megabytes.
	s.logMaxSizeMB = int(logfileSize / (1024 * 1024))
	if s.logMaxSizeMB < 1 {
		s.logMaxSizeMB = 1
	}

	s.tracker = health.NewTracker(s.ar.Storage(), log.Logger{
		Out:   s.Log.Out,
		Name:  modName + "/health",
		Debug: s.Log.Debug,
	})
	s.cycleSemaphore = make(chan struct{}, s.maxParallelism)
	s.wheel = newTimeWheel(s.dispatch)

	if module.NoRun {
		return nil
	}
	return s.startEnabled(context.Background())
}

// startEnabled begins a worker for every enabled persisted routine.
func (s *Scheduler) startEnabled(ctx context.Context) error {
	routines, err := s.ar.Storage().EnabledRoutines(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: enumerate routines: %w", err)
	}
	for i := range routines {
		if err := s.startWorker(&routines[i]); err != nil {
			return err
		}
	}
	s.Log.Msg("started", "routines", len(routines))
	return nil
}

func (s *Scheduler) Name() string {
	return modName
}

func (s *Scheduler) InstanceName() string {
	return s.instName
}

// Health exposes the tracker so transition callbacks can be attached.
func (s *Scheduler) Health() *health.Tracker {
	return s.tracker
}

// Archive returns the archive writer the scheduler feeds.
func (s *Scheduler) Archive() *archive.Archive {
	return s.ar
}

// dispatch is called from the time wheel goroutine. The body runs on
// its own goroutine: re-arming goes through wheel.Add, which blocks
// until the wheel goroutine is back in its select loop.
func (s *Scheduler) dispatch(slot tickSlot) {
	go func() {
		s.workersLock.Lock()
		w := s.workers[slot.UUID]
		if w == nil {
			// Unregistered after the slot was armed.
			s.workersLock.Unlock()
			return
		}

		select {
		case w.tick <- struct{}{}:
		default:
			// A cycle is still in flight, drop the tick.
			w.log.DebugMsg("tick coalesced")
		}
		next := time.Now().Add(w.interval())
		s.workersLock.Unlock()

		s.wheel.Add(next, slot.UUID)
	}()
}

// startWorker must not be called with workersLock held.
func (s *Scheduler) startWorker(r *storage.Routine) error {
	s.workersLock.Lock()
	if _, ok := s.workers[r.UUID]; ok {
		s.workersLock.Unlock()
		return nil
	}
	w, err := newWorker(s, r)
	if err != nil {
		s.workersLock.Unlock()
		return err
	}
	s.workers[r.UUID] = w
	s.workersLock.Unlock()

	runningWorkers.Inc()
	go w.run()
	s.wheel.Add(time.Now().Add(w.interval()), r.UUID)
	return nil
}

// workerGaveUp detaches a worker that exhausted its restart budget, so
// IsRunning reports false and Healthcheck flags the enabled routine
// without a worker. The routine keeps the final error as unhealthy
// state.
func (s *Scheduler) workerGaveUp(uuid string, lastErr error) {
	s.workersLock.Lock()
	_, owned := s.workers[uuid]
	delete(s.workers, uuid)
	s.workersLock.Unlock()
	if !owned {
		// A concurrent stopWorker or Close already detached it.
		return
	}
	s.wheel.Remove(uuid)
	runningWorkers.Dec()

	ctx := context.Background()
	r, err := s.ar.Storage().RoutineByUUID(ctx, uuid)
	if err != nil {
		s.Log.Error("load routine after giving up", err, "uuid", uuid)
		return
	}
	if err := s.tracker.RoutineFailed(ctx, r, lastErr.Error()); err != nil {
		s.Log.Error("health update failed", err, "uuid", uuid)
	}
}

func (s *Scheduler) stopWorker(uuid string) {
	s.workersLock.Lock()
	w := s.workers[uuid]
	if w == nil {
		s.workersLock.Unlock()
		return
	}
	delete(s.workers, uuid)
	w.requestStop()
	s.workersLock.Unlock()

	s.wheel.Remove(uuid)
	<-w.done
	runningWorkers.Dec()
}

func (s *Scheduler) Close() error {
	s.wheel.Close()

	s.workersLock.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for uuid, w := range s.workers {
		delete(s.workers, uuid)
		w.requestStop()
		workers = append(workers, w)
	}
	s.workersLock.Unlock()

	// In-flight cycles run to completion; join with a bounded timeout.
	joined := make(chan struct{})
	go func() {
		for _, w := range workers {
			<-w.done
		}
		s.cycleWg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(s.shutdownTimeout):
		s.Log.Msg("shutdown timeout, abandoning in-flight cycles")
	}
	runningWorkers.Set(0)
	return nil
}

func init() {
	module.Register(modName, New)
}
