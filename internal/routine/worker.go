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
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/internal/fetch"
	"github.com/mailstash/mailstash/internal/storage"
)

// worker is the runtime counterpart of one enabled routine. Its tick
// channel has capacity 1: a tick arriving mid-cycle is dropped by the
// dispatcher, not queued.
type worker struct {
	s    *Scheduler
	uuid string

	intervalLock sync.Mutex
	intervalDur  time.Duration

	tick     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	inCycle  uint32
	done     chan struct{}

	restarts int

	fileOut *lumberjack.Logger
	log     log.Logger
}

func newWorker(s *Scheduler, r *storage.Routine) (*worker, error) {
	if err := os.MkdirAll(s.logRoot, 0o700); err != nil {
		return nil, fmt.Errorf("scheduler: log root: %w", err)
	}

	fileOut := &lumberjack.Logger{
		Filename:   filepath.Join(s.logRoot, r.UUID+".log"),
		MaxSize:    s.logMaxSizeMB,
		MaxBackups: s.logBackups,
	}

	out := log.Output(log.WriteCloserOutput(fileOut, true))
	base := s.Log.Out
	if base == nil {
		base = log.DefaultLogger.Out
	}
	if base != nil {
		out = log.MultiOutput(base, out)
	}

	return &worker{
		s:           s,
		uuid:        r.UUID,
		intervalDur: r.Interval(),
		tick:        make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		fileOut:     fileOut,
		log: log.Logger{
			Out:   out,
			Name:  "routine/" + r.UUID,
			Debug: s.Log.Debug,
		},
	}, nil
}

func (w *worker) interval() time.Duration {
	w.intervalLock.Lock()
	defer w.intervalLock.Unlock()
	return w.intervalDur
}

func (w *worker) setInterval(d time.Duration) {
	w.intervalLock.Lock()
	w.intervalDur = d
	w.intervalLock.Unlock()
}

func (w *worker) requestStop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *worker) stopRequested() bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return false
	}
}

// run is the worker loop. A stop request is honoured between cycles; a
// cycle in flight runs to completion so the archive is never left
// half-written.
func (w *worker) run() {
	defer close(w.done)
	defer w.fileOut.Close()

	for {
		select {
		case <-w.stopCh:
			return
		case <-w.tick:
		}

		w.s.cycleSemaphore <- struct{}{}
		w.s.cycleWg.Add(1)
		atomic.StoreUint32(&w.inCycle, 1)
		err := w.cycle()
		atomic.StoreUint32(&w.inCycle, 0)
		w.s.cycleWg.Done()
		<-w.s.cycleSemaphore

		if err == nil {
			w.restarts = 0
			continue
		}
		if fetch.IsAccountErr(err) || fetch.IsMailboxErr(err) {
			// Remote-side failure: health is already rolled up, the
			// next tick retries on schedule.
			continue
		}

		// Crash or local failure: restart with backoff, give up after
		// max_restarts attempts.
		w.restarts++
		if w.restarts > w.s.maxRestarts {
			w.log.Msg("routine stopped after repeated crashes", "restarts", w.restarts-1)
			w.s.workerGaveUp(w.uuid, err)
			return
		}
		delay := w.s.restartDelay * (1 << (w.restarts - 1))
		w.log.Msg("routine restarting after failure", "attempt", w.restarts, "delay", delay.String())
		workerRestarts.Inc()
		select {
		case <-w.stopCh:
			return
		case <-time.After(delay):
		}
		// Retry right away instead of waiting out the interval.
		select {
		case w.tick <- struct{}{}:
		default:
		}
	}
}

// cycle runs one fetch cycle, converting panics into errors unless
// dontRecover is set.
func (w *worker) cycle() (err error) {
	if !dontRecover {
		defer func() {
			if val := recover(); val != nil {
				stack := debug.Stack()
				w.log.Msg("panic during fetch cycle", "value", fmt.Sprint(val), "stack", string(stack))
				err = fmt.Errorf("routine: panic during cycle: %v", val)
			}
		}()
	}
	return w.s.runCycle(context.Background(), w.uuid, w.log)
}
