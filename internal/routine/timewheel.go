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
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// tickSlot is one scheduled wake-up of a routine worker.
type tickSlot struct {
	Time time.Time
	UUID string
}

// timeWheel dispatches routine ticks at their scheduled times. It keeps
// an unordered slot list and waits on the closest one; Add and Remove
// nudge the waiting goroutine through updateNotify.
type timeWheel struct {
	stopped uint32

	slots     *list.List
	slotsLock sync.Mutex

	updateNotify chan time.Time
	stopNotify   chan struct{}

	dispatch func(tickSlot)
}

func newTimeWheel(dispatch func(tickSlot)) *timeWheel {
	tw := &timeWheel{
		slots:        list.New(),
		stopNotify:   make(chan struct{}),
		updateNotify: make(chan time.Time),
		dispatch:     dispatch,
	}
	go tw.tick()
	return tw
}

func (tw *timeWheel) Add(target time.Time, uuid string) {
	if atomic.LoadUint32(&tw.stopped) == 1 {
		// Already stopped, ignore.
		return
	}

	if uuid == "" {
		panic("routine: can't schedule a tick without a uuid")
	}

	tw.slotsLock.Lock()
	tw.slots.PushBack(tickSlot{Time: target, UUID: uuid})
	tw.slotsLock.Unlock()

	tw.updateNotify <- target
}

// Remove drops all pending slots of the uuid. The closest-slot waiter
// re-checks the list before dispatching a removed slot is not a
// concern: dispatch only sends to a live worker.
func (tw *timeWheel) Remove(uuid string) {
	if atomic.LoadUint32(&tw.stopped) == 1 {
		return
	}

	tw.slotsLock.Lock()
	var next *list.Element
	for e := tw.slots.Front(); e != nil; e = next {
		next = e.Next()
		if e.Value.(tickSlot).UUID == uuid {
			tw.slots.Remove(e)
		}
	}
	tw.slotsLock.Unlock()
}

func (tw *timeWheel) Close() {
	atomic.StoreUint32(&tw.stopped, 1)

	// Idempotent Close is convenient sometimes.
	if tw.stopNotify == nil {
		return
	}

	tw.stopNotify <- struct{}{}
	<-tw.stopNotify

	tw.stopNotify = nil

	close(tw.updateNotify)
}

func (tw *timeWheel) tick() {
	for {
		now := time.Now()
		// Look for the list element closest to now.
		tw.slotsLock.Lock()
		var closestSlot tickSlot
		var closestEl *list.Element
		for e := tw.slots.Front(); e != nil; e = e.Next() {
			slot := e.Value.(tickSlot)
			if slot.Time.Sub(now) < closestSlot.Time.Sub(now) || closestSlot.UUID == "" {
				closestSlot = slot
				closestEl = e
			}
		}
		tw.slotsLock.Unlock()

		// Queue is empty. Just wait until update.
		if closestEl == nil {
			select {
			case <-tw.updateNotify:
				continue
			case <-tw.stopNotify:
				tw.stopNotify <- struct{}{}
				return
			}
		}

		timer := time.NewTimer(closestSlot.Time.Sub(now))

	selectloop:
		for {
			select {
			case <-timer.C:
				tw.slotsLock.Lock()
				stillThere := false
				for e := tw.slots.Front(); e != nil; e = e.Next() {
					if e == closestEl {
						tw.slots.Remove(e)
						stillThere = true
						break
					}
				}
				tw.slotsLock.Unlock()

				if stillThere {
					tw.dispatch(closestSlot)
				}

				break selectloop
			case newTarget := <-tw.updateNotify:
				// Avoid unnecessary restarts if the new target is not
				// going to affect our current wait time.
				if closestSlot.Time.Sub(now) <= newTarget.Sub(now) {
					continue
				}

				timer.Stop()
				// Recalculate the closest slot.
				break selectloop
			case <-tw.stopNotify:
				tw.stopNotify <- struct{}{}
				return
			}
		}
	}
}
