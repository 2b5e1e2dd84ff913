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

// Package health rolls fetch-cycle results up and down the
// account/mailbox/routine hierarchy. Flag changes fire registered
// callbacks exactly once; a repeated failure refreshes the stored
// last-error text without a transition.
package health

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/internal/storage"
)

// Level tags which entity a transition happened on.
type Level string

const (
	LevelAccount Level = "account"
	LevelMailbox Level = "mailbox"
	LevelRoutine Level = "routine"
)

// Transition is one observed health flag change.
type Transition struct {
	Level Level

	// AccountID/MailboxID are set for their levels; RoutineUUID for
	// routines.
	AccountID   uint64
	MailboxID   uint64
	RoutineUUID string

	From, To  storage.Health
	LastError string
}

// Tracker applies the propagation rules on top of the archive database.
// Updates touching the same account are serialized.
type Tracker struct {
	db *storage.Storage

	mu    sync.Mutex
	locks map[uint64]*acctLock

	cbMu      sync.RWMutex
	callbacks []func(Transition)

	Log log.Logger
}

type acctLock struct {
	mu   sync.Mutex
	refs int
}

func NewTracker(db *storage.Storage, l log.Logger) *Tracker {
	return &Tracker{
		db:    db,
		locks: map[uint64]*acctLock{},
		Log:   l,
	}
}

// OnTransition registers a callback fired once per flag change, after
// the change is committed.
func (t *Tracker) OnTransition(cb func(Transition)) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

func (t *Tracker) lockAccount(id uint64) {
	t.mu.Lock()
	e := t.locks[id]
	if e == nil {
		e = &acctLock{}
		t.locks[id] = e
	}
	e.refs++
	t.mu.Unlock()
	e.mu.Lock()
}

func (t *Tracker) unlockAccount(id uint64) {
	t.mu.Lock()
	e := t.locks[id]
	e.refs--
	if e.refs == 0 {
		delete(t.locks, id)
	}
	t.mu.Unlock()
	e.mu.Unlock()
}

// CycleSucceeded marks the routine, its mailbox and its account healthy.
// A successful cycle on any mailbox proves the account works.
func (t *Tracker) CycleSucceeded(ctx context.Context, r *storage.Routine) error {
	return t.apply(ctx, r.Mailbox.AccountID, func(tx *gorm.DB, trs *[]Transition) error {
		if err := t.setRoutine(tx, trs, r.UUID, storage.HealthHealthy, ""); err != nil {
			return err
		}
		if err := t.setMailbox(tx, trs, r.MailboxID, storage.HealthHealthy, ""); err != nil {
			return err
		}
		return t.setAccount(tx, trs, r.Mailbox.AccountID, storage.HealthHealthy, "")
	})
}

// MailboxFailed marks the routine and its mailbox unhealthy. The account
// is left as-is.
func (t *Tracker) MailboxFailed(ctx context.Context, r *storage.Routine, lastError string) error {
	return t.apply(ctx, r.Mailbox.AccountID, func(tx *gorm.DB, trs *[]Transition) error {
		if err := t.setRoutine(tx, trs, r.UUID, storage.HealthUnhealthy, lastError); err != nil {
			return err
		}
		return t.setMailbox(tx, trs, r.MailboxID, storage.HealthUnhealthy, lastError)
	})
}

// AccountFailed marks the account unhealthy. If the account flips, all
// its mailboxes and their routines cascade to unhealthy.
func (t *Tracker) AccountFailed(ctx context.Context, accountID uint64, lastError string) error {
	return t.apply(ctx, accountID, func(tx *gorm.DB, trs *[]Transition) error {
		before := len(*trs)
		if err := t.setAccount(tx, trs, accountID, storage.HealthUnhealthy, lastError); err != nil {
			return err
		}
		if len(*trs) == before {
			// Account was already unhealthy, no cascade.
			return nil
		}

		var mailboxes []storage.Mailbox
		err := tx.Where("account_id = ?", accountID).Find(&mailboxes).Error
		if err != nil {
			return err
		}
		cascade := fmt.Sprintf("account unhealthy: %s", lastError)
		for _, mb := range mailboxes {
			if err := t.setMailbox(tx, trs, mb.ID, storage.HealthUnhealthy, cascade); err != nil {
				return err
			}
			var routines []storage.Routine
			if err := tx.Where("mailbox_id = ?", mb.ID).Find(&routines).Error; err != nil {
				return err
			}
			for _, r := range routines {
				if err := t.setRoutine(tx, trs, r.UUID, storage.HealthUnhealthy, cascade); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// RoutineFailed marks only the routine unhealthy, for failures that are
// neither mailbox- nor account-scoped (crashes, archive errors).
func (t *Tracker) RoutineFailed(ctx context.Context, r *storage.Routine, lastError string) error {
	return t.apply(ctx, r.Mailbox.AccountID, func(tx *gorm.DB, trs *[]Transition) error {
		return t.setRoutine(tx, trs, r.UUID, storage.HealthUnhealthy, lastError)
	})
}

func (t *Tracker) apply(ctx context.Context, accountID uint64, fn func(tx *gorm.DB, trs *[]Transition) error) error {
	t.lockAccount(accountID)
	defer t.unlockAccount(accountID)

	var transitions []Transition
	err := t.db.WithRetry(ctx, func() error {
		transitions = transitions[:0]
		return t.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(tx, &transitions)
		})
	})
	if err != nil {
		return err
	}

	t.cbMu.RLock()
	cbs := t.callbacks
	t.cbMu.RUnlock()
	for _, tr := range transitions {
		t.Log.DebugMsg("health transition",
			"level", string(tr.Level), "from", string(tr.From), "to", string(tr.To))
		for _, cb := range cbs {
			cb(tr)
		}
	}
	return nil
}

func (t *Tracker) setAccount(tx *gorm.DB, trs *[]Transition, id uint64, h storage.Health, lastError string) error {
	var a storage.Account
	if err := tx.Select("id", "health", "last_error").First(&a, id).Error; err != nil {
		return err
	}
	if a.Health == h {
		// No transition, but the diagnostic text must not go stale.
		if a.LastError != lastError {
			return tx.Model(&storage.Account{}).Where("id = ?", id).
				Update("last_error", lastError).Error
		}
		return nil
	}
	err := tx.Model(&storage.Account{}).Where("id = ?", id).
		Updates(map[string]interface{}{"health": h, "last_error": lastError}).Error
	if err != nil {
		return err
	}
	*trs = append(*trs, Transition{
		Level: LevelAccount, AccountID: id,
		From: a.Health, To: h, LastError: lastError,
	})
	return nil
}

func (t *Tracker) setMailbox(tx *gorm.DB, trs *[]Transition, id uint64, h storage.Health, lastError string) error {
	var mb storage.Mailbox
	if err := tx.Select("id", "health", "last_error").First(&mb, id).Error; err != nil {
		return err
	}
	if mb.Health == h {
		if mb.LastError != lastError {
			return tx.Model(&storage.Mailbox{}).Where("id = ?", id).
				Update("last_error", lastError).Error
		}
		return nil
	}
	err := tx.Model(&storage.Mailbox{}).Where("id = ?", id).
		Updates(map[string]interface{}{"health": h, "last_error": lastError}).Error
	if err != nil {
		return err
	}
	*trs = append(*trs, Transition{
		Level: LevelMailbox, MailboxID: id,
		From: mb.Health, To: h, LastError: lastError,
	})
	return nil
}

func (t *Tracker) setRoutine(tx *gorm.DB, trs *[]Transition, uuid string, h storage.Health, lastError string) error {
	var r storage.Routine
	if err := tx.Select("id", "uuid", "health", "last_error").Where("uuid = ?", uuid).First(&r).Error; err != nil {
		return err
	}
	if r.Health == h {
		if r.LastError != lastError {
			return tx.Model(&storage.Routine{}).Where("uuid = ?", uuid).
				Update("last_error", lastError).Error
		}
		return nil
	}
	err := tx.Model(&storage.Routine{}).Where("uuid = ?", uuid).
		Updates(map[string]interface{}{"health": h, "last_error": lastError}).Error
	if err != nil {
		return err
	}
	*trs = append(*trs, Transition{
		Level: LevelRoutine, RoutineUUID: uuid,
		From: r.Health, To: h, LastError: lastError,
	})
	return nil
}
