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

package storage

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailstash/mailstash/framework/address"
	"github.com/mailstash/mailstash/internal/fetch"
)

// ErrNotFound is returned by lookup operations when no row matches.
var ErrNotFound = errors.New("storage: not found")

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// GetOrCreateUser looks a tenant up by name, creating it on first use.
func (s *Storage) GetOrCreateUser(ctx context.Context, name string) (*User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fetch.Validationf("user name cannot be empty")
	}
	u := User{Name: name}
	err := s.DB.WithContext(ctx).Where(&User{Name: name}).FirstOrCreate(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Storage) UserByName(ctx context.Context, name string) (*User, error) {
	var u User
	err := s.DB.WithContext(ctx).Where(&User{Name: name}).First(&u).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &u, nil
}

// CreateAccount validates and persists a new remote account.
func (s *Storage) CreateAccount(ctx context.Context, acct *Account) error {
	if !acct.Protocol.Valid() {
		return fetch.Validationf("unknown protocol: %s", acct.Protocol)
	}
	if acct.Address == "" || acct.Host == "" {
		return fetch.Validationf("account address and host cannot be empty")
	}
	if !address.Valid(acct.Address) {
		return fetch.Validationf("malformed account address: %s", acct.Address)
	}
	if acct.Health == "" {
		acct.Health = HealthUnknown
	}
	return s.DB.WithContext(ctx).Create(acct).Error
}

func (s *Storage) AccountByID(ctx context.Context, id uint64) (*Account, error) {
	var a Account
	err := s.DB.WithContext(ctx).First(&a, id).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &a, nil
}

func (s *Storage) AccountsByOwner(ctx context.Context, ownerID uint64) ([]Account, error) {
	var accts []Account
	err := s.DB.WithContext(ctx).Where(&Account{OwnerID: ownerID}).Order("id").Find(&accts).Error
	return accts, err
}

func (s *Storage) SetAccountHealth(ctx context.Context, id uint64, h Health, lastError string) error {
	return s.DB.WithContext(ctx).Model(&Account{}).Where("id = ?", id).
		Updates(map[string]interface{}{"health": h, "last_error": lastError}).Error
}

// UpsertMailbox creates the (account, name) mailbox if it does not exist
// yet and returns the persisted row either way. An existing row keeps its
// save flags and type.
func (s *Storage) UpsertMailbox(ctx context.Context, mb *Mailbox) error {
	if mb.Name == "" {
		return fetch.Validationf("mailbox name cannot be empty")
	}
	if mb.Health == "" {
		mb.Health = HealthUnknown
	}
	return s.DB.WithContext(ctx).
		Where(&Mailbox{AccountID: mb.AccountID, Name: mb.Name}).
		FirstOrCreate(mb).Error
}

func (s *Storage) MailboxByID(ctx context.Context, id uint64) (*Mailbox, error) {
	var mb Mailbox
	err := s.DB.WithContext(ctx).Preload("Account").First(&mb, id).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &mb, nil
}

func (s *Storage) MailboxesByAccount(ctx context.Context, accountID uint64) ([]Mailbox, error) {
	var mbs []Mailbox
	err := s.DB.WithContext(ctx).Where(&Mailbox{AccountID: accountID}).Order("name").Find(&mbs).Error
	return mbs, err
}

func (s *Storage) SetMailboxFlags(ctx context.Context, id uint64, saveEML, saveAttachments bool) error {
	return s.DB.WithContext(ctx).Model(&Mailbox{}).Where("id = ?", id).
		Updates(map[string]interface{}{"save_to_eml": saveEML, "save_attachments": saveAttachments}).Error
}

func (s *Storage) SetMailboxHealth(ctx context.Context, id uint64, h Health, lastError string) error {
	return s.DB.WithContext(ctx).Model(&Mailbox{}).Where("id = ?", id).
		Updates(map[string]interface{}{"health": h, "last_error": lastError}).Error
}

// CreateRoutine validates and persists a new fetching routine. The
// (mailbox, criterion, argument) triple must be unique, duplicates fail
// on the index.
func (s *Storage) CreateRoutine(ctx context.Context, r *Routine, proto fetch.Protocol) error {
	if err := fetch.CheckCriterion(r.Criterion, r.CriterionArg, proto); err != nil {
		return err
	}
	if r.IntervalEvery <= 0 {
		return fetch.Validationf("routine interval must be positive")
	}
	if !ValidIntervalPeriod(r.IntervalPeriod) {
		return fetch.Validationf("unknown interval period: %s", r.IntervalPeriod)
	}
	if r.Health == "" {
		r.Health = HealthUnknown
	}
	return s.DB.WithContext(ctx).Create(r).Error
}

func (s *Storage) RoutineByUUID(ctx context.Context, uuid string) (*Routine, error) {
	var r Routine
	err := s.DB.WithContext(ctx).
		Preload("Mailbox").Preload("Mailbox.Account").
		Where(&Routine{UUID: uuid}).First(&r).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &r, nil
}

func (s *Storage) RoutinesByMailbox(ctx context.Context, mailboxID uint64) ([]Routine, error) {
	var rs []Routine
	err := s.DB.WithContext(ctx).Where(&Routine{MailboxID: mailboxID}).Order("id").Find(&rs).Error
	return rs, err
}

// EnabledRoutines lists every enabled routine with its mailbox and
// account preloaded, for scheduler start-up.
func (s *Storage) EnabledRoutines(ctx context.Context) ([]Routine, error) {
	var rs []Routine
	err := s.DB.WithContext(ctx).
		Preload("Mailbox").Preload("Mailbox.Account").
		Where("enabled = ?", true).Order("id").Find(&rs).Error
	return rs, err
}

func (s *Storage) SetRoutineEnabled(ctx context.Context, uuid string, enabled bool) error {
	res := s.DB.WithContext(ctx).Model(&Routine{}).Where("uuid = ?", uuid).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) SetRoutineInterval(ctx context.Context, uuid string, every int, period string) error {
	if every <= 0 {
		return fetch.Validationf("routine interval must be positive")
	}
	if !ValidIntervalPeriod(period) {
		return fetch.Validationf("unknown interval period: %s", period)
	}
	res := s.DB.WithContext(ctx).Model(&Routine{}).Where("uuid = ?", uuid).
		Updates(map[string]interface{}{"interval_every": every, "interval_period": period})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) SetRoutineHealth(ctx context.Context, uuid string, h Health, lastError string) error {
	return s.DB.WithContext(ctx).Model(&Routine{}).Where("uuid = ?", uuid).
		Updates(map[string]interface{}{"health": h, "last_error": lastError}).Error
}

func (s *Storage) DeleteRoutine(ctx context.Context, uuid string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("routine_uuid = ?", uuid).Delete(&ScheduleEntry{}).Error; err != nil {
			return err
		}
		res := tx.Where("uuid = ?", uuid).Delete(&Routine{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SaveScheduleEntry stores the task envelope of a routine, replacing any
// previous envelope for the same UUID.
func (s *Storage) SaveScheduleEntry(ctx context.Context, uuid string, payload []byte) error {
	entry := ScheduleEntry{RoutineUUID: uuid, Payload: payload}
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "routine_uuid"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&entry).Error
}

func (s *Storage) DeleteScheduleEntry(ctx context.Context, uuid string) error {
	return s.DB.WithContext(ctx).Where("routine_uuid = ?", uuid).Delete(&ScheduleEntry{}).Error
}

func (s *Storage) ScheduleEntries(ctx context.Context) ([]ScheduleEntry, error) {
	var entries []ScheduleEntry
	err := s.DB.WithContext(ctx).Order("id").Find(&entries).Error
	return entries, err
}

// EmailExists reports whether the mailbox already holds a message with
// the given message-id.
func (s *Storage) EmailExists(ctx context.Context, mailboxID uint64, messageID string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&Email{}).
		Where("mailbox_id = ? AND message_id = ?", mailboxID, messageID).
		Count(&count).Error
	return count > 0, err
}

func (s *Storage) EmailByID(ctx context.Context, id uint64) (*Email, error) {
	var e Email
	err := s.DB.WithContext(ctx).Preload("Attachments").First(&e, id).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &e, nil
}

// EmailsByMailbox streams a mailbox's archived messages ordered by sent
// time, attachments preloaded, in batches through each.
func (s *Storage) EmailsByMailbox(ctx context.Context, mailboxID uint64, each func(*Email) error) error {
	var batch []Email
	res := s.DB.WithContext(ctx).
		Preload("Attachments").
		Where(&Email{MailboxID: mailboxID}).
		Order("sent_at, id").
		FindInBatches(&batch, 100, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				if err := each(&batch[i]); err != nil {
					return err
				}
			}
			return nil
		})
	return res.Error
}

func (s *Storage) AttachmentByID(ctx context.Context, id uint64) (*Attachment, error) {
	var att Attachment
	err := s.DB.WithContext(ctx).First(&att, id).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &att, nil
}

func (s *Storage) SetEmailFavorite(ctx context.Context, id uint64, favorite bool) error {
	res := s.DB.WithContext(ctx).Model(&Email{}).Where("id = ?", id).
		Update("favorite", favorite)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Storage) CorrespondentByAddress(ctx context.Context, ownerID uint64, addr string) (*Correspondent, error) {
	lookup, _ := address.ForLookup(addr)
	var c Correspondent
	err := s.DB.WithContext(ctx).
		Where(&Correspondent{OwnerID: ownerID, AddressLower: lookup}).
		First(&c).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &c, nil
}

func (s *Storage) CorrespondentsByOwner(ctx context.Context, ownerID uint64) ([]Correspondent, error) {
	var cs []Correspondent
	err := s.DB.WithContext(ctx).
		Where(&Correspondent{OwnerID: ownerID}).
		Order("address_lower").Find(&cs).Error
	return cs, err
}

func (s *Storage) SetCorrespondentFavorite(ctx context.Context, id uint64, favorite bool) error {
	res := s.DB.WithContext(ctx).Model(&Correspondent{}).Where("id = ?", id).
		Update("favorite", favorite)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// OwnerOfMailbox resolves the tenant a mailbox belongs to.
func (s *Storage) OwnerOfMailbox(ctx context.Context, mailboxID uint64) (uint64, error) {
	var acct Account
	err := s.DB.WithContext(ctx).
		Joins("JOIN mailboxes ON mailboxes.account_id = accounts.id").
		Where("mailboxes.id = ?", mailboxID).
		Model(&Account{}).
		First(&acct).Error
	if err != nil {
		return 0, wrapNotFound(err)
	}
	return acct.OwnerID, nil
}
