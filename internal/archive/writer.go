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

package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mailstash/mailstash/framework/address"
	"github.com/mailstash/mailstash/internal/fetch"
	"github.com/mailstash/mailstash/internal/msgparse"
	"github.com/mailstash/mailstash/internal/storage"
)

// Outcome is the result class of one Write call.
type Outcome string

const (
	OutcomeArchived      Outcome = "archived"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomeDiscardedSpam Outcome = "discarded_spam"
)

// Result reports what Write did. EmailID is zero for the
// discarded_spam outcome.
type Result struct {
	Outcome Outcome
	EmailID uint64
}

// Write persists a parsed message into the mailbox if it is not already
// present. The write is atomic: the email row, its attachments,
// correspondent edges and reply edges all persist or none do. Concurrent
// writers of the same (mailbox, message-id) are serialized.
func (a *Archive) Write(ctx context.Context, mb *storage.Mailbox, parsed *msgparse.ParsedEmail, raw []byte) (Result, error) {
	ownerID := mb.Account.OwnerID
	if mb.Account.ID == 0 {
		var err error
		ownerID, err = a.db.OwnerOfMailbox(ctx, mb.ID)
		if err != nil {
			return Result{}, fmt.Errorf("archive: resolve owner: %w", err)
		}
	}

	lockKey := fmt.Sprintf("%d/%s", mb.ID, parsed.MessageID)
	a.locks.Lock(lockKey)
	defer a.locks.Unlock(lockKey)

	existing, err := a.existingEmail(ctx, mb.ID, parsed.MessageID)
	if err != nil {
		return Result{}, err
	}
	if existing != 0 {
		duplicateEmails.Inc()
		return Result{Outcome: OutcomeDuplicate, EmailID: existing}, nil
	}

	// The user explicitly archived a junk folder, the spam policy does
	// not apply there.
	if a.throwOutSpam && parsed.IsSpam && mb.Type != fetch.MailboxJunk {
		discardedSpam.Inc()
		a.Log.DebugMsg("spam discarded", "mailbox", mb.Name, "msg_id", parsed.MessageID)
		return Result{Outcome: OutcomeDiscardedSpam}, nil
	}

	var (
		emailID  uint64
		blobKeys []string
	)
	err = a.db.WithRetry(ctx, func() error {
		// Blobs written by a rolled back attempt are orphans, drop them
		// before trying again.
		if len(blobKeys) != 0 {
			if err := a.blobs.Delete(ctx, blobKeys); err != nil {
				a.Log.Error("orphaned blob cleanup failed", err)
			}
			blobKeys = nil
		}

		return a.db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			id, keys, err := a.writeTx(ctx, tx, mb, ownerID, parsed, raw)
			emailID, blobKeys = id, keys
			return err
		})
	})
	if err != nil {
		if len(blobKeys) != 0 {
			if cleanupErr := a.blobs.Delete(ctx, blobKeys); cleanupErr != nil {
				a.Log.Error("orphaned blob cleanup failed", cleanupErr)
			}
		}
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the race against a writer outside this process.
			existing, readErr := a.existingEmail(ctx, mb.ID, parsed.MessageID)
			if readErr == nil && existing != 0 {
				duplicateEmails.Inc()
				return Result{Outcome: OutcomeDuplicate, EmailID: existing}, nil
			}
		}
		return Result{}, err
	}

	archivedEmails.Inc()
	a.Log.DebugMsg("email archived",
		"mailbox", mb.Name, "msg_id", parsed.MessageID, "email_id", emailID)
	return Result{Outcome: OutcomeArchived, EmailID: emailID}, nil
}

func (a *Archive) existingEmail(ctx context.Context, mailboxID uint64, messageID string) (uint64, error) {
	var e storage.Email
	err := a.db.DB.WithContext(ctx).
		Select("id").
		Where("mailbox_id = ? AND message_id = ?", mailboxID, messageID).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return e.ID, nil
}

func (a *Archive) writeTx(ctx context.Context, tx *gorm.DB, mb *storage.Mailbox, ownerID uint64, parsed *msgparse.ParsedEmail, raw []byte) (uint64, []string, error) {
	headersJSON, err := storage.EncodeHeaders(parsed.Headers)
	if err != nil {
		return 0, nil, fmt.Errorf("archive: encode headers: %w", err)
	}

	email := storage.Email{
		MailboxID:   mb.ID,
		MessageID:   parsed.MessageID,
		Subject:     parsed.Subject,
		SentAt:      parsed.Sent,
		PlainBody:   parsed.PlainBody,
		HTMLBody:    parsed.HTMLBody,
		HeadersJSON: headersJSON,
		IsSpam:      parsed.IsSpam,
		Datasize:    parsed.Size,
	}
	if err := tx.Create(&email).Error; err != nil {
		return 0, nil, err
	}

	var blobKeys []string
	if mb.SaveToEML {
		key := storage.EmailBlobKey(mb.ID, email.ID, parsed.MessageID)
		if err := a.writeBlob(ctx, key, raw); err != nil {
			return 0, blobKeys, err
		}
		blobKeys = append(blobKeys, key)
		if err := tx.Model(&email).Update("file_key", key).Error; err != nil {
			return 0, blobKeys, err
		}
	}

	listInfo := listHeaders(parsed.Headers)
	for _, c := range parsed.Correspondents {
		corr, err := a.upsertCorrespondent(tx, ownerID, c, listInfo)
		if err != nil {
			return 0, blobKeys, err
		}
		edge := storage.EmailCorrespondent{
			EmailID:         email.ID,
			CorrespondentID: corr.ID,
			Mention:         c.Mention,
		}
		// The same address can appear twice in one header field.
		err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge).Error
		if err != nil {
			return 0, blobKeys, err
		}
	}

	for i := range parsed.Attachments {
		att := &parsed.Attachments[i]
		row := storage.Attachment{
			EmailID:     email.ID,
			Filename:    att.Filename,
			MainType:    att.MainType,
			SubType:     att.SubType,
			Disposition: att.Disposition,
			ContentID:   att.ContentID,
			Datasize:    int64(len(att.Data)),
		}
		if err := tx.Create(&row).Error; err != nil {
			return 0, blobKeys, err
		}
		if mb.SaveAttachments {
			key := storage.AttachmentBlobKey(mb.ID, email.ID, row.ID, att.Filename)
			if err := a.writeBlob(ctx, key, att.Data); err != nil {
				return 0, blobKeys, err
			}
			blobKeys = append(blobKeys, key)
			if err := tx.Model(&row).Update("file_key", key).Error; err != nil {
				return 0, blobKeys, err
			}
		}
	}

	if err := a.referenceEdges(tx, ownerID, email.ID, storage.RefInReplyTo, parsed.InReplyTo); err != nil {
		return 0, blobKeys, err
	}
	if err := a.referenceEdges(tx, ownerID, email.ID, storage.RefReferences, parsed.References); err != nil {
		return 0, blobKeys, err
	}

	return email.ID, blobKeys, nil
}

func (a *Archive) writeBlob(ctx context.Context, key string, data []byte) error {
	blob, err := a.blobs.Create(ctx, key, int64(len(data)))
	if err != nil {
		return fmt.Errorf("archive: blob create %s: %w", key, err)
	}
	if _, err := blob.Write(data); err != nil {
		blob.Close()
		return fmt.Errorf("archive: blob write %s: %w", key, err)
	}
	if err := blob.Sync(); err != nil {
		blob.Close()
		return fmt.Errorf("archive: blob sync %s: %w", key, err)
	}
	return blob.Close()
}

// upsertCorrespondent creates the (owner, address) correspondent or
// returns the existing one. Concurrent creators race on the unique
// constraint; the loser re-reads the winner's row. The identity key is
// the canonical lookup form, so Alice@EXAMPLE.org and alice@example.org
// are one correspondent. On a malformed address ForLookup degrades to
// plain case-folding.
func (a *Archive) upsertCorrespondent(tx *gorm.DB, ownerID uint64, c msgparse.Correspondent, listInfo map[string]string) (*storage.Correspondent, error) {
	lookupAddr, _ := address.ForLookup(c.Address)
	corr := storage.Correspondent{
		OwnerID:      ownerID,
		Address:      c.Address,
		AddressLower: lookupAddr,
		DisplayName:  c.Name,
	}
	if c.Mention == msgparse.MentionFrom {
		applyListHeaders(&corr, listInfo)
	}

	err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&corr).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}
	if err != nil || corr.ID == 0 {
		err = tx.Where(&storage.Correspondent{
			OwnerID:      ownerID,
			AddressLower: corr.AddressLower,
		}).First(&corr).Error
		if err != nil {
			return nil, err
		}
	}
	return &corr, nil
}

// referenceEdges links the new email to already archived emails of the
// same owner carrying the referenced message-ids. Missing targets are
// fine, the relation is sparse.
func (a *Archive) referenceEdges(tx *gorm.DB, ownerID, emailID uint64, kind storage.ReferenceKind, msgIDs []string) error {
	if len(msgIDs) == 0 {
		return nil
	}

	var targets []storage.Email
	err := tx.
		Select("emails.id").
		Joins("JOIN mailboxes ON mailboxes.id = emails.mailbox_id").
		Joins("JOIN accounts ON accounts.id = mailboxes.account_id").
		Where("accounts.owner_id = ? AND emails.message_id IN ?", ownerID, msgIDs).
		Find(&targets).Error
	if err != nil {
		return err
	}

	for _, target := range targets {
		if target.ID == emailID {
			continue
		}
		edge := storage.EmailReference{
			EmailID:      emailID,
			ReferencedID: target.ID,
			Kind:         kind,
		}
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge).Error
		if err != nil {
			return err
		}
	}
	return nil
}

// listHeaders pulls RFC 2369/2919 list-serv fields out of the parsed
// header multimap.
func listHeaders(fields []msgparse.HeaderField) map[string]string {
	var info map[string]string
	for _, f := range fields {
		switch f.Key {
		case "list-id", "list-owner", "list-subscribe", "list-unsubscribe",
			"list-post", "list-help", "list-archive", "list-unsubscribe-post":
			if info == nil {
				info = map[string]string{}
			}
			if _, ok := info[f.Key]; !ok {
				info[f.Key] = strings.TrimSpace(f.Value)
			}
		}
	}
	return info
}

func applyListHeaders(corr *storage.Correspondent, info map[string]string) {
	if info == nil {
		return
	}
	corr.ListID = info["list-id"]
	corr.ListOwner = info["list-owner"]
	corr.ListSubscribe = info["list-subscribe"]
	corr.ListUnsubscribe = info["list-unsubscribe"]
	corr.ListPost = info["list-post"]
	corr.ListHelp = info["list-help"]
	corr.ListArchive = info["list-archive"]
	corr.ListUnsubscribePost = info["list-unsubscribe-post"]
}
