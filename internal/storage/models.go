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
	"encoding/json"
	"time"

	"github.com/mailstash/mailstash/internal/fetch"
	"github.com/mailstash/mailstash/internal/msgparse"
)

// Health is the tri-state health flag carried by accounts, mailboxes and
// routines.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// User is one tenant. Accounts, and through them everything else, are
// owned by exactly one user.
type User struct {
	ID        uint64 `gorm:"primaryKey"`
	Name      string `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account holds the credentials and endpoint of one remote mail account.
//
// The password is stored reversibly: it has to be sent to the remote
// server on every session.
type Account struct {
	ID      uint64 `gorm:"primaryKey"`
	OwnerID uint64 `gorm:"not null;uniqueIndex:idx_account_owner_addr_proto"`
	Owner   User   `gorm:"constraint:OnDelete:CASCADE"`

	Address  string         `gorm:"not null;uniqueIndex:idx_account_owner_addr_proto"`
	Password string         `gorm:"not null"`
	Host     string         `gorm:"not null"`
	Port     uint16         `gorm:"default:0"`
	Protocol fetch.Protocol `gorm:"not null;uniqueIndex:idx_account_owner_addr_proto"`

	TimeoutSeconds   int `gorm:"default:10"`
	AllowInsecureTLS bool

	Health    Health `gorm:"default:unknown"`
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time

	Mailboxes []Mailbox `gorm:"constraint:OnDelete:CASCADE"`
}

// Timeout returns the per-operation timeout of the account.
func (a *Account) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// Mailbox is one named folder on a remote account.
type Mailbox struct {
	ID        uint64  `gorm:"primaryKey"`
	AccountID uint64  `gorm:"not null;uniqueIndex:idx_mailbox_account_name"`
	Account   Account `gorm:"constraint:OnDelete:CASCADE"`

	Name string            `gorm:"not null;uniqueIndex:idx_mailbox_account_name"`
	Type fetch.MailboxType `gorm:"not null;default:custom"`

	SaveToEML       bool
	SaveAttachments bool
	Favorite        bool

	Health    Health `gorm:"default:unknown"`
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time

	Emails   []Email   `gorm:"constraint:OnDelete:CASCADE"`
	Routines []Routine `gorm:"constraint:OnDelete:CASCADE"`
}

// Routine is the durable declaration of one periodic fetching job. Its
// external identity is the UUID, which also names its log file and its
// scheduling record.
type Routine struct {
	ID        uint64  `gorm:"primaryKey"`
	UUID      string  `gorm:"not null;uniqueIndex"`
	MailboxID uint64  `gorm:"not null;uniqueIndex:idx_routine_mbox_crit_arg"`
	Mailbox   Mailbox `gorm:"constraint:OnDelete:CASCADE"`

	Criterion    fetch.Criterion `gorm:"not null;uniqueIndex:idx_routine_mbox_crit_arg"`
	CriterionArg string          `gorm:"uniqueIndex:idx_routine_mbox_crit_arg"`

	IntervalEvery  int    `gorm:"not null"`
	IntervalPeriod string `gorm:"not null"`

	Enabled bool

	Health    Health `gorm:"default:unknown"`
	LastError string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Interval returns the routine's tick interval as a duration.
func (r *Routine) Interval() time.Duration {
	every := time.Duration(r.IntervalEvery)
	switch r.IntervalPeriod {
	case "microseconds":
		return every * time.Microsecond
	case "seconds":
		return every * time.Second
	case "minutes":
		return every * time.Minute
	case "hours":
		return every * time.Hour
	case "days":
		return every * 24 * time.Hour
	}
	return every * time.Second
}

// ValidIntervalPeriod reports whether s is an accepted period unit.
func ValidIntervalPeriod(s string) bool {
	switch s {
	case "microseconds", "seconds", "minutes", "hours", "days":
		return true
	}
	return false
}

// ScheduleEntry is the persistent scheduling record owned by a routine.
// Payload is the task envelope
// {task: "fetch_emails", args: [uuid], interval: {every, period}, enabled}.
type ScheduleEntry struct {
	ID          uint64 `gorm:"primaryKey"`
	RoutineUUID string `gorm:"not null;uniqueIndex"`
	Payload     []byte `gorm:"not null"`
	UpdatedAt   time.Time
}

// Email is one archived message.
type Email struct {
	ID        uint64  `gorm:"primaryKey"`
	MailboxID uint64  `gorm:"not null;uniqueIndex:idx_email_mailbox_msgid"`
	Mailbox   Mailbox `gorm:"constraint:OnDelete:CASCADE"`

	MessageID string `gorm:"not null;uniqueIndex:idx_email_mailbox_msgid"`
	Subject   string
	SentAt    time.Time

	PlainBody string
	HTMLBody  string

	// HeadersJSON is the ordered header multimap encoded as a JSON list
	// of [key, value] pairs, keys lowercased.
	HeadersJSON []byte

	IsSpam   bool
	Datasize int64

	// FileKey is the blob-store key of the full .eml, empty if the
	// owning mailbox has save-to-eml off.
	FileKey string

	Favorite bool

	CreatedAt time.Time
	UpdatedAt time.Time

	Attachments []Attachment `gorm:"constraint:OnDelete:CASCADE"`
}

// EncodeHeaders serializes a parsed header multimap for the HeadersJSON
// column.
func EncodeHeaders(fields []msgparse.HeaderField) ([]byte, error) {
	pairs := make([][2]string, 0, len(fields))
	for _, f := range fields {
		pairs = append(pairs, [2]string{f.Key, f.Value})
	}
	return json.Marshal(pairs)
}

// DecodeHeaders is the inverse of EncodeHeaders.
func DecodeHeaders(raw []byte) ([]msgparse.HeaderField, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var pairs [][2]string
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, err
	}
	fields := make([]msgparse.HeaderField, 0, len(pairs))
	for _, p := range pairs {
		fields = append(fields, msgparse.HeaderField{Key: p[0], Value: p[1]})
	}
	return fields, nil
}

// Attachment is one file attached to an archived email.
type Attachment struct {
	ID      uint64 `gorm:"primaryKey"`
	EmailID uint64 `gorm:"not null;index"`
	Email   Email  `gorm:"constraint:OnDelete:CASCADE"`

	Filename    string
	MainType    string
	SubType     string
	Disposition string
	ContentID   string
	Datasize    int64

	// FileKey is the blob-store key, empty if the owning mailbox has
	// save-attachments off. Unique per email when set.
	FileKey string `gorm:"index:idx_attachment_email_key,unique,where:file_key <> ''"`

	Favorite bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Correspondent is a unique contact of one owner, collected from message
// headers.
type Correspondent struct {
	ID      uint64 `gorm:"primaryKey"`
	OwnerID uint64 `gorm:"not null;uniqueIndex:idx_correspondent_owner_addr"`
	Owner   User   `gorm:"constraint:OnDelete:CASCADE"`

	// Address preserves the case it was first seen with; AddressLower
	// carries the case-insensitive uniqueness.
	Address      string
	AddressLower string `gorm:"not null;uniqueIndex:idx_correspondent_owner_addr"`

	DisplayName string
	RealName    string

	// RFC 2369/2919 list-serv headers captured from list traffic.
	ListID              string
	ListOwner           string
	ListSubscribe       string
	ListUnsubscribe     string
	ListPost            string
	ListHelp            string
	ListArchive         string
	ListUnsubscribePost string

	Favorite bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EmailCorrespondent is the directed edge between an email and a
// correspondent, tagged with the header field the correspondent appeared
// in.
type EmailCorrespondent struct {
	ID              uint64        `gorm:"primaryKey"`
	EmailID         uint64        `gorm:"not null;uniqueIndex:idx_emailcorr_email_corr_mention"`
	Email           Email         `gorm:"constraint:OnDelete:CASCADE"`
	CorrespondentID uint64        `gorm:"not null;uniqueIndex:idx_emailcorr_email_corr_mention"`
	Correspondent   Correspondent `gorm:"constraint:OnDelete:CASCADE"`

	Mention msgparse.Mention `gorm:"not null;uniqueIndex:idx_emailcorr_email_corr_mention"`

	CreatedAt time.Time
}

// ReferenceKind distinguishes the two reply-graph edge sets.
type ReferenceKind string

const (
	RefInReplyTo  ReferenceKind = "in-reply-to"
	RefReferences ReferenceKind = "references"
)

// EmailReference is a weak directed edge between two archived emails of
// the same owner. Deleting either endpoint drops the edge without
// affecting the other email.
type EmailReference struct {
	ID           uint64        `gorm:"primaryKey"`
	EmailID      uint64        `gorm:"not null;uniqueIndex:idx_emailref_edge"`
	ReferencedID uint64        `gorm:"not null;uniqueIndex:idx_emailref_edge"`
	Kind         ReferenceKind `gorm:"not null;uniqueIndex:idx_emailref_edge"`

	CreatedAt time.Time
}

// AllModels lists every persisted model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Account{},
		&Mailbox{},
		&Routine{},
		&ScheduleEntry{},
		&Email{},
		&Attachment{},
		&Correspondent{},
		&EmailCorrespondent{},
		&EmailReference{},
	}
}
