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

// Package fetch defines the protocol-abstracted mail client contract used by
// the archiving engine and the registry protocol fetchers register into.
//
// Concrete clients live in subpackages (imap, pop3, jmap, exchange). They
// all expose the same session contract (Session) and translate verb-level
// faults into the typed error kinds defined here, so the fetch cycle in
// internal/routine reads as straight-line logic regardless of the wire
// protocol used.
package fetch

import (
	"context"
	"crypto/tls"
	"io"
	"sync"
	"time"

	"github.com/mailstash/mailstash/framework/buffer"
	"github.com/mailstash/mailstash/framework/log"
)

// Protocol is the closed set of wire protocols an account can use.
type Protocol string

const (
	ProtoIMAP     Protocol = "imap"
	ProtoIMAPTLS  Protocol = "imap_tls"
	ProtoPOP3     Protocol = "pop3"
	ProtoPOP3TLS  Protocol = "pop3_tls"
	ProtoJMAP     Protocol = "jmap"
	ProtoExchange Protocol = "exchange"
)

// Protocols lists all known protocol tags.
var Protocols = []Protocol{ProtoIMAP, ProtoIMAPTLS, ProtoPOP3, ProtoPOP3TLS, ProtoJMAP, ProtoExchange}

func (p Protocol) Valid() bool {
	switch p {
	case ProtoIMAP, ProtoIMAPTLS, ProtoPOP3, ProtoPOP3TLS, ProtoJMAP, ProtoExchange:
		return true
	}
	return false
}

// MailboxType is the normalized role tag of a remote folder.
type MailboxType string

const (
	MailboxInbox   MailboxType = "inbox"
	MailboxSent    MailboxType = "sent"
	MailboxDrafts  MailboxType = "drafts"
	MailboxJunk    MailboxType = "junk"
	MailboxTrash   MailboxType = "trash"
	MailboxArchive MailboxType = "archive"
	MailboxCustom  MailboxType = "custom"
)

// MailboxInfo is one remote folder as reported by Session.ListMailboxes.
type MailboxInfo struct {
	Name string
	Type MailboxType
}

// Account carries the credentials and endpoint needed to open a session.
//
// The password is sent to the server as-is, so it is stored reversibly
// by the caller.
type Account struct {
	Address  string
	Password string
	Host     string
	// Port to connect to. 0 means the protocol default.
	Port uint16

	// Timeout applied to every remote operation of the session.
	Timeout time.Duration

	// TLSConfig is the base client TLS configuration. May be nil.
	// InsecureSkipVerify is set by the caller only when both the
	// process-wide and the per-account allow-insecure flags are on.
	TLSConfig *tls.Config

	Log log.Logger
}

// Session is one protocol session bound to one account.
//
// A session is owned by exactly one caller for the duration of a fetch
// and must be closed before being discarded. Sessions are not shared
// across routines.
type Session interface {
	// Connect opens the session and authenticates.
	// Failures are reported as *AccountError.
	Connect(ctx context.Context) error

	// Test verifies the session works: no-op, and with a non-empty
	// mailbox also a read-only select + check + unselect.
	Test(ctx context.Context, mailbox string) error

	// ListMailboxes enumerates remote folders with normalized types.
	// Failures are reported as *AccountError.
	ListMailboxes(ctx context.Context) ([]MailboxInfo, error)

	// Fetch enumerates messages of mailbox matching the criterion and
	// streams each message's raw bytes to each in server arrival order.
	// An error returned by each aborts the enumeration and is returned
	// as-is.
	//
	// Folder-scoped failures are reported as *MailboxError.
	Fetch(ctx context.Context, mailbox string, crit Criterion, arg string, each func(raw buffer.Buffer) error) error

	// Restore appends a raw message to the named remote mailbox.
	Restore(ctx context.Context, mailbox string, raw io.Reader, size int64, sent time.Time) error

	// Close tears the session down. Teardown failures are logged and
	// swallowed so they never discard a completed fetch.
	Close() error
}

// NewSession is the constructor signature protocol subpackages register.
type NewSession func(acct Account) Session

var (
	protocols     = make(map[Protocol]NewSession)
	protocolsLock sync.RWMutex
)

// RegisterProtocol adds a session constructor for the protocol tag.
//
// Called from func init() of protocol subpackages. Panics on duplicate
// registration.
func RegisterProtocol(p Protocol, f NewSession) {
	protocolsLock.Lock()
	defer protocolsLock.Unlock()

	if _, ok := protocols[p]; ok {
		panic("RegisterProtocol: protocol is already registered: " + string(p))
	}
	protocols[p] = f
}

// New opens an unconnected session for the protocol tag.
func New(p Protocol, acct Account) (Session, error) {
	protocolsLock.RLock()
	f := protocols[p]
	protocolsLock.RUnlock()

	if f == nil {
		return nil, Validationf("unknown protocol: %s", p)
	}
	return f(acct), nil
}
