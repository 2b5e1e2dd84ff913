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

// Package pop3 implements the fetch.Session contract over POP3, with and
// without TLS.
//
// POP3 has neither folders nor server-side search: the single remote
// inbox is presented as the one mailbox, only the ALL criterion is
// supported, and duplicate suppression across cycles falls entirely on
// the archive writer's (mailbox, message-id) uniqueness.
package pop3

import (
	"context"
	"io"
	"time"

	"github.com/knadh/go-pop3"

	"github.com/mailstash/mailstash/framework/buffer"
	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/internal/fetch"
)

// TheMailbox is the name under which the single POP3 inbox is archived.
const TheMailbox = "INBOX"

// conn is the narrow surface of go-pop3's connection used by the session.
// Tests substitute it via newConn.
type conn interface {
	Auth(user, password string) error
	Noop() error
	List(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (io.Reader, error)
	Quit() error
}

type realConn struct {
	*pop3.Conn
}

func (c realConn) RetrRaw(msgID int) (io.Reader, error) {
	buf, err := c.Conn.RetrRaw(msgID)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

var newConn = func(acct fetch.Account, useTLS bool) (conn, error) {
	port := int(acct.Port)
	if port == 0 {
		if useTLS {
			port = 995
		} else {
			port = 110
		}
	}

	skipVerify := false
	if acct.TLSConfig != nil {
		skipVerify = acct.TLSConfig.InsecureSkipVerify
	}

	p := pop3.New(pop3.Opt{
		Host:          acct.Host,
		Port:          port,
		TLSEnabled:    useTLS,
		TLSSkipVerify: skipVerify,
		DialTimeout:   acct.Timeout,
	})
	c, err := p.NewConn()
	if err != nil {
		return nil, err
	}
	return realConn{Conn: c}, nil
}

type session struct {
	acct   fetch.Account
	useTLS bool
	log    log.Logger

	cl conn
}

// NewSession returns an unconnected plaintext POP3 session.
func NewSession(acct fetch.Account) fetch.Session {
	return &session{acct: acct, useTLS: false, log: acct.Log}
}

// NewSessionTLS returns an unconnected implicit-TLS POP3 session.
func NewSessionTLS(acct fetch.Account) fetch.Session {
	return &session{acct: acct, useTLS: true, log: acct.Log}
}

func init() {
	fetch.RegisterProtocol(fetch.ProtoPOP3, NewSession)
	fetch.RegisterProtocol(fetch.ProtoPOP3TLS, NewSessionTLS)
}

func (s *session) Connect(ctx context.Context) error {
	return fetch.SafeVerb(s.log, "user/pass", fetch.ScopeAccount, "", func() error {
		cl, err := newConn(s.acct, s.useTLS)
		if err != nil {
			return err
		}
		if err := cl.Auth(s.acct.Address, s.acct.Password); err != nil {
			cl.Quit()
			return err
		}
		s.cl = cl
		return nil
	})
}

func (s *session) Test(ctx context.Context, mailbox string) error {
	if mailbox != "" && mailbox != TheMailbox {
		return fetch.Validationf("POP3 account has no mailbox named %q", mailbox)
	}
	return fetch.SafeVerb(s.log, "noop", fetch.ScopeAccount, "", func() error {
		return s.cl.Noop()
	})
}

func (s *session) ListMailboxes(ctx context.Context) ([]fetch.MailboxInfo, error) {
	return []fetch.MailboxInfo{{Name: TheMailbox, Type: fetch.MailboxInbox}}, nil
}

func (s *session) Fetch(ctx context.Context, mailbox string, crit fetch.Criterion, arg string, each func(raw buffer.Buffer) error) error {
	if mailbox != TheMailbox {
		return fetch.Validationf("POP3 account has no mailbox named %q", mailbox)
	}
	if crit != fetch.CritAll {
		return fetch.Validationf("criterion %s is not supported by protocol %s", crit, fetch.ProtoPOP3)
	}

	var ids []pop3.MessageID
	if err := fetch.SafeVerb(s.log, "list", fetch.ScopeMailbox, mailbox, func() error {
		var err error
		ids, err = s.cl.List(0)
		return err
	}); err != nil {
		return err
	}

	s.log.DebugMsg("message enumeration done", "count", len(ids))

	for _, id := range ids {
		var raw io.Reader
		if err := fetch.SafeVerb(s.log, "retr", fetch.ScopeMailbox, mailbox, func() error {
			var err error
			raw, err = s.cl.RetrRaw(id.ID)
			return err
		}); err != nil {
			return err
		}

		buf, err := buffer.BufferInMemory(raw)
		if err != nil {
			return err
		}
		if err := each(buf); err != nil {
			return err
		}
	}

	return nil
}

func (s *session) Restore(ctx context.Context, mailbox string, raw io.Reader, size int64, sent time.Time) error {
	// POP3 has no APPEND equivalent.
	return fetch.Validationf("restore is not supported for POP3 accounts")
}

func (s *session) Close() error {
	if s.cl == nil {
		return nil
	}
	fetch.SafeVerb(s.log, "quit", fetch.ScopeTeardown, "", func() error {
		return s.cl.Quit()
	})
	s.cl = nil
	return nil
}
