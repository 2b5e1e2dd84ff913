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

// Package imap implements the fetch.Session contract over IMAP4rev1,
// with and without TLS.
package imap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/utf7"
	"github.com/emersion/go-sasl"
	sortthread "github.com/emersion/go-imap-sortthread"

	"github.com/mailstash/mailstash/framework/buffer"
	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/internal/fetch"
)

// fetchBatchSize is the number of UIDs retrieved per FETCH command.
const fetchBatchSize = 50

// ops is the narrow surface of go-imap's client used by the session.
// Tests substitute it with a fake via newClient.
type ops interface {
	Login(username, password string) error
	Authenticate(a sasl.Client) error
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Unselect() error
	Check() error
	Noop() error
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Append(mbox string, flags []string, date time.Time, msg imap.Literal) error
	Logout() error

	// SupportSort reports whether the server advertises the SORT
	// capability.
	SupportSort() (bool, error)
	UidSort(sortCrit []sortthread.SortCriterion, searchCrit *imap.SearchCriteria) ([]uint32, error)
}

// clientOps adapts *client.Client plus its SORT extension to ops.
type clientOps struct {
	*client.Client
	sort *sortthread.SortClient
}

func (c clientOps) SupportSort() (bool, error) {
	return c.sort.SupportSort()
}

func (c clientOps) UidSort(sortCrit []sortthread.SortCriterion, searchCrit *imap.SearchCriteria) ([]uint32, error) {
	return c.sort.UidSort(sortCrit, searchCrit)
}

// newClient dials the server and returns the client handle. Swappable for
// tests.
var newClient = func(acct fetch.Account, useTLS bool) (ops, error) {
	port := acct.Port
	if port == 0 {
		if useTLS {
			port = 993
		} else {
			port = 143
		}
	}
	addr := net.JoinHostPort(acct.Host, strconv.Itoa(int(port)))
	dialer := &net.Dialer{Timeout: acct.Timeout}

	var (
		cl  *client.Client
		err error
	)
	if useTLS {
		cl, err = client.DialWithDialerTLS(dialer, addr, acct.TLSConfig)
	} else {
		cl, err = client.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, err
	}
	cl.Timeout = acct.Timeout

	if !useTLS {
		// Opportunistic STARTTLS. Plaintext is kept only if the server
		// does not offer the upgrade.
		if ok, _ := cl.SupportStartTLS(); ok {
			if err := cl.StartTLS(acct.TLSConfig); err != nil {
				cl.Logout()
				return nil, err
			}
		}
	}

	return clientOps{Client: cl, sort: sortthread.NewSortClient(cl)}, nil
}

type session struct {
	acct   fetch.Account
	useTLS bool
	log    log.Logger

	cl ops
}

// NewSession returns an unconnected plaintext/STARTTLS IMAP session.
func NewSession(acct fetch.Account) fetch.Session {
	return &session{acct: acct, useTLS: false, log: acct.Log}
}

// NewSessionTLS returns an unconnected implicit-TLS IMAP session.
func NewSessionTLS(acct fetch.Account) fetch.Session {
	return &session{acct: acct, useTLS: true, log: acct.Log}
}

func init() {
	fetch.RegisterProtocol(fetch.ProtoIMAP, NewSession)
	fetch.RegisterProtocol(fetch.ProtoIMAPTLS, NewSessionTLS)
}

func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return true
		}
	}
	return false
}

func (s *session) Connect(ctx context.Context) error {
	return fetch.SafeVerb(s.log, "login", fetch.ScopeAccount, "", func() error {
		cl, err := newClient(s.acct, s.useTLS)
		if err != nil {
			return err
		}
		s.cl = cl

		// IMAP LOGIN rejects non-ASCII credential bytes, use SASL
		// PLAIN for those.
		if hasNonASCII(s.acct.Address) || hasNonASCII(s.acct.Password) {
			err = cl.Authenticate(sasl.NewPlainClient("", s.acct.Address, s.acct.Password))
		} else {
			err = cl.Login(s.acct.Address, s.acct.Password)
			if err != nil {
				// Some servers still want AUTHENTICATE PLAIN even
				// for all-ASCII credentials.
				if plainErr := cl.Authenticate(sasl.NewPlainClient("", s.acct.Address, s.acct.Password)); plainErr == nil {
					err = nil
				}
			}
		}
		if err != nil {
			cl.Logout()
			s.cl = nil
			return err
		}
		return nil
	})
}

func (s *session) Test(ctx context.Context, mailbox string) error {
	if err := fetch.SafeVerb(s.log, "noop", fetch.ScopeAccount, "", func() error {
		return s.cl.Noop()
	}); err != nil {
		return err
	}
	if mailbox == "" {
		return nil
	}

	name, err := encodeName(mailbox)
	if err != nil {
		return err
	}
	if err := fetch.SafeVerb(s.log, "select", fetch.ScopeMailbox, mailbox, func() error {
		_, err := s.cl.Select(name, true)
		return err
	}); err != nil {
		return err
	}
	if err := fetch.SafeVerb(s.log, "check", fetch.ScopeMailbox, mailbox, func() error {
		return s.cl.Check()
	}); err != nil {
		return err
	}
	fetch.SafeVerb(s.log, "unselect", fetch.ScopeTeardown, mailbox, func() error {
		return s.cl.Unselect()
	})
	return nil
}

func (s *session) ListMailboxes(ctx context.Context) ([]fetch.MailboxInfo, error) {
	var infos []fetch.MailboxInfo
	err := fetch.SafeVerb(s.log, "list", fetch.ScopeAccount, "", func() error {
		ch := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- s.cl.List("", "*", ch)
		}()
		dec := utf7.Encoding.NewDecoder()
		for info := range ch {
			name, err := dec.String(info.Name)
			if err != nil {
				// Mailbox name is not valid modified UTF-7, keep it
				// as-is.
				name = info.Name
			}
			infos = append(infos, fetch.MailboxInfo{
				Name: name,
				Type: typeFromAttrs(name, info.Attributes),
			})
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// typeFromAttrs maps RFC 6154 special-use attributes (and the XLIST legacy
// forms) to the internal mailbox type enum.
func typeFromAttrs(name string, attrs []string) fetch.MailboxType {
	for _, attr := range attrs {
		switch attr {
		case imap.SentAttr:
			return fetch.MailboxSent
		case imap.DraftsAttr:
			return fetch.MailboxDrafts
		case imap.JunkAttr, "\\Spam":
			return fetch.MailboxJunk
		case imap.TrashAttr:
			return fetch.MailboxTrash
		case imap.ArchiveAttr, imap.AllAttr:
			return fetch.MailboxArchive
		case "\\Inbox":
			return fetch.MailboxInbox
		}
	}
	if name == imap.InboxName {
		return fetch.MailboxInbox
	}
	return fetch.MailboxCustom
}

func encodeName(mailbox string) (string, error) {
	name, err := utf7.Encoding.NewEncoder().String(mailbox)
	if err != nil {
		return "", fetch.Validationf("mailbox name is not UTF-7 encodable: %q", mailbox)
	}
	return name, nil
}

func (s *session) Fetch(ctx context.Context, mailbox string, crit fetch.Criterion, arg string, each func(raw buffer.Buffer) error) error {
	name, err := encodeName(mailbox)
	if err != nil {
		return err
	}

	criteria, err := CompileCriteria(crit, arg, time.Now())
	if err != nil {
		return err
	}

	if err := fetch.SafeVerb(s.log, "select", fetch.ScopeMailbox, mailbox, func() error {
		_, err := s.cl.Select(name, true)
		return err
	}); err != nil {
		return err
	}
	defer fetch.SafeVerb(s.log, "unselect", fetch.ScopeTeardown, mailbox, func() error {
		return s.cl.Unselect()
	})

	var uids []uint32
	err = fetch.SafeVerb(s.log, "search", fetch.ScopeMailbox, mailbox, func() error {
		// Prefer SORT (DATE) UTF-8 so messages arrive oldest-first.
		if ok, err := s.cl.SupportSort(); err == nil && ok {
			uids, err = s.cl.UidSort([]sortthread.SortCriterion{
				{Field: sortthread.SortDate},
			}, criteria)
			return err
		}
		var err error
		uids, err = s.cl.UidSearch(criteria)
		return err
	})
	if err != nil {
		return err
	}

	s.log.DebugMsg("uid enumeration done", "mailbox", mailbox, "count", len(uids))

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	for start := 0; start < len(uids); start += fetchBatchSize {
		end := start + fetchBatchSize
		if end > len(uids) {
			end = len(uids)
		}

		seqset := new(imap.SeqSet)
		seqset.AddNum(uids[start:end]...)

		var eachErr error
		err := fetch.SafeVerb(s.log, "fetch", fetch.ScopeMailbox, mailbox, func() error {
			ch := make(chan *imap.Message, 10)
			done := make(chan error, 1)
			go func() {
				done <- s.cl.UidFetch(seqset, items, ch)
			}()
			for msg := range ch {
				if eachErr != nil {
					continue // drain
				}
				body := msg.GetBody(section)
				if body == nil {
					s.log.Msg("message has no body section, skipped", "uid", msg.Uid, "mailbox", mailbox)
					continue
				}
				buf, err := buffer.BufferInMemory(body)
				if err != nil {
					eachErr = err
					continue
				}
				eachErr = each(buf)
			}
			return <-done
		})
		if err != nil {
			return err
		}
		if eachErr != nil {
			return eachErr
		}
	}

	return nil
}

func (s *session) Restore(ctx context.Context, mailbox string, raw io.Reader, size int64, sent time.Time) error {
	name, err := encodeName(mailbox)
	if err != nil {
		return err
	}

	var literal bytes.Buffer
	if size > 0 {
		literal.Grow(int(size))
	}
	if _, err := io.Copy(&literal, raw); err != nil {
		return fmt.Errorf("imap: read message for append: %w", err)
	}

	return fetch.SafeVerb(s.log, "append", fetch.ScopeMailbox, mailbox, func() error {
		return s.cl.Append(name, nil, sent, &literal)
	})
}

func (s *session) Close() error {
	if s.cl == nil {
		return nil
	}
	fetch.SafeVerb(s.log, "logout", fetch.ScopeTeardown, "", func() error {
		return s.cl.Logout()
	})
	s.cl = nil
	return nil
}
