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

package fetch

import (
	"errors"
	"testing"

	"github.com/mailstash/mailstash/framework/log"
)

func TestSafeVerbSuccess(t *testing.T) {
	ran := false
	err := SafeVerb(log.Logger{}, "login", ScopeAccount, "", func() error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatal("verb did not run")
	}
}

func TestSafeVerbScopes(t *testing.T) {
	cause := errors.New("connection reset")

	err := SafeVerb(log.Logger{}, "login", ScopeAccount, "", func() error { return cause })
	if !IsAccountErr(err) {
		t.Errorf("account scope: got %v, want AccountError", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("account scope: cause not chained: %v", err)
	}

	err = SafeVerb(log.Logger{}, "select", ScopeMailbox, "INBOX", func() error { return cause })
	if !IsMailboxErr(err) {
		t.Errorf("mailbox scope: got %v, want MailboxError", err)
	}
	var me *MailboxError
	if errors.As(err, &me) && me.Mailbox != "INBOX" {
		t.Errorf("mailbox scope: mailbox = %q, want INBOX", me.Mailbox)
	}

	err = SafeVerb(log.Logger{}, "logout", ScopeTeardown, "", func() error { return cause })
	if err != nil {
		t.Errorf("teardown scope: got %v, want nil", err)
	}
}

func TestBadStatus(t *testing.T) {
	err := BadStatus(log.Logger{}, "login", ScopeAccount, "", "NO [AUTHENTICATIONFAILED]", "OK")
	if !IsAccountErr(err) {
		t.Fatalf("got %v, want AccountError", err)
	}
	var bad *BadServerResponseError
	if !errors.As(err, &bad) {
		t.Fatalf("BadServerResponseError not chained: %v", err)
	}
	if bad.Status != "NO [AUTHENTICATIONFAILED]" || bad.Expected != "OK" {
		t.Errorf("wrong response recorded: %+v", bad)
	}

	if err := BadStatus(log.Logger{}, "quit", ScopeTeardown, "", "-ERR", "+OK"); err != nil {
		t.Errorf("teardown scope: got %v, want nil", err)
	}
}

func TestNewUnknownProtocol(t *testing.T) {
	_, err := New("nntp", Account{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("got %v, want ValidationError", err)
	}
}
