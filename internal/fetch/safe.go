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
	"github.com/mailstash/mailstash/framework/log"
)

// Scope is the error-kind policy applied by the safe-command wrapper to a
// protocol verb.
type Scope int

const (
	// ScopeAccount translates verb faults into *AccountError
	// (credential/connection-layer verbs: login, list, noop).
	ScopeAccount Scope = iota

	// ScopeMailbox translates verb faults into *MailboxError
	// (folder-scoped verbs: select, fetch, append).
	ScopeMailbox

	// ScopeTeardown logs verb faults and swallows them (logout, quit,
	// unselect). Partial failure there must never discard a completed
	// fetch.
	ScopeTeardown
)

// SafeVerb runs one protocol verb under the uniform error contract.
//
// On success the verb's effects are left untouched. On failure the fault is
// logged at error level and translated per the scope policy: raised as the
// declared error kind (chained to the original), or swallowed for teardown
// verbs. Protocol clients use it so that differences between
// exception-style and bad-status-style library errors never leak out.
func SafeVerb(l log.Logger, verb string, sc Scope, mailbox string, fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}

	l.Error("command failed", err, "verb", verb)

	switch sc {
	case ScopeAccount:
		return &AccountError{Verb: verb, Err: err}
	case ScopeMailbox:
		return &MailboxError{Verb: verb, Mailbox: mailbox, Err: err}
	case ScopeTeardown:
		return nil
	}
	panic("fetch: unknown verb scope")
}

// BadStatus reports an unexpected server status for a verb, translated per
// the same policy as SafeVerb.
func BadStatus(l log.Logger, verb string, sc Scope, mailbox, got, want string) error {
	bad := &BadServerResponseError{Verb: verb, Status: got, Expected: want}

	l.Error("unexpected server response", bad, "verb", verb)

	switch sc {
	case ScopeAccount:
		return &AccountError{Verb: verb, ServerText: got, Err: bad}
	case ScopeMailbox:
		return &MailboxError{Verb: verb, Mailbox: mailbox, ServerText: got, Err: bad}
	case ScopeTeardown:
		return nil
	}
	panic("fetch: unknown verb scope")
}
