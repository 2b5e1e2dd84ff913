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
	"fmt"
)

// AccountError indicates that the remote account itself is unreachable or
// rejected our credentials: login failure, DNS failure, connect timeout,
// protocol-level FATAL, mailbox listing failure.
//
// It drives the account-level health downgrade in the scheduler.
type AccountError struct {
	// Protocol verb that failed (e.g. "login", "list").
	Verb string

	// Server-provided diagnostic text, if any.
	ServerText string

	Err error
}

func (e *AccountError) Error() string {
	if e.ServerText != "" {
		return fmt.Sprintf("account: %s: %s", e.Verb, e.ServerText)
	}
	return fmt.Sprintf("account: %s: %v", e.Verb, e.Err)
}

func (e *AccountError) Unwrap() error {
	return e.Err
}

func (e *AccountError) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"verb": e.Verb,
	}
	if e.ServerText != "" {
		f["server_text"] = e.ServerText
	}
	return f
}

// MailboxError indicates that the account is fine but an operation scoped to
// a specific remote folder failed: select on a missing folder, fetch on a
// permission-denied folder, append failure.
//
// It drives the mailbox- and routine-level health downgrade, leaving the
// account untouched.
type MailboxError struct {
	Verb       string
	Mailbox    string
	ServerText string
	Err        error
}

func (e *MailboxError) Error() string {
	if e.ServerText != "" {
		return fmt.Sprintf("mailbox %s: %s: %s", e.Mailbox, e.Verb, e.ServerText)
	}
	return fmt.Sprintf("mailbox %s: %s: %v", e.Mailbox, e.Verb, e.Err)
}

func (e *MailboxError) Unwrap() error {
	return e.Err
}

func (e *MailboxError) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"verb":    e.Verb,
		"mailbox": e.Mailbox,
	}
	if e.ServerText != "" {
		f["server_text"] = e.ServerText
	}
	return f
}

// BadServerResponseError is raised when the server responded but with a
// status other than the expected one. It never reaches callers directly,
// the safe-command wrapper always folds it into AccountError or
// MailboxError depending on the verb scope.
type BadServerResponseError struct {
	Verb     string
	Status   string
	Expected string
}

func (e *BadServerResponseError) Error() string {
	return fmt.Sprintf("%s: unexpected server response %q (want %q)", e.Verb, e.Status, e.Expected)
}

func (e *BadServerResponseError) Fields() map[string]interface{} {
	return map[string]interface{}{
		"verb":     e.Verb,
		"status":   e.Status,
		"expected": e.Expected,
	}
}

// ValidationError indicates caller-supplied data that violates a constraint:
// an unknown criterion, a criterion unsupported by the account protocol, a
// mailbox that belongs to another account.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func Validationf(format string, args ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsAccountErr reports whether err is (or wraps) an account-scoped failure.
func IsAccountErr(err error) bool {
	var ae *AccountError
	return errors.As(err, &ae)
}

// IsMailboxErr reports whether err is (or wraps) a mailbox-scoped failure.
func IsMailboxErr(err error) bool {
	var me *MailboxError
	return errors.As(err, &me)
}
