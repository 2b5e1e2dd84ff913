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
	"time"
)

func TestAvailableCriteria(t *testing.T) {
	check := func(p Protocol, c Criterion, want bool) {
		t.Helper()
		if got := c.SupportedBy(p); got != want {
			t.Errorf("%s supported by %s: got %v, want %v", c, p, got, want)
		}
	}

	for _, c := range imapCriteria {
		check(ProtoIMAP, c, true)
		check(ProtoIMAPTLS, c, true)
		check(ProtoExchange, c, true)
	}

	check(ProtoPOP3, CritAll, true)
	check(ProtoPOP3, CritUnseen, false)
	check(ProtoPOP3TLS, CritSubject, false)

	check(ProtoJMAP, CritAll, true)
	check(ProtoJMAP, CritSubject, true)
	check(ProtoJMAP, CritRecent, false)
	check(ProtoJMAP, CritNew, false)
	check(ProtoJMAP, CritOld, false)
	check(ProtoJMAP, CritDeleted, false)
	check(ProtoJMAP, CritUndeleted, false)

	if crits := AvailableCriteria("smtp"); crits != nil {
		t.Errorf("AvailableCriteria for unknown protocol: got %v, want nil", crits)
	}
}

func TestCheckCriterion(t *testing.T) {
	asValidation := func(err error) bool {
		var ve *ValidationError
		return errors.As(err, &ve)
	}

	if err := CheckCriterion(CritAll, "", ProtoPOP3); err != nil {
		t.Errorf("ALL on pop3: unexpected error: %v", err)
	}
	if err := CheckCriterion(CritSubject, "invoice", ProtoIMAPTLS); err != nil {
		t.Errorf("SUBJECT with argument on imap_tls: unexpected error: %v", err)
	}

	if err := CheckCriterion("BOGUS", "", ProtoIMAP); !asValidation(err) {
		t.Errorf("unknown criterion: got %v, want ValidationError", err)
	}
	if err := CheckCriterion(CritUnseen, "", ProtoPOP3); !asValidation(err) {
		t.Errorf("UNSEEN on pop3: got %v, want ValidationError", err)
	}
	if err := CheckCriterion(CritSubject, "", ProtoIMAP); !asValidation(err) {
		t.Errorf("SUBJECT without argument: got %v, want ValidationError", err)
	}
	if err := CheckCriterion(CritSentSince, "yesterday", ProtoIMAP); !asValidation(err) {
		t.Errorf("SENTSINCE with malformed date: got %v, want ValidationError", err)
	}
	if err := CheckCriterion(CritSentSince, "02-Jan-2026", ProtoIMAP); err != nil {
		t.Errorf("SENTSINCE with IMAP date: unexpected error: %v", err)
	}
	if err := CheckCriterion(CritSentSince, "2026-01-02", ProtoIMAP); err != nil {
		t.Errorf("SENTSINCE with ISO date: unexpected error: %v", err)
	}
}

func TestSinceDate(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		crit Criterion
		arg  string
		want time.Time
		ok   bool
	}{
		{CritDaily, "", now.AddDate(0, 0, -1), true},
		{CritWeekly, "", now.AddDate(0, 0, -7), true},
		{CritMonthly, "", now.AddDate(0, -1, 0), true},
		{CritAnnually, "", now.AddDate(-1, 0, 0), true},
		{CritSentSince, "01-Feb-2026", time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), true},
		{CritAll, "", time.Time{}, false},
		{CritUnseen, "", time.Time{}, false},
	}
	for _, c := range cases {
		got, ok, err := SinceDate(c.crit, c.arg, now)
		if err != nil {
			t.Errorf("SinceDate(%s, %q): unexpected error: %v", c.crit, c.arg, err)
			continue
		}
		if ok != c.ok {
			t.Errorf("SinceDate(%s, %q): ok = %v, want %v", c.crit, c.arg, ok, c.ok)
			continue
		}
		if ok && !got.Equal(c.want) {
			t.Errorf("SinceDate(%s, %q): got %v, want %v", c.crit, c.arg, got, c.want)
		}
	}

	if _, _, err := SinceDate(CritSentSince, "not-a-date", now); err == nil {
		t.Error("SinceDate(SENTSINCE, not-a-date): expected error")
	}
}

func TestTakesArgument(t *testing.T) {
	withArg := []Criterion{
		CritSubject, CritBody, CritFrom, CritKeyword, CritUnkeyword,
		CritLarger, CritSmaller, CritSentSince,
	}
	for _, c := range withArg {
		if !c.TakesArgument() {
			t.Errorf("%s: expected TakesArgument", c)
		}
	}
	for _, c := range []Criterion{CritAll, CritUnseen, CritDaily} {
		if c.TakesArgument() {
			t.Errorf("%s: unexpected TakesArgument", c)
		}
	}
}
