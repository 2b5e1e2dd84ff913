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
	"time"
)

// Criterion is the enumerated message selection criterion of a routine.
type Criterion string

const (
	CritAll        Criterion = "ALL"
	CritUnseen     Criterion = "UNSEEN"
	CritSeen       Criterion = "SEEN"
	CritRecent     Criterion = "RECENT"
	CritNew        Criterion = "NEW"
	CritOld        Criterion = "OLD"
	CritFlagged    Criterion = "FLAGGED"
	CritUnflagged  Criterion = "UNFLAGGED"
	CritDraft      Criterion = "DRAFT"
	CritUndraft    Criterion = "UNDRAFT"
	CritDeleted    Criterion = "DELETED"
	CritUndeleted  Criterion = "UNDELETED"
	CritAnswered   Criterion = "ANSWERED"
	CritUnanswered Criterion = "UNANSWERED"
	CritSubject    Criterion = "SUBJECT"
	CritBody       Criterion = "BODY"
	CritFrom       Criterion = "FROM"
	CritKeyword    Criterion = "KEYWORD"
	CritUnkeyword  Criterion = "UNKEYWORD"
	CritLarger     Criterion = "LARGER"
	CritSmaller    Criterion = "SMALLER"
	CritDaily      Criterion = "DAILY"
	CritWeekly     Criterion = "WEEKLY"
	CritMonthly    Criterion = "MONTHLY"
	CritAnnually   Criterion = "ANNUALLY"
	CritSentSince  Criterion = "SENTSINCE"
)

// imapCriteria is the full criteria surface. IMAP (and the interim
// Exchange fetcher) support all of it.
var imapCriteria = []Criterion{
	CritAll,
	CritUnseen, CritSeen, CritRecent, CritNew, CritOld,
	CritFlagged, CritUnflagged, CritDraft, CritUndraft,
	CritDeleted, CritUndeleted, CritAnswered, CritUnanswered,
	CritSubject, CritBody, CritFrom, CritKeyword, CritUnkeyword,
	CritLarger, CritSmaller,
	CritDaily, CritWeekly, CritMonthly, CritAnnually, CritSentSince,
}

// jmapCriteria excludes the criteria with no JMAP representation:
// RECENT/NEW/OLD (the \Recent flag does not exist in JMAP) and
// DELETED/UNDELETED (JMAP has no \Deleted keyword, deletion is a move).
var jmapCriteria = []Criterion{
	CritAll,
	CritUnseen, CritSeen,
	CritFlagged, CritUnflagged, CritDraft, CritUndraft,
	CritAnswered, CritUnanswered,
	CritSubject, CritBody, CritFrom, CritKeyword, CritUnkeyword,
	CritLarger, CritSmaller,
	CritDaily, CritWeekly, CritMonthly, CritAnnually, CritSentSince,
}

// pop3Criteria: POP3 has neither flags nor server-side search, only full
// enumeration.
var pop3Criteria = []Criterion{CritAll}

// AvailableCriteria returns the criteria subset supported by accounts
// using the given protocol. It is the single source of truth consulted at
// routine-creation time; fetchers fail fast on anything outside it.
func AvailableCriteria(p Protocol) []Criterion {
	switch p {
	case ProtoIMAP, ProtoIMAPTLS, ProtoExchange:
		crits := make([]Criterion, len(imapCriteria))
		copy(crits, imapCriteria)
		return crits
	case ProtoPOP3, ProtoPOP3TLS:
		crits := make([]Criterion, len(pop3Criteria))
		copy(crits, pop3Criteria)
		return crits
	case ProtoJMAP:
		crits := make([]Criterion, len(jmapCriteria))
		copy(crits, jmapCriteria)
		return crits
	}
	return nil
}

// SupportedBy reports whether the criterion can be compiled for the
// protocol.
func (c Criterion) SupportedBy(p Protocol) bool {
	for _, ac := range AvailableCriteria(p) {
		if ac == c {
			return true
		}
	}
	return false
}

// TakesArgument reports whether the criterion requires a non-empty
// argument.
func (c Criterion) TakesArgument() bool {
	switch c {
	case CritSubject, CritBody, CritFrom, CritKeyword, CritUnkeyword,
		CritLarger, CritSmaller, CritSentSince:
		return true
	}
	return false
}

func (c Criterion) Valid() bool {
	for _, ac := range imapCriteria {
		if ac == c {
			return true
		}
	}
	return false
}

// CheckCriterion validates a (criterion, argument, protocol) combination
// the way routine creation does.
func CheckCriterion(c Criterion, arg string, p Protocol) error {
	if !c.Valid() {
		return Validationf("unknown fetching criterion: %s", c)
	}
	if !c.SupportedBy(p) {
		return Validationf("criterion %s is not supported by protocol %s", c, p)
	}
	if c.TakesArgument() && arg == "" {
		return Validationf("criterion %s requires an argument", c)
	}
	if c == CritSentSince {
		if _, err := ParseSentSinceArg(arg); err != nil {
			return Validationf("criterion SENTSINCE: malformed date %q", arg)
		}
	}
	return nil
}

// PeriodStart returns the reference date of the periodic criteria
// (DAILY, WEEKLY, MONTHLY, ANNUALLY) relative to now.
func PeriodStart(c Criterion, now time.Time) (time.Time, bool) {
	switch c {
	case CritDaily:
		return now.AddDate(0, 0, -1), true
	case CritWeekly:
		return now.AddDate(0, 0, -7), true
	case CritMonthly:
		return now.AddDate(0, -1, 0), true
	case CritAnnually:
		return now.AddDate(-1, 0, 0), true
	}
	return time.Time{}, false
}

// sentSinceFormats are the accepted argument forms of SENTSINCE, the IMAP
// date-text form first.
var sentSinceFormats = []string{"02-Jan-2006", "2006-01-02"}

// ParseSentSinceArg parses the user-supplied SENTSINCE date argument.
func ParseSentSinceArg(arg string) (time.Time, error) {
	var lastErr error
	for _, f := range sentSinceFormats {
		t, err := time.Parse(f, arg)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// SinceDate resolves the date-based criteria to a concrete cut-off.
// ok is false for criteria that are not date-based.
func SinceDate(c Criterion, arg string, now time.Time) (t time.Time, ok bool, err error) {
	if t, ok := PeriodStart(c, now); ok {
		return t, true, nil
	}
	if c == CritSentSince {
		t, err := ParseSentSinceArg(arg)
		if err != nil {
			return time.Time{}, true, Validationf("criterion SENTSINCE: malformed date %q", arg)
		}
		return t, true, nil
	}
	return time.Time{}, false, nil
}
