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

package imap

import (
	"strconv"
	"time"

	"github.com/emersion/go-imap"

	"github.com/mailstash/mailstash/internal/fetch"
)

// CompileCriteria translates a fetching criterion into an IMAP SEARCH
// query. now anchors the derived dates of the periodic criteria.
func CompileCriteria(crit fetch.Criterion, arg string, now time.Time) (*imap.SearchCriteria, error) {
	if crit.TakesArgument() && arg == "" {
		return nil, fetch.Validationf("criterion %s requires an argument", crit)
	}

	sc := imap.NewSearchCriteria()

	switch crit {
	case fetch.CritAll:
		// Empty criteria means ALL.
	case fetch.CritUnseen:
		sc.WithoutFlags = []string{imap.SeenFlag}
	case fetch.CritSeen:
		sc.WithFlags = []string{imap.SeenFlag}
	case fetch.CritRecent:
		sc.WithFlags = []string{imap.RecentFlag}
	case fetch.CritNew:
		sc.WithFlags = []string{imap.RecentFlag}
		sc.WithoutFlags = []string{imap.SeenFlag}
	case fetch.CritOld:
		sc.WithoutFlags = []string{imap.RecentFlag}
	case fetch.CritFlagged:
		sc.WithFlags = []string{imap.FlaggedFlag}
	case fetch.CritUnflagged:
		sc.WithoutFlags = []string{imap.FlaggedFlag}
	case fetch.CritDraft:
		sc.WithFlags = []string{imap.DraftFlag}
	case fetch.CritUndraft:
		sc.WithoutFlags = []string{imap.DraftFlag}
	case fetch.CritDeleted:
		sc.WithFlags = []string{imap.DeletedFlag}
	case fetch.CritUndeleted:
		sc.WithoutFlags = []string{imap.DeletedFlag}
	case fetch.CritAnswered:
		sc.WithFlags = []string{imap.AnsweredFlag}
	case fetch.CritUnanswered:
		sc.WithoutFlags = []string{imap.AnsweredFlag}
	case fetch.CritSubject:
		sc.Header.Add("Subject", arg)
	case fetch.CritBody:
		sc.Body = []string{arg}
	case fetch.CritFrom:
		sc.Header.Add("From", arg)
	case fetch.CritKeyword:
		sc.WithFlags = []string{arg}
	case fetch.CritUnkeyword:
		sc.WithoutFlags = []string{arg}
	case fetch.CritLarger:
		n, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return nil, fetch.Validationf("criterion LARGER: malformed size %q", arg)
		}
		sc.Larger = uint32(n)
	case fetch.CritSmaller:
		n, err := strconv.ParseUint(arg, 10, 32)
		if err != nil {
			return nil, fetch.Validationf("criterion SMALLER: malformed size %q", arg)
		}
		sc.Smaller = uint32(n)
	case fetch.CritDaily, fetch.CritWeekly, fetch.CritMonthly, fetch.CritAnnually, fetch.CritSentSince:
		since, _, err := fetch.SinceDate(crit, arg, now)
		if err != nil {
			return nil, err
		}
		sc.SentSince = since
	default:
		return nil, fetch.Validationf("unknown fetching criterion: %s", crit)
	}

	return sc, nil
}
