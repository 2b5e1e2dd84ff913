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

package jmap

import (
	"strconv"
	"time"

	"github.com/mailstash/mailstash/internal/fetch"
)

// Standard IMAP flags map to these JMAP keywords (RFC 8621 §2).
const (
	kwSeen     = "$seen"
	kwFlagged  = "$flagged"
	kwDraft    = "$draft"
	kwAnswered = "$answered"
)

// CompileFilter translates a fetching criterion into an Email/query
// FilterCondition object. The caller adds the inMailbox condition.
func CompileFilter(crit fetch.Criterion, arg string, now time.Time) (map[string]interface{}, error) {
	if !crit.SupportedBy(fetch.ProtoJMAP) {
		return nil, fetch.Validationf("criterion %s is not supported by protocol %s", crit, fetch.ProtoJMAP)
	}
	if crit.TakesArgument() && arg == "" {
		return nil, fetch.Validationf("criterion %s requires an argument", crit)
	}

	f := map[string]interface{}{}

	switch crit {
	case fetch.CritAll:
		// Just the inMailbox condition.
	case fetch.CritUnseen:
		f["notKeyword"] = kwSeen
	case fetch.CritSeen:
		f["hasKeyword"] = kwSeen
	case fetch.CritFlagged:
		f["hasKeyword"] = kwFlagged
	case fetch.CritUnflagged:
		f["notKeyword"] = kwFlagged
	case fetch.CritDraft:
		f["hasKeyword"] = kwDraft
	case fetch.CritUndraft:
		f["notKeyword"] = kwDraft
	case fetch.CritAnswered:
		f["hasKeyword"] = kwAnswered
	case fetch.CritUnanswered:
		f["notKeyword"] = kwAnswered
	case fetch.CritKeyword:
		f["hasKeyword"] = arg
	case fetch.CritUnkeyword:
		f["notKeyword"] = arg
	case fetch.CritSubject:
		f["subject"] = arg
	case fetch.CritBody:
		f["body"] = arg
	case fetch.CritFrom:
		f["from"] = arg
	case fetch.CritLarger:
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fetch.Validationf("criterion LARGER: malformed size %q", arg)
		}
		f["minSize"] = n
	case fetch.CritSmaller:
		n, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fetch.Validationf("criterion SMALLER: malformed size %q", arg)
		}
		f["maxSize"] = n
	case fetch.CritDaily, fetch.CritWeekly, fetch.CritMonthly, fetch.CritAnnually, fetch.CritSentSince:
		since, _, err := fetch.SinceDate(crit, arg, now)
		if err != nil {
			return nil, err
		}
		f["after"] = since.UTC().Format(time.RFC3339)
	default:
		return nil, fetch.Validationf("unknown fetching criterion: %s", crit)
	}

	return f, nil
}
