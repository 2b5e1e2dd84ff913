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
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/mailstash/mailstash/internal/fetch"
)

func TestCompileFilter(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		crit fetch.Criterion
		arg  string
		want map[string]interface{}
	}{
		{fetch.CritAll, "", map[string]interface{}{}},
		{fetch.CritUnseen, "", map[string]interface{}{"notKeyword": "$seen"}},
		{fetch.CritSeen, "", map[string]interface{}{"hasKeyword": "$seen"}},
		{fetch.CritFlagged, "", map[string]interface{}{"hasKeyword": "$flagged"}},
		{fetch.CritKeyword, "$important", map[string]interface{}{"hasKeyword": "$important"}},
		{fetch.CritSubject, "invoice", map[string]interface{}{"subject": "invoice"}},
		{fetch.CritFrom, "alice@example.org", map[string]interface{}{"from": "alice@example.org"}},
		{fetch.CritLarger, "1024", map[string]interface{}{"minSize": int64(1024)}},
		{fetch.CritSmaller, "2048", map[string]interface{}{"maxSize": int64(2048)}},
		{fetch.CritDaily, "", map[string]interface{}{"after": "2026-03-14T12:00:00Z"}},
		{fetch.CritSentSince, "2026-01-02", map[string]interface{}{"after": "2026-01-02T00:00:00Z"}},
	}
	for _, c := range cases {
		got, err := CompileFilter(c.crit, c.arg, now)
		if err != nil {
			t.Errorf("CompileFilter(%s, %q): unexpected error: %v", c.crit, c.arg, err)
			continue
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("CompileFilter(%s, %q) = %v, want %v", c.crit, c.arg, got, c.want)
		}
	}
}

func TestCompileFilterErrors(t *testing.T) {
	now := time.Now()
	asValidation := func(err error) bool {
		var ve *fetch.ValidationError
		return errors.As(err, &ve)
	}

	if _, err := CompileFilter(fetch.CritRecent, "", now); !asValidation(err) {
		t.Errorf("RECENT: got %v, want ValidationError", err)
	}
	if _, err := CompileFilter(fetch.CritSubject, "", now); !asValidation(err) {
		t.Errorf("SUBJECT without argument: got %v, want ValidationError", err)
	}
	if _, err := CompileFilter(fetch.CritLarger, "huge", now); !asValidation(err) {
		t.Errorf("LARGER with malformed size: got %v, want ValidationError", err)
	}
}
