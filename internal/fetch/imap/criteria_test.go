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
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/emersion/go-imap"

	"github.com/mailstash/mailstash/internal/fetch"
)

func TestCompileCriteria(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	sc, err := CompileCriteria(fetch.CritAll, "", now)
	if err != nil {
		t.Fatalf("ALL: %v", err)
	}
	if !reflect.DeepEqual(sc, imap.NewSearchCriteria()) {
		t.Errorf("ALL compiled to non-empty criteria: %+v", sc)
	}

	sc, err = CompileCriteria(fetch.CritUnseen, "", now)
	if err != nil {
		t.Fatalf("UNSEEN: %v", err)
	}
	if !reflect.DeepEqual(sc.WithoutFlags, []string{imap.SeenFlag}) {
		t.Errorf("UNSEEN WithoutFlags = %v", sc.WithoutFlags)
	}

	sc, err = CompileCriteria(fetch.CritNew, "", now)
	if err != nil {
		t.Fatalf("NEW: %v", err)
	}
	if !reflect.DeepEqual(sc.WithFlags, []string{imap.RecentFlag}) ||
		!reflect.DeepEqual(sc.WithoutFlags, []string{imap.SeenFlag}) {
		t.Errorf("NEW = %+v", sc)
	}

	sc, err = CompileCriteria(fetch.CritSubject, "invoice", now)
	if err != nil {
		t.Fatalf("SUBJECT: %v", err)
	}
	if got := sc.Header.Get("Subject"); got != "invoice" {
		t.Errorf("SUBJECT header = %q", got)
	}

	sc, err = CompileCriteria(fetch.CritKeyword, "$important", now)
	if err != nil {
		t.Fatalf("KEYWORD: %v", err)
	}
	if !reflect.DeepEqual(sc.WithFlags, []string{"$important"}) {
		t.Errorf("KEYWORD WithFlags = %v", sc.WithFlags)
	}

	sc, err = CompileCriteria(fetch.CritLarger, "1024", now)
	if err != nil {
		t.Fatalf("LARGER: %v", err)
	}
	if sc.Larger != 1024 {
		t.Errorf("LARGER = %d", sc.Larger)
	}

	sc, err = CompileCriteria(fetch.CritWeekly, "", now)
	if err != nil {
		t.Fatalf("WEEKLY: %v", err)
	}
	if want := now.AddDate(0, 0, -7); !sc.SentSince.Equal(want) {
		t.Errorf("WEEKLY SentSince = %v, want %v", sc.SentSince, want)
	}

	sc, err = CompileCriteria(fetch.CritSentSince, "01-Feb-2026", now)
	if err != nil {
		t.Fatalf("SENTSINCE: %v", err)
	}
	if want := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC); !sc.SentSince.Equal(want) {
		t.Errorf("SENTSINCE = %v, want %v", sc.SentSince, want)
	}
}

func TestCompileCriteriaErrors(t *testing.T) {
	now := time.Now()
	asValidation := func(err error) bool {
		var ve *fetch.ValidationError
		return errors.As(err, &ve)
	}

	if _, err := CompileCriteria(fetch.CritSubject, "", now); !asValidation(err) {
		t.Errorf("SUBJECT without argument: got %v, want ValidationError", err)
	}
	if _, err := CompileCriteria(fetch.CritLarger, "big", now); !asValidation(err) {
		t.Errorf("LARGER with malformed size: got %v, want ValidationError", err)
	}
	if _, err := CompileCriteria(fetch.CritSmaller, "-1", now); !asValidation(err) {
		t.Errorf("SMALLER with negative size: got %v, want ValidationError", err)
	}
	if _, err := CompileCriteria(fetch.Criterion("BOGUS"), "", now); !asValidation(err) {
		t.Errorf("unknown criterion: got %v, want ValidationError", err)
	}
	if _, err := CompileCriteria(fetch.CritSentSince, "yesterday", now); !asValidation(err) {
		t.Errorf("SENTSINCE with malformed date: got %v, want ValidationError", err)
	}
}
