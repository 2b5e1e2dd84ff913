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

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/mailstash/mailstash/framework/config"
	"github.com/mailstash/mailstash/internal/fetch"
)

func testDB(t *testing.T) *Storage {
	t.Helper()

	mod, err := New("storage", "test_storage", nil,
		[]string{"sqlite3", filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := mod.(*Storage)
	if err := s.Init(config.NewMap(nil, config.Node{})); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func seedMailbox(t *testing.T, s *Storage) *Mailbox {
	t.Helper()
	ctx := context.Background()

	user, err := s.GetOrCreateUser(ctx, "tester")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	acct := Account{
		OwnerID:  user.ID,
		Address:  "tester@example.org",
		Password: "hunter2",
		Host:     "mail.example.org",
		Protocol: fetch.ProtoIMAPTLS,
	}
	if err := s.CreateAccount(ctx, &acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	mb := Mailbox{AccountID: acct.ID, Name: "INBOX", Type: fetch.MailboxInbox}
	if err := s.UpsertMailbox(ctx, &mb); err != nil {
		t.Fatalf("UpsertMailbox: %v", err)
	}
	return &mb
}

func TestGetOrCreateUser(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()

	first, err := s.GetOrCreateUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	second, err := s.GetOrCreateUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser (repeat): %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("repeated create returned a new row: %d != %d", first.ID, second.ID)
	}

	if _, err := s.GetOrCreateUser(ctx, "  "); err == nil {
		t.Error("blank user name accepted")
	}

	if _, err := s.UserByName(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UserByName(nobody): got %v, want ErrNotFound", err)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()

	user, err := s.GetOrCreateUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}

	bad := Account{OwnerID: user.ID, Address: "a@b", Password: "x", Host: "h", Protocol: "carrier-pigeon"}
	if err := s.CreateAccount(ctx, &bad); err == nil {
		t.Error("unknown protocol accepted")
	}
	bad = Account{OwnerID: user.ID, Password: "x", Host: "h", Protocol: fetch.ProtoIMAP}
	if err := s.CreateAccount(ctx, &bad); err == nil {
		t.Error("empty address accepted")
	}
	bad = Account{OwnerID: user.ID, Address: "bad@@example.org", Password: "x", Host: "h", Protocol: fetch.ProtoIMAP}
	if err := s.CreateAccount(ctx, &bad); err == nil {
		t.Error("malformed address accepted")
	}

	acct := Account{OwnerID: user.ID, Address: "a@b", Password: "x", Host: "h", Protocol: fetch.ProtoIMAP}
	if err := s.CreateAccount(ctx, &acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if acct.Health != HealthUnknown {
		t.Errorf("new account health = %q, want unknown", acct.Health)
	}

	dup := Account{OwnerID: user.ID, Address: "a@b", Password: "y", Host: "h2", Protocol: fetch.ProtoIMAP}
	if err := s.CreateAccount(ctx, &dup); !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Errorf("duplicate (owner, address, protocol): got %v, want ErrDuplicatedKey", err)
	}
}

func TestUpsertMailbox(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	mb := seedMailbox(t, s)

	if err := s.SetMailboxFlags(ctx, mb.ID, true, true); err != nil {
		t.Fatalf("SetMailboxFlags: %v", err)
	}

	// Same (account, name) resolves to the existing row, flags kept.
	again := Mailbox{AccountID: mb.AccountID, Name: "INBOX", Type: fetch.MailboxCustom}
	if err := s.UpsertMailbox(ctx, &again); err != nil {
		t.Fatalf("UpsertMailbox (repeat): %v", err)
	}
	if again.ID != mb.ID {
		t.Errorf("repeated upsert created a new row: %d != %d", again.ID, mb.ID)
	}
	if !again.SaveToEML || !again.SaveAttachments {
		t.Error("repeated upsert lost the save flags")
	}
	if again.Type != fetch.MailboxInbox {
		t.Errorf("repeated upsert changed the type: %q", again.Type)
	}
}

func TestRoutineLifecycle(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	mb := seedMailbox(t, s)

	r := Routine{
		UUID:           "uuid-1",
		MailboxID:      mb.ID,
		Criterion:      fetch.CritUnseen,
		IntervalEvery:  30,
		IntervalPeriod: "minutes",
		Enabled:        true,
	}
	if err := s.CreateRoutine(ctx, &r, fetch.ProtoIMAPTLS); err != nil {
		t.Fatalf("CreateRoutine: %v", err)
	}

	dup := Routine{
		UUID:           "uuid-2",
		MailboxID:      mb.ID,
		Criterion:      fetch.CritUnseen,
		IntervalEvery:  1,
		IntervalPeriod: "hours",
	}
	if err := s.CreateRoutine(ctx, &dup, fetch.ProtoIMAPTLS); !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Errorf("duplicate (mailbox, criterion, arg): got %v, want ErrDuplicatedKey", err)
	}

	bad := Routine{UUID: "uuid-3", MailboxID: mb.ID, Criterion: fetch.CritSubject, IntervalEvery: 1, IntervalPeriod: "hours"}
	if err := s.CreateRoutine(ctx, &bad, fetch.ProtoIMAPTLS); err == nil {
		t.Error("SUBJECT without argument accepted")
	}
	bad = Routine{UUID: "uuid-4", MailboxID: mb.ID, Criterion: fetch.CritAll, IntervalEvery: 0, IntervalPeriod: "hours"}
	if err := s.CreateRoutine(ctx, &bad, fetch.ProtoIMAPTLS); err == nil {
		t.Error("zero interval accepted")
	}

	got, err := s.RoutineByUUID(ctx, "uuid-1")
	if err != nil {
		t.Fatalf("RoutineByUUID: %v", err)
	}
	if got.Mailbox.Name != "INBOX" || got.Mailbox.Account.Address != "tester@example.org" {
		t.Errorf("mailbox/account not preloaded: %+v", got.Mailbox)
	}
	if got.Interval() != 30*time.Minute {
		t.Errorf("Interval() = %v, want 30m", got.Interval())
	}

	if err := s.SetRoutineInterval(ctx, "uuid-1", 2, "hours"); err != nil {
		t.Fatalf("SetRoutineInterval: %v", err)
	}
	if err := s.SetRoutineInterval(ctx, "missing", 2, "hours"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetRoutineInterval(missing): got %v, want ErrNotFound", err)
	}
	if err := s.SetRoutineEnabled(ctx, "missing", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetRoutineEnabled(missing): got %v, want ErrNotFound", err)
	}

	enabled, err := s.EnabledRoutines(ctx)
	if err != nil {
		t.Fatalf("EnabledRoutines: %v", err)
	}
	if len(enabled) != 1 || enabled[0].UUID != "uuid-1" {
		t.Errorf("EnabledRoutines = %+v", enabled)
	}
	if enabled[0].Mailbox.Account.ID == 0 {
		t.Error("EnabledRoutines did not preload the account")
	}
}

func TestDeleteRoutineRemovesScheduleEntry(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	mb := seedMailbox(t, s)

	r := Routine{UUID: "uuid-1", MailboxID: mb.ID, Criterion: fetch.CritAll, IntervalEvery: 1, IntervalPeriod: "hours"}
	if err := s.CreateRoutine(ctx, &r, fetch.ProtoIMAPTLS); err != nil {
		t.Fatalf("CreateRoutine: %v", err)
	}
	if err := s.SaveScheduleEntry(ctx, "uuid-1", []byte(`{"task":"fetch_emails"}`)); err != nil {
		t.Fatalf("SaveScheduleEntry: %v", err)
	}

	if err := s.DeleteRoutine(ctx, "uuid-1"); err != nil {
		t.Fatalf("DeleteRoutine: %v", err)
	}
	entries, err := s.ScheduleEntries(ctx)
	if err != nil {
		t.Fatalf("ScheduleEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("schedule entry survived routine deletion: %+v", entries)
	}

	if err := s.DeleteRoutine(ctx, "uuid-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: got %v, want ErrNotFound", err)
	}
}

func TestSaveScheduleEntryReplaces(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()

	if err := s.SaveScheduleEntry(ctx, "uuid-1", []byte(`{"enabled":true}`)); err != nil {
		t.Fatalf("SaveScheduleEntry: %v", err)
	}
	if err := s.SaveScheduleEntry(ctx, "uuid-1", []byte(`{"enabled":false}`)); err != nil {
		t.Fatalf("SaveScheduleEntry (replace): %v", err)
	}

	entries, err := s.ScheduleEntries(ctx)
	if err != nil {
		t.Fatalf("ScheduleEntries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if string(entries[0].Payload) != `{"enabled":false}` {
		t.Errorf("payload not replaced: %s", entries[0].Payload)
	}
}

func TestEmailQueries(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	mb := seedMailbox(t, s)

	older := Email{MailboxID: mb.ID, MessageID: "<1@x>", SentAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	newer := Email{MailboxID: mb.ID, MessageID: "<2@x>", SentAt: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	// Insert out of order to exercise the sent_at ordering.
	if err := s.DB.Create(&newer).Error; err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.DB.Create(&older).Error; err != nil {
		t.Fatalf("Create: %v", err)
	}

	exists, err := s.EmailExists(ctx, mb.ID, "<1@x>")
	if err != nil || !exists {
		t.Errorf("EmailExists(<1@x>) = %v, %v", exists, err)
	}
	exists, err = s.EmailExists(ctx, mb.ID, "<3@x>")
	if err != nil || exists {
		t.Errorf("EmailExists(<3@x>) = %v, %v", exists, err)
	}

	var order []string
	err = s.EmailsByMailbox(ctx, mb.ID, func(e *Email) error {
		order = append(order, e.MessageID)
		return nil
	})
	if err != nil {
		t.Fatalf("EmailsByMailbox: %v", err)
	}
	if len(order) != 2 || order[0] != "<1@x>" || order[1] != "<2@x>" {
		t.Errorf("wrong order: %v", order)
	}

	if err := s.SetEmailFavorite(ctx, older.ID, true); err != nil {
		t.Fatalf("SetEmailFavorite: %v", err)
	}
	if err := s.SetEmailFavorite(ctx, 9999, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetEmailFavorite(9999): got %v, want ErrNotFound", err)
	}
}

func TestOwnerOfMailbox(t *testing.T) {
	s := testDB(t)
	ctx := context.Background()
	mb := seedMailbox(t, s)

	user, err := s.UserByName(ctx, "tester")
	if err != nil {
		t.Fatalf("UserByName: %v", err)
	}
	owner, err := s.OwnerOfMailbox(ctx, mb.ID)
	if err != nil {
		t.Fatalf("OwnerOfMailbox: %v", err)
	}
	if owner != user.ID {
		t.Errorf("owner = %d, want %d", owner, user.ID)
	}

	if _, err := s.OwnerOfMailbox(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("OwnerOfMailbox(9999): got %v, want ErrNotFound", err)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"report.pdf", "report.pdf"},
		{"a/b\\c", "a_b_c"},
		{"tab\there", "tab_here"},
		{"", ""},
	}
	for _, c := range cases {
		if got := SanitizeName(c.in); got != c.want {
			t.Errorf("SanitizeName(%q) = %q, want %q", c.in, got, c.want)
		}
	}

	long := SanitizeName(string(make([]byte, 1000)))
	if got := utf8.RuneCountInString(long); got != 200 {
		t.Errorf("long name not truncated to 200 runes: %d", got)
	}

	// Truncation counts runes, no multibyte character is split.
	wide := SanitizeName(strings.Repeat("п", 500))
	if got := utf8.RuneCountInString(wide); got != 200 {
		t.Errorf("multibyte name truncated to %d runes, want 200", got)
	}
	if !utf8.ValidString(wide) {
		t.Error("truncation split a multibyte rune")
	}

	if got := EmailBlobKey(3, 7, "<a/b@x>"); got != "3/7_<a_b@x>.eml" {
		t.Errorf("EmailBlobKey = %q", got)
	}
	if got := AttachmentBlobKey(3, 7, 9, "in voice.pdf"); got != "3/7/9_in voice.pdf" {
		t.Errorf("AttachmentBlobKey = %q", got)
	}
}
