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

package mailfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mailstash/mailstash/internal/archive"
	"github.com/mailstash/mailstash/internal/fetch"
	"github.com/mailstash/mailstash/internal/storage"
	"github.com/mailstash/mailstash/internal/testutils"
)

func testArchive(t *testing.T, throwOutSpam bool) *archive.Archive {
	t.Helper()
	return archive.NewDirect(testutils.Storage(t), testutils.NewBlobStore(), throwOutSpam, testutils.Logger(t, "archive"))
}

func testAccount(t *testing.T, db *storage.Storage) *storage.Account {
	t.Helper()
	ctx := context.Background()

	user, err := db.GetOrCreateUser(ctx, "tester")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	acct := storage.Account{
		OwnerID:  user.ID,
		Address:  "tester@example.org",
		Password: "hunter2",
		Host:     "mail.example.org",
		Protocol: fetch.ProtoIMAPTLS,
	}
	if err := db.CreateAccount(ctx, &acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	return &acct
}

func testMailbox(t *testing.T, ar *archive.Archive, acct *storage.Account, name string, saveEML bool) *storage.Mailbox {
	t.Helper()
	ctx := context.Background()

	mb := storage.Mailbox{
		AccountID: acct.ID,
		Name:      name,
		Type:      fetch.MailboxInbox,
		SaveToEML: saveEML,
	}
	if err := ar.Storage().UpsertMailbox(ctx, &mb); err != nil {
		t.Fatalf("UpsertMailbox: %v", err)
	}
	loaded, err := ar.Storage().MailboxByID(ctx, mb.ID)
	if err != nil {
		t.Fatalf("MailboxByID: %v", err)
	}
	return loaded
}

func importMsg(id, subject string, spam bool) []byte {
	s := "From: alice@example.org\r\n" +
		"Date: Mon, 12 Jan 2026 10:30:00 +0000\r\n" +
		"Message-Id: <" + id + "@example.org>\r\n" +
		"Subject: " + subject + "\r\n"
	if spam {
		s += "X-Spam-Flag: YES\r\n"
	}
	return []byte(s + "\r\nbody of " + subject + "\r\n")
}

func TestImportMBOX(t *testing.T) {
	ar := testArchive(t, true)
	mb := testMailbox(t, ar, testAccount(t, ar.Storage()), "INBOX", true)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "in.mbox")
	writeContainer(t, FormatMBOX, path, [][]byte{
		importMsg("1", "first", false),
		importMsg("2", "second", false),
		importMsg("1", "first again", false),
		importMsg("3", "spam", true),
	})

	stats, err := Import(ctx, ar, mb, FormatMBOX, path, testutils.Logger(t, "import"))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	want := ImportStats{Total: 4, Archived: 2, Duplicates: 1, DiscardedSpam: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	var count int
	err = ar.Storage().EmailsByMailbox(ctx, mb.ID, func(*storage.Email) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("EmailsByMailbox: %v", err)
	}
	if count != 2 {
		t.Errorf("archived %d emails, want 2", count)
	}
}

func TestImportSkipsCorruptMember(t *testing.T) {
	ar := testArchive(t, false)
	mb := testMailbox(t, ar, testAccount(t, ar.Storage()), "INBOX", false)

	member := func(raw []byte) string {
		return "\x0c\n1,,\n" + babylEOOH + string(raw)
	}
	data := babylOptions + "\x1f" +
		member(importMsg("1", "first", false)) + "\x1f" +
		"\x0c\n1,,\nno EOOH marker\n" + "\x1f" +
		member(importMsg("2", "second", false)) + "\x1f"

	path := filepath.Join(t.TempDir(), "in.babyl")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	stats, err := Import(context.Background(), ar, mb, FormatBabyl, path, testutils.Logger(t, "import"))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	want := ImportStats{Total: 3, Archived: 2, Skipped: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
}

func TestImportBrokenContainer(t *testing.T) {
	ar := testArchive(t, false)
	mb := testMailbox(t, ar, testAccount(t, ar.Storage()), "INBOX", false)

	path := filepath.Join(t.TempDir(), "in.mmdf")
	if err := os.WriteFile(path, append([]byte("\x01\x01\x01\x01\n"), importMsg("1", "first", false)...), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Import(context.Background(), ar, mb, FormatMMDF, path, testutils.Logger(t, "import")); err == nil {
		t.Error("expected error for an unterminated container")
	}
}
