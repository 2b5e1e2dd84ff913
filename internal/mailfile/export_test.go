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
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/mailstash/mailstash/internal/archive"
	"github.com/mailstash/mailstash/internal/msgparse"
	"github.com/mailstash/mailstash/internal/storage"
	"github.com/mailstash/mailstash/internal/testutils"
)

func archiveRaw(t *testing.T, ar *archive.Archive, mb *storage.Mailbox, raw []byte) uint64 {
	t.Helper()
	ctx := context.Background()

	parsed, err := msgparse.Parse(raw, testutils.Logger(t, "msgparse"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	res, err := ar.Write(ctx, mb, parsed, raw)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if res.Outcome != archive.OutcomeArchived {
		t.Fatalf("unexpected outcome: %+v", res)
	}
	return res.EmailID
}

func TestExportMailboxes(t *testing.T) {
	ar := testArchive(t, false)
	acct := testAccount(t, ar.Storage())
	inbox := testMailbox(t, ar, acct, "INBOX", true)
	sent := testMailbox(t, ar, acct, "Sent/Items", false)
	ctx := context.Background()

	archiveRaw(t, ar, inbox, importMsg("1", "first", false))
	archiveRaw(t, ar, inbox, importMsg("2", "second", false))
	archiveRaw(t, ar, sent, importMsg("3", "outgoing", false))

	var buf bytes.Buffer
	err := ExportMailboxes(ctx, ar, []storage.Mailbox{*inbox, *sent}, FormatMBOX, &buf, testutils.Logger(t, "export"))
	if err != nil {
		t.Fatalf("ExportMailboxes: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("not a zip stream: %v", err)
	}

	var names []string
	members := map[string][]byte{}
	for _, zf := range zr.File {
		names = append(names, zf.Name)
		r, err := zf.Open()
		if err != nil {
			t.Fatalf("zip member %s: %v", zf.Name, err)
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			t.Fatalf("zip member %s: %v", zf.Name, err)
		}
		members[zf.Name] = data
	}
	sort.Strings(names)
	want := []string{
		fmt.Sprintf("%d_INBOX.mbox", inbox.ID),
		fmt.Sprintf("%d_Sent_Items.mbox", sent.ID),
	}
	sort.Strings(want)
	if len(names) != 2 || names[0] != want[0] || names[1] != want[1] {
		t.Fatalf("zip members = %v, want %v", names, want)
	}

	inboxData := string(members[fmt.Sprintf("%d_INBOX.mbox", inbox.ID)])
	for _, needle := range []string{"body of first", "body of second"} {
		if !strings.Contains(inboxData, needle) {
			t.Errorf("inbox container is missing %q", needle)
		}
	}

	// The sent mailbox kept no blob, its message comes back
	// re-serialized from the archived headers and body.
	sentData := string(members[fmt.Sprintf("%d_Sent_Items.mbox", sent.ID)])
	if !strings.Contains(sentData, "Subject: outgoing") {
		t.Errorf("reconstituted message is missing its subject:\n%s", sentData)
	}
	if !strings.Contains(sentData, "body of outgoing") {
		t.Errorf("reconstituted message is missing its body:\n%s", sentData)
	}
}

func TestExportNothing(t *testing.T) {
	ar := testArchive(t, false)
	var buf bytes.Buffer
	if err := ExportMailboxes(context.Background(), ar, nil, FormatMBOX, &buf, testutils.Logger(t, "export")); err == nil {
		t.Error("expected error for an empty mailbox list")
	}
}

func TestReconstitute(t *testing.T) {
	ar := testArchive(t, false)
	mb := testMailbox(t, ar, testAccount(t, ar.Storage()), "INBOX", true)
	ctx := context.Background()

	raw := importMsg("1", "roundtrip", false)
	id := archiveRaw(t, ar, mb, raw)

	e, err := ar.Storage().EmailByID(ctx, id)
	if err != nil {
		t.Fatalf("EmailByID: %v", err)
	}

	// With the blob in place Reconstitute returns it verbatim.
	got, err := Reconstitute(ctx, ar.BlobStore(), e)
	if err != nil {
		t.Fatalf("Reconstitute: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Errorf("blob path: got %q, want the original bytes", got)
	}

	// Without the blob it falls back to re-serialization.
	if err := ar.BlobStore().Delete(ctx, []string{e.FileKey}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = Reconstitute(ctx, ar.BlobStore(), e)
	if err != nil {
		t.Fatalf("Reconstitute after blob loss: %v", err)
	}
	s := string(got)
	if !strings.Contains(s, "Subject: roundtrip") {
		t.Errorf("fallback message is missing its subject:\n%s", s)
	}
	if !strings.Contains(s, "body of roundtrip") {
		t.Errorf("fallback message is missing its body:\n%s", s)
	}
	if !strings.Contains(s, "Content-Type: text/plain") {
		t.Errorf("fallback message is missing a content type:\n%s", s)
	}
}
