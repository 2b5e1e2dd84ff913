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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"
)

func testMessage(i int) []byte {
	// The body line starting with "From " exercises mbox quoting.
	return []byte(fmt.Sprintf("From: sender%d@example.org\n"+
		"Subject: message %d\n"+
		"\n"+
		"body %d\n"+
		"From here the text continues.\n", i, i, i))
}

// normalize flattens line-ending and trailing-newline differences the
// container formats are allowed to introduce.
func normalize(msgs [][]byte) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		s := strings.ReplaceAll(string(m), "\r\n", "\n")
		out = append(out, strings.TrimRight(s, "\n"))
	}
	return out
}

func writeContainer(t *testing.T, f Format, path string, msgs [][]byte) {
	t.Helper()
	w, err := NewWriter(f, path)
	if err != nil {
		t.Fatalf("NewWriter(%s): %v", f, err)
	}
	for i, m := range msgs {
		sent := time.Date(2026, 1, 12, 8, 30, i, 0, time.UTC)
		if err := w.Append(m, sent); err != nil {
			t.Fatalf("Append(%s): %v", f, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close(%s): %v", f, err)
	}
}

func readContainer(t *testing.T, f Format, path string) [][]byte {
	t.Helper()
	r, err := OpenReader(f, path)
	if err != nil {
		t.Fatalf("OpenReader(%s): %v", f, err)
	}
	defer r.Close()

	var msgs [][]byte
	for {
		raw, err := r.Next()
		if errors.Is(err, io.EOF) {
			return msgs
		}
		if err != nil {
			t.Fatalf("Next(%s): %v", f, err)
		}
		msgs = append(msgs, raw)
	}
}

func TestRoundTrip(t *testing.T) {
	formats := []struct {
		f         Format
		unordered bool
	}{
		{FormatEML, false},
		{FormatMBOX, false},
		{FormatMMDF, false},
		{FormatBabyl, false},
		{FormatMaildir, true},
		{FormatMH, false},
	}

	msgs := [][]byte{testMessage(1), testMessage(2), testMessage(3)}
	want := normalize(msgs)

	for _, c := range formats {
		t.Run(string(c.f), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "container"+c.f.Ext())
			writeContainer(t, c.f, path, msgs)
			got := normalize(readContainer(t, c.f, path))

			wantCmp := want
			if c.unordered {
				wantCmp = append([]string(nil), want...)
				sort.Strings(wantCmp)
				sort.Strings(got)
			}
			if !reflect.DeepEqual(got, wantCmp) {
				t.Errorf("round trip mismatch:\ngot  %q\nwant %q", got, wantCmp)
			}
		})
	}
}

func TestEMLSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.eml")
	raw := testMessage(1)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	got := readContainer(t, FormatEML, path)
	if len(got) != 1 || !reflect.DeepEqual(got[0], raw) {
		t.Errorf("got %q, want the file contents back", got)
	}
}

func TestMHIgnoresNonNumeric(t *testing.T) {
	dir := t.TempDir()
	writeContainer(t, FormatMH, dir, [][]byte{testMessage(1), testMessage(2)})
	if err := os.WriteFile(filepath.Join(dir, ".mh_sequences"), []byte("unseen: 1-2\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got := readContainer(t, FormatMH, dir)
	if len(got) != 2 {
		t.Errorf("got %d messages, want 2", len(got))
	}
}

func TestBabylCorruptMember(t *testing.T) {
	good := "\x0c\n1,,\n" + babylEOOH + string(testMessage(1))
	bad := "\x0c\n1,,\nno EOOH marker here\n"
	data := babylOptions + "\x1f" + bad + "\x1f" + good + "\x1f"

	path := filepath.Join(t.TempDir(), "box.babyl")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := OpenReader(FormatBabyl, path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	_, err = r.Next()
	var me *MemberError
	if !errors.As(err, &me) {
		t.Fatalf("first member: got %v, want MemberError", err)
	}

	raw, err := r.Next()
	if err != nil {
		t.Fatalf("second member after corrupt one: %v", err)
	}
	if !strings.Contains(string(raw), "Subject: message 1") {
		t.Errorf("second member = %q", raw)
	}

	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("after last member: got %v, want io.EOF", err)
	}
}

func TestBabylMissingOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "box.babyl")
	if err := os.WriteFile(path, testMessage(1), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenReader(FormatBabyl, path); err == nil {
		t.Error("expected error for a file without a BABYL OPTIONS section")
	}
}

func TestMMDFBrokenContainer(t *testing.T) {
	dir := t.TempDir()

	unterminated := filepath.Join(dir, "a.mmdf")
	if err := os.WriteFile(unterminated, append([]byte("\x01\x01\x01\x01\n"), testMessage(1)...), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenReader(FormatMMDF, unterminated); err == nil {
		t.Error("unterminated message: expected error")
	}

	trailing := filepath.Join(dir, "b.mmdf")
	writeContainer(t, FormatMMDF, trailing, [][]byte{testMessage(1)})
	f, err := os.OpenFile(trailing, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("stray bytes"); err != nil {
		t.Fatal(err)
	}
	f.Close()
	if _, err := OpenReader(FormatMMDF, trailing); err == nil {
		t.Error("trailing bytes: expected error")
	}
}

func TestZipEMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "msgs")
	msgs := [][]byte{testMessage(1), testMessage(2)}
	writeContainer(t, FormatEML, src, msgs)

	zipPath := filepath.Join(dir, "msgs.zip")
	zf, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := packZip(zf, src); err != nil {
		t.Fatalf("packZip: %v", err)
	}
	if err := zf.Close(); err != nil {
		t.Fatal(err)
	}

	got := normalize(readContainer(t, FormatZipEML, zipPath))
	if !reflect.DeepEqual(got, normalize(msgs)) {
		t.Errorf("zip round trip mismatch: %q", got)
	}
}

func TestZipMaildirNestedRoot(t *testing.T) {
	dir := t.TempDir()
	// The tree sits under a single top-level folder, the way most
	// archives are packed.
	src := filepath.Join(dir, "root", "INBOX")
	if err := os.MkdirAll(src, 0o700); err != nil {
		t.Fatal(err)
	}
	msgs := [][]byte{testMessage(1), testMessage(2), testMessage(3)}
	writeContainer(t, FormatMaildir, src, msgs)

	zipPath := filepath.Join(dir, "inbox.zip")
	zf, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := packZip(zf, filepath.Join(dir, "root")); err != nil {
		t.Fatalf("packZip: %v", err)
	}
	if err := zf.Close(); err != nil {
		t.Fatal(err)
	}

	got := normalize(readContainer(t, FormatZipMaildir, zipPath))
	want := normalize(msgs)
	sort.Strings(got)
	sort.Strings(want)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("zip maildir mismatch:\ngot  %q\nwant %q", got, want)
	}
}

func TestZipMHFlatRoot(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "folder")
	msgs := [][]byte{testMessage(1), testMessage(2)}
	writeContainer(t, FormatMH, src, msgs)

	zipPath := filepath.Join(dir, "folder.zip")
	zf, err := os.Create(zipPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := packZip(zf, src); err != nil {
		t.Fatalf("packZip: %v", err)
	}
	if err := zf.Close(); err != nil {
		t.Fatal(err)
	}

	got := normalize(readContainer(t, FormatZipMH, zipPath))
	if !reflect.DeepEqual(got, normalize(msgs)) {
		t.Errorf("zip mh mismatch: %q", got)
	}
}
