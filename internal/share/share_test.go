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

package share

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-vcard"

	"github.com/mailstash/mailstash/internal/storage"
	"github.com/mailstash/mailstash/internal/testutils"
)

func testShare(t *testing.T, docURL, contactURL string) *Share {
	t.Helper()
	return &Share{
		instName:        "share",
		docURL:          docURL,
		docToken:        "tok123",
		contactURL:      contactURL,
		contactUser:     "archiver",
		contactPassword: "hunter2",
		client:          &http.Client{Timeout: 5 * time.Second},
		Log:             testutils.Logger(t, "share"),
	}
}

func TestShareDocument(t *testing.T) {
	type upload struct {
		auth     string
		filename string
		content  string
	}
	got := make(chan upload, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		f, hdr, err := r.FormFile("document")
		if err != nil {
			t.Errorf("no document form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		f.Close()
		got <- upload{
			auth:     r.Header.Get("Authorization"),
			filename: hdr.Filename,
			content:  string(data),
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := testShare(t, srv.URL, "")
	err := s.ShareDocument(context.Background(), "invoice.pdf", strings.NewReader("%PDF fake"))
	if err != nil {
		t.Fatalf("ShareDocument: %v", err)
	}

	up := <-got
	if up.auth != "Bearer tok123" {
		t.Errorf("Authorization = %q", up.auth)
	}
	if up.filename != "invoice.pdf" || up.content != "%PDF fake" {
		t.Errorf("uploaded %q with content %q", up.filename, up.content)
	}
}

func TestShareDocumentPermission(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := testShare(t, srv.URL, "")
	err := s.ShareDocument(context.Background(), "a.pdf", strings.NewReader("x"))
	if !IsPermissionErr(err) {
		t.Errorf("got %v, want PermissionError", err)
	}
}

func TestShareDocumentRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "storage backend exploded\n")
	}))
	defer srv.Close()

	s := testShare(t, srv.URL, "")
	err := s.ShareDocument(context.Background(), "a.pdf", strings.NewReader("x"))

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("got %v, want RemoteError", err)
	}
	if remote.Status != http.StatusInternalServerError || remote.Server != "storage backend exploded" {
		t.Errorf("RemoteError = %+v", remote)
	}
	if IsPermissionErr(err) {
		t.Error("5xx misclassified as a permission failure")
	}
}

func TestShareDocumentServerMessageCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, strings.Repeat("x", 8192))
	}))
	defer srv.Close()

	s := testShare(t, srv.URL, "")
	err := s.ShareDocument(context.Background(), "a.pdf", strings.NewReader("x"))

	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("got %v, want RemoteError", err)
	}
	if len(remote.Server) > 4096 {
		t.Errorf("server message not capped: %d bytes", len(remote.Server))
	}
}

func TestShareDocumentConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	s := testShare(t, url, "")
	err := s.ShareDocument(context.Background(), "a.pdf", strings.NewReader("x"))
	if !IsConnectionErr(err) {
		t.Errorf("got %v, want ConnectionError", err)
	}
}

func TestShareDocumentUnconfigured(t *testing.T) {
	s := testShare(t, "", "")
	if err := s.ShareDocument(context.Background(), "a.pdf", strings.NewReader("x")); err == nil {
		t.Error("expected error without a configured endpoint")
	}
}

func TestCorrespondentCard(t *testing.T) {
	cases := []struct {
		c      storage.Correspondent
		wantFN string
	}{
		{storage.Correspondent{Address: "a@x.org", RealName: "Alice Real", DisplayName: "alice"}, "Alice Real"},
		{storage.Correspondent{Address: "a@x.org", DisplayName: "alice"}, "alice"},
		{storage.Correspondent{Address: "a@x.org"}, "a@x.org"},
	}
	for _, c := range cases {
		card := CorrespondentCard(&c.c)
		if got := card.Value(vcard.FieldVersion); got != "3.0" {
			t.Errorf("VERSION = %q", got)
		}
		if got := card.Value(vcard.FieldFormattedName); got != c.wantFN {
			t.Errorf("FN = %q, want %q", got, c.wantFN)
		}
		if got := card.Value(vcard.FieldEmail); got != "a@x.org" {
			t.Errorf("EMAIL = %q", got)
		}
	}
}

func TestShareCorrespondents(t *testing.T) {
	type push struct {
		user, pass  string
		contentType string
		body        string
	}
	got := make(chan push, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		user, pass, _ := r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		got <- push{
			user: user, pass: pass,
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := testShare(t, "", srv.URL)
	batch := []storage.Correspondent{
		{Address: "alice@example.org", RealName: "Alice"},
		{Address: "bob@example.org"},
	}
	if err := s.ShareCorrespondents(context.Background(), batch); err != nil {
		t.Fatalf("ShareCorrespondents: %v", err)
	}

	p := <-got
	if p.user != "archiver" || p.pass != "hunter2" {
		t.Errorf("basic auth = %q/%q", p.user, p.pass)
	}
	if p.contentType != "text/vcard" {
		t.Errorf("Content-Type = %q", p.contentType)
	}

	dec := vcard.NewDecoder(strings.NewReader(p.body))
	var fns []string
	for {
		card, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("body is not a vCard stream: %v", err)
		}
		fns = append(fns, card.Value(vcard.FieldFormattedName))
	}
	if len(fns) != 2 || fns[0] != "Alice" || fns[1] != "bob@example.org" {
		t.Errorf("FN values = %v", fns)
	}
}

func TestShareCorrespondentsEmpty(t *testing.T) {
	s := testShare(t, "", "http://localhost:1")
	if err := s.ShareCorrespondents(context.Background(), nil); err == nil {
		t.Error("expected error for an empty batch")
	}
}
