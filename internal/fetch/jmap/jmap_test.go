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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailstash/mailstash/framework/buffer"
	"github.com/mailstash/mailstash/internal/fetch"
)

func strptr(s string) *string {
	return &s
}

// fakeServer speaks just enough JMAP for the session under test.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	lastFilter map[string]interface{}
	uploaded   []byte
	imported   *emailImportArgs
	failImport bool

	blobs map[string][]byte
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{
		t: t,
		blobs: map[string][]byte{
			"blob-e1": []byte("From: a@x.org\r\n\r\none\r\n"),
			"blob-e2": []byte("From: a@x.org\r\n\r\ntwo\r\n"),
		},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) account() fetch.Account {
	return fetch.Account{
		Address:  "user@example.org",
		Password: "pw",
		Host:     f.srv.URL + "/.well-known/jmap",
	}
}

func (f *fakeServer) reply(w http.ResponseWriter, name string, args interface{}) {
	raw, err := json.Marshal(args)
	if err != nil {
		f.t.Errorf("marshal %s response: %v", name, err)
	}
	json.NewEncoder(w).Encode(Response{
		MethodResponses: []Invocation{{Name: name, Args: raw, CallID: "0"}},
		SessionState:    "s1",
	})
}

func (f *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "user@example.org" || pass != "pw" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == "/.well-known/jmap":
		json.NewEncoder(w).Encode(Session{
			PrimaryAccounts: map[string]string{capMail: "acc1"},
			Accounts:        map[string]Account{"acc1": {Name: "user@example.org", IsPersonal: true}},
			APIURL:          f.srv.URL + "/api",
			DownloadURL:     f.srv.URL + "/dl/{accountId}/{blobId}/{name}",
			UploadURL:       f.srv.URL + "/up/{accountId}",
			State:           "s1",
		})

	case r.URL.Path == "/api":
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.MethodCalls) == 0 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		inv := req.MethodCalls[0]
		switch inv.Name {
		case "Mailbox/get":
			f.reply(w, "Mailbox/get", mailboxGetResp{
				AccountID: "acc1",
				List: []Mailbox{
					{ID: "mb1", Name: "INBOX", Role: strptr("inbox")},
					{ID: "mb2", Name: "Receipts", Role: nil},
				},
				State: "m1",
			})
		case "Email/query":
			var args emailQueryArgs
			if err := json.Unmarshal(inv.Args, &args); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.lastFilter = args.Filter
			f.mu.Unlock()
			f.reply(w, "Email/query", emailQueryResp{
				AccountID: "acc1",
				IDs:       []string{"e1", "e2"},
				Total:     2,
			})
		case "Email/get":
			var args emailGetArgs
			if err := json.Unmarshal(inv.Args, &args); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			items := make([]emailItem, 0, len(args.IDs))
			for _, id := range args.IDs {
				items = append(items, emailItem{
					ID:     id,
					BlobID: "blob-" + id,
					Size:   int64(len(f.blobs["blob-"+id])),
				})
			}
			f.reply(w, "Email/get", emailGetResp{AccountID: "acc1", List: items})
		case "Email/import":
			var args emailImportArgs
			if err := json.Unmarshal(inv.Args, &args); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.mu.Lock()
			f.imported = &args
			failImport := f.failImport
			f.mu.Unlock()
			if failImport {
				f.reply(w, "Email/import", emailImportResp{
					AccountID:  "acc1",
					NotCreated: map[string]MethodError{"m0": {Type: "forbidden", Description: "read only"}},
				})
				return
			}
			f.reply(w, "Email/import", emailImportResp{
				AccountID: "acc1",
				Created:   map[string]json.RawMessage{"m0": json.RawMessage(`{"id":"e9"}`)},
			})
		default:
			f.reply(w, "error", MethodError{Type: "unknownMethod"})
		}

	case strings.HasPrefix(r.URL.Path, "/dl/acc1/"):
		rest := strings.TrimPrefix(r.URL.Path, "/dl/acc1/")
		blobID := strings.SplitN(rest, "/", 2)[0]
		raw, ok := f.blobs[blobID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(raw)

	case r.URL.Path == "/up/acc1" && r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploaded = body
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(uploadResp{
			AccountID: "acc1",
			BlobID:    "bu1",
			Type:      "message/rfc822",
			Size:      int64(len(body)),
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func connected(t *testing.T, f *fakeServer) fetch.Session {
	t.Helper()
	sess := NewSession(f.account())
	if err := sess.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return sess
}

func TestConnect(t *testing.T) {
	f := newFakeServer(t)
	sess := connected(t, f)
	defer sess.Close()

	if err := sess.Test(context.Background(), "INBOX"); err != nil {
		t.Errorf("Test(INBOX): %v", err)
	}
	if err := sess.Test(context.Background(), "Nope"); !fetch.IsMailboxErr(err) {
		t.Errorf("Test(Nope): got %v, want MailboxError", err)
	}
}

func TestConnectRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sess := NewSession(fetch.Account{Address: "u", Password: "p", Host: srv.URL})
	if err := sess.Connect(context.Background()); !fetch.IsAccountErr(err) {
		t.Errorf("got %v, want AccountError", err)
	}
}

func TestListMailboxes(t *testing.T) {
	f := newFakeServer(t)
	sess := connected(t, f)
	defer sess.Close()

	infos, err := sess.ListMailboxes(context.Background())
	if err != nil {
		t.Fatalf("ListMailboxes: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d mailboxes: %+v", len(infos), infos)
	}
	if infos[0].Name != "INBOX" || infos[0].Type != fetch.MailboxInbox {
		t.Errorf("inbox mailbox = %+v", infos[0])
	}
	if infos[1].Name != "Receipts" || infos[1].Type != fetch.MailboxCustom {
		t.Errorf("role-less mailbox = %+v", infos[1])
	}
}

func TestFetch(t *testing.T) {
	f := newFakeServer(t)
	sess := connected(t, f)
	defer sess.Close()

	var bodies []string
	err := sess.Fetch(context.Background(), "INBOX", fetch.CritUnseen, "", func(raw buffer.Buffer) error {
		r, err := raw.Open()
		if err != nil {
			return err
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		bodies = append(bodies, string(data))
		return nil
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(bodies) != 2 || !strings.Contains(bodies[0], "one") || !strings.Contains(bodies[1], "two") {
		t.Errorf("fetched bodies = %q", bodies)
	}

	f.mu.Lock()
	filter := f.lastFilter
	f.mu.Unlock()
	if filter["inMailbox"] != "mb1" {
		t.Errorf("query filter inMailbox = %v", filter["inMailbox"])
	}
	if filter["notKeyword"] != "$seen" {
		t.Errorf("query filter notKeyword = %v", filter["notKeyword"])
	}
}

func TestFetchMissingMailbox(t *testing.T) {
	f := newFakeServer(t)
	sess := connected(t, f)
	defer sess.Close()

	err := sess.Fetch(context.Background(), "Nope", fetch.CritAll, "", func(buffer.Buffer) error {
		t.Error("callback invoked for a missing mailbox")
		return nil
	})
	if !fetch.IsMailboxErr(err) {
		t.Errorf("got %v, want MailboxError", err)
	}
}

func TestRestore(t *testing.T) {
	f := newFakeServer(t)
	sess := connected(t, f)
	defer sess.Close()

	raw := []byte("From: a@x.org\r\nSubject: back\r\n\r\nrestored\r\n")
	sent := time.Date(2026, 1, 12, 8, 30, 0, 0, time.UTC)
	if err := sess.Restore(context.Background(), "INBOX", bytes.NewReader(raw), int64(len(raw)), sent); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if !bytes.Equal(f.uploaded, raw) {
		t.Errorf("uploaded blob = %q", f.uploaded)
	}
	if f.imported == nil {
		t.Fatal("Email/import never called")
	}
	spec, ok := f.imported.Emails["m0"]
	if !ok {
		t.Fatalf("import args = %+v", f.imported)
	}
	if spec.BlobID != "bu1" || !spec.MailboxIDs["mb1"] {
		t.Errorf("import spec = %+v", spec)
	}
	if spec.ReceivedAt != "2026-01-12T08:30:00Z" {
		t.Errorf("import receivedAt = %q", spec.ReceivedAt)
	}
}

func TestRestoreRejected(t *testing.T) {
	f := newFakeServer(t)
	f.failImport = true
	sess := connected(t, f)
	defer sess.Close()

	raw := []byte("From: a@x.org\r\n\r\nx\r\n")
	err := sess.Restore(context.Background(), "INBOX", bytes.NewReader(raw), int64(len(raw)), time.Now())
	if !fetch.IsMailboxErr(err) {
		t.Errorf("got %v, want MailboxError", err)
	}
}

func TestInvocationJSON(t *testing.T) {
	in := Invocation{Name: "Email/query", Args: json.RawMessage(`{"accountId":"acc1"}`), CallID: "0"}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `["Email/query",{"accountId":"acc1"},"0"]`
	if string(data) != want {
		t.Errorf("marshal = %s, want %s", data, want)
	}

	var out Invocation
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Name != in.Name || out.CallID != in.CallID || string(out.Args) != string(in.Args) {
		t.Errorf("round trip = %+v", out)
	}
}
