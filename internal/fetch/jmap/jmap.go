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

// Package jmap implements the fetch.Session contract over JMAP
// (RFC 8620/8621).
//
// The account host is resolved to the well-known session endpoint,
// enumeration uses Email/query, retrieval uses Email/get with a blobId
// projection followed by a direct GET against the download endpoint per
// blob. Restore uploads the blob and runs Email/import.
package jmap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mailstash/mailstash/framework/buffer"
	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/internal/fetch"
)

// getBatchSize is the number of message ids projected per Email/get.
const getBatchSize = 50

type session struct {
	acct fetch.Account
	log  log.Logger

	client    *http.Client
	sessURL   string
	sess      *Session
	accountID string
}

// NewSession returns an unconnected JMAP session.
func NewSession(acct fetch.Account) fetch.Session {
	return &session{acct: acct, log: acct.Log}
}

func init() {
	fetch.RegisterProtocol(fetch.ProtoJMAP, NewSession)
}

func (s *session) sessionURL() string {
	host := s.acct.Host
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if s.acct.Port != 0 {
		host = net.JoinHostPort(host, strconv.Itoa(int(s.acct.Port)))
	}
	return "https://" + host + "/.well-known/jmap"
}

func (s *session) Connect(ctx context.Context) error {
	return fetch.SafeVerb(s.log, "session", fetch.ScopeAccount, "", func() error {
		tr := &http.Transport{
			TLSClientConfig: s.acct.TLSConfig,
		}
		s.client = &http.Client{
			Transport: tr,
			Timeout:   s.acct.Timeout,
		}
		s.sessURL = s.sessionURL()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sessURL, nil)
		if err != nil {
			return err
		}
		s.authorize(req)

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("session resource: HTTP %s", resp.Status)
		}

		sess := &Session{}
		if err := json.NewDecoder(resp.Body).Decode(sess); err != nil {
			return err
		}
		acctID := sess.PrimaryAccounts[capMail]
		if acctID == "" {
			return fmt.Errorf("session resource has no primary mail account")
		}

		s.sess = sess
		s.accountID = acctID
		return nil
	})
}

// authorize attaches credentials: a bare password is taken as a bearer
// API token when no address is set for basic auth.
func (s *session) authorize(req *http.Request) {
	if s.acct.Address != "" {
		req.SetBasicAuth(s.acct.Address, s.acct.Password)
	} else {
		req.Header.Set("Authorization", "Bearer "+s.acct.Password)
	}
}

// call performs one API request with a single method invocation and
// returns the arguments of the first method response, checking it against
// wantName.
func (s *session) call(ctx context.Context, name string, args interface{}, wantName string) (json.RawMessage, error) {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	reqBody, err := json.Marshal(Request{
		Using:       []string{capCore, capMail},
		MethodCalls: []Invocation{{Name: name, Args: rawArgs, CallID: "0"}},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sess.APIURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %s", name, resp.Status)
	}

	apiResp := Response{}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, err
	}
	if len(apiResp.MethodResponses) == 0 {
		return nil, fmt.Errorf("%s: empty method responses", name)
	}

	inv := apiResp.MethodResponses[0]
	if inv.Name == "error" {
		methodErr := MethodError{}
		if err := json.Unmarshal(inv.Args, &methodErr); err != nil {
			return nil, fmt.Errorf("%s: server error", name)
		}
		return nil, fmt.Errorf("%s: %s: %s", name, methodErr.Type, methodErr.Description)
	}
	if inv.Name != wantName {
		return nil, fmt.Errorf("%s: unexpected method response %q", name, inv.Name)
	}

	return inv.Args, nil
}

func (s *session) Test(ctx context.Context, mailbox string) error {
	// Re-fetching the session resource is the JMAP no-op equivalent.
	if err := s.Connect(ctx); err != nil {
		return err
	}
	if mailbox == "" {
		return nil
	}
	_, err := s.mailboxID(ctx, mailbox)
	return err
}

func (s *session) listMailboxes(ctx context.Context) ([]Mailbox, error) {
	var list []Mailbox
	err := fetch.SafeVerb(s.log, "Mailbox/get", fetch.ScopeAccount, "", func() error {
		raw, err := s.call(ctx, "Mailbox/get", mailboxGetArgs{AccountID: s.accountID}, "Mailbox/get")
		if err != nil {
			return err
		}
		resp := mailboxGetResp{}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return err
		}
		list = resp.List
		return nil
	})
	return list, err
}

func (s *session) ListMailboxes(ctx context.Context) ([]fetch.MailboxInfo, error) {
	list, err := s.listMailboxes(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]fetch.MailboxInfo, 0, len(list))
	for _, mbox := range list {
		infos = append(infos, fetch.MailboxInfo{
			Name: mbox.Name,
			Type: typeFromRole(mbox.Role),
		})
	}
	return infos, nil
}

func typeFromRole(role *string) fetch.MailboxType {
	if role == nil {
		return fetch.MailboxCustom
	}
	switch *role {
	case "inbox":
		return fetch.MailboxInbox
	case "sent":
		return fetch.MailboxSent
	case "drafts":
		return fetch.MailboxDrafts
	case "junk", "spam":
		return fetch.MailboxJunk
	case "trash":
		return fetch.MailboxTrash
	case "archive", "all":
		return fetch.MailboxArchive
	}
	return fetch.MailboxCustom
}

func (s *session) mailboxID(ctx context.Context, name string) (string, error) {
	list, err := s.listMailboxes(ctx)
	if err != nil {
		return "", err
	}
	for _, mbox := range list {
		if mbox.Name == name {
			return mbox.ID, nil
		}
	}
	return "", &fetch.MailboxError{
		Verb:       "Mailbox/get",
		Mailbox:    name,
		ServerText: "no such mailbox",
		Err:        fmt.Errorf("no such mailbox: %s", name),
	}
}

func (s *session) Fetch(ctx context.Context, mailbox string, crit fetch.Criterion, arg string, each func(raw buffer.Buffer) error) error {
	filter, err := CompileFilter(crit, arg, time.Now())
	if err != nil {
		return err
	}

	mboxID, err := s.mailboxID(ctx, mailbox)
	if err != nil {
		return err
	}
	filter["inMailbox"] = mboxID

	var ids []string
	if err := fetch.SafeVerb(s.log, "Email/query", fetch.ScopeMailbox, mailbox, func() error {
		raw, err := s.call(ctx, "Email/query", emailQueryArgs{
			AccountID: s.accountID,
			Filter:    filter,
			Sort: []map[string]interface{}{
				{"property": "sentAt", "isAscending": true},
			},
		}, "Email/query")
		if err != nil {
			return err
		}
		resp := emailQueryResp{}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return err
		}
		ids = resp.IDs
		return nil
	}); err != nil {
		return err
	}

	s.log.DebugMsg("message enumeration done", "mailbox", mailbox, "count", len(ids))

	for start := 0; start < len(ids); start += getBatchSize {
		end := start + getBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		var items []emailItem
		if err := fetch.SafeVerb(s.log, "Email/get", fetch.ScopeMailbox, mailbox, func() error {
			raw, err := s.call(ctx, "Email/get", emailGetArgs{
				AccountID:  s.accountID,
				IDs:        ids[start:end],
				Properties: []string{"id", "blobId", "size"},
			}, "Email/get")
			if err != nil {
				return err
			}
			resp := emailGetResp{}
			if err := json.Unmarshal(raw, &resp); err != nil {
				return err
			}
			items = resp.List
			return nil
		}); err != nil {
			return err
		}

		for _, item := range items {
			var buf buffer.Buffer
			if err := fetch.SafeVerb(s.log, "download", fetch.ScopeMailbox, mailbox, func() error {
				var err error
				buf, err = s.download(ctx, item.BlobID)
				return err
			}); err != nil {
				return err
			}
			if err := each(buf); err != nil {
				return err
			}
		}
	}

	return nil
}

func expandURLTemplate(tmpl string, vars map[string]string) string {
	out := tmpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

func (s *session) download(ctx context.Context, blobID string) (buffer.Buffer, error) {
	u := expandURLTemplate(s.sess.DownloadURL, map[string]string{
		"accountId": s.accountID,
		"blobId":    blobID,
		"name":      "message.eml",
		"type":      "message/rfc822",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob download: HTTP %s", resp.Status)
	}

	return buffer.BufferInMemory(resp.Body)
}

func (s *session) Restore(ctx context.Context, mailbox string, raw io.Reader, size int64, sent time.Time) error {
	mboxID, err := s.mailboxID(ctx, mailbox)
	if err != nil {
		return err
	}

	var blobID string
	if err := fetch.SafeVerb(s.log, "upload-blob", fetch.ScopeMailbox, mailbox, func() error {
		u := expandURLTemplate(s.sess.UploadURL, map[string]string{
			"accountId": s.accountID,
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, raw)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "message/rfc822")
		if size > 0 {
			req.ContentLength = size
		}
		s.authorize(req)

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("blob upload: HTTP %s", resp.Status)
		}

		up := uploadResp{}
		if err := json.NewDecoder(resp.Body).Decode(&up); err != nil {
			return err
		}
		blobID = up.BlobID
		return nil
	}); err != nil {
		return err
	}

	return fetch.SafeVerb(s.log, "Email/import", fetch.ScopeMailbox, mailbox, func() error {
		raw, err := s.call(ctx, "Email/import", emailImportArgs{
			AccountID: s.accountID,
			Emails: map[string]emailImportSpec{
				"m0": {
					BlobID:     blobID,
					MailboxIDs: map[string]bool{mboxID: true},
					ReceivedAt: sent.UTC().Format(time.RFC3339),
				},
			},
		}, "Email/import")
		if err != nil {
			return err
		}
		resp := emailImportResp{}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return err
		}
		if methodErr, ok := resp.NotCreated["m0"]; ok {
			return fmt.Errorf("Email/import: %s: %s", methodErr.Type, methodErr.Description)
		}
		return nil
	})
}

func (s *session) Close() error {
	// JMAP is stateless over HTTP, there is no session to tear down.
	s.client = nil
	s.sess = nil
	return nil
}
