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

import "encoding/json"

// Wire types for the RFC 8620 core and the RFC 8621 mail subset the
// fetcher needs. Only the fields the archiving engine reads are mapped.

const (
	capCore = "urn:ietf:params:jmap:core"
	capMail = "urn:ietf:params:jmap:mail"
)

// Session is the JMAP session resource (RFC 8620 §2).
type Session struct {
	Capabilities    map[string]json.RawMessage `json:"capabilities"`
	Accounts        map[string]Account         `json:"accounts"`
	PrimaryAccounts map[string]string          `json:"primaryAccounts"`
	APIURL          string                     `json:"apiUrl"`
	DownloadURL     string                     `json:"downloadUrl"`
	UploadURL       string                     `json:"uploadUrl"`
	State           string                     `json:"state"`
}

type Account struct {
	Name       string `json:"name"`
	IsPersonal bool   `json:"isPersonal"`
	IsReadOnly bool   `json:"isReadOnly"`
}

// Request is an API request envelope (RFC 8620 §3.3).
type Request struct {
	Using       []string     `json:"using"`
	MethodCalls []Invocation `json:"methodCalls"`
}

// Response is an API response envelope.
type Response struct {
	MethodResponses []Invocation `json:"methodResponses"`
	SessionState    string       `json:"sessionState"`
}

// Invocation is the [name, arguments, callId] triple. It has a custom
// JSON representation as a three-element array.
type Invocation struct {
	Name   string
	Args   json.RawMessage
	CallID string
}

func (i Invocation) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]interface{}{i.Name, i.Args, i.CallID})
}

func (i *Invocation) UnmarshalJSON(data []byte) error {
	var parts [3]json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if err := json.Unmarshal(parts[0], &i.Name); err != nil {
		return err
	}
	i.Args = parts[1]
	return json.Unmarshal(parts[2], &i.CallID)
}

// MethodError is the arguments object of an "error" method response.
type MethodError struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type Mailbox struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	ParentID     *string `json:"parentId"`
	Role         *string `json:"role"`
	TotalEmails  uint32  `json:"totalEmails"`
	UnreadEmails uint32  `json:"unreadEmails"`
}

type mailboxGetArgs struct {
	AccountID string   `json:"accountId"`
	IDs       []string `json:"ids"`
}

type mailboxGetResp struct {
	AccountID string    `json:"accountId"`
	List      []Mailbox `json:"list"`
	State     string    `json:"state"`
}

type emailQueryArgs struct {
	AccountID string                   `json:"accountId"`
	Filter    map[string]interface{}   `json:"filter,omitempty"`
	Sort      []map[string]interface{} `json:"sort,omitempty"`
	Limit     int                      `json:"limit,omitempty"`
	Position  int                      `json:"position,omitempty"`
}

type emailQueryResp struct {
	AccountID string   `json:"accountId"`
	IDs       []string `json:"ids"`
	Position  int      `json:"position"`
	Total     int      `json:"total"`
}

type emailGetArgs struct {
	AccountID  string   `json:"accountId"`
	IDs        []string `json:"ids"`
	Properties []string `json:"properties"`
}

type emailGetResp struct {
	AccountID string      `json:"accountId"`
	List      []emailItem `json:"list"`
	NotFound  []string    `json:"notFound"`
}

type emailItem struct {
	ID         string    `json:"id"`
	BlobID     string    `json:"blobId"`
	Size       int64     `json:"size"`
	ReceivedAt string    `json:"receivedAt"`
	SentAt     string    `json:"sentAt"`
}

type uploadResp struct {
	AccountID string `json:"accountId"`
	BlobID    string `json:"blobId"`
	Type      string `json:"type"`
	Size      int64  `json:"size"`
}

type emailImportArgs struct {
	AccountID string                     `json:"accountId"`
	Emails    map[string]emailImportSpec `json:"emails"`
}

type emailImportSpec struct {
	BlobID     string          `json:"blobId"`
	MailboxIDs map[string]bool `json:"mailboxIds"`
	ReceivedAt string          `json:"receivedAt,omitempty"`
}

type emailImportResp struct {
	AccountID  string                     `json:"accountId"`
	Created    map[string]json.RawMessage `json:"created"`
	NotCreated map[string]MethodError     `json:"notCreated"`
}
