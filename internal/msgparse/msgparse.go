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

// Package msgparse decodes raw RFC 5322 message bytes into the normalized
// representation the archive writer persists.
package msgparse

import (
	"bytes"
	"io"
	"mime"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mailstash/mailstash/framework/log"
)

// Mention is the header field in which a correspondent appeared.
type Mention string

const (
	MentionFrom       Mention = "from"
	MentionTo         Mention = "to"
	MentionCc         Mention = "cc"
	MentionBcc        Mention = "bcc"
	MentionReplyTo    Mention = "reply-to"
	MentionSender     Mention = "sender"
	MentionReturnPath Mention = "return-path"
	MentionEnvelopeTo Mention = "envelope-to"
)

// correspondentHeaders maps the scanned header fields to mention tags, in
// scan order.
var correspondentHeaders = []struct {
	Header  string
	Mention Mention
}{
	{"From", MentionFrom},
	{"To", MentionTo},
	{"Cc", MentionCc},
	{"Bcc", MentionBcc},
	{"Reply-To", MentionReplyTo},
	{"Sender", MentionSender},
	{"Return-Path", MentionReturnPath},
	{"Envelope-To", MentionEnvelopeTo},
}

// HeaderField is one header line. Parsed headers form an ordered multimap
// with lowercased keys, duplicates kept in wire order.
type HeaderField struct {
	Key   string
	Value string
}

// Correspondent is one (address, display name) tuple found in a scanned
// header field.
type Correspondent struct {
	Address string
	Name    string
	Mention Mention
}

// Attachment is one MIME part treated as an attachment: any part with a
// filename, or an inline part with a content-id.
type Attachment struct {
	Filename    string
	MainType    string
	SubType     string
	Disposition string
	// ContentID keeps the angle brackets as they appear on the wire.
	ContentID string
	Data      []byte
}

// ParsedEmail is the normalized form of one message.
type ParsedEmail struct {
	MessageID string
	Subject   string

	// Sent is the Date header converted to UTC. If the header is
	// missing, the earliest Received timestamp is used; if that is
	// missing too, the parse time is used and SentGuessed is set.
	Sent        time.Time
	SentGuessed bool

	PlainBody string
	HTMLBody  string

	Headers []HeaderField

	// IsSpam is true iff any X-Spam-Flag token equals YES,
	// case-insensitively.
	IsSpam bool

	Correspondents []Correspondent
	Attachments    []Attachment

	References []string
	InReplyTo  []string

	// Size is the total raw size in bytes.
	Size int64
}

// Parse decodes raw message bytes. Malformed subparts are logged and
// skipped; only an unreadable top-level entity fails the parse.
func Parse(raw []byte, l log.Logger) (*ParsedEmail, error) {
	raw = stripMboxFrom(raw)

	ent, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}

	p := &ParsedEmail{Size: int64(len(raw))}

	p.Headers = headerMultimap(ent.Header)
	mh := mail.Header{Header: ent.Header}

	p.MessageID = strings.TrimSpace(ent.Header.Get("Message-Id"))
	if subj, err := mh.Subject(); err == nil {
		p.Subject = subj
	} else {
		p.Subject = strings.TrimSpace(ent.Header.Get("Subject"))
	}

	p.Sent, p.SentGuessed = sentTime(ent.Header, l)

	p.IsSpam = spamFlag(ent.Header)
	p.Correspondents = correspondents(mh, l)
	p.References = msgIDList(ent.Header.Get("References"))
	p.InReplyTo = msgIDList(ent.Header.Get("In-Reply-To"))

	walkParts(ent, p, true, l)

	return p, nil
}

// stripMboxFrom drops a leading mbox "From " separator line, which some
// exports leave in the raw bytes.
func stripMboxFrom(raw []byte) []byte {
	if !bytes.HasPrefix(raw, []byte("From ")) {
		return raw
	}
	idx := bytes.IndexByte(raw, '\n')
	if idx < 0 {
		return raw
	}
	return raw[idx+1:]
}

// headerMultimap flattens the header into wire order with lowercased keys.
func headerMultimap(h message.Header) []HeaderField {
	var fields []HeaderField
	for f := h.Fields(); f.Next(); {
		text, err := f.Text()
		if err != nil {
			// Undecodable encoded-word, keep the raw value.
			text = f.Value()
		}
		fields = append(fields, HeaderField{
			Key:   strings.ToLower(f.Key()),
			Value: text,
		})
	}
	// Fields iterates newest-first, reverse to recover wire order.
	for i, j := 0, len(fields)-1; i < j; i, j = i+1, j-1 {
		fields[i], fields[j] = fields[j], fields[i]
	}
	return fields
}

func spamFlag(h message.Header) bool {
	for f := h.FieldsByKey("X-Spam-Flag"); f.Next(); {
		for _, tok := range strings.Fields(f.Value()) {
			if strings.EqualFold(tok, "YES") {
				return true
			}
		}
	}
	return false
}

func sentTime(h message.Header, l log.Logger) (t time.Time, guessed bool) {
	mh := mail.Header{Header: h}
	if date, err := mh.Date(); err == nil && !date.IsZero() {
		return date.UTC(), false
	}

	// No usable Date, fall back to the earliest Received timestamp.
	var earliest time.Time
	for f := h.FieldsByKey("Received"); f.Next(); {
		v := f.Value()
		idx := strings.LastIndexByte(v, ';')
		if idx < 0 {
			continue
		}
		stamp, err := netmail.ParseDate(strings.TrimSpace(v[idx+1:]))
		if err != nil {
			continue
		}
		if earliest.IsZero() || stamp.Before(earliest) {
			earliest = stamp
		}
	}
	if !earliest.IsZero() {
		return earliest.UTC(), false
	}

	l.Msg("message has no usable Date or Received header, using current time")
	return time.Now().UTC(), true
}

func correspondents(mh mail.Header, l log.Logger) []Correspondent {
	var out []Correspondent
	for _, ch := range correspondentHeaders {
		addrs, err := mh.AddressList(ch.Header)
		if err != nil {
			if len(addrs) == 0 {
				continue
			}
			// Partially parsed list, keep what we got.
			l.DebugMsg("malformed address list", "header", ch.Header)
		}
		for _, a := range addrs {
			if a.Address == "" {
				continue
			}
			out = append(out, Correspondent{
				Address: a.Address,
				Name:    a.Name,
				Mention: ch.Mention,
			})
		}
	}
	return out
}

// msgIDList extracts angle-bracketed message-ids from a References or
// In-Reply-To value, brackets preserved.
func msgIDList(v string) []string {
	var ids []string
	for {
		start := strings.IndexByte(v, '<')
		if start < 0 {
			break
		}
		end := strings.IndexByte(v[start:], '>')
		if end < 0 {
			break
		}
		ids = append(ids, v[start:start+end+1])
		v = v[start+end+1:]
	}
	return ids
}

// walkParts descends the MIME tree collecting bodies and attachments.
// topLevel marks the subtree in which the first text/plain and text/html
// parts are message bodies rather than attachments.
func walkParts(ent *message.Entity, p *ParsedEmail, topLevel bool, l log.Logger) {
	mr := ent.MultipartReader()
	if mr == nil {
		classifyPart(ent, p, topLevel, l)
		return
	}

	ct, _, _ := ent.Header.ContentType()
	childrenTop := topLevel && (ct == "multipart/alternative" || ct == "multipart/mixed" || ct == "multipart/related" || ct == "multipart/signed")

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return
		}
		if err != nil {
			if message.IsUnknownCharset(err) && part != nil {
				// Decodable with replacement, keep going.
			} else {
				l.Msg("malformed MIME part skipped", "err", err.Error())
				return
			}
		}
		walkParts(part, p, childrenTop, l)
	}
}

func classifyPart(ent *message.Entity, p *ParsedEmail, topLevel bool, l log.Logger) {
	ct, ctParams, err := ent.Header.ContentType()
	if err != nil {
		ct = "text/plain"
	}
	disp, dispParams, _ := ent.Header.ContentDisposition()

	filename := dispParams["filename"]
	if filename == "" {
		filename = ctParams["name"]
	}
	if dec, err := new(mime.WordDecoder).DecodeHeader(filename); err == nil {
		filename = dec
	}
	contentID := strings.TrimSpace(ent.Header.Get("Content-Id"))

	isAttachment := filename != "" || disp == "attachment" || (disp == "inline" && contentID != "")

	if !isAttachment && topLevel {
		switch ct {
		case "text/plain":
			if p.PlainBody == "" {
				p.PlainBody = readBodyString(ent, l)
				return
			}
		case "text/html":
			if p.HTMLBody == "" {
				p.HTMLBody = readBodyString(ent, l)
				return
			}
		}
	}

	if !isAttachment {
		// Part is neither a body nor declared as an attachment;
		// non-text leftovers are archived as attachments anyway so no
		// content is lost.
		if strings.HasPrefix(ct, "text/") {
			return
		}
	}

	data, err := io.ReadAll(ent.Body)
	if err != nil {
		l.Msg("attachment body read failed, part skipped", "err", err.Error(), "filename", filename)
		return
	}

	maintype, subtype := splitContentType(ct)
	p.Attachments = append(p.Attachments, Attachment{
		Filename:    filename,
		MainType:    maintype,
		SubType:     subtype,
		Disposition: disp,
		ContentID:   contentID,
		Data:        data,
	})
}

func readBodyString(ent *message.Entity, l log.Logger) string {
	data, err := io.ReadAll(ent.Body)
	if err != nil {
		l.Msg("body read failed", "err", err.Error())
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

func splitContentType(ct string) (maintype, subtype string) {
	idx := strings.IndexByte(ct, '/')
	if idx < 0 {
		return ct, ""
	}
	return ct[:idx], ct[idx+1:]
}
