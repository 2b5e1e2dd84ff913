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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path/filepath"

	"github.com/emersion/go-message"
	"golang.org/x/sync/errgroup"

	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/framework/module"
	"github.com/mailstash/mailstash/internal/archive"
	"github.com/mailstash/mailstash/internal/storage"
)

// ExportMailboxes writes each mailbox's archived messages into its own
// container of the requested format and packs the containers into one
// zip stream. Container builds run in parallel; temporary files are
// removed on every exit path.
func ExportMailboxes(ctx context.Context, ar *archive.Archive, mailboxes []storage.Mailbox, f Format, out io.Writer, l log.Logger) error {
	if len(mailboxes) == 0 {
		return errors.New("mailfile: nothing to export")
	}
	inner := f.Inner()

	tmpRoot, err := os.MkdirTemp("", "mailstash-export-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpRoot)

	g, gctx := errgroup.WithContext(ctx)
	for i := range mailboxes {
		mb := &mailboxes[i]
		name := fmt.Sprintf("%d_%s%s", mb.ID, storage.SanitizeName(mb.Name), inner.Ext())
		path := filepath.Join(tmpRoot, name)
		g.Go(func() error {
			return exportMailbox(gctx, ar, mb, inner, path, l)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return packZip(out, tmpRoot)
}

func exportMailbox(ctx context.Context, ar *archive.Archive, mb *storage.Mailbox, f Format, path string, l log.Logger) error {
	w, err := NewWriter(f, path)
	if err != nil {
		return err
	}
	defer w.Close()

	return ar.Storage().EmailsByMailbox(ctx, mb.ID, func(e *storage.Email) error {
		raw, err := Reconstitute(ctx, ar.BlobStore(), e)
		if err != nil {
			return fmt.Errorf("mailfile: export %s: email %d: %w", mb.Name, e.ID, err)
		}
		if err := w.Append(raw, e.SentAt); err != nil {
			return err
		}
		exportedMessages.Inc()
		return nil
	})
}

// Reconstitute returns the .eml bytes of an archived email: the stored
// blob when one exists, else a message re-serialized from the archived
// headers and bodies.
func Reconstitute(ctx context.Context, blobs module.BlobStore, e *storage.Email) ([]byte, error) {
	if e.FileKey != "" {
		r, err := blobs.Open(ctx, e.FileKey)
		if err == nil {
			defer r.Close()
			return io.ReadAll(r)
		}
		if !errors.Is(err, module.ErrNoSuchBlob) {
			return nil, err
		}
		// Blob is gone, fall back to re-serialization.
	}

	fields, err := storage.DecodeHeaders(e.HeadersJSON)
	if err != nil {
		return nil, err
	}

	var h message.Header
	// The archived multimap is in wire order; Add prepends, so feed it
	// backwards. Structural MIME fields are regenerated below.
	for i := len(fields) - 1; i >= 0; i-- {
		switch fields[i].Key {
		case "content-type", "content-transfer-encoding", "mime-version", "content-disposition":
			continue
		}
		h.Add(textproto.CanonicalMIMEHeaderKey(fields[i].Key), fields[i].Value)
	}

	var buf bytes.Buffer
	if e.HTMLBody == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		w, err := message.CreateWriter(&buf, h)
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, e.PlainBody); err != nil {
			w.Close()
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	h.SetContentType("multipart/alternative", nil)
	w, err := message.CreateWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	for _, part := range []struct {
		subtype string
		body    string
	}{
		{"plain", e.PlainBody},
		{"html", e.HTMLBody},
	} {
		if part.body == "" {
			continue
		}
		var ph message.Header
		ph.SetContentType("text/"+part.subtype, map[string]string{"charset": "utf-8"})
		pw, err := w.CreatePart(ph)
		if err != nil {
			w.Close()
			return nil, err
		}
		if _, err := io.WriteString(pw, part.body); err != nil {
			pw.Close()
			w.Close()
			return nil, err
		}
		if err := pw.Close(); err != nil {
			w.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
