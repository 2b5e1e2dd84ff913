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
	"io"
	"os"
	"time"

	"github.com/emersion/go-mbox"
)

// mboxFrom is the envelope sender placed on exported separator lines;
// the real sender lives in the message headers.
const mboxFrom = "MAILER-DAEMON"

type mboxReader struct {
	f *os.File
	r *mbox.Reader
}

func openMBOXReader(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &mboxReader{f: f, r: mbox.NewReader(f)}, nil
}

func (r *mboxReader) Next() ([]byte, error) {
	mr, err := r.r.NextMessage()
	if err != nil {
		// go-mbox returns io.EOF at the end of the file; anything else
		// means the container itself is broken.
		return nil, err
	}
	raw, err := io.ReadAll(mr)
	if err != nil {
		return nil, &MemberError{Err: err}
	}
	return raw, nil
}

func (r *mboxReader) Close() error {
	return r.f.Close()
}

type mboxWriter struct {
	f *os.File
	w *mbox.Writer
}

func newMBOXWriter(path string) (Writer, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	return &mboxWriter{f: f, w: mbox.NewWriter(f)}, nil
}

func (w *mboxWriter) Append(raw []byte, sent time.Time) error {
	mw, err := w.w.CreateMessage(mboxFrom, sent)
	if err != nil {
		return err
	}
	_, err = mw.Write(raw)
	return err
}

func (w *mboxWriter) Close() error {
	if err := w.w.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}
