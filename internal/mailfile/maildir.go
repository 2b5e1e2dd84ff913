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
	"fmt"
	"io"
	"os"
	"time"

	"github.com/emersion/go-maildir"
)

type maildirReader struct {
	msgs []*maildir.Message
	next int
}

func openMaildirReader(path string) (Reader, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("mailfile: maildir: %s is not a directory", path)
	}
	d := maildir.Dir(path)

	// Zip extraction drops empty directories, recreate the tree before
	// touching it.
	if err := d.Init(); err != nil {
		return nil, err
	}
	// Move new/ deliveries to cur/ so they are listed too.
	if _, err := d.Unseen(); err != nil {
		return nil, err
	}
	msgs, err := d.Messages()
	if err != nil {
		return nil, err
	}
	return &maildirReader{msgs: msgs}, nil
}

func (r *maildirReader) Next() ([]byte, error) {
	if r.next >= len(r.msgs) {
		return nil, io.EOF
	}
	m := r.msgs[r.next]
	r.next++

	f, err := m.Open()
	if err != nil {
		return nil, &MemberError{Err: err}
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, &MemberError{Err: err}
	}
	return raw, nil
}

func (r *maildirReader) Close() error {
	return nil
}

type maildirWriter struct {
	dir maildir.Dir
}

func newMaildirWriter(path string) (Writer, error) {
	d := maildir.Dir(path)
	if err := d.Init(); err != nil {
		return nil, err
	}
	return &maildirWriter{dir: d}, nil
}

func (w *maildirWriter) Append(raw []byte, _ time.Time) error {
	del, err := maildir.NewDelivery(string(w.dir))
	if err != nil {
		return err
	}
	if _, err := del.Write(raw); err != nil {
		del.Abort()
		return err
	}
	return del.Close()
}

func (w *maildirWriter) Close() error {
	return nil
}
