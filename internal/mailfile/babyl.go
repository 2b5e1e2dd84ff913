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
	"errors"
	"io"
	"os"
	"time"
)

// Babyl (Emacs rmail) separates messages with \x1f page marks. Each
// message starts with a \x0c page feed and an attributes line, carries
// the original headers before the *** EOOH *** marker and the displayed
// headers after it.
const babylEOOH = "*** EOOH ***\n"

var (
	babylSep     = []byte("\x1f")
	babylPage    = []byte("\x0c\n")
	babylOptions = "BABYL OPTIONS -*- rmail -*-\nVersion: 5\nLabels:\n"
)

type babylReader struct {
	segments [][]byte
	next     int
}

func openBabylReader(path string) (Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	parts := bytes.Split(data, babylSep)
	if len(parts) == 0 || !bytes.HasPrefix(parts[0], []byte("BABYL OPTIONS")) {
		return nil, errors.New("mailfile: babyl: missing BABYL OPTIONS section")
	}

	var segments [][]byte
	for _, seg := range parts[1:] {
		if len(bytes.TrimSpace(seg)) == 0 {
			continue
		}
		segments = append(segments, seg)
	}
	return &babylReader{segments: segments}, nil
}

func (r *babylReader) Next() ([]byte, error) {
	if r.next >= len(r.segments) {
		return nil, io.EOF
	}
	seg := r.segments[r.next]
	r.next++

	seg = bytes.TrimPrefix(seg, []byte("\n"))
	seg = bytes.TrimPrefix(seg, babylPage)
	// Drop the attributes line.
	if idx := bytes.IndexByte(seg, '\n'); idx >= 0 {
		seg = seg[idx+1:]
	}

	idx := bytes.Index(seg, []byte(babylEOOH))
	if idx < 0 {
		return nil, &MemberError{Err: errors.New("babyl: missing EOOH marker")}
	}
	pruned := seg[:idx]
	rest := seg[idx+len(babylEOOH):]

	if len(bytes.TrimSpace(pruned)) == 0 {
		// No original headers kept, the displayed section is the whole
		// message.
		return rest, nil
	}

	// Original headers + the body following the displayed headers.
	bodyIdx := bytes.Index(rest, []byte("\n\n"))
	var body []byte
	if bodyIdx >= 0 {
		body = rest[bodyIdx+2:]
	}
	out := make([]byte, 0, len(pruned)+1+len(body))
	out = append(out, pruned...)
	if !bytes.HasSuffix(pruned, []byte("\n\n")) {
		out = append(out, '\n')
	}
	out = append(out, body...)
	return out, nil
}

func (r *babylReader) Close() error {
	return nil
}

type babylWriter struct {
	f *os.File
}

func newBabylWriter(path string) (Writer, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	if _, err := f.WriteString(babylOptions); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(babylSep); err != nil {
		f.Close()
		return nil, err
	}
	return &babylWriter{f: f}, nil
}

func (w *babylWriter) Append(raw []byte, _ time.Time) error {
	if _, err := w.f.Write(babylPage); err != nil {
		return err
	}
	if _, err := w.f.WriteString("1,,\n"); err != nil {
		return err
	}
	if _, err := w.f.WriteString(babylEOOH); err != nil {
		return err
	}
	if _, err := w.f.Write(raw); err != nil {
		return err
	}
	if len(raw) != 0 && raw[len(raw)-1] != '\n' {
		if _, err := w.f.WriteString("\n"); err != nil {
			return err
		}
	}
	_, err := w.f.Write(babylSep)
	return err
}

func (w *babylWriter) Close() error {
	return w.f.Close()
}
