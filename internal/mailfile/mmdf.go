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

// MMDF frames every message between \x01\x01\x01\x01 delimiter lines.
var mmdfDelim = []byte("\x01\x01\x01\x01\n")

type mmdfReader struct {
	segments [][]byte
	next     int
}

func openMMDFReader(path string) (Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var segments [][]byte
	for len(data) > 0 {
		start := bytes.Index(data, mmdfDelim)
		if start < 0 {
			if len(bytes.TrimSpace(data)) != 0 {
				return nil, errors.New("mailfile: mmdf: trailing bytes outside delimiters")
			}
			break
		}
		data = data[start+len(mmdfDelim):]
		end := bytes.Index(data, mmdfDelim)
		if end < 0 {
			return nil, errors.New("mailfile: mmdf: unterminated message")
		}
		segments = append(segments, data[:end])
		data = data[end+len(mmdfDelim):]
	}
	return &mmdfReader{segments: segments}, nil
}

func (r *mmdfReader) Next() ([]byte, error) {
	if r.next >= len(r.segments) {
		return nil, io.EOF
	}
	seg := r.segments[r.next]
	r.next++
	return seg, nil
}

func (r *mmdfReader) Close() error {
	return nil
}

type mmdfWriter struct {
	f *os.File
}

func newMMDFWriter(path string) (Writer, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	return &mmdfWriter{f: f}, nil
}

func (w *mmdfWriter) Append(raw []byte, _ time.Time) error {
	if _, err := w.f.Write(mmdfDelim); err != nil {
		return err
	}
	if _, err := w.f.Write(raw); err != nil {
		return err
	}
	if len(raw) != 0 && raw[len(raw)-1] != '\n' {
		if _, err := w.f.Write([]byte("\n")); err != nil {
			return err
		}
	}
	_, err := w.f.Write(mmdfDelim)
	return err
}

func (w *mmdfWriter) Close() error {
	return w.f.Close()
}
