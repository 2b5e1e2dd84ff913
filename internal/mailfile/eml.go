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
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// emlReader reads either a single .eml file or a directory of .eml
// files (the unzipped form of zip_eml).
type emlReader struct {
	paths []string
	next  int
}

func openEMLReader(path string) (Reader, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return &emlReader{paths: []string{path}}, nil
	}

	var paths []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".eml") {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return &emlReader{paths: paths}, nil
}

func (r *emlReader) Next() ([]byte, error) {
	if r.next >= len(r.paths) {
		return nil, io.EOF
	}
	p := r.paths[r.next]
	r.next++
	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, &MemberError{Err: err}
	}
	return raw, nil
}

func (r *emlReader) Close() error {
	return nil
}

// emlWriter writes numbered .eml files into a directory.
type emlWriter struct {
	dir string
	n   int
}

func newEMLWriter(dir string) (Writer, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &emlWriter{dir: dir}, nil
}

func (w *emlWriter) Append(raw []byte, _ time.Time) error {
	w.n++
	return os.WriteFile(filepath.Join(w.dir, fmt.Sprintf("%d.eml", w.n)), raw, 0o600)
}

func (w *emlWriter) Close() error {
	return nil
}
