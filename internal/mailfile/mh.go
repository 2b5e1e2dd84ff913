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
	"strconv"
	"time"
)

// MH folders hold one message per file, named by ascending sequence
// number. Non-numeric entries (.mh_sequences and friends) are skipped.
type mhReader struct {
	paths []string
	next  int
}

func openMHReader(path string) (Reader, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var nums []int
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := strconv.Atoi(e.Name())
		if err != nil || n <= 0 {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)

	paths := make([]string, 0, len(nums))
	for _, n := range nums {
		paths = append(paths, filepath.Join(path, strconv.Itoa(n)))
	}
	return &mhReader{paths: paths}, nil
}

func (r *mhReader) Next() ([]byte, error) {
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

func (r *mhReader) Close() error {
	return nil
}

type mhWriter struct {
	dir string
	n   int
}

func newMHWriter(dir string) (Writer, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &mhWriter{dir: dir}, nil
}

func (w *mhWriter) Append(raw []byte, _ time.Time) error {
	w.n++
	return os.WriteFile(filepath.Join(w.dir, fmt.Sprintf("%d", w.n)), raw, 0o600)
}

func (w *mhWriter) Close() error {
	return nil
}
