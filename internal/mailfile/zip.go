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
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// zipReader unpacks a zip container to a temporary directory and
// delegates to the inner format's reader.
type zipReader struct {
	inner  Reader
	tmpDir string
}

func openZipReader(f Format, path string) (Reader, error) {
	tmpDir, err := os.MkdirTemp("", "mailstash-unzip-")
	if err != nil {
		return nil, err
	}
	if err := extractZip(path, tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}

	root := tmpDir
	if f.Inner().DirBased() {
		root = findTreeRoot(tmpDir, f.Inner())
	}
	inner, err := OpenReader(f.Inner(), root)
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, err
	}
	return &zipReader{inner: inner, tmpDir: tmpDir}, nil
}

func (r *zipReader) Next() ([]byte, error) {
	return r.inner.Next()
}

func (r *zipReader) Close() error {
	err := r.inner.Close()
	if rmErr := os.RemoveAll(r.tmpDir); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

func extractZip(path, dest string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("mailfile: open zip: %w", err)
	}
	defer zr.Close()

	for _, zf := range zr.File {
		name := filepath.Clean(filepath.FromSlash(zf.Name))
		if name == ".." || strings.HasPrefix(name, ".."+string(os.PathSeparator)) || filepath.IsAbs(name) {
			return fmt.Errorf("mailfile: zip member escapes archive root: %s", zf.Name)
		}
		target := filepath.Join(dest, name)

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o700); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return err
		}

		src, err := zf.Open()
		if err != nil {
			return err
		}
		dst, err := createFile(target)
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(dst, src)
		src.Close()
		if closeErr := dst.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// findTreeRoot locates the directory tree inside an extracted zip: the
// tree may sit at the archive root or under a single top-level folder.
func findTreeRoot(dir string, f Format) string {
	if f == FormatMaildir {
		if st, err := os.Stat(filepath.Join(dir, "cur")); err == nil && st.IsDir() {
			return dir
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return dir
	}
	var subdirs []string
	for _, e := range entries {
		if e.IsDir() {
			subdirs = append(subdirs, e.Name())
		} else {
			// Files at the root mean the root is the tree (MH case).
			return dir
		}
	}
	if len(subdirs) == 1 {
		return filepath.Join(dir, subdirs[0])
	}
	return dir
}

// packZip writes every file under srcDir into a zip stream, paths
// relative to srcDir.
func packZip(out io.Writer, srcDir string) error {
	zw := zip.NewWriter(out)
	err := filepath.WalkDir(srcDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}
