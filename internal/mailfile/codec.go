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
	"os"
	"time"
)

// Reader streams raw messages out of one container. Next returns io.EOF
// after the last message; a malformed member comes back as
// *MemberError so callers can skip it.
type Reader interface {
	Next() ([]byte, error)
	Close() error
}

// Writer appends raw messages to one container.
type Writer interface {
	Append(raw []byte, sent time.Time) error
	Close() error
}

// MemberError marks one corrupt message inside an otherwise valid
// container. The container position stays usable after it.
type MemberError struct {
	Err error
}

func (e *MemberError) Error() string {
	return fmt.Sprintf("mailfile: corrupt member: %v", e.Err)
}

func (e *MemberError) Unwrap() error {
	return e.Err
}

// OpenReader opens path (a file or directory, per the format) for
// reading. Zip formats are unpacked to a temporary directory that is
// removed on Close.
func OpenReader(f Format, path string) (Reader, error) {
	if f.Zipped() {
		return openZipReader(f, path)
	}
	switch f {
	case FormatEML:
		return openEMLReader(path)
	case FormatMBOX:
		return openMBOXReader(path)
	case FormatMMDF:
		return openMMDFReader(path)
	case FormatBabyl:
		return openBabylReader(path)
	case FormatMaildir:
		return openMaildirReader(path)
	case FormatMH:
		return openMHReader(path)
	}
	return nil, fmt.Errorf("mailfile: no reader for format %s", f)
}

// NewWriter creates a container at path. File formats are truncated if
// present; directory formats are created if missing.
func NewWriter(f Format, path string) (Writer, error) {
	switch f {
	case FormatMBOX:
		return newMBOXWriter(path)
	case FormatMMDF:
		return newMMDFWriter(path)
	case FormatBabyl:
		return newBabylWriter(path)
	case FormatMaildir:
		return newMaildirWriter(path)
	case FormatMH:
		return newMHWriter(path)
	case FormatEML:
		// A directory of numbered .eml files; the zip wrapper packs it.
		return newEMLWriter(path)
	}
	return nil, fmt.Errorf("mailfile: no writer for format %s", f)
}

func createFile(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
}
