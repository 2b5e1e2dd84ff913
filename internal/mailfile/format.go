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

// Package mailfile reads and writes mailbox container files: EML, MBOX,
// MMDF, Babyl, Maildir and MH, plus their zipped forms. Import feeds
// contained messages through the parser and the archive writer; export
// streams archived messages back out.
package mailfile

import (
	"strings"

	"github.com/mailstash/mailstash/internal/fetch"
)

// Format is one recognized mailbox-file format.
type Format string

const (
	FormatEML     Format = "eml"
	FormatMBOX    Format = "mbox"
	FormatMMDF    Format = "mmdf"
	FormatBabyl   Format = "babyl"
	FormatMaildir Format = "maildir"
	FormatMH      Format = "mh"

	FormatZipEML     Format = "zip_eml"
	FormatZipMaildir Format = "zip_maildir"
	FormatZipMH      Format = "zip_mh"
)

// ParseFormat matches a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatEML, FormatMBOX, FormatMMDF, FormatBabyl, FormatMaildir,
		FormatMH, FormatZipEML, FormatZipMaildir, FormatZipMH:
		return f, nil
	}
	return "", fetch.Validationf("unknown mailbox file format: %s", s)
}

// Zipped reports whether the format is a zip wrapper around another one.
func (f Format) Zipped() bool {
	switch f {
	case FormatZipEML, FormatZipMaildir, FormatZipMH:
		return true
	}
	return false
}

// Inner returns the format wrapped by a zip format, or f itself.
func (f Format) Inner() Format {
	switch f {
	case FormatZipEML:
		return FormatEML
	case FormatZipMaildir:
		return FormatMaildir
	case FormatZipMH:
		return FormatMH
	}
	return f
}

// DirBased reports whether the format is a directory tree rather than a
// single file.
func (f Format) DirBased() bool {
	switch f {
	case FormatMaildir, FormatMH:
		return true
	}
	return false
}

// Ext returns the conventional filename suffix of a container in this
// format, empty for directory trees.
func (f Format) Ext() string {
	switch f {
	case FormatEML:
		return ".eml"
	case FormatMBOX:
		return ".mbox"
	case FormatMMDF:
		return ".mmdf"
	case FormatBabyl:
		return ".babyl"
	}
	return ""
}
