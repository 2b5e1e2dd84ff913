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
	"errors"
	"testing"

	"github.com/mailstash/mailstash/internal/fetch"
)

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"mbox", "MBOX", " zip_eml ", "Maildir"} {
		if _, err := ParseFormat(in); err != nil {
			t.Errorf("ParseFormat(%q): unexpected error: %v", in, err)
		}
	}

	_, err := ParseFormat("tar")
	var ve *fetch.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("ParseFormat(tar): got %v, want ValidationError", err)
	}
}

func TestFormatProperties(t *testing.T) {
	cases := []struct {
		f        Format
		zipped   bool
		inner    Format
		dirBased bool
		ext      string
	}{
		{FormatEML, false, FormatEML, false, ".eml"},
		{FormatMBOX, false, FormatMBOX, false, ".mbox"},
		{FormatMMDF, false, FormatMMDF, false, ".mmdf"},
		{FormatBabyl, false, FormatBabyl, false, ".babyl"},
		{FormatMaildir, false, FormatMaildir, true, ""},
		{FormatMH, false, FormatMH, true, ""},
		{FormatZipEML, true, FormatEML, false, ""},
		{FormatZipMaildir, true, FormatMaildir, false, ""},
		{FormatZipMH, true, FormatMH, false, ""},
	}
	for _, c := range cases {
		if got := c.f.Zipped(); got != c.zipped {
			t.Errorf("%s.Zipped() = %v, want %v", c.f, got, c.zipped)
		}
		if got := c.f.Inner(); got != c.inner {
			t.Errorf("%s.Inner() = %s, want %s", c.f, got, c.inner)
		}
		if got := c.f.DirBased(); got != c.dirBased {
			t.Errorf("%s.DirBased() = %v, want %v", c.f, got, c.dirBased)
		}
		if got := c.f.Ext(); got != c.ext {
			t.Errorf("%s.Ext() = %q, want %q", c.f, got, c.ext)
		}
	}
}
