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

package storage

import (
	"fmt"
	"strings"
)

// sanitizeNameMax caps the length of a sanitized path component.
const sanitizeNameMax = 200

// SanitizeName makes an arbitrary string safe as a blob key component:
// path separators and control characters become '_', the result is
// truncated to 200 characters. Truncation counts runes, a multibyte
// character is never cut in half.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	n := 0
	for _, r := range name {
		if n == sanitizeNameMax {
			break
		}
		if r == '/' || r == '\\' || r < 0x20 || r == 0x7f {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
		n++
	}
	return b.String()
}

// EmailBlobKey computes the blob-store key of a stored .eml:
// <mailbox-id>/<email-id>_<sanitized-message-id>.eml
func EmailBlobKey(mailboxID, emailID uint64, messageID string) string {
	return fmt.Sprintf("%d/%d_%s.eml", mailboxID, emailID, SanitizeName(messageID))
}

// AttachmentBlobKey computes the blob-store key of a stored attachment:
// <mailbox-id>/<email-id>/<attachment-id>_<sanitized-filename>
func AttachmentBlobKey(mailboxID, emailID, attachmentID uint64, filename string) string {
	return fmt.Sprintf("%d/%d/%d_%s", mailboxID, emailID, attachmentID, SanitizeName(filename))
}
