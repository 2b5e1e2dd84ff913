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

// Package exchange provides the interim Exchange fetcher.
//
// Exchange deployments universally expose IMAP4 over TLS, so until a
// native EWS/Graph client exists the session is an IMAP-over-TLS session
// against the account host and the criteria surface equals the IMAP set.
package exchange

import (
	"github.com/mailstash/mailstash/internal/fetch"
	imapfetch "github.com/mailstash/mailstash/internal/fetch/imap"
)

func init() {
	fetch.RegisterProtocol(fetch.ProtoExchange, imapfetch.NewSessionTLS)
}
