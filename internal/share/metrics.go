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

package share

import "github.com/prometheus/client_golang/prometheus"

var (
	sharedDocuments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailstash",
			Subsystem: "share",
			Name:      "shared_documents",
			Help:      "Amount of attachments pushed to the document manager",
		},
	)
	sharedContacts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailstash",
			Subsystem: "share",
			Name:      "shared_contacts",
			Help:      "Amount of correspondents pushed to the contact server",
		},
	)
)

func init() {
	prometheus.MustRegister(sharedDocuments)
	prometheus.MustRegister(sharedContacts)
}
