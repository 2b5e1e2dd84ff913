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

package archive

import "github.com/prometheus/client_golang/prometheus"

var (
	archivedEmails = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailstash",
			Subsystem: "archive",
			Name:      "archived_emails",
			Help:      "Amount of emails written to the archive",
		},
	)
	duplicateEmails = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailstash",
			Subsystem: "archive",
			Name:      "duplicate_emails",
			Help:      "Amount of emails skipped as already archived",
		},
	)
	discardedSpam = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailstash",
			Subsystem: "archive",
			Name:      "discarded_spam",
			Help:      "Amount of emails discarded by the spam policy",
		},
	)
)

func init() {
	prometheus.MustRegister(archivedEmails)
	prometheus.MustRegister(duplicateEmails)
	prometheus.MustRegister(discardedSpam)
}
