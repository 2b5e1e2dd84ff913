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

package main

import (
	_ "github.com/mailstash/mailstash"
	mailstashcli "github.com/mailstash/mailstash/internal/cli"
	_ "github.com/mailstash/mailstash/internal/cli/ctl"
)

func main() {
	mailstashcli.Run()
}
