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

//go:build !docker

package mailstash

var (
	// ConfigDirectory specifies platform-specific value
	// that should be used as a location of default configuration.
	//
	// It should not be changed and is defined as a variable
	// only for purposes of modification using -X linker flag.
	ConfigDirectory = "/etc/mailstash"

	// DefaultStateDirectory specifies platform-specific
	// default for state_dir.
	DefaultStateDirectory = "/var/lib/mailstash"

	// DefaultRuntimeDirectory specifies platform-specific
	// default for runtime_dir.
	DefaultRuntimeDirectory = "/run/mailstash"

	// DefaultLibexecDirectory specifies platform-specific
	// default for -libexec flag.
	DefaultLibexecDirectory = "/usr/lib/mailstash"
)
