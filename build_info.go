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

package mailstash

import (
	"fmt"
	"path/filepath"
	"runtime"
	"runtime/debug"
)

// Version is initialized by the linker during the build process if
// Makefile is used.
var Version = "go-build"

func BuildInfo() string {
	version := Version
	if version == "go-build" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}

	return fmt.Sprintf(`%s %s/%s %s

default config: %s
default state_dir: %s
default runtime_dir: %s`,
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
		filepath.Join(ConfigDirectory, "mailstash.conf"),
		DefaultStateDirectory,
		DefaultRuntimeDirectory)
}
