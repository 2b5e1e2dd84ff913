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

package lexer

import (
	"strings"
	"testing"
)

func TestDispenserCursor(t *testing.T) {
	d := NewDispenser("test", strings.NewReader("dir arg1 arg2\nother arg3"))

	if !d.Next() {
		t.Fatal("Next returned false on first token")
	}
	if d.Val() != "dir" {
		t.Errorf("Val() = %q, want dir", d.Val())
	}
	if d.Line() != 1 {
		t.Errorf("Line() = %d, want 1", d.Line())
	}
	if d.File() != "test" {
		t.Errorf("File() = %q, want test", d.File())
	}

	var args []string
	for d.NextArg() {
		args = append(args, d.Val())
	}
	if len(args) != 2 || args[0] != "arg1" || args[1] != "arg2" {
		t.Errorf("same-line args = %v", args)
	}

	if !d.NextLine() {
		t.Fatal("NextLine returned false with a second line present")
	}
	if d.Val() != "other" || d.Line() != 2 {
		t.Errorf("after NextLine: Val() = %q, Line() = %d", d.Val(), d.Line())
	}

	rest := d.RemainingArgs()
	if len(rest) != 1 || rest[0] != "arg3" {
		t.Errorf("RemainingArgs() = %v", rest)
	}
	if d.Next() {
		t.Error("Next returned true past the last token")
	}
}

func TestDispenserErrors(t *testing.T) {
	d := NewDispenser("conf", strings.NewReader("dir arg"))
	d.Next()

	err := d.SyntaxErr("{")
	if err == nil || !strings.Contains(err.Error(), "conf:1") {
		t.Errorf("SyntaxErr = %v, want location prefix conf:1", err)
	}
	err = d.Errf("bad value %q", "x")
	if err == nil || !strings.Contains(err.Error(), `bad value "x"`) {
		t.Errorf("Errf = %v", err)
	}
}
