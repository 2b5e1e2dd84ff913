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
	"errors"
	"fmt"
	"os"

	"github.com/mailstash/mailstash/framework/config"
	"github.com/mailstash/mailstash/framework/log"
)

// lastLogTargets holds the targets the default logger was configured
// with so reinitLogging can reopen them after log rotation.
var lastLogTargets []string

// LogOutputOption builds a log.Output from target names: stderr,
// stderr_ts, syslog, off or a file path.
func LogOutputOption(args []string) (log.Output, error) {
	outs := make([]log.Output, 0, len(args))
	for _, arg := range args {
		switch arg {
		case "stderr":
			outs = append(outs, log.WriterOutput(os.Stderr, false))
		case "stderr_ts":
			outs = append(outs, log.WriterOutput(os.Stderr, true))
		case "syslog":
			syslogOut, err := log.SyslogOutput()
			if err != nil {
				return nil, fmt.Errorf("failed to connect to syslog daemon: %v", err)
			}
			outs = append(outs, syslogOut)
		case "off":
			if len(args) != 1 {
				return nil, errors.New("'off' can't be combined with other log targets")
			}
			return log.NopOutput{}, nil
		default:
			w, err := os.OpenFile(arg, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o666)
			if err != nil {
				return nil, fmt.Errorf("failed to create log file: %v", err)
			}
			outs = append(outs, log.WriteCloserOutput(w, true))
		}
	}

	lastLogTargets = args

	if len(outs) == 1 {
		return outs[0], nil
	}
	return log.MultiOutput(outs...), nil
}

func logOutput(m *config.Map, node config.Node) (interface{}, error) {
	if len(node.Args) == 0 {
		return nil, config.NodeErr(node, "expected at least 1 argument")
	}
	if len(node.Children) != 0 {
		return nil, config.NodeErr(node, "can't declare block here")
	}

	return LogOutputOption(node.Args)
}

func defaultLogOutput() (interface{}, error) {
	return log.DefaultLogger.Out, nil
}

// reinitLogging reopens the default logger's outputs. File targets get
// a fresh descriptor, so an external rotation of the file takes effect.
func reinitLogging() {
	if len(lastLogTargets) == 0 {
		return
	}

	newOut, err := LogOutputOption(lastLogTargets)
	if err != nil {
		log.Println("failed to reinitialize logger:", err)
		return
	}

	oldOut := log.DefaultLogger.Out
	log.DefaultLogger.Out = newOut
	if oldOut != nil {
		oldOut.Close()
	}
}
