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

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// PermissionError is a remote 401 or 403: the configured credentials
// were rejected.
type PermissionError struct {
	Service string
	Status  int
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("share: %s rejected credentials (HTTP %d)", e.Service, e.Status)
}

// RemoteError is any other non-2xx response, carrying the server's own
// explanation.
type RemoteError struct {
	Service string
	Status  int
	Server  string
}

func (e *RemoteError) Error() string {
	if e.Server == "" {
		return fmt.Sprintf("share: %s request failed (HTTP %d)", e.Service, e.Status)
	}
	return fmt.Sprintf("share: %s request failed (HTTP %d): %s", e.Service, e.Status, e.Server)
}

// ConnectionError is a transport-level failure before any HTTP status
// was received.
type ConnectionError struct {
	Service string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("share: cannot reach %s: %v", e.Service, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func IsPermissionErr(err error) bool {
	var perm *PermissionError
	return errors.As(err, &perm)
}

func IsConnectionErr(err error) bool {
	var conn *ConnectionError
	return errors.As(err, &conn)
}

// classifyResponse maps a received HTTP status onto the share error
// taxonomy. The response body is consumed up to 4 KiB for the server
// message.
func classifyResponse(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &PermissionError{Service: service, Status: resp.StatusCode}
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &RemoteError{
		Service: service,
		Status:  resp.StatusCode,
		Server:  strings.TrimSpace(string(body)),
	}
}
