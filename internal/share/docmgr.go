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
	"bytes"
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
)

const docService = "document manager"

// ShareDocument uploads one file to the document manager as a multipart
// POST with the configured bearer token.
func (s *Share) ShareDocument(ctx context.Context, filename string, content io.Reader) error {
	if s.docURL == "" {
		return errors.New("share: document manager is not configured")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, content); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.docURL, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if s.docToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.docToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &ConnectionError{Service: docService, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyResponse(docService, resp); err != nil {
		return err
	}
	sharedDocuments.Inc()
	s.Log.DebugMsg("document shared", "filename", filename)
	return nil
}
