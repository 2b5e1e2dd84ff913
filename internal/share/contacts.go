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
	"net/http"

	"github.com/emersion/go-vcard"

	"github.com/mailstash/mailstash/internal/storage"
)

const contactService = "contact server"

// CorrespondentCard builds a vCard 3.0 for an archived correspondent.
func CorrespondentCard(c *storage.Correspondent) vcard.Card {
	card := make(vcard.Card)
	card.SetValue(vcard.FieldVersion, "3.0")
	name := c.RealName
	if name == "" {
		name = c.DisplayName
	}
	if name == "" {
		name = c.Address
	}
	card.SetValue(vcard.FieldFormattedName, name)
	card.SetValue(vcard.FieldEmail, c.Address)
	return card
}

// ShareCorrespondent pushes one correspondent to the contact server.
func (s *Share) ShareCorrespondent(ctx context.Context, c *storage.Correspondent) error {
	return s.ShareCorrespondents(ctx, []storage.Correspondent{*c})
}

// ShareCorrespondents pushes a batch of correspondents as one vCard
// stream via HTTP PUT under basic auth.
func (s *Share) ShareCorrespondents(ctx context.Context, batch []storage.Correspondent) error {
	if s.contactURL == "" {
		return errors.New("share: contact server is not configured")
	}
	if len(batch) == 0 {
		return errors.New("share: nothing to share")
	}

	var body bytes.Buffer
	enc := vcard.NewEncoder(&body)
	for i := range batch {
		if err := enc.Encode(CorrespondentCard(&batch[i])); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.contactURL, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/vcard")
	if s.contactUser != "" || s.contactPassword != "" {
		req.SetBasicAuth(s.contactUser, s.contactPassword)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &ConnectionError{Service: contactService, Err: err}
	}
	defer resp.Body.Close()

	if err := classifyResponse(contactService, resp); err != nil {
		return err
	}
	sharedContacts.Add(float64(len(batch)))
	s.Log.DebugMsg("correspondents shared", "count", len(batch))
	return nil
}
