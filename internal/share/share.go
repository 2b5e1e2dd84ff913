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

// Package share implements outbound-only adapters pushing archived data
// to external services: attachments to a document manager, correspondents
// to a contact server. Neither adapter mutates the archive.
package share

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/mailstash/mailstash/framework/config"
	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/framework/module"
)

const modName = "share"

// Share is the outbound sharing module.
type Share struct {
	instName string

	docURL   string
	docToken string

	contactURL      string
	contactUser     string
	contactPassword string

	client *http.Client

	Log log.Logger
}

func New(_, instName string, _, inlineArgs []string) (module.Module, error) {
	if len(inlineArgs) != 0 {
		return nil, errors.New("share: expected 0 arguments")
	}
	return &Share{
		instName: instName,
		Log:      log.Logger{Name: modName},
	}, nil
}

func (s *Share) Init(cfg *config.Map) error {
	var timeout time.Duration
	cfg.Bool("debug", true, false, &s.Log.Debug)
	cfg.String("document_manager_url", false, false, "", &s.docURL)
	cfg.String("document_manager_token", false, false, "", &s.docToken)
	cfg.String("contact_server_url", false, false, "", &s.contactURL)
	cfg.String("contact_server_user", false, false, "", &s.contactUser)
	cfg.String("contact_server_password", false, false, "", &s.contactPassword)
	cfg.Duration("timeout", false, false, 30*time.Second, &timeout)
	if _, err := cfg.Process(); err != nil {
		return err
	}

	for _, u := range []string{s.docURL, s.contactURL} {
		if u == "" {
			continue
		}
		if _, err := url.Parse(u); err != nil {
			return errors.New("share: malformed service url: " + u)
		}
	}

	s.client = &http.Client{Timeout: timeout}
	return nil
}

func (s *Share) Name() string {
	return modName
}

func (s *Share) InstanceName() string {
	return s.instName
}

// DocumentManagerConfigured reports whether the document-manager
// endpoint is set up.
func (s *Share) DocumentManagerConfigured() bool {
	return s.docURL != ""
}

// ContactServerConfigured reports whether the contact-server endpoint
// is set up.
func (s *Share) ContactServerConfigured() bool {
	return s.contactURL != ""
}

func init() {
	module.Register(modName, New)
}
