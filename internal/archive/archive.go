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

// Package archive implements the idempotent archive writer: it persists
// parsed messages with their attachments, correspondents and reply
// edges, deduplicating by (mailbox, message-id).
package archive

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/mailstash/mailstash/framework/config"
	modconfig "github.com/mailstash/mailstash/framework/config/module"
	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/framework/module"
	"github.com/mailstash/mailstash/internal/storage"
)

const modName = "archive"

// Archive is the archive writer module. It is safe for concurrent use.
type Archive struct {
	instName string

	throwOutSpam           bool
	defaultSaveEML         bool
	defaultSaveAttachments bool
	allowInsecure          bool
	webPageSize            int
	ignoredMailboxes       *regexp.Regexp

	db    *storage.Storage
	blobs module.BlobStore
	locks *keyedLock

	Log log.Logger
}

func New(_, instName string, _, inlineArgs []string) (module.Module, error) {
	if len(inlineArgs) != 0 {
		return nil, errors.New("archive: expected 0 arguments")
	}
	return &Archive{
		instName: instName,
		locks:    newKeyedLock(),
		Log:      log.Logger{Name: modName},
	}, nil
}

func (a *Archive) Init(cfg *config.Map) error {
	cfg.Bool("debug", true, false, &a.Log.Debug)
	cfg.Bool("throw_out_spam", false, false, &a.throwOutSpam)
	cfg.Bool("default_save_eml", false, true, &a.defaultSaveEML)
	cfg.Bool("default_save_attachments", false, true, &a.defaultSaveAttachments)
	cfg.Bool("allow_insecure_connections", false, false, &a.allowInsecure)
	cfg.Int("web_default_page_size", false, false, 50, &a.webPageSize)
	cfg.Custom("ignored_mailboxes_regex", false, false, func() (interface{}, error) {
		return (*regexp.Regexp)(nil), nil
	}, func(m *config.Map, node config.Node) (interface{}, error) {
		if len(node.Args) != 1 {
			return nil, config.NodeErr(node, "expected exactly one argument")
		}
		re, err := compileIgnoredRegex(node.Args[0])
		if err != nil {
			return nil, config.NodeErr(node, "invalid regex: %v", err)
		}
		return re, nil
	}, &a.ignoredMailboxes)
	cfg.Custom("storage", false, false, func() (interface{}, error) {
		mod, err := module.GetInstance("storage")
		if err != nil {
			return nil, err
		}
		db, ok := mod.(*storage.Storage)
		if !ok {
			return nil, fmt.Errorf("archive: storage config block is not an archive database")
		}
		return db, nil
	}, func(m *config.Map, node config.Node) (interface{}, error) {
		var db *storage.Storage
		err := modconfig.ModuleFromNode("", node.Args, node, m.Globals, &db)
		return db, err
	}, &a.db)
	cfg.Custom("blob_store", false, true, nil, func(m *config.Map, node config.Node) (interface{}, error) {
		var store module.BlobStore
		err := modconfig.ModuleFromNode("storage.blob", node.Args, node, m.Globals, &store)
		return store, err
	}, &a.blobs)
	if _, err := cfg.Process(); err != nil {
		return err
	}
	return nil
}

// NewDirect assembles a writer around an opened database and blob store,
// bypassing the module registry. throwOutSpam follows the
// throw_out_spam directive.
func NewDirect(db *storage.Storage, blobs module.BlobStore, throwOutSpam bool, l log.Logger) *Archive {
	return &Archive{
		instName:     modName,
		throwOutSpam: throwOutSpam,
		webPageSize:  50,
		db:           db,
		blobs:        blobs,
		locks:        newKeyedLock(),
		Log:          l,
	}
}

func (a *Archive) Name() string {
	return modName
}

func (a *Archive) InstanceName() string {
	return a.instName
}

// Storage exposes the archive database the writer persists into.
func (a *Archive) Storage() *storage.Storage {
	return a.db
}

// BlobStore exposes the blob store holding .eml and attachment bytes.
func (a *Archive) BlobStore() module.BlobStore {
	return a.blobs
}

// DefaultSaveFlags reports the configured save flags applied to newly
// discovered mailboxes.
func (a *Archive) DefaultSaveFlags() (saveEML, saveAttachments bool) {
	return a.defaultSaveEML, a.defaultSaveAttachments
}

// AllowInsecureConnections reports whether accounts may skip TLS
// certificate verification. The per-account flag must also be set.
func (a *Archive) AllowInsecureConnections() bool {
	return a.allowInsecure
}

// WebPageSize is the default page size for listing operations.
func (a *Archive) WebPageSize() int {
	return a.webPageSize
}

// compileIgnoredRegex compiles the ignored_mailboxes_regex argument.
// Matching is case-insensitive, remote servers capitalize folder names
// arbitrarily.
func compileIgnoredRegex(arg string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i:" + arg + ")")
}

// MailboxIgnored reports whether a remote folder name matches the
// configured ignore pattern and should be skipped during scans.
func (a *Archive) MailboxIgnored(name string) bool {
	return a.ignoredMailboxes != nil && a.ignoredMailboxes.MatchString(name)
}

func init() {
	module.Register(modName, New)
}
