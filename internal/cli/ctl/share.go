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

package ctl

import (
	"fmt"

	"github.com/urfave/cli/v2"

	mailstashcli "github.com/mailstash/mailstash/internal/cli"
)

func init() {
	mailstashcli.AddSubcommand(
		&cli.Command{
			Name:  "share",
			Usage: "Push archived data to external services",
			Description: `These commands push archived attachments and correspondents to the
external services configured in the share block.
`,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "cfg-block",
					Usage:   "Share configuration block to use",
					EnvVars: []string{"MAILSTASH_CFGBLOCK"},
					Value:   "share",
				},
			},
			Subcommands: []*cli.Command{
				{
					Name:      "document",
					Usage:     "Upload the attachment to the document manager",
					ArgsUsage: "ATTACHMENT-ID",
					Action:    shareDocument,
				},
				{
					Name:      "contacts",
					Usage:     "Upload the user's correspondents to the contact server",
					ArgsUsage: "USERNAME",
					Action:    shareContacts,
				},
			},
		})
}

func shareDocument(ctx *cli.Context) error {
	sh, err := openShare(ctx)
	if err != nil {
		return err
	}
	defer closeIfNeeded(sh)
	ar, err := openArchive(ctx)
	if err != nil {
		return err
	}
	defer closeIfNeeded(ar)

	if !sh.DocumentManagerConfigured() {
		return cli.Exit("Error: no document manager is configured", 2)
	}

	id, err := argID(ctx, 0, "ATTACHMENT-ID")
	if err != nil {
		return err
	}
	att, err := ar.Storage().AttachmentByID(ctx.Context, id)
	if err != nil {
		return err
	}
	if att.FileKey == "" {
		return cli.Exit("Error: attachment content was not saved, nothing to share", 2)
	}

	content, err := ar.BlobStore().Open(ctx.Context, att.FileKey)
	if err != nil {
		return err
	}
	defer content.Close()

	if err := sh.ShareDocument(ctx.Context, att.Filename, content); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func shareContacts(ctx *cli.Context) error {
	sh, err := openShare(ctx)
	if err != nil {
		return err
	}
	defer closeIfNeeded(sh)
	ar, err := openArchive(ctx)
	if err != nil {
		return err
	}
	defer closeIfNeeded(ar)

	if !sh.ContactServerConfigured() {
		return cli.Exit("Error: no contact server is configured", 2)
	}

	username := ctx.Args().First()
	if username == "" {
		return cli.Exit("Error: USERNAME is required", 2)
	}
	user, err := ar.Storage().UserByName(ctx.Context, username)
	if err != nil {
		return err
	}
	correspondents, err := ar.Storage().CorrespondentsByOwner(ctx.Context, user.ID)
	if err != nil {
		return err
	}
	if len(correspondents) == 0 {
		return cli.Exit("Error: the user has no correspondents", 2)
	}

	if err := sh.ShareCorrespondents(ctx.Context, correspondents); err != nil {
		return err
	}
	fmt.Printf("Shared %d contacts.\n", len(correspondents))
	return nil
}
