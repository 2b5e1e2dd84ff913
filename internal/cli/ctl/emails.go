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
	"os"

	"github.com/urfave/cli/v2"

	mailstashcli "github.com/mailstash/mailstash/internal/cli"
	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/internal/archive"
	"github.com/mailstash/mailstash/internal/mailfile"
	"github.com/mailstash/mailstash/internal/storage"
)

func init() {
	mailstashcli.AddSubcommand(
		&cli.Command{
			Name:  "emails",
			Usage: "Archived email management",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "cfg-block",
					Usage:   "Archive configuration block to use",
					EnvVars: []string{"MAILSTASH_CFGBLOCK"},
					Value:   "archive",
				},
			},
			Subcommands: []*cli.Command{
				{
					Name:      "list",
					Usage:     "List archived emails of the mailbox",
					ArgsUsage: "MAILBOX-ID",
					Action: func(ctx *cli.Context) error {
						ar, err := openArchive(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(ar)
						return emailsList(ar, ctx)
					},
				},
				{
					Name:      "restore",
					Usage:     "Upload the archived original back to the remote mailbox",
					ArgsUsage: "EMAIL-ID",
					Description: `Restore needs the stored original message, so it works only for
emails archived with save_to_eml enabled. The scheduler block is used
to open the protocol session.
`,
					Action: func(ctx *cli.Context) error {
						sched, err := openScheduler(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(sched)
						id, err := argID(ctx, 0, "EMAIL-ID")
						if err != nil {
							return err
						}
						if err := sched.RestoreEmail(ctx.Context, id); err != nil {
							return err
						}
						fmt.Println("OK")
						return nil
					},
				},
				{
					Name:      "import",
					Usage:     "Archive every message of a mailbox file",
					ArgsUsage: "MAILBOX-ID FORMAT PATH",
					Description: `Supported formats: eml, mbox, mmdf, babyl, maildir, mh, zip_eml,
zip_maildir, zip_mh. eml, maildir and mh expect PATH to be a
directory. Messages already archived are counted as duplicates,
corrupt messages inside a valid container are skipped.
`,
					Action: func(ctx *cli.Context) error {
						ar, err := openArchive(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(ar)
						return emailsImport(ar, ctx)
					},
				},
				{
					Name:      "export",
					Usage:     "Export archived mailboxes into a zip of mailbox files",
					ArgsUsage: "FORMAT OUTPUT-FILE MAILBOX-ID...",
					Description: `Writes one container per mailbox in the requested format and packs
them into OUTPUT-FILE as a zip archive. '-' writes the zip to stdout.
`,
					Action: func(ctx *cli.Context) error {
						ar, err := openArchive(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(ar)
						return emailsExport(ar, ctx)
					},
				},
			},
		})
}

func emailsList(ar *archive.Archive, ctx *cli.Context) error {
	id, err := argID(ctx, 0, "MAILBOX-ID")
	if err != nil {
		return err
	}

	count := 0
	err = ar.Storage().EmailsByMailbox(ctx.Context, id, func(e *storage.Email) error {
		count++
		fmt.Printf("%d\t%s\t%s\t%s\n", e.ID, e.SentAt.Format("2006-01-02 15:04"), e.MessageID, e.Subject)
		return nil
	})
	if err != nil {
		return err
	}
	if count == 0 && !ctx.Bool("quiet") {
		fmt.Fprintln(os.Stderr, "No emails.")
	}
	return nil
}

func emailsImport(ar *archive.Archive, ctx *cli.Context) error {
	id, err := argID(ctx, 0, "MAILBOX-ID")
	if err != nil {
		return err
	}
	format, err := mailfile.ParseFormat(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	path := ctx.Args().Get(2)
	if path == "" {
		return cli.Exit("Error: PATH is required", 2)
	}

	mb, err := ar.Storage().MailboxByID(ctx.Context, id)
	if err != nil {
		return err
	}

	l := log.Logger{Out: log.DefaultLogger.Out, Name: "import"}
	stats, err := mailfile.Import(ctx.Context, ar, mb, format, path, l)
	if err != nil {
		return err
	}
	fmt.Printf("total=%d archived=%d duplicates=%d discarded_spam=%d skipped=%d\n",
		stats.Total, stats.Archived, stats.Duplicates, stats.DiscardedSpam, stats.Skipped)
	return nil
}

func emailsExport(ar *archive.Archive, ctx *cli.Context) error {
	format, err := mailfile.ParseFormat(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	outPath := ctx.Args().Get(1)
	if outPath == "" {
		return cli.Exit("Error: OUTPUT-FILE is required", 2)
	}
	if ctx.Args().Len() < 3 {
		return cli.Exit("Error: at least one MAILBOX-ID is required", 2)
	}

	mailboxes := make([]storage.Mailbox, 0, ctx.Args().Len()-2)
	for i := 2; i < ctx.Args().Len(); i++ {
		id, err := argID(ctx, i, "MAILBOX-ID")
		if err != nil {
			return err
		}
		mb, err := ar.Storage().MailboxByID(ctx.Context, id)
		if err != nil {
			return err
		}
		mailboxes = append(mailboxes, *mb)
	}

	out := os.Stdout
	if outPath != "-" {
		out, err = os.Create(outPath)
		if err != nil {
			return err
		}
		defer out.Close()
	}

	l := log.Logger{Out: log.DefaultLogger.Out, Name: "export"}
	return mailfile.ExportMailboxes(ctx.Context, ar, mailboxes, format, out, l)
}
