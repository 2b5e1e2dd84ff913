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
	"crypto/tls"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	mailstashcli "github.com/mailstash/mailstash/internal/cli"
	"github.com/mailstash/mailstash/internal/cli/clitools"
	"github.com/mailstash/mailstash/internal/archive"
	"github.com/mailstash/mailstash/internal/fetch"
	"github.com/mailstash/mailstash/internal/storage"
)

func init() {
	mailstashcli.AddSubcommand(
		&cli.Command{
			Name:  "accounts",
			Usage: "Remote mail account management",
			Description: `These commands manipulate the remote accounts mailstash archives
mail from.

The archive database and blob store are defined in mailstash.conf; the
daemon does not have to be running.
`,
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
					Usage:     "List accounts of the user",
					ArgsUsage: "USERNAME",
					Action: func(ctx *cli.Context) error {
						ar, err := openArchive(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(ar)
						return accountsList(ar, ctx)
					},
				},
				{
					Name:      "create",
					Usage:     "Add a remote account",
					Description: `Reads the account password from stdin.`,
					ArgsUsage: "USERNAME ADDRESS",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:     "host",
							Usage:    "server to connect to",
							Required: true,
						},
						&cli.UintFlag{
							Name:  "port",
							Usage: "server port, 0 means the protocol default",
						},
						&cli.StringFlag{
							Name:  "protocol",
							Usage: "wire protocol: " + protocolsHelp(),
							Value: string(fetch.ProtoIMAPTLS),
						},
						&cli.IntFlag{
							Name:  "timeout",
							Usage: "per-operation timeout in seconds",
							Value: 10,
						},
						&cli.BoolFlag{
							Name:  "allow-insecure",
							Usage: "skip TLS certificate verification for this account\n\t\tTakes effect only with allow_insecure_connections on",
						},
						&cli.StringFlag{
							Name:    "password",
							Aliases: []string{"p"},
							Usage:   "Use `PASSWORD` instead of reading password from stdin.\n\t\tWARNING: Provided only for debugging convenience. Don't leave your passwords in shell history!",
						},
					},
					Action: func(ctx *cli.Context) error {
						ar, err := openArchive(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(ar)
						return accountsCreate(ar, ctx)
					},
				},
				{
					Name:      "test",
					Usage:     "Verify the account credentials work",
					ArgsUsage: "ACCOUNT-ID [MAILBOX]",
					Action: func(ctx *cli.Context) error {
						ar, err := openArchive(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(ar)
						return accountsTest(ar, ctx)
					},
				},
				{
					Name:  "scan",
					Usage: "Discover remote folders and track them as mailboxes",
					Description: `Folders matching ignored_mailboxes_regex are skipped. Newly
discovered mailboxes get the configured default save flags; flags of
already tracked mailboxes are left alone.
`,
					ArgsUsage: "ACCOUNT-ID",
					Action: func(ctx *cli.Context) error {
						ar, err := openArchive(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(ar)
						return accountsScan(ar, ctx)
					},
				},
				{
					Name:      "mailboxes",
					Usage:     "List tracked mailboxes of the account",
					ArgsUsage: "ACCOUNT-ID",
					Action: func(ctx *cli.Context) error {
						ar, err := openArchive(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(ar)
						return accountsMailboxes(ar, ctx)
					},
				},
			},
		})
}

func protocolsHelp() string {
	strs := make([]string, 0, len(fetch.Protocols))
	for _, p := range fetch.Protocols {
		strs = append(strs, string(p))
	}
	return strings.Join(strs, ", ")
}

func argID(ctx *cli.Context, i int, name string) (uint64, error) {
	arg := ctx.Args().Get(i)
	if arg == "" {
		return 0, cli.Exit("Error: "+name+" is required", 2)
	}
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, cli.Exit("Error: "+name+" must be a number", 2)
	}
	return id, nil
}

// openSession builds a protocol session for the stored account using
// the archive-wide TLS policy.
func openSession(ar *archive.Archive, acct *storage.Account) (fetch.Session, error) {
	facct := fetch.Account{
		Address:  acct.Address,
		Password: acct.Password,
		Host:     acct.Host,
		Port:     acct.Port,
		Timeout:  acct.Timeout(),
	}
	if ar.AllowInsecureConnections() && acct.AllowInsecureTLS {
		facct.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return fetch.New(acct.Protocol, facct)
}

func accountsList(ar *archive.Archive, ctx *cli.Context) error {
	username := ctx.Args().First()
	if username == "" {
		return cli.Exit("Error: USERNAME is required", 2)
	}

	user, err := ar.Storage().UserByName(ctx.Context, username)
	if err != nil {
		return err
	}
	accounts, err := ar.Storage().AccountsByOwner(ctx.Context, user.ID)
	if err != nil {
		return err
	}

	if len(accounts) == 0 && !ctx.Bool("quiet") {
		fmt.Fprintln(os.Stderr, "No accounts.")
	}
	for _, acct := range accounts {
		fmt.Printf("%d\t%s\t%s\t%s\t%s\n", acct.ID, acct.Address, acct.Protocol, acct.Host, acct.Health)
	}
	return nil
}

func accountsCreate(ar *archive.Archive, ctx *cli.Context) error {
	username := ctx.Args().Get(0)
	address := ctx.Args().Get(1)
	if username == "" || address == "" {
		return cli.Exit("Error: USERNAME and ADDRESS are required", 2)
	}

	var pass string
	if ctx.IsSet("password") {
		pass = ctx.String("password")
	} else {
		var err error
		pass, err = clitools.ReadPassword("Enter password for the account")
		if err != nil {
			return err
		}
	}

	user, err := ar.Storage().GetOrCreateUser(ctx.Context, username)
	if err != nil {
		return err
	}

	acct := storage.Account{
		OwnerID:          user.ID,
		Address:          address,
		Password:         pass,
		Host:             ctx.String("host"),
		Port:             uint16(ctx.Uint("port")),
		Protocol:         fetch.Protocol(ctx.String("protocol")),
		TimeoutSeconds:   ctx.Int("timeout"),
		AllowInsecureTLS: ctx.Bool("allow-insecure"),
	}
	if err := ar.Storage().CreateAccount(ctx.Context, &acct); err != nil {
		return err
	}
	fmt.Println(acct.ID)
	return nil
}

func accountsTest(ar *archive.Archive, ctx *cli.Context) error {
	id, err := argID(ctx, 0, "ACCOUNT-ID")
	if err != nil {
		return err
	}
	acct, err := ar.Storage().AccountByID(ctx.Context, id)
	if err != nil {
		return err
	}

	sess, err := openSession(ar, acct)
	if err != nil {
		return err
	}
	if err := sess.Connect(ctx.Context); err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Test(ctx.Context, ctx.Args().Get(1)); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func accountsScan(ar *archive.Archive, ctx *cli.Context) error {
	id, err := argID(ctx, 0, "ACCOUNT-ID")
	if err != nil {
		return err
	}
	acct, err := ar.Storage().AccountByID(ctx.Context, id)
	if err != nil {
		return err
	}

	sess, err := openSession(ar, acct)
	if err != nil {
		return err
	}
	if err := sess.Connect(ctx.Context); err != nil {
		return err
	}
	defer sess.Close()

	infos, err := sess.ListMailboxes(ctx.Context)
	if err != nil {
		return err
	}

	saveEML, saveAttachments := ar.DefaultSaveFlags()
	for _, info := range infos {
		if ar.MailboxIgnored(info.Name) {
			fmt.Printf("ignored\t%s\n", info.Name)
			continue
		}
		mb := storage.Mailbox{
			AccountID:       acct.ID,
			Name:            info.Name,
			Type:            info.Type,
			SaveToEML:       saveEML,
			SaveAttachments: saveAttachments,
		}
		if err := ar.Storage().UpsertMailbox(ctx.Context, &mb); err != nil {
			return err
		}
		fmt.Printf("%d\t%s\t%s\n", mb.ID, mb.Name, mb.Type)
	}
	return nil
}

func accountsMailboxes(ar *archive.Archive, ctx *cli.Context) error {
	id, err := argID(ctx, 0, "ACCOUNT-ID")
	if err != nil {
		return err
	}
	mailboxes, err := ar.Storage().MailboxesByAccount(ctx.Context, id)
	if err != nil {
		return err
	}

	if len(mailboxes) == 0 && !ctx.Bool("quiet") {
		fmt.Fprintln(os.Stderr, "No mailboxes.")
	}
	for _, mb := range mailboxes {
		fmt.Printf("%d\t%s\t%s\teml=%v\tattachments=%v\t%s\n",
			mb.ID, mb.Name, mb.Type, mb.SaveToEML, mb.SaveAttachments, mb.Health)
	}
	return nil
}
