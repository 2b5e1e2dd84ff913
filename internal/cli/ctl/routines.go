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
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	mailstashcli "github.com/mailstash/mailstash/internal/cli"
	"github.com/mailstash/mailstash/internal/cli/clitools"
	"github.com/mailstash/mailstash/internal/fetch"
	"github.com/mailstash/mailstash/internal/routine"
	"github.com/mailstash/mailstash/internal/storage"
)

func init() {
	mailstashcli.AddSubcommand(
		&cli.Command{
			Name:  "routines",
			Usage: "Fetching routine management",
			Description: `These commands manipulate the periodic fetching routines of tracked
mailboxes. Changes take effect in the running daemon only after it is
restarted; use the web API to change a live scheduler.
`,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "cfg-block",
					Usage:   "Scheduler configuration block to use",
					EnvVars: []string{"MAILSTASH_CFGBLOCK"},
					Value:   "scheduler",
				},
			},
			Subcommands: []*cli.Command{
				{
					Name:      "list",
					Usage:     "List routines of the mailbox",
					ArgsUsage: "MAILBOX-ID",
					Action: func(ctx *cli.Context) error {
						sched, err := openScheduler(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(sched)
						return routinesList(sched, ctx)
					},
				},
				{
					Name:      "add",
					Usage:     "Register a fetching routine",
					ArgsUsage: "MAILBOX-ID CRITERION [ARGUMENT]",
					Description: `Registers a routine fetching messages matching CRITERION from the
mailbox. Registering the same (mailbox, criterion, argument) triple
twice is a no-op that prints the existing routine.

Use 'routines criteria PROTOCOL' to see what the account's protocol
supports.
`,
					Flags: []cli.Flag{
						&cli.IntFlag{
							Name:  "every",
							Usage: "interval multiplier",
							Value: 1,
						},
						&cli.StringFlag{
							Name:  "period",
							Usage: "interval unit: seconds, minutes, hours, days",
							Value: "hours",
						},
						&cli.BoolFlag{
							Name:  "disabled",
							Usage: "register without starting to fetch",
						},
					},
					Action: func(ctx *cli.Context) error {
						sched, err := openScheduler(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(sched)
						return routinesAdd(sched, ctx)
					},
				},
				{
					Name:      "enable",
					Usage:     "Enable the routine",
					ArgsUsage: "UUID",
					Action: func(ctx *cli.Context) error {
						sched, err := openScheduler(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(sched)
						return routinesSetEnabled(sched, ctx, true)
					},
				},
				{
					Name:      "disable",
					Usage:     "Disable the routine without deleting it",
					ArgsUsage: "UUID",
					Action: func(ctx *cli.Context) error {
						sched, err := openScheduler(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(sched)
						return routinesSetEnabled(sched, ctx, false)
					},
				},
				{
					Name:      "interval",
					Usage:     "Change the routine interval",
					ArgsUsage: "UUID",
					Flags: []cli.Flag{
						&cli.IntFlag{
							Name:     "every",
							Usage:    "interval multiplier",
							Required: true,
						},
						&cli.StringFlag{
							Name:     "period",
							Usage:    "interval unit: seconds, minutes, hours, days",
							Required: true,
						},
					},
					Action: func(ctx *cli.Context) error {
						sched, err := openScheduler(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(sched)
						return routinesInterval(sched, ctx)
					},
				},
				{
					Name:      "remove",
					Usage:     "Delete the routine and its scheduling record",
					ArgsUsage: "UUID",
					Description: `Archived emails are not affected.`,
					Flags: []cli.Flag{
						&cli.BoolFlag{
							Name:    "yes",
							Aliases: []string{"y"},
							Usage:   "Don't ask for confirmation",
						},
					},
					Action: func(ctx *cli.Context) error {
						sched, err := openScheduler(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(sched)
						return routinesRemove(sched, ctx)
					},
				},
				{
					Name:      "run",
					Usage:     "Run one fetch cycle of the routine now",
					ArgsUsage: "UUID",
					Action: func(ctx *cli.Context) error {
						sched, err := openScheduler(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(sched)
						return routinesRun(sched, ctx)
					},
				},
				{
					Name:      "test",
					Usage:     "Verify the routine's account and mailbox are reachable",
					ArgsUsage: "UUID",
					Action: func(ctx *cli.Context) error {
						sched, err := openScheduler(ctx)
						if err != nil {
							return err
						}
						defer closeIfNeeded(sched)
						return routinesTest(sched, ctx)
					},
				},
				{
					Name:      "criteria",
					Usage:     "List fetching criteria supported by the protocol",
					ArgsUsage: "PROTOCOL",
					Action:    routinesCriteria,
				},
			},
		})
}

func argUUID(ctx *cli.Context) (string, error) {
	uuid := ctx.Args().First()
	if uuid == "" {
		return "", cli.Exit("Error: UUID is required", 2)
	}
	return uuid, nil
}

func routinesList(sched *routine.Scheduler, ctx *cli.Context) error {
	id, err := argID(ctx, 0, "MAILBOX-ID")
	if err != nil {
		return err
	}

	routines, err := sched.Archive().Storage().RoutinesByMailbox(ctx.Context, id)
	if err != nil {
		return err
	}

	if len(routines) == 0 && !ctx.Bool("quiet") {
		fmt.Fprintln(os.Stderr, "No routines.")
	}
	for _, r := range routines {
		crit := string(r.Criterion)
		if r.CriterionArg != "" {
			crit += " " + r.CriterionArg
		}
		fmt.Printf("%s\t%s\tevery %d %s\tenabled=%v\t%s\n",
			r.UUID, crit, r.IntervalEvery, r.IntervalPeriod, r.Enabled, r.Health)
	}
	return nil
}

func routinesAdd(sched *routine.Scheduler, ctx *cli.Context) error {
	id, err := argID(ctx, 0, "MAILBOX-ID")
	if err != nil {
		return err
	}
	crit := ctx.Args().Get(1)
	if crit == "" {
		return cli.Exit("Error: CRITERION is required", 2)
	}

	if !storage.ValidIntervalPeriod(ctx.String("period")) {
		return cli.Exit("Error: unknown interval period: "+ctx.String("period"), 2)
	}

	r := storage.Routine{
		MailboxID:      id,
		Criterion:      fetch.Criterion(strings.ToUpper(crit)),
		CriterionArg:   ctx.Args().Get(2),
		IntervalEvery:  ctx.Int("every"),
		IntervalPeriod: ctx.String("period"),
		Enabled:        !ctx.Bool("disabled"),
	}
	registered, err := sched.Register(ctx.Context, &r)
	if err != nil {
		return err
	}
	fmt.Println(registered.UUID)
	return nil
}

func routinesSetEnabled(sched *routine.Scheduler, ctx *cli.Context, enabled bool) error {
	uuid, err := argUUID(ctx)
	if err != nil {
		return err
	}
	r, err := sched.Archive().Storage().RoutineByUUID(ctx.Context, uuid)
	if err != nil {
		return err
	}
	return sched.Update(ctx.Context, uuid, r.IntervalEvery, r.IntervalPeriod, enabled)
}

func routinesInterval(sched *routine.Scheduler, ctx *cli.Context) error {
	uuid, err := argUUID(ctx)
	if err != nil {
		return err
	}
	if !storage.ValidIntervalPeriod(ctx.String("period")) {
		return cli.Exit("Error: unknown interval period: "+ctx.String("period"), 2)
	}
	r, err := sched.Archive().Storage().RoutineByUUID(ctx.Context, uuid)
	if err != nil {
		return err
	}
	return sched.Update(ctx.Context, uuid, ctx.Int("every"), ctx.String("period"), r.Enabled)
}

func routinesRemove(sched *routine.Scheduler, ctx *cli.Context) error {
	uuid, err := argUUID(ctx)
	if err != nil {
		return err
	}
	if !ctx.Bool("yes") && !clitools.Confirmation("Are you sure you want to remove routine "+uuid, false) {
		return errors.New("Cancelled")
	}
	return sched.Unregister(ctx.Context, uuid)
}

func routinesRun(sched *routine.Scheduler, ctx *cli.Context) error {
	uuid, err := argUUID(ctx)
	if err != nil {
		return err
	}
	return sched.RunCycleOnce(ctx.Context, uuid)
}

func routinesTest(sched *routine.Scheduler, ctx *cli.Context) error {
	uuid, err := argUUID(ctx)
	if err != nil {
		return err
	}
	ok, detail := sched.TestRoutine(ctx.Context, uuid)
	if !ok {
		return cli.Exit("Error: "+detail, 1)
	}
	fmt.Println("OK")
	return nil
}

func routinesCriteria(ctx *cli.Context) error {
	proto := fetch.Protocol(ctx.Args().First())
	if proto == "" {
		return cli.Exit("Error: PROTOCOL is required, one of: "+protocolsHelp(), 2)
	}

	crits := fetch.AvailableCriteria(proto)
	if crits == nil {
		return cli.Exit("Error: unknown protocol: "+string(proto), 2)
	}
	for _, c := range crits {
		if c.TakesArgument() {
			fmt.Printf("%s\t(takes an argument)\n", c)
		} else {
			fmt.Println(string(c))
		}
	}
	return nil
}
