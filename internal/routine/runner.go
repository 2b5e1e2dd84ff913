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

package routine

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"time"

	"github.com/mailstash/mailstash/framework/buffer"
	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/framework/module"
	"github.com/mailstash/mailstash/internal/archive"
	"github.com/mailstash/mailstash/internal/fetch"
	"github.com/mailstash/mailstash/internal/msgparse"
	"github.com/mailstash/mailstash/internal/storage"
)

// sessionAccount maps a stored account onto session credentials.
// InsecureSkipVerify requires both the process-wide and the
// per-account allow-insecure flags.
func (s *Scheduler) sessionAccount(acct *storage.Account, l log.Logger) fetch.Account {
	var tlsCfg *tls.Config
	if s.baseTLS != nil {
		tlsCfg = s.baseTLS.Clone()
	}
	if s.ar.AllowInsecureConnections() && acct.AllowInsecureTLS {
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		}
		tlsCfg.InsecureSkipVerify = true
	}
	return fetch.Account{
		Address:   acct.Address,
		Password:  acct.Password,
		Host:      acct.Host,
		Port:      acct.Port,
		Timeout:   acct.Timeout(),
		TLSConfig: tlsCfg,
		Log:       l,
	}
}

// runCycle executes one fetch cycle of the routine and rolls the outcome
// into the health flags. The returned error is the cycle error after
// health accounting, so the worker can apply the restart policy to it.
func (s *Scheduler) runCycle(ctx context.Context, uuid string, l log.Logger) error {
	r, err := s.ar.Storage().RoutineByUUID(ctx, uuid)
	if err != nil {
		return fmt.Errorf("scheduler: load routine %s: %w", uuid, err)
	}

	start := time.Now()
	l.DebugMsg("cycle started", "mailbox", r.Mailbox.Name, "criterion", string(r.Criterion))

	stats, cycleErr := s.fetchCycle(ctx, r, l)

	switch {
	case cycleErr == nil:
		cyclesRun.Inc()
		l.Msg("cycle done",
			"mailbox", r.Mailbox.Name,
			"fetched", stats.fetched, "archived", stats.archived,
			"duplicates", stats.duplicates, "discarded", stats.discarded,
			"skipped", stats.skipped,
			"duration", time.Since(start).String())
		if err := s.tracker.CycleSucceeded(ctx, r); err != nil {
			return fmt.Errorf("scheduler: record success: %w", err)
		}
		return nil
	case fetch.IsAccountErr(cycleErr):
		cyclesFailed.WithLabelValues("account").Inc()
		l.Error("cycle failed", cycleErr, "mailbox", r.Mailbox.Name)
		if err := s.tracker.AccountFailed(ctx, r.Mailbox.AccountID, cycleErr.Error()); err != nil {
			l.Error("health update failed", err)
		}
	case fetch.IsMailboxErr(cycleErr):
		cyclesFailed.WithLabelValues("mailbox").Inc()
		l.Error("cycle failed", cycleErr, "mailbox", r.Mailbox.Name)
		if err := s.tracker.MailboxFailed(ctx, r, cycleErr.Error()); err != nil {
			l.Error("health update failed", err)
		}
	default:
		cyclesFailed.WithLabelValues("other").Inc()
		l.Error("cycle failed", cycleErr, "mailbox", r.Mailbox.Name)
		if err := s.tracker.RoutineFailed(ctx, r, cycleErr.Error()); err != nil {
			l.Error("health update failed", err)
		}
	}
	return cycleErr
}

type cycleStats struct {
	fetched    int
	archived   int
	duplicates int
	discarded  int
	skipped    int
}

func (s *Scheduler) fetchCycle(ctx context.Context, r *storage.Routine, l log.Logger) (cycleStats, error) {
	var stats cycleStats

	sess, err := fetch.New(r.Mailbox.Account.Protocol, s.sessionAccount(&r.Mailbox.Account, l))
	if err != nil {
		return stats, err
	}
	if err := sess.Connect(ctx); err != nil {
		return stats, err
	}
	defer sess.Close()

	err = sess.Fetch(ctx, r.Mailbox.Name, r.Criterion, r.CriterionArg, func(raw buffer.Buffer) error {
		stats.fetched++
		body, err := readBuffer(raw)
		if err != nil {
			return err
		}

		parsed, err := msgparse.Parse(body, l)
		if err != nil {
			// A message the parser cannot make sense of is skipped, the
			// rest of the mailbox still gets archived.
			l.Error("unparsable message skipped", err)
			stats.skipped++
			return nil
		}

		res, err := s.ar.Write(ctx, &r.Mailbox, parsed, body)
		if err != nil {
			return err
		}
		switch res.Outcome {
		case archive.OutcomeArchived:
			stats.archived++
		case archive.OutcomeDuplicate:
			stats.duplicates++
		case archive.OutcomeDiscardedSpam:
			stats.discarded++
		}
		return nil
	})
	return stats, err
}

func readBuffer(raw buffer.Buffer) ([]byte, error) {
	r, err := raw.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// RunCycleOnce runs one synchronous fetch cycle of the routine outside
// the schedule, with the same health accounting as a scheduled tick.
func (s *Scheduler) RunCycleOnce(ctx context.Context, uuid string) error {
	return s.runCycle(ctx, uuid, log.Logger{
		Out:   s.Log.Out,
		Name:  "routine/" + uuid,
		Debug: s.Log.Debug,
	})
}

// TestRoutine runs one cycle of the routine synchronously and reports
// the outcome as a success flag plus detail text. Health flags are
// rolled up exactly as for a scheduled tick.
func (s *Scheduler) TestRoutine(ctx context.Context, uuid string) (bool, string) {
	if err := s.RunCycleOnce(ctx, uuid); err != nil {
		return false, err.Error()
	}
	return true, "ok"
}

// RestoreEmail appends an archived email back to its remote mailbox.
// Only emails with the full .eml stored can be restored; a reconstructed
// approximation is never pushed back to the server.
func (s *Scheduler) RestoreEmail(ctx context.Context, emailID uint64) error {
	e, err := s.ar.Storage().EmailByID(ctx, emailID)
	if err != nil {
		return err
	}
	if e.FileKey == "" {
		return fmt.Errorf("scheduler: email %d has no stored original: %w", emailID, module.ErrNoSuchBlob)
	}
	mb, err := s.ar.Storage().MailboxByID(ctx, e.MailboxID)
	if err != nil {
		return err
	}

	blob, err := s.ar.BlobStore().Open(ctx, e.FileKey)
	if err != nil {
		return fmt.Errorf("scheduler: restore email %d: %w", emailID, err)
	}
	raw, err := io.ReadAll(blob)
	blob.Close()
	if err != nil {
		return fmt.Errorf("scheduler: restore email %d: %w", emailID, err)
	}

	sess, err := fetch.New(mb.Account.Protocol, s.sessionAccount(&mb.Account, s.Log))
	if err != nil {
		return err
	}
	if err := sess.Connect(ctx); err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Restore(ctx, mb.Name, bytes.NewReader(raw), int64(len(raw)), e.SentAt); err != nil {
		return err
	}
	restoresRun.Inc()
	s.Log.Msg("email restored", "email", emailID, "mailbox", mb.Name)
	return nil
}
