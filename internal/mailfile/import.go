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

package mailfile

import (
	"context"
	"errors"
	"io"

	"github.com/mailstash/mailstash/framework/log"
	"github.com/mailstash/mailstash/internal/archive"
	"github.com/mailstash/mailstash/internal/msgparse"
	"github.com/mailstash/mailstash/internal/storage"
)

// ImportStats summarizes one import run.
type ImportStats struct {
	// Total counts messages read out of the container, including ones
	// that later failed to parse.
	Total         int
	Archived      int
	Duplicates    int
	DiscardedSpam int
	// Skipped counts corrupt members and unparsable messages.
	Skipped int
}

// Import streams every message of the container at path into the
// mailbox. A corrupt container fails the import; a corrupt message
// inside a valid container is logged and skipped.
func Import(ctx context.Context, ar *archive.Archive, mb *storage.Mailbox, f Format, path string, l log.Logger) (ImportStats, error) {
	r, err := OpenReader(f, path)
	if err != nil {
		return ImportStats{}, err
	}
	defer r.Close()

	var stats ImportStats
	for {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		default:
		}

		raw, err := r.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		var memberErr *MemberError
		if errors.As(err, &memberErr) {
			l.Error("corrupt message skipped", err)
			stats.Total++
			stats.Skipped++
			continue
		}
		if err != nil {
			return stats, err
		}
		stats.Total++

		parsed, err := msgparse.Parse(raw, l)
		if err != nil {
			l.Error("unparsable message skipped", err)
			stats.Skipped++
			continue
		}

		res, err := ar.Write(ctx, mb, parsed, raw)
		if err != nil {
			return stats, err
		}
		importedMessages.Inc()
		switch res.Outcome {
		case archive.OutcomeArchived:
			stats.Archived++
		case archive.OutcomeDuplicate:
			stats.Duplicates++
		case archive.OutcomeDiscardedSpam:
			stats.DiscardedSpam++
		}
	}
}
