package testutils

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/mailstash/mailstash/framework/buffer"
	"github.com/mailstash/mailstash/internal/fetch"
)

// FetchSession is a scriptable fetch.Session. Zero value is a session
// that connects fine and has no mailboxes.
type FetchSession struct {
	ConnectErr error
	TestErr    error
	ListErr    error
	FetchErr   error
	RestoreErr error

	Mailboxes []fetch.MailboxInfo

	// Messages holds per-mailbox raw message bodies streamed by Fetch.
	Messages map[string][][]byte

	mu        sync.Mutex
	Connected bool
	Closed    bool
	// Restored accumulates messages appended via Restore, per mailbox.
	Restored map[string][][]byte
	// FetchCalls counts Fetch invocations across reconnects.
	FetchCalls int
}

func (s *FetchSession) Connect(_ context.Context) error {
	if s.ConnectErr != nil {
		return s.ConnectErr
	}
	s.mu.Lock()
	s.Connected = true
	s.mu.Unlock()
	return nil
}

func (s *FetchSession) Test(_ context.Context, _ string) error {
	return s.TestErr
}

func (s *FetchSession) ListMailboxes(_ context.Context) ([]fetch.MailboxInfo, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.Mailboxes, nil
}

func (s *FetchSession) Fetch(_ context.Context, mailbox string, _ fetch.Criterion, _ string, each func(raw buffer.Buffer) error) error {
	s.mu.Lock()
	s.FetchCalls++
	s.mu.Unlock()

	if s.FetchErr != nil {
		return s.FetchErr
	}
	for _, raw := range s.Messages[mailbox] {
		if err := each(buffer.MemoryBuffer{Slice: raw}); err != nil {
			return err
		}
	}
	return nil
}

func (s *FetchSession) Restore(_ context.Context, mailbox string, raw io.Reader, _ int64, _ time.Time) error {
	if s.RestoreErr != nil {
		return s.RestoreErr
	}
	data, err := io.ReadAll(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.Restored == nil {
		s.Restored = map[string][][]byte{}
	}
	s.Restored[mailbox] = append(s.Restored[mailbox], data)
	s.mu.Unlock()
	return nil
}

func (s *FetchSession) Close() error {
	s.mu.Lock()
	s.Closed = true
	s.mu.Unlock()
	return nil
}

// Calls returns the number of Fetch invocations so far.
func (s *FetchSession) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FetchCalls
}

// RestoredIn returns the messages appended to the mailbox via Restore.
func (s *FetchSession) RestoredIn(mailbox string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Restored[mailbox]
}
