package capture

import (
	"context"
	"sync"
	"time"

	"github.com/hpungsan/shutter/internal/media"
)

// Session is one recording. It settles exactly once, with either the
// recorded draft or the error that ended it.
type Session struct {
	started time.Time
	done    chan struct{}
	once    sync.Once

	draft media.Draft
	err   error
}

func newSession(now time.Time) *Session {
	return &Session{started: now, done: make(chan struct{})}
}

// Started is when the session was requested.
func (s *Session) Started() time.Time {
	return s.started
}

// Done is closed once the session has settled.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session settles or ctx is done.
func (s *Session) Wait(ctx context.Context) (media.Draft, error) {
	select {
	case <-s.done:
		return s.draft, s.err
	case <-ctx.Done():
		return media.Draft{}, ctx.Err()
	}
}

// settle records the outcome. Later calls are ignored and report false.
func (s *Session) settle(d media.Draft, err error) bool {
	settled := false
	s.once.Do(func() {
		s.draft = d
		s.err = err
		settled = true
		close(s.done)
	})
	return settled
}
