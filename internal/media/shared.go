package media

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/1ureka/eyecall/internal/util"
)

// Shared memoizes the first successful acquisition of a Source for the
// lifetime of the process. Concurrent callers share one in-flight attempt
// and receive its outcome; a failure is not cached, so the next Acquire
// tries again.
type Shared struct {
	src   Source
	group singleflight.Group

	mu     sync.Mutex
	stream *Stream

	attempts atomic.Int64
}

// NewShared wraps src.
func NewShared(src Source) *Shared {
	return &Shared{src: src}
}

// Acquire returns the memoized stream, or joins (or starts) the in-flight
// acquisition. ctx only bounds the caller's wait; the shared attempt keeps
// running for the other callers.
func (s *Shared) Acquire(ctx context.Context) (*Stream, error) {
	if st := s.Memoized(); st != nil {
		return st, nil
	}

	ch := s.group.DoChan("local-media", func() (interface{}, error) {
		if st := s.Memoized(); st != nil {
			return st, nil
		}

		s.attempts.Add(1)
		util.LogDebug("acquiring local media (attempt %d)", s.attempts.Load())

		st, err := s.src.Acquire(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.stream = st
		s.mu.Unlock()
		return st, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Stream), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Memoized returns the cached stream, or nil.
func (s *Shared) Memoized() *Stream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

// Attempts returns how many times the underlying Source was invoked.
func (s *Shared) Attempts() int64 {
	return s.attempts.Load()
}

// Close releases the memoized stream, if any.
func (s *Shared) Close() {
	s.mu.Lock()
	st := s.stream
	s.stream = nil
	s.mu.Unlock()

	if st != nil {
		st.Close()
	}
}
