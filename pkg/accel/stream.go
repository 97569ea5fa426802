package accel

import (
	"errors"
	"sync"
)

// ErrStreamClosed is returned when submitting to a closed stream
var ErrStreamClosed = errors.New("accel: stream closed")

// Stream is an ordered asynchronous work queue with the semantics of a device
// command stream: Submit returns as soon as the work is queued, Synchronize
// blocks until everything queued so far has run.
type Stream struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	pending int // queued plus running
	closed  bool
}

// NewStream starts a stream with a single worker
func NewStream() *Stream {
	s := &Stream{}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

func (s *Stream) loop() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()

		s.mu.Lock()
		s.pending--
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

// Submit queues fn and returns immediately
func (s *Stream) Submit(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStreamClosed
	}
	s.queue = append(s.queue, fn)
	s.pending++
	s.cond.Broadcast()
	return nil
}

// Synchronize blocks until all submitted work has completed
func (s *Stream) Synchronize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.pending > 0 {
		s.cond.Wait()
	}
	return nil
}

// Pending returns the amount of queued or running work
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Close drains queued work and stops the worker. Further submits fail.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	return s.Synchronize()
}
