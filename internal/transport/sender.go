package transport

import (
	"sync"
)

const defaultSendQueue = 256

type outbound struct {
	frame    []byte
	reliable bool
	done     *Completion
}

// sender is the single-writer goroutine of a TCPConn. All writes to the
// socket go through it, so frames never interleave and a slow peer only
// ever stalls its own sender.
type sender struct {
	inbox chan outbound

	mu     sync.Mutex
	closed bool
}

func newSender(size int) *sender {
	if size <= 0 {
		size = defaultSendQueue
	}
	return &sender{inbox: make(chan outbound, size)}
}

// enqueue hands a frame to the loop without blocking. It returns false if
// the inbox is full; a stopped sender resolves the completion itself.
func (s *sender) enqueue(out outbound, stoppedErr func() error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		out.done.Resolve(stoppedErr())
		return true
	}
	select {
	case s.inbox <- out:
		return true
	default:
		return false
	}
}

// loop drains the inbox until the connection is lost, then fails whatever is
// still queued.
func (s *sender) loop(c *TCPConn) {
	defer s.stop(c)

	for {
		select {
		case out := <-s.inbox:
			err := c.write(out.frame)
			out.done.Resolve(err)
			if err != nil {
				c.fail(err)
				return
			}
		case <-c.lost:
			return
		}
	}
}

func (s *sender) stop(c *TCPConn) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := c.Err()
	for {
		select {
		case out := <-s.inbox:
			out.done.Resolve(err)
		default:
			return
		}
	}
}
