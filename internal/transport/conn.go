// Package transport turns byte streams into frames and back. Every link kind
// (TCP here, WebRTC in package rtc) implements Conn.
package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/1ureka/rhythmhub/internal/delivery"
)

var (
	// ErrConnectionLost is the single terminal signal of a connection: a read
	// or write failed, the peer went away, or the connection was closed.
	ErrConnectionLost = errors.New("connection lost")

	// ErrSendQueueFull is reported on the completion of an unreliable frame
	// dropped because the peer is not draining fast enough. A reliable frame
	// that hits a full queue loses the connection with this cause.
	ErrSendQueueFull = errors.New("send queue full")

	// ErrFrameTooLarge reports a length prefix outside (0, max]. On read it is
	// terminal, as the stream can no longer be trusted.
	ErrFrameTooLarge = errors.New("frame length out of range")
)

// Conn is a framed, channel-aware connection.
type Conn interface {
	// ReadEnvelope blocks until the next frame arrives. Only one goroutine
	// may read at a time. Any error is final and wraps ErrConnectionLost.
	ReadEnvelope() (delivery.Envelope, error)

	// Send submits a frame and never blocks. The returned completion resolves
	// exactly once with the outcome of that write.
	Send(env delivery.Envelope) *Completion

	// Lost is closed exactly once, when the connection ends for any reason.
	Lost() <-chan struct{}

	// Err returns why the connection ended, or nil while it is alive.
	Err() error

	// Close ends the connection and unblocks a pending ReadEnvelope.
	Close() error

	RemoteAddr() string
}

// Completion tracks the outcome of one submitted write.
type Completion struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewCompletion returns an unresolved completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolved returns a completion that already carries err.
func Resolved(err error) *Completion {
	c := NewCompletion()
	c.Resolve(err)
	return c
}

// Resolve records the outcome. Only the first call has an effect.
func (c *Completion) Resolve(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Done is closed once the write has finished or failed.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Err returns the outcome once Done is closed, nil before.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the write resolves or ctx ends.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
