package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/1ureka/rhythmhub/internal/delivery"
	"github.com/1ureka/rhythmhub/internal/protocol"
	"github.com/1ureka/rhythmhub/internal/util"
)

var errClosedLocally = errors.New("closed locally")

// Options tunes a TCPConn. Zero values select the defaults.
type Options struct {
	MaxFrameSize int           // largest accepted frame body
	SendQueue    int           // frames buffered ahead of the socket
	WriteTimeout time.Duration // per-frame write deadline
	KeepAlive    time.Duration // TCP keepalive period for Dial
}

func (o Options) withDefaults() Options {
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = protocol.MaxFrameSize
	}
	if o.SendQueue <= 0 {
		o.SendQueue = defaultSendQueue
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 15 * time.Second
	}
	return o
}

// TCPConn is a Conn over a byte stream. The stream is reliable and ordered,
// so every channel arrives in send order; unreliable frames differ only in
// being dropped rather than queued when the peer falls behind.
type TCPConn struct {
	conn   net.Conn
	reader *bufio.Reader
	opts   Options
	log    util.Tagged
	sender *sender

	lost     chan struct{}
	lostOnce sync.Once
	err      error
}

// NewTCPConn wraps an established stream and starts its sender.
func NewTCPConn(c net.Conn, opts Options) *TCPConn {
	opts = opts.withDefaults()
	t := &TCPConn{
		conn:   c,
		reader: bufio.NewReaderSize(c, 32*1024),
		opts:   opts,
		log:    util.ConnTag(c.LocalAddr().String(), c.RemoteAddr().String()),
		sender: newSender(opts.SendQueue),
		lost:   make(chan struct{}),
	}
	util.Stats.AddConn()
	go t.sender.loop(t)
	return t
}

// Dial connects to a hub over TCP.
func Dial(ctx context.Context, addr string, opts Options) (*TCPConn, error) {
	opts = opts.withDefaults()
	d := net.Dialer{KeepAlive: opts.KeepAlive}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewTCPConn(c, opts), nil
}

func (t *TCPConn) ReadEnvelope() (delivery.Envelope, error) {
	body, err := ReadFrame(t.reader, t.opts.MaxFrameSize)
	if err != nil {
		t.fail(err)
		return delivery.Envelope{}, t.Err()
	}
	util.Stats.AddRecv(protocol.LengthSize + len(body))
	return delivery.Wrap(body), nil
}

func (t *TCPConn) Send(env delivery.Envelope) *Completion {
	select {
	case <-t.lost:
		return Resolved(t.Err())
	default:
	}

	if len(env.Body) == 0 || len(env.Body) > t.opts.MaxFrameSize {
		return Resolved(fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(env.Body)))
	}

	out := outbound{
		frame:    protocol.AppendFrame(make([]byte, 0, protocol.LengthSize+len(env.Body)), env.Body),
		reliable: env.Reliable(),
		done:     NewCompletion(),
	}
	if t.sender.enqueue(out, t.Err) {
		return out.done
	}

	if !out.reliable {
		out.done.Resolve(ErrSendQueueFull)
		return out.done
	}

	// A reliable frame cannot be dropped, and a peer this far behind is not
	// going to catch up.
	t.log.Warn("send queue full, dropping connection")
	t.fail(ErrSendQueueFull)
	out.done.Resolve(t.Err())
	return out.done
}

func (t *TCPConn) write(frame []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)); err != nil {
		return err
	}
	if _, err := t.conn.Write(frame); err != nil {
		return err
	}
	util.Stats.AddSent(len(frame))
	return nil
}

// fail records the first terminal error and tears the socket down. Later
// calls, including concurrent read and write failures, are no-ops.
func (t *TCPConn) fail(cause error) {
	t.lostOnce.Do(func() {
		if errors.Is(cause, ErrConnectionLost) {
			t.err = cause
		} else {
			t.err = fmt.Errorf("%w: %w", ErrConnectionLost, cause)
		}
		close(t.lost)
		t.conn.Close()
		util.Stats.RemoveConn()

		if errors.Is(cause, errClosedLocally) {
			t.log.Debug("closed")
		} else {
			t.log.Debug("lost: %v", cause)
		}
	})
}

func (t *TCPConn) Lost() <-chan struct{} { return t.lost }

func (t *TCPConn) Err() error {
	select {
	case <-t.lost:
		return t.err
	default:
		return nil
	}
}

func (t *TCPConn) Close() error {
	t.fail(errClosedLocally)
	return nil
}

func (t *TCPConn) RemoteAddr() string { return t.conn.RemoteAddr().String() }

// Tag returns the log tag of this connection.
func (t *TCPConn) Tag() util.Tagged { return t.log }
