package session

import (
	"strings"
	"sync"
	"time"

	"github.com/1ureka/rhythmhub/internal/delivery"
	"github.com/1ureka/rhythmhub/internal/protocol"
	"github.com/1ureka/rhythmhub/internal/transport"
	"github.com/1ureka/rhythmhub/internal/util"
)

// InboundKind distinguishes frames from connection status changes.
type InboundKind uint8

const (
	InboundData InboundKind = iota
	InboundStatus
)

// Status is a connection status change.
type Status uint8

const (
	StatusConnected Status = iota // handshake accepted
	StatusRefused                 // handshake refused, Reason says why
	StatusLost                    // transport failed or closed
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusRefused:
		return "refused"
	case StatusLost:
		return "lost"
	}
	return "unknown"
}

// Inbound is one item of a polled batch.
type Inbound struct {
	Kind   InboundKind
	Env    delivery.Envelope // InboundData
	Status Status            // InboundStatus
	Reason string            // InboundStatus
	At     time.Time         // arrival time
}

// Link is the poll-based view of a connection the tick loop works with.
// None of its methods block on network I/O.
type Link interface {
	// Poll drains everything received since the previous call.
	Poll() []Inbound
	// Send queues a frame until the next Flush.
	Send(env delivery.Envelope)
	// Flush submits queued frames to the transport.
	Flush() error
	// ActiveConnections is 0 once the underlying connection is gone.
	ActiveConnections() int
	Close() error
}

// QueueLink adapts a blocking transport.Conn to Link. A reader goroutine
// collects frames into a queue that the tick loop drains, and translates
// the hub's handshake answer into a status change.
type QueueLink struct {
	conn transport.Conn

	mu      sync.Mutex
	queue   []Inbound
	pending []delivery.Envelope
	last    *transport.Completion

	done      chan struct{} // reader exited
	closed    chan struct{} // connection released
	closeOnce sync.Once
}

// NewQueueLink starts reading from conn.
func NewQueueLink(conn transport.Conn) *QueueLink {
	l := &QueueLink{conn: conn, done: make(chan struct{}), closed: make(chan struct{})}
	go l.readLoop()
	return l
}

func (l *QueueLink) readLoop() {
	defer close(l.done)

	for {
		env, err := l.conn.ReadEnvelope()
		if err != nil {
			reason := strings.TrimPrefix(err.Error(), transport.ErrConnectionLost.Error()+": ")
			l.push(Inbound{Kind: InboundStatus, Status: StatusLost, Reason: reason, At: time.Now()})
			return
		}

		if cmd, _ := protocol.Peek(env.Body); cmd == protocol.CmdConnect {
			l.push(handshakeStatus(env.Body))
			continue
		}
		l.push(Inbound{Kind: InboundData, Env: env, At: time.Now()})
	}
}

func handshakeStatus(body []byte) Inbound {
	in := Inbound{Kind: InboundStatus, At: time.Now()}
	_, msg, err := protocol.Decode(protocol.ToClient, body)
	if err != nil {
		in.Status = StatusRefused
		in.Reason = "unreadable handshake answer: " + err.Error()
		return in
	}

	res := msg.(*protocol.ConnectResult)
	if res.Code == protocol.ConnectAccepted {
		in.Status = StatusConnected
		return in
	}
	in.Status = StatusRefused
	in.Reason = res.Reason
	if in.Reason == "" {
		in.Reason = res.Code.String()
	}
	return in
}

func (l *QueueLink) push(in Inbound) {
	l.mu.Lock()
	l.queue = append(l.queue, in)
	l.mu.Unlock()
}

func (l *QueueLink) Poll() []Inbound {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}

func (l *QueueLink) Send(env delivery.Envelope) {
	l.mu.Lock()
	l.pending = append(l.pending, env)
	l.mu.Unlock()
}

// Flush hands every queued frame to the transport. Completions are not
// awaited; a failed write surfaces as StatusLost on a later Poll.
func (l *QueueLink) Flush() error {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()

	var last *transport.Completion
	for _, env := range pending {
		last = l.conn.Send(env)
	}
	if last != nil {
		l.mu.Lock()
		l.last = last
		l.mu.Unlock()
	}
	return l.conn.Err()
}

func (l *QueueLink) ActiveConnections() int {
	if l.conn.Err() != nil {
		return 0
	}
	return 1
}

// Clear drops received frames that have not been polled yet. Status changes
// are kept.
func (l *QueueLink) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.queue[:0]
	for _, in := range l.queue {
		if in.Kind == InboundStatus {
			kept = append(kept, in)
		}
	}
	l.queue = kept
}

// Close releases the connection in the background and returns at once. The
// last flushed frame gets a moment to leave first; Closed reports when the
// connection is gone.
func (l *QueueLink) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		last := l.last
		l.mu.Unlock()
		go l.shutdown(last)
	})
	return nil
}

// Closed is closed once the connection is released and the reader exited.
func (l *QueueLink) Closed() <-chan struct{} { return l.closed }

func (l *QueueLink) shutdown(last *transport.Completion) {
	defer close(l.closed)

	if last != nil {
		select {
		case <-last.Done():
		case <-time.After(250 * time.Millisecond):
		}
	}

	if err := l.conn.Close(); err != nil {
		util.LogDebug("closing link: %v", err)
	}
	select {
	case <-l.done:
	case <-time.After(time.Second):
		util.LogWarning("link reader did not exit after close")
	}
}
