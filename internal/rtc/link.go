package rtc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rhythmhub/internal/delivery"
	"github.com/1ureka/rhythmhub/internal/protocol"
	"github.com/1ureka/rhythmhub/internal/transport"
	"github.com/1ureka/rhythmhub/internal/util"
)

const (
	seqSize   = 4
	inboxSize = 1024
)

var _ transport.Conn = (*Link)(nil)

var (
	errClosedLocally = errors.New("closed locally")
	errInboxFull     = errors.New("receive queue full")
)

// Link is a transport.Conn over one PeerConnection. Control frames travel
// as-is on the reliable lane; telemetry and voice frames carry a
// little-endian uint32 sequence prefix and pass through a Sequencer on
// receipt, so a late frame is dropped rather than applied out of order.
type Link struct {
	pc    *webrtc.PeerConnection
	dcs   [delivery.NumChannels]*webrtc.DataChannel
	lanes [delivery.NumChannels]*sender

	stamp delivery.Stamp
	seq   delivery.Sequencer
	inbox chan delivery.Envelope

	ready     chan struct{}
	openCount int
	openMu    sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	lost     chan struct{}
	lostOnce sync.Once
	err      error

	remote string
}

// newLink creates the PeerConnection and its lanes. Signaling is done by
// the caller (see Accept and Dial).
func newLink(ctx context.Context, iceServers []string) (*Link, error) {
	pc, err := newPeerConnection(iceServers)
	if err != nil {
		return nil, fmt.Errorf("create PeerConnection: %w", err)
	}
	dcs, err := openChannels(pc)
	if err != nil {
		pc.Close()
		return nil, err
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &Link{
		pc:     pc,
		dcs:    dcs,
		inbox:  make(chan delivery.Envelope, inboxSize),
		ready:  make(chan struct{}),
		ctx:    lctx,
		cancel: cancel,
		lost:   make(chan struct{}),
		remote: "webrtc",
	}

	for i, dc := range dcs {
		ch := delivery.Channel(i)
		open := make(chan struct{})
		var openOnce sync.Once
		dc.OnOpen(func() {
			openOnce.Do(func() {
				close(open)
				l.laneOpened()
			})
		})
		dc.OnClose(func() {
			l.fail(fmt.Errorf("%s channel closed", ch))
		})
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			l.receive(ch, msg.Data)
		})
		l.lanes[i] = newSender(lctx, dc, open, l.Err, l.fail)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state)
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			l.fail(fmt.Errorf("peer connection %s", state))
		}
	})

	util.Stats.AddConn()
	return l, nil
}

func (l *Link) laneOpened() {
	l.openMu.Lock()
	defer l.openMu.Unlock()
	l.openCount++
	if l.openCount == delivery.NumChannels {
		close(l.ready)
	}
}

// Ready is closed once every lane is open.
func (l *Link) Ready() <-chan struct{} { return l.ready }

// receive runs on pion's read goroutine and must not block.
func (l *Link) receive(ch delivery.Channel, data []byte) {
	env, ok := decodeLane(ch, data)
	if !ok {
		util.LogDebug("dropping short %s message (%d bytes)", ch, len(data))
		return
	}
	if !l.seq.Accept(env) {
		return
	}
	util.Stats.AddRecv(len(data))

	select {
	case l.inbox <- env:
	default:
		if env.Reliable() {
			l.fail(errInboxFull)
		}
	}
}

// decodeLane turns a lane message into an envelope. The body is copied;
// pion reuses its buffers.
func decodeLane(ch delivery.Channel, data []byte) (delivery.Envelope, bool) {
	env := delivery.Envelope{Class: delivery.ReliableOrdered, Channel: ch}
	if ch != delivery.ChannelControl {
		if len(data) < seqSize+1 {
			return env, false
		}
		env.Class = delivery.UnreliableSequenced
		env.Seq = binary.LittleEndian.Uint32(data)
		data = data[seqSize:]
	}
	if len(data) == 0 {
		return env, false
	}
	env.Body = append([]byte(nil), data...)
	return env, true
}

// encodeLane is the inverse of decodeLane.
func encodeLane(env delivery.Envelope) []byte {
	if env.Reliable() {
		return append([]byte(nil), env.Body...)
	}
	out := make([]byte, seqSize, seqSize+len(env.Body))
	binary.LittleEndian.PutUint32(out, env.Seq)
	return append(out, env.Body...)
}

func (l *Link) ReadEnvelope() (delivery.Envelope, error) {
	// Frames that arrived before the link was lost are still delivered.
	select {
	case env := <-l.inbox:
		return env, nil
	default:
	}
	select {
	case env := <-l.inbox:
		return env, nil
	case <-l.lost:
		return delivery.Envelope{}, l.Err()
	}
}

func (l *Link) Send(env delivery.Envelope) *transport.Completion {
	select {
	case <-l.lost:
		return transport.Resolved(l.Err())
	default:
	}
	if len(env.Body) == 0 || len(env.Body) > protocol.MaxFrameSize {
		return transport.Resolved(fmt.Errorf("%w: %d bytes", transport.ErrFrameTooLarge, len(env.Body)))
	}
	if int(env.Channel) >= delivery.NumChannels {
		return transport.Resolved(fmt.Errorf("unknown channel %d", env.Channel))
	}

	env = l.stamp.Apply(env)
	out := outbound{data: encodeLane(env), done: transport.NewCompletion()}
	if l.lanes[env.Channel].trySend(out) {
		return out.done
	}

	if !env.Reliable() {
		out.done.Resolve(transport.ErrSendQueueFull)
		return out.done
	}
	l.fail(transport.ErrSendQueueFull)
	out.done.Resolve(l.Err())
	return out.done
}

func (l *Link) fail(cause error) {
	l.lostOnce.Do(func() {
		l.err = fmt.Errorf("%w: %w", transport.ErrConnectionLost, cause)
		close(l.lost)
		l.cancel()
		go l.pc.Close()
		util.Stats.RemoveConn()
		if !errors.Is(cause, errClosedLocally) {
			util.LogDebug("webrtc link lost: %v", cause)
		}
	})
}

func (l *Link) Lost() <-chan struct{} { return l.lost }

func (l *Link) Err() error {
	select {
	case <-l.lost:
		return l.err
	default:
		return nil
	}
}

func (l *Link) Close() error {
	l.fail(errClosedLocally)
	return nil
}

func (l *Link) RemoteAddr() string { return l.remote }

// Dropped returns how many stale frames ch has discarded.
func (l *Link) Dropped(ch delivery.Channel) uint64 { return l.seq.Dropped(ch) }
