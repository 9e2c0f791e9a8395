package hub

import (
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/1ureka/rhythmhub/internal/delivery"
	"github.com/1ureka/rhythmhub/internal/liveness"
	"github.com/1ureka/rhythmhub/internal/protocol"
	"github.com/1ureka/rhythmhub/internal/transport"
	"github.com/1ureka/rhythmhub/internal/util"
)

// Peer is the hub's mirror of one connected player. Fields below the
// separator are guarded by Server.mu.
type Peer struct {
	handle    Handle
	conn      transport.Conn
	log       util.Tagged
	monitor   liveness.Monitor
	malformed *rate.Limiter
	metrics   *metrics
	joined    time.Time

	// guarded by Server.mu
	info    protocol.PlayerInfo
	ready   bool
	isHost  bool
	room    *Room
	channel *radioChannel
}

func newPeer(conn transport.Conn, req *protocol.ConnectRequest, limit rate.Limit, burst int, m *metrics) *Peer {
	p := &Peer{
		conn:      conn,
		malformed: rate.NewLimiter(limit, burst),
		metrics:   m,
		joined:    time.Now(),
		info: protocol.PlayerInfo{
			Name:  req.PlayerName,
			ID:    req.PlayerID,
			State: protocol.PlayerLobby,
		},
	}
	p.monitor.Touch(p.joined)
	return p
}

// Handle returns the peer's registry handle.
func (p *Peer) Handle() Handle { return p.handle }

// ID returns the player id sent in the handshake.
func (p *Peer) ID() uint64 { return p.info.ID }

// Tickrate is the peer's measured inbound pace.
func (p *Peer) Tickrate() float64 { return p.monitor.Tickrate() }

// send never blocks. A frame the peer cannot take is dropped or, on the
// control channel, costs the peer its connection.
func (p *Peer) send(msg protocol.Message) {
	env := delivery.Message(msg)
	done := p.conn.Send(env)
	p.metrics.framesOut.WithLabelValues(msg.Command().String()).Inc()
	select {
	case <-done.Done():
		if errors.Is(done.Err(), transport.ErrSendQueueFull) {
			p.metrics.sendDrops.WithLabelValues(env.Channel.String()).Inc()
		}
	default:
	}
}
