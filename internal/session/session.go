// Package session is the client-side session state machine. A Session is
// driven by an external tick loop: each Tick drains one batch of inbound
// frames, advances the state and flushes queued outbound frames. Only one
// Session should be active per process; callers own that constraint.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/1ureka/rhythmhub/internal/delivery"
	"github.com/1ureka/rhythmhub/internal/event"
	"github.com/1ureka/rhythmhub/internal/liveness"
	"github.com/1ureka/rhythmhub/internal/protocol"
	"github.com/1ureka/rhythmhub/internal/transport"
	"github.com/1ureka/rhythmhub/internal/util"
)

// State is the client lifecycle state.
type State uint32

const (
	Disconnected State = iota
	Connecting
	Connected
	InLobby
	InRoom
	InGame
)

var stateNames = [...]string{"Disconnected", "Connecting", "Connected", "InLobby", "InRoom", "InGame"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

var (
	// ErrHandshakeRefused is wrapped by RefusedError.
	ErrHandshakeRefused = errors.New("handshake refused")

	// ErrNotConnected is returned by actions that need a live session.
	ErrNotConnected = errors.New("session not connected")

	// ErrNotHost is returned by host-only actions.
	ErrNotHost = errors.New("not the room host")

	// ErrEnded is returned by Connect on a session that already ended.
	ErrEnded = errors.New("session ended")

	// ErrInRoom is returned by joins and creates while already in a room or
	// channel. Leave first.
	ErrInRoom = errors.New("already in a room")
)

// RefusedError carries the hub's reason for refusing the handshake.
type RefusedError struct {
	Reason string
}

func (e *RefusedError) Error() string { return "handshake refused: " + e.Reason }

func (e *RefusedError) Unwrap() error { return ErrHandshakeRefused }

// TelemetrySource supplies the live player snapshot, once per tick while in
// game.
type TelemetrySource interface {
	Snapshot() protocol.PlayerInfo
}

// VoiceSource supplies captured voice fragments.
type VoiceSource interface {
	Capture() []protocol.VoipFragment
}

// VoiceSink plays received voice fragments.
type VoiceSink interface {
	Play(protocol.VoipFragment)
}

// Options configures a Session.
type Options struct {
	PlayerName string
	PlayerID   uint64
	Version    string

	// Telemetry is consumed every tick while in game when AutoSendTelemetry
	// is set.
	Telemetry         TelemetrySource
	AutoSendTelemetry bool

	VoiceIn  VoiceSource
	VoiceOut VoiceSink

	// Heartbeat resends the player snapshot when nothing else went out for
	// this long, in every connected state. Zero disables it.
	Heartbeat time.Duration

	Now func() time.Time
}

// Session is one client connection's lifecycle, from Connect until the
// session ends. It is never reused; dial a new link for a new session.
//
// Tick and the actions must be called from one goroutine. State, IsHost and
// Err may be read from anywhere.
type Session struct {
	link Link
	bus  *event.Bus
	opts Options

	state   atomic.Uint32
	isHost  atomic.Bool
	created bool // RoomCreated seen, join ack pending
	radio   bool
	player  protocol.PlayerInfo

	lastSent time.Time

	monitor   liveness.Monitor
	malformed int
	everUp    bool

	ended  atomic.Bool
	endErr atomic.Pointer[error]
}

// New creates a disconnected session over link. Lifecycle notifications go
// to bus.
func New(link Link, bus *event.Bus, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Version == "" {
		opts.Version = "unknown"
	}
	return &Session{
		link: link,
		bus:  bus,
		opts: opts,
		player: protocol.PlayerInfo{
			Name:  opts.PlayerName,
			ID:    opts.PlayerID,
			State: protocol.PlayerLobby,
		},
	}
}

func (s *Session) State() State      { return State(s.state.Load()) }
func (s *Session) setState(st State) { s.state.Store(uint32(st)) }

// IsHost reports whether this player hosts its current room.
func (s *Session) IsHost() bool { return s.isHost.Load() }

// InRadioMode reports whether the current room is a radio channel.
func (s *Session) InRadioMode() bool { return s.radio }

// Player returns a copy of the owned player snapshot.
func (s *Session) Player() protocol.PlayerInfo { return s.player.Clone() }

// Tickrate returns the measured inbound frame rate.
func (s *Session) Tickrate() float64 { return s.monitor.Tickrate() }

// Malformed returns the number of dropped undecodable frames.
func (s *Session) Malformed() int { return s.malformed }

// Ended reports whether the session has ended.
func (s *Session) Ended() bool { return s.ended.Load() }

// Err returns why the session ended: a *RefusedError, a transport error, or
// nil for an orderly end or a session still running.
func (s *Session) Err() error {
	if p := s.endErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Tick processes one batch. Updates to the player list are special-cased:
// only the newest UpdatePlayerInfo of the batch is dispatched, and it goes
// before everything else in the batch.
func (s *Session) Tick() {
	if s.Ended() {
		return
	}

	batch := s.link.Poll()

	latestInfo := -1
	for i, in := range batch {
		if in.Kind == InboundData && in.Env.Channel != delivery.ChannelVoice {
			s.monitor.Observe(arrival(in, s.opts.Now))
		}
		if isPlayerInfo(in) {
			latestInfo = i
		}
	}

	if latestInfo >= 0 {
		s.process(batch[latestInfo])
	}
	for _, in := range batch {
		if s.Ended() {
			return
		}
		if isPlayerInfo(in) {
			continue
		}
		s.process(in)
	}

	if s.Ended() {
		return
	}
	if s.everUp && s.link.ActiveConnections() == 0 {
		s.end(fmt.Errorf("%w: no active connections", transport.ErrConnectionLost))
		return
	}

	s.produce()

	if err := s.link.Flush(); err != nil {
		s.end(err)
	}
}

// Run ticks every interval until ctx ends or the session ends.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick()
			if s.Ended() {
				return s.Err()
			}
		case <-ctx.Done():
			s.Disconnect()
			return ctx.Err()
		}
	}
}

// produce queues this tick's telemetry and voice.
func (s *Session) produce() {
	st := s.State()
	if st == InGame && s.opts.AutoSendTelemetry && s.opts.Telemetry != nil {
		snap := s.opts.Telemetry.Snapshot()
		snap.Name, snap.ID, snap.State = s.player.Name, s.player.ID, s.player.State
		s.player = snap
		s.SendPlayerInfo()
	}
	if (st == InRoom || st == InGame) && s.opts.VoiceIn != nil {
		for _, f := range s.opts.VoiceIn.Capture() {
			s.SendVoIP(f)
		}
	}
	if s.opts.Heartbeat > 0 && st >= Connected && s.opts.Now().Sub(s.lastSent) >= s.opts.Heartbeat {
		s.SendPlayerInfo()
	}
}

func isPlayerInfo(in Inbound) bool {
	if in.Kind != InboundData {
		return false
	}
	cmd, ok := protocol.Peek(in.Env.Body)
	return ok && cmd == protocol.CmdUpdatePlayerInfo
}

func arrival(in Inbound, now func() time.Time) time.Time {
	if in.At.IsZero() {
		return now()
	}
	return in.At
}

// end moves to Disconnected and notifies subscribers once with an absent
// payload. Later calls are no-ops.
func (s *Session) end(cause error) {
	if !s.ended.CompareAndSwap(false, true) {
		return
	}
	if cause != nil {
		s.endErr.Store(&cause)
		util.LogInfo("session ended: %v", cause)
	} else {
		util.LogInfo("session ended")
	}

	s.setState(Disconnected)
	s.isHost.Store(false)
	s.created = false
	s.radio = false
	s.player.State = protocol.PlayerLobby
	s.link.Close()

	s.bus.Publish(event.KindFrame, nil)
	s.bus.Publish(event.KindDisconnected, nil)
}
