// Package hub is the server side: it accepts players over TCP and WebRTC,
// mirrors their state and runs rooms and radio channels.
package hub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/1ureka/rhythmhub/internal/config"
	"github.com/1ureka/rhythmhub/internal/delivery"
	"github.com/1ureka/rhythmhub/internal/event"
	"github.com/1ureka/rhythmhub/internal/metadata"
	"github.com/1ureka/rhythmhub/internal/protocol"
	"github.com/1ureka/rhythmhub/internal/transport"
	"github.com/1ureka/rhythmhub/internal/util"
)

const (
	handshakeTimeout = 10 * time.Second
	refusalLinger    = time.Second
	shutdownTimeout  = 5 * time.Second
)

// ErrRefused is returned by the handshake when a player was turned away.
var ErrRefused = errors.New("handshake refused")

// Server is a hub instance.
type Server struct {
	cfg     config.HubConfig
	songs   metadata.Provider
	reg     *Registry
	prom    *prometheus.Registry
	metrics *metrics
	bus     *event.Bus

	ctx    context.Context
	cancel context.CancelFunc

	workMu  sync.Mutex
	closing bool
	workers sync.WaitGroup

	lnMu  sync.Mutex
	ln    net.Listener
	ready chan struct{}

	mu         sync.Mutex
	rooms      map[uint32]*Room
	nextRoomID uint32
	channels   []*radioChannel
	ids        map[uint64]Handle
	pending    []event.Event
}

// New creates a hub. songs may be nil for an empty library.
func New(cfg config.HubConfig, songs metadata.Provider) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if songs == nil {
		songs = metadata.NewLibrary()
	}

	prom := prometheus.NewRegistry()
	m := newMetrics(prom)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:     cfg,
		songs:   songs,
		reg:     NewRegistry(),
		prom:    prom,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		rooms:   make(map[uint32]*Room),
		ids:     make(map[uint64]Handle),
	}
	s.bus = event.NewBus(func(f *event.Fault) {
		m.faults.Inc()
		event.LogFaults(f)
	})

	for _, cc := range cfg.Channels {
		c, err := newRadioChannel(cc)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("channel %d: %w", cc.ID, err)
		}
		s.channels = append(s.channels, c)
	}
	return s, nil
}

// Events carries RoomsUpdated and ChannelInfo notifications. Handlers run
// after the hub state lock is released.
func (s *Server) Events() *event.Bus { return s.bus }

// Registry returns the connected peers.
func (s *Server) Registry() *Registry { return s.reg }

// Metrics returns the Prometheus registry served on /metrics.
func (s *Server) Metrics() *prometheus.Registry { return s.prom }

// Ready is closed once the TCP listener is up.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the TCP listen address, or nil before Ready.
func (s *Server) Addr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Run serves until ctx is cancelled or Close is called, then waits for
// every connection worker to finish.
func (s *Server) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.cancel)
	defer stop()
	ctx = s.ctx

	lc := net.ListenConfig{KeepAlive: s.cfg.KeepAlive}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.lnMu.Lock()
	s.ln = ln
	s.lnMu.Unlock()
	close(s.ready)
	util.LogSuccess("hub listening on %s (protocol %s)", ln.Addr(), s.cfg.Version)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.acceptLoop(ctx, ln) })
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error { return s.tickLoop(ctx) })

	if s.cfg.HTTPAddr != "" {
		srv := &http.Server{Addr: s.cfg.HTTPAddr, Handler: s.Router()}
		g.Go(func() error {
			util.LogInfo("http listening on %s", s.cfg.HTTPAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	s.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Close stops the hub, disconnects every peer and waits for their workers.
func (s *Server) Close() {
	s.cancel()

	s.workMu.Lock()
	s.closing = true
	s.workMu.Unlock()

	s.workers.Wait()
}

// spawn runs fn as a tracked connection worker unless the hub is closing.
func (s *Server) spawn(fn func()) bool {
	s.workMu.Lock()
	defer s.workMu.Unlock()
	if s.closing {
		return false
	}
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		fn()
	}()
	return true
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	opts := transport.Options{
		SendQueue:    s.cfg.SendQueue,
		WriteTimeout: s.cfg.WriteTimeout,
		KeepAlive:    s.cfg.KeepAlive,
	}
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		conn := transport.NewTCPConn(c, opts)
		if !s.spawn(func() { s.Serve(conn) }) {
			conn.Close()
		}
	}
}

// Serve runs one connection until it is lost, the player leaves or the hub
// stops. It owns conn.
func (s *Server) Serve(conn transport.Conn) {
	defer conn.Close()
	// Closing the connection unblocks the read below.
	stop := context.AfterFunc(s.ctx, func() {
		ctx, cancel := context.WithTimeout(context.Background(), refusalLinger)
		defer cancel()
		conn.Send(delivery.Message(&protocol.Disconnect{Reason: "hub shutting down"})).Wait(ctx)
		conn.Close()
	})
	defer stop()

	p, err := s.handshake(conn)
	if err != nil {
		util.LogDebug("handshake with %s failed: %v", conn.RemoteAddr(), err)
		return
	}
	defer s.disconnect(p)

	s.readLoop(p)
}

func (s *Server) handshake(conn transport.Conn) (*Peer, error) {
	timer := time.AfterFunc(handshakeTimeout, func() { conn.Close() })
	defer timer.Stop()

	env, err := conn.ReadEnvelope()
	if err != nil {
		return nil, err
	}
	_, msg, err := protocol.Decode(protocol.ToHub, env.Body)
	if err != nil {
		s.metrics.malformed.Inc()
		return nil, err
	}
	req, ok := msg.(*protocol.ConnectRequest)
	if !ok {
		return nil, fmt.Errorf("expected %s, got %s", protocol.CmdConnect, msg.Command())
	}

	code, reason, p := s.admit(conn, req)
	if code != protocol.ConnectAccepted {
		s.metrics.refused.WithLabelValues(code.String()).Inc()
		util.LogInfo("refused %q from %s: %s", req.PlayerName, conn.RemoteAddr(), reason)
		ctx, cancel := context.WithTimeout(s.ctx, refusalLinger)
		defer cancel()
		conn.Send(delivery.Message(&protocol.ConnectResult{Code: code, Reason: reason})).Wait(ctx)
		return nil, fmt.Errorf("%w: %s", ErrRefused, reason)
	}

	p.send(&protocol.ConnectResult{Code: protocol.ConnectAccepted})
	p.log.Info("%s connected from %s (id %d)", req.PlayerName, conn.RemoteAddr(), req.PlayerID)
	return p, nil
}

// admit checks a handshake and registers the player. The id and capacity
// checks share the state lock with registration.
func (s *Server) admit(conn transport.Conn, req *protocol.ConnectRequest) (protocol.ConnectCode, string, *Peer) {
	if req.Version != s.cfg.Version {
		return protocol.ConnectVersionMismatch,
			fmt.Sprintf("hub speaks version %s, client sent %s", s.cfg.Version, req.Version), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[req.PlayerID]; dup {
		return protocol.ConnectDuplicateID, fmt.Sprintf("player id %d is already connected", req.PlayerID), nil
	}
	if s.reg.Len() >= s.cfg.MaxPlayers {
		return protocol.ConnectServerFull, "hub is full", nil
	}

	p := newPeer(conn, req, rate.Limit(s.cfg.MalformedPerSecond), s.cfg.MalformedBurst, s.metrics)
	h := s.reg.Add(p)
	p.log = util.Tagged(h.String())
	s.ids[req.PlayerID] = h
	s.metrics.peers.Inc()
	return protocol.ConnectAccepted, "", p
}

func (s *Server) readLoop(p *Peer) {
	for {
		env, err := p.conn.ReadEnvelope()
		if err != nil {
			p.log.Info("connection closed: %v", err)
			return
		}
		if env.Channel != delivery.ChannelVoice {
			p.monitor.Observe(time.Now())
		}

		cmd, msg, err := protocol.Decode(protocol.ToHub, env.Body)
		if err != nil {
			s.metrics.malformed.Inc()
			p.log.Debug("dropping frame: %v", err)
			if !p.malformed.Allow() {
				p.log.Warn("too many malformed frames, disconnecting")
				return
			}
			continue
		}
		s.metrics.framesIn.WithLabelValues(cmd.String()).Inc()

		if d, ok := msg.(*protocol.Disconnect); ok {
			p.log.Info("disconnected: %s", d.Reason)
			return
		}
		s.locked(func() { s.handle(p, msg) })
	}
}

// handle applies one frame from p. It runs with s.mu held.
func (s *Server) handle(p *Peer, msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.ConnectRequest:
		p.log.Warn("ignoring repeated handshake")
	case *protocol.GetRooms:
		p.send(&protocol.RoomList{Rooms: s.roomList()})
	case *protocol.CreateRoom:
		s.createRoom(p, m.Settings)
	case *protocol.JoinRoom:
		s.joinRoom(p, m)
	case *protocol.GetRoomInfo:
		s.sendRoomInfoTo(p)
	case *protocol.LeaveRoom:
		s.leaveRoom(p)
	case *protocol.DestroyRoom:
		s.destroyRoom(p)
	case *protocol.TransferHost:
		s.transferHost(p, m.PlayerID)
	case *protocol.SetSelectedSong:
		s.selectSong(p, m.Song)
	case *protocol.StartLevel:
		s.startLevel(p, m)
	case *protocol.UpdatePlayerInfo:
		s.updatePlayer(p, m.Players)
	case *protocol.PlayerReady:
		s.playerReady(p, m.Ready)
	case *protocol.SetGameState:
		s.setGameState(p, m.InGame)
	case *protocol.SendEventMessage:
		s.relay(p, m)
	case *protocol.GetChannelInfo:
		s.sendChannelInfo(p, m.ChannelID)
	case *protocol.JoinChannel:
		s.joinChannel(p, m.ChannelID)
	case *protocol.LeaveChannel:
		s.leaveChannel(p)
	case *protocol.GetSongDuration:
		s.songs.SetDuration(m.Song.LevelID, m.Song.Duration)
	case *protocol.UpdateVoIPData:
		m.Fragment.PlayerID = p.info.ID
		s.relay(p, m)
	case *protocol.GetRandomSongInfo:
		song, _ := s.songs.Random()
		p.send(&protocol.RandomSong{Song: song})
	case *protocol.DisplayMessage:
		p.log.Debug("ignoring %s from a client", m.Command())
	}
}

// updatePlayer copies the telemetry part of a player's own snapshot into
// the mirror. Identity and state stay as the hub knows them.
func (s *Server) updatePlayer(p *Peer, players []protocol.PlayerInfo) {
	var own *protocol.PlayerInfo
	for i := range players {
		if players[i].ID == p.info.ID {
			own = &players[i]
			break
		}
	}
	if own == nil {
		return
	}
	info := own.Clone()
	info.Name, info.ID, info.State = p.info.Name, p.info.ID, p.info.State

	// Hits not yet broadcast this tick are kept, newest last.
	if pending := p.info.Hits; len(pending) > 0 {
		info.Hits = append(pending, info.Hits...)
		if n := len(info.Hits) - protocol.MaxHits; n > 0 {
			info.Hits = info.Hits[n:]
		}
	}
	p.info = info
}

// disconnect releases everything p held. It runs once per peer.
func (s *Server) disconnect(p *Peer) {
	s.locked(func() {
		s.leaveCurrent(p)
		if s.ids[p.info.ID] == p.handle {
			delete(s.ids, p.info.ID)
		}
	})
	if !s.reg.Remove(p.handle) {
		s.violation(p, "peer was already removed from the registry")
		return
	}
	s.metrics.peers.Dec()
	p.conn.Close()
}

func (s *Server) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.tick(now)
		case <-ctx.Done():
			return nil
		}
	}
}

// tick broadcasts telemetry, advances radio channels and drops idle peers.
func (s *Server) tick(now time.Time) {
	s.locked(func() {
		for _, r := range s.rooms {
			broadcastTelemetry(r.members)
		}
		for _, c := range s.channels {
			broadcastTelemetry(c.members)
			if c.advance(now, s) {
				s.channelChanged(c)
			}
		}
	})

	if s.cfg.IdleTimeout <= 0 {
		return
	}
	s.reg.Range(func(p *Peer) bool {
		if p.monitor.Idle(now, s.cfg.IdleTimeout) {
			p.log.Warn("no traffic for %s, disconnecting", s.cfg.IdleTimeout)
			p.conn.Close()
		}
		return true
	})
}

// broadcastTelemetry sends the members' snapshots to each of them on the
// telemetry channel. Hits are sent once.
func broadcastTelemetry(members []*Peer) {
	if len(members) == 0 {
		return
	}
	players := make([]protocol.PlayerInfo, len(members))
	for i, m := range members {
		players[i] = m.info.Clone()
		m.info.Hits = nil
	}
	msg := &protocol.UpdatePlayerInfo{Players: players}
	for _, m := range members {
		m.send(msg)
	}
}

// locked runs fn with the state lock held, then publishes the events fn
// queued.
func (s *Server) locked(fn func()) {
	s.mu.Lock()
	fn()
	events := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, ev := range events {
		s.bus.Publish(ev.Kind, ev.Payload)
	}
}

// publish queues an event. It requires s.mu.
func (s *Server) publish(kind event.Kind, payload any) {
	s.pending = append(s.pending, event.Event{Kind: kind, Payload: payload})
}

// violation reports a broken hub invariant: a panic in debug builds, a
// forced disconnect otherwise.
func (s *Server) violation(p *Peer, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if s.cfg.Debug {
		panic("hub invariant violated: " + msg)
	}
	p.log.Error("invariant violated: %s", msg)
	p.conn.Close()
}
