package hub

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/rhythmhub/internal/protocol"
	"github.com/1ureka/rhythmhub/internal/rtc"
	"github.com/1ureka/rhythmhub/internal/util"
)

// Router serves WebRTC signaling, metrics and a read-only view of the hub.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	r.Get("/ws", s.signal)
	r.Handle("/metrics", promhttp.HandlerFor(s.prom, promhttp.HandlerOpts{}))
	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", s.getRooms)
		r.Get("/channels", s.getChannels)
		r.Get("/peers", s.getPeers)
	})
	return r
}

type roomView struct {
	ID         uint32 `json:"id"`
	Name       string `json:"name"`
	Host       string `json:"host"`
	State      string `json:"state"`
	Locked     bool   `json:"locked"`
	NoFail     bool   `json:"noFail"`
	Players    int32  `json:"players"`
	MaxPlayers int32  `json:"maxPlayers"`
	Song       string `json:"song,omitempty"`
}

type channelView struct {
	ID         int32  `json:"id"`
	Name       string `json:"name"`
	State      string `json:"state"`
	Difficulty string `json:"difficulty"`
	Players    int32  `json:"players"`
	Song       string `json:"song,omitempty"`
}

type peerView struct {
	Handle   string  `json:"handle"`
	Name     string  `json:"name"`
	ID       uint64  `json:"id"`
	State    string  `json:"state"`
	Remote   string  `json:"remote"`
	Tickrate float64 `json:"tickrate"`
}

func songName(s *protocol.SongInfo) string {
	if s == nil {
		return ""
	}
	return s.Name
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, render.M{"status": "ok", "version": s.cfg.Version, "peers": s.reg.Len()})
}

func (s *Server) getRooms(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	infos := s.roomList()
	s.mu.Unlock()

	rooms := make([]roomView, len(infos))
	for i, info := range infos {
		rooms[i] = roomView{
			ID:         info.RoomID,
			Name:       info.Name,
			Host:       info.HostName,
			State:      info.State.String(),
			Locked:     info.UsePassword,
			NoFail:     info.NoFail,
			Players:    info.PlayerCount,
			MaxPlayers: info.MaxPlayers,
			Song:       songName(info.SelectedSong),
		}
	}
	render.JSON(w, r, render.M{"rooms": rooms})
}

func (s *Server) getChannels(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	infos := s.channelList()
	s.mu.Unlock()

	channels := make([]channelView, len(infos))
	for i, info := range infos {
		channels[i] = channelView{
			ID:         info.ChannelID,
			Name:       info.Name,
			State:      info.State.String(),
			Difficulty: info.PreferredDifficulty.String(),
			Players:    info.PlayerCount,
			Song:       songName(info.CurrentSong),
		}
	}
	render.JSON(w, r, render.M{"channels": channels})
}

func (s *Server) getPeers(w http.ResponseWriter, r *http.Request) {
	peers := s.reg.Snapshot()

	s.mu.Lock()
	views := make([]peerView, len(peers))
	for i, p := range peers {
		views[i] = peerView{
			Handle:   p.handle.String(),
			Name:     p.info.Name,
			ID:       p.info.ID,
			State:    p.info.State.String(),
			Remote:   p.conn.RemoteAddr(),
			Tickrate: p.Tickrate(),
		}
	}
	s.mu.Unlock()

	render.JSON(w, r, render.M{"peers": views})
}

// signal upgrades to a WebSocket, negotiates a WebRTC link and serves it
// like any other connection.
func (s *Server) signal(w http.ResponseWriter, r *http.Request) {
	ws, err := rtc.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	accepted := s.spawn(func() {
		ctx, cancel := context.WithTimeout(s.ctx, handshakeTimeout)
		link, err := rtc.Accept(ctx, ws, s.cfg.ICEServers)
		cancel()
		if err != nil {
			util.LogWarning("webrtc negotiation with %s failed: %v", ws.RemoteAddr(), err)
			return
		}
		s.Serve(link)
	})
	if !accepted {
		ws.Close()
	}
}
