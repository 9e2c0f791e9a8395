package app

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/1ureka/rhythmhub/internal/config"
	"github.com/1ureka/rhythmhub/internal/event"
	"github.com/1ureka/rhythmhub/internal/protocol"
	"github.com/1ureka/rhythmhub/internal/rtc"
	"github.com/1ureka/rhythmhub/internal/session"
	"github.com/1ureka/rhythmhub/internal/transport"
	"github.com/1ureka/rhythmhub/internal/util"
)

// BotOptions selects what a headless client does once connected. With
// nothing set it only lists rooms.
type BotOptions struct {
	CreateRoom string // room name to create
	JoinRoom   uint32 // room id to join
	Password   string
	Channel    int32 // radio channel to join; negative for none
}

// RunClient connects to a hub and drives a session until ctx ends or the
// session does:
//  1. Dial the hub over TCP or WebRTC
//  2. Handshake
//  3. Create or join a room (or a radio channel)
//  4. Tick, sending synthetic telemetry while in a level
func RunClient(ctx context.Context, cfg config.ClientConfig, opts BotOptions) error {
	if cfg.PlayerID == 0 {
		cfg.PlayerID = randomID()
	}

	conn, err := dial(ctx, cfg)
	if err != nil {
		return err
	}

	bus := event.NewBus(nil)
	telemetry := &syntheticTelemetry{start: time.Now()}
	link := session.NewQueueLink(conn)
	s := session.New(link, bus, session.Options{
		PlayerName:        cfg.PlayerName,
		PlayerID:          cfg.PlayerID,
		Version:           cfg.Version,
		Telemetry:         telemetry,
		AutoSendTelemetry: true,
		Heartbeat:         cfg.Heartbeat,
	})
	watch(s, bus, opts)

	if err := s.Connect(); err != nil {
		return err
	}
	util.StartStatsReporter(ctx, 10*time.Second)

	err = s.Run(ctx, cfg.TickInterval)
	select {
	case <-link.Closed():
	case <-time.After(2 * time.Second):
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func dial(ctx context.Context, cfg config.ClientConfig) (transport.Conn, error) {
	switch cfg.Transport {
	case config.TransportWebRTC:
		util.LogInfo("negotiating WebRTC link via %s", cfg.SignalURL)
		dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return rtc.Dial(dialCtx, cfg.SignalURL, cfg.ICEServers)
	default:
		util.LogInfo("connecting to %s", cfg.HubAddr)
		return transport.Dial(ctx, cfg.HubAddr, transport.Options{})
	}
}

// watch wires the bot's reactions to session events. Handlers run on the
// tick goroutine.
func watch(s *session.Session, bus *event.Bus, opts BotOptions) {
	bus.Subscribe(event.KindConnected, func(event.Event) error {
		switch {
		case opts.Channel >= 0:
			return s.JoinChannel(opts.Channel)
		case opts.CreateRoom != "":
			return s.CreateRoom(protocol.RoomSettings{
				Name:        opts.CreateRoom,
				UsePassword: opts.Password != "",
				Password:    opts.Password,
			})
		case opts.JoinRoom != 0:
			return s.JoinRoom(opts.JoinRoom, opts.Password)
		}
		return s.GetRooms()
	})

	bus.Subscribe(event.KindRoomsUpdated, func(ev event.Event) error {
		list := ev.Payload.(*protocol.RoomList)
		util.LogInfo("%d rooms open", len(list.Rooms))
		for _, r := range list.Rooms {
			util.LogInfo("  #%d %q host=%s players=%d/%d state=%s",
				r.RoomID, r.Name, r.HostName, r.PlayerCount, r.MaxPlayers, r.State)
		}
		return nil
	})

	bus.Subscribe(event.KindJoinedRoom, func(event.Event) error {
		util.LogSuccess("joined (host=%t, radio=%t)", s.IsHost(), s.InRadioMode())
		if s.InRadioMode() {
			return nil
		}
		return s.RequestRoomInfo()
	})

	bus.Subscribe(event.KindRoomInfo, func(ev event.Event) error {
		info := ev.Payload.(*protocol.RoomInfoMessage)
		util.LogInfo("room %q: %d players, state %s", info.Info.Name, len(info.Players), info.Info.State)
		return nil
	})

	bus.Subscribe(event.KindChannelInfo, func(ev event.Event) error {
		info := ev.Payload.(*protocol.ChannelInfoMessage).Info
		util.LogDebug("channel %q: %s", info.Name, info.State)
		return nil
	})

	bus.Subscribe(event.KindLevelStarted, func(ev event.Event) error {
		start := ev.Payload.(*protocol.StartLevel)
		util.LogInfo("level started: %q (%s)", start.Song.Name, start.Difficulty)
		if start.Song.Duration <= 0 {
			return nil
		}
		return s.SendSongDuration(start.Song)
	})

	bus.Subscribe(event.KindLeftRoom, func(event.Event) error {
		util.LogInfo("back in the lobby")
		return nil
	})
}

// syntheticTelemetry produces a moving snapshot so the hub has something to
// relay.
type syntheticTelemetry struct {
	start time.Time
	score uint32
}

func (t *syntheticTelemetry) Snapshot() protocol.PlayerInfo {
	elapsed := float32(time.Since(t.start).Seconds())
	t.score += 115
	return protocol.PlayerInfo{
		Score:       t.score,
		CutBlocks:   t.score / 115,
		ComboBlocks: t.score / 115,
		TotalBlocks: t.score / 115,
		Energy:      0.5,
		Progress:    elapsed,
		HeadPos:     protocol.Vec3{Y: 1.7},
		HeadRot:     protocol.Quat{W: 1},
		RightHandPos: protocol.Vec3{
			X: 0.3 + 0.1*float32(math.Sin(float64(elapsed))),
			Y: 1.2,
		},
		LeftHandPos:  protocol.Vec3{X: -0.3, Y: 1.2},
		RightHandRot: protocol.Quat{W: 1},
		LeftHandRot:  protocol.Quat{W: 1},
	}
}

// NormalizeSignalURL validates a signaling URL and points it at /ws.
func NormalizeSignalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid WebSocket URL: %s", raw)
	}
	scheme := "wss"
	if u.Scheme == "ws" || u.Scheme == "wss" {
		scheme = u.Scheme
	}
	return fmt.Sprintf("%s://%s/ws", scheme, u.Host), nil
}

// randomID generates a non-zero player id.
func randomID() uint64 {
	var b [8]byte
	for {
		if _, err := rand.Read(b[:]); err != nil {
			return uint64(time.Now().UnixNano())
		}
		if id := binary.LittleEndian.Uint64(b[:]); id != 0 {
			return id
		}
	}
}
