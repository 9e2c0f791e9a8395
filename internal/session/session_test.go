package session

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rhythmhub/internal/delivery"
	"github.com/1ureka/rhythmhub/internal/event"
	"github.com/1ureka/rhythmhub/internal/protocol"
	"github.com/1ureka/rhythmhub/internal/transport"
)

// fakeLink replays scripted batches and records what was sent.
type fakeLink struct {
	mu      sync.Mutex
	batches [][]Inbound
	sent    []delivery.Envelope
	active  int
	closed  int
}

func newFakeLink() *fakeLink { return &fakeLink{active: 1} }

func (l *fakeLink) push(batch ...Inbound) {
	l.mu.Lock()
	l.batches = append(l.batches, batch)
	l.mu.Unlock()
}

func (l *fakeLink) Poll() []Inbound {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.batches) == 0 {
		return nil
	}
	b := l.batches[0]
	l.batches = l.batches[1:]
	return b
}

func (l *fakeLink) Send(env delivery.Envelope) { l.sent = append(l.sent, env) }
func (l *fakeLink) Flush() error               { return nil }
func (l *fakeLink) ActiveConnections() int     { return l.active }
func (l *fakeLink) Close() error               { l.closed++; return nil }

func (l *fakeLink) sentCommands() []protocol.Command {
	var cmds []protocol.Command
	for _, env := range l.sent {
		cmd, _ := protocol.Peek(env.Body)
		cmds = append(cmds, cmd)
	}
	return cmds
}

func frame(msg protocol.Message) Inbound {
	return Inbound{Kind: InboundData, Env: delivery.Message(msg)}
}

func status(st Status, reason string) Inbound {
	return Inbound{Kind: InboundStatus, Status: st, Reason: reason}
}

// recorder counts published events per kind.
type recorder struct {
	events []event.Event
}

func record(bus *event.Bus, kinds ...event.Kind) *recorder {
	r := &recorder{}
	for _, k := range kinds {
		bus.Subscribe(k, func(ev event.Event) error {
			r.events = append(r.events, ev)
			return nil
		})
	}
	return r
}

func (r *recorder) count(kind event.Kind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) frames() []protocol.Message {
	var out []protocol.Message
	for _, ev := range r.events {
		if ev.Kind == event.KindFrame && ev.Payload != nil {
			out = append(out, ev.Payload.(protocol.Message))
		}
	}
	return out
}

var lifecycle = []event.Kind{
	event.KindFrame, event.KindConnected, event.KindRefused, event.KindJoinedRoom,
	event.KindLevelStarted, event.KindLeftRoom, event.KindDisconnected,
}

func connected(t *testing.T) (*Session, *fakeLink, *recorder) {
	t.Helper()
	link := newFakeLink()
	bus := event.NewBus(nil)
	rec := record(bus, lifecycle...)
	s := New(link, bus, Options{PlayerName: "alice", PlayerID: 42, Version: "1"})

	require.NoError(t, s.Connect())
	assert.Equal(t, Connecting, s.State())
	link.push(status(StatusConnected, ""))
	s.Tick()
	require.Equal(t, Connected, s.State())
	return s, link, rec
}

func info(score uint32) *protocol.UpdatePlayerInfo {
	return &protocol.UpdatePlayerInfo{Players: []protocol.PlayerInfo{{Name: "bob", ID: 7, Score: score}}}
}

// TestPlayerInfoDedup verifies that three telemetry frames in one batch
// produce one dispatch carrying the last payload.
func TestPlayerInfoDedup(t *testing.T) {
	s, link, rec := connected(t)

	link.push(frame(info(1)), frame(info(2)), frame(info(3)))
	s.Tick()

	frames := rec.frames()
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(3), frames[0].(*protocol.UpdatePlayerInfo).Players[0].Score)
}

// TestPlayerInfoDispatchedFirst verifies the newest telemetry frame goes
// ahead of the rest of the batch, which keeps its order.
func TestPlayerInfoDispatchedFirst(t *testing.T) {
	s, link, rec := connected(t)

	link.push(
		frame(&protocol.DisplayMessage{Text: "one"}),
		frame(info(1)),
		frame(&protocol.DisplayMessage{Text: "two"}),
		frame(info(2)),
	)
	s.Tick()

	frames := rec.frames()
	require.Len(t, frames, 3)
	assert.Equal(t, uint32(2), frames[0].(*protocol.UpdatePlayerInfo).Players[0].Score)
	assert.Equal(t, "one", frames[1].(*protocol.DisplayMessage).Text)
	assert.Equal(t, "two", frames[2].(*protocol.DisplayMessage).Text)
}

// TestJoinRoomAck covers accepted and rejected joins.
func TestJoinRoomAck(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		s, link, rec := connected(t)
		link.push(frame(&protocol.JoinRoomResult{Result: protocol.JoinSuccess}))
		s.Tick()

		assert.Equal(t, InRoom, s.State())
		assert.Equal(t, 1, rec.count(event.KindJoinedRoom))
		assert.Equal(t, protocol.PlayerRoom, s.Player().State)
	})

	t.Run("rejected", func(t *testing.T) {
		s, link, rec := connected(t)
		link.push(frame(&protocol.JoinRoomResult{Result: protocol.JoinNotFound}))
		s.Tick()

		assert.Equal(t, Connected, s.State())
		assert.Zero(t, rec.count(event.KindJoinedRoom))
		assert.Zero(t, rec.count(event.KindLevelStarted))
		assert.Zero(t, rec.count(event.KindLeftRoom))
	})
}

// TestConnectionLostOnce verifies that repeated loss notifies subscribers
// once with an absent payload.
func TestConnectionLostOnce(t *testing.T) {
	s, link, rec := connected(t)

	link.push(status(StatusLost, "reset by peer"), status(StatusLost, "reset by peer"))
	link.push(status(StatusLost, "again"))
	s.Tick()
	s.Tick()
	s.end(errors.New("late"))

	nilFrames := 0
	for _, ev := range rec.events {
		if ev.Kind == event.KindFrame && ev.Payload == nil {
			nilFrames++
		}
	}
	assert.Equal(t, 1, nilFrames)
	assert.Equal(t, 1, rec.count(event.KindDisconnected))
	assert.Equal(t, Disconnected, s.State())
	assert.ErrorIs(t, s.Err(), transport.ErrConnectionLost)
	assert.Equal(t, 1, link.closed)
}

// TestHandshakeRefused verifies refusal is terminal and never connects.
func TestHandshakeRefused(t *testing.T) {
	link := newFakeLink()
	bus := event.NewBus(nil)
	rec := record(bus, lifecycle...)
	s := New(link, bus, Options{PlayerName: "alice", Version: "0.1"})

	require.NoError(t, s.Connect())
	link.push(status(StatusRefused, "version mismatch"), status(StatusConnected, ""))
	s.Tick()

	assert.Equal(t, Disconnected, s.State())
	assert.Zero(t, rec.count(event.KindConnected))
	require.Equal(t, 1, rec.count(event.KindRefused))

	var refused *RefusedError
	require.ErrorAs(t, s.Err(), &refused)
	assert.Equal(t, "version mismatch", refused.Reason)
	assert.ErrorIs(t, s.Err(), ErrHandshakeRefused)
	assert.ErrorIs(t, s.Connect(), ErrEnded)
}

// TestStartLevelRequiresRoom verifies stray start signals are ignored.
func TestStartLevelRequiresRoom(t *testing.T) {
	s, link, rec := connected(t)
	start := &protocol.StartLevel{Difficulty: protocol.DifficultyHard, Song: protocol.NewSongInfo("x", "y", 10)}

	link.push(frame(start))
	s.Tick()
	assert.Equal(t, Connected, s.State())
	assert.Zero(t, rec.count(event.KindLevelStarted))

	link.push(frame(&protocol.JoinRoomResult{}), frame(start))
	s.Tick()
	assert.Equal(t, InGame, s.State())
	assert.Equal(t, 1, rec.count(event.KindLevelStarted))

	link.push(frame(&protocol.SetGameState{InGame: false}))
	s.Tick()
	assert.Equal(t, InRoom, s.State())
}

// TestLeaveClearsHost verifies that leaving returns to the lobby and drops
// host rights.
func TestLeaveClearsHost(t *testing.T) {
	s, link, rec := connected(t)

	link.push(frame(&protocol.RoomCreated{RoomID: 5}), frame(&protocol.JoinRoomResult{}))
	s.Tick()
	require.True(t, s.IsHost())
	require.Equal(t, InRoom, s.State())

	require.NoError(t, s.LeaveRoom())
	assert.Equal(t, InLobby, s.State())
	assert.False(t, s.IsHost())
	assert.Equal(t, 1, rec.count(event.KindLeftRoom))
	assert.Contains(t, link.sentCommands(), protocol.CmdLeaveRoom)

	assert.ErrorIs(t, s.DestroyRoom(), ErrNotConnected)
}

// TestDestroyRoomByHub verifies removal initiated by the hub.
func TestDestroyRoomByHub(t *testing.T) {
	s, link, rec := connected(t)
	link.push(frame(&protocol.JoinRoomResult{}))
	s.Tick()

	assert.ErrorIs(t, s.DestroyRoom(), ErrNotHost)

	link.push(frame(&protocol.DestroyRoom{}))
	s.Tick()
	assert.Equal(t, InLobby, s.State())
	assert.Equal(t, 1, rec.count(event.KindLeftRoom))
}

// TestRadioChannel covers joining and leaving a radio channel.
func TestRadioChannel(t *testing.T) {
	s, link, _ := connected(t)
	link.push(frame(&protocol.JoinChannelResult{Result: protocol.JoinSuccess}))
	s.Tick()
	assert.Equal(t, InRoom, s.State())
	assert.True(t, s.InRadioMode())

	require.NoError(t, s.LeaveRoom())
	assert.Equal(t, protocol.CmdLeaveChannel, link.sentCommands()[len(link.sent)-1])
	assert.False(t, s.InRadioMode())
}

// TestZeroActiveConnections verifies that losing the last connection ends a
// connected session.
func TestZeroActiveConnections(t *testing.T) {
	s, link, rec := connected(t)
	link.active = 0
	s.Tick()

	assert.True(t, s.Ended())
	assert.Equal(t, 1, rec.count(event.KindDisconnected))
}

// TestActionsRequireConnection verifies nothing is emitted while offline.
func TestActionsRequireConnection(t *testing.T) {
	link := newFakeLink()
	s := New(link, event.NewBus(nil), Options{PlayerName: "alice"})

	assert.ErrorIs(t, s.GetRooms(), ErrNotConnected)
	assert.ErrorIs(t, s.JoinRoom(1, ""), ErrNotConnected)
	assert.ErrorIs(t, s.SendPlayerInfo(), ErrNotConnected)
	assert.ErrorIs(t, s.SendEventMessage("h", "d"), ErrNotConnected)
	assert.Empty(t, link.sent)
}

// TestHubDisconnect verifies an orderly goodbye from the hub.
func TestHubDisconnect(t *testing.T) {
	s, link, rec := connected(t)
	link.push(frame(&protocol.Disconnect{Reason: "shutdown"}), frame(&protocol.DisplayMessage{}))
	s.Tick()

	assert.True(t, s.Ended())
	assert.NoError(t, s.Err())
	assert.Len(t, rec.frames(), 1)
}

type staticTelemetry struct{ p protocol.PlayerInfo }

func (s staticTelemetry) Snapshot() protocol.PlayerInfo { return s.p }

type voiceLoop struct {
	out    []protocol.VoipFragment
	played []protocol.VoipFragment
}

func (v *voiceLoop) Capture() []protocol.VoipFragment {
	out := v.out
	v.out = nil
	return out
}

func (v *voiceLoop) Play(f protocol.VoipFragment) { v.played = append(v.played, f) }

// TestTelemetryAndVoice verifies per-tick production and voice playback.
func TestTelemetryAndVoice(t *testing.T) {
	link := newFakeLink()
	voice := &voiceLoop{out: []protocol.VoipFragment{{Index: 1, Data: []byte{9}}}}
	s := New(link, event.NewBus(nil), Options{
		PlayerName:        "alice",
		PlayerID:          42,
		Telemetry:         staticTelemetry{protocol.PlayerInfo{Name: "spoofed", Score: 99}},
		AutoSendTelemetry: true,
		VoiceIn:           voice,
		VoiceOut:          voice,
	})
	require.NoError(t, s.Connect())
	link.push(status(StatusConnected, ""), frame(&protocol.JoinRoomResult{}))
	link.push(frame(&protocol.StartLevel{Song: protocol.NewSongInfo("s", "l", 1)}),
		frame(&protocol.UpdateVoIPData{Fragment: protocol.VoipFragment{PlayerID: 7, Index: 3}}))
	s.Tick()
	s.Tick()

	require.Equal(t, InGame, s.State())
	assert.Equal(t, "alice", s.Player().Name)
	assert.Equal(t, uint32(99), s.Player().Score)
	assert.Contains(t, link.sentCommands(), protocol.CmdUpdatePlayerInfo)
	assert.Contains(t, link.sentCommands(), protocol.CmdUpdateVoIPData)
	require.Len(t, voice.played, 1)
	assert.Equal(t, uint32(3), voice.played[0].Index)
}

// TestMalformedDropped verifies that an undecodable frame is dropped without
// ending the session.
func TestMalformedDropped(t *testing.T) {
	s, link, rec := connected(t)
	link.push(Inbound{Kind: InboundData, Env: delivery.Wrap([]byte{byte(protocol.CmdJoinRoom)})})
	s.Tick()

	assert.False(t, s.Ended())
	assert.Equal(t, 1, s.Malformed())
	assert.Empty(t, rec.frames())
}

// TestQueueLinkHandshake runs a session over a real stream.
func TestQueueLinkHandshake(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()

	link := NewQueueLink(transport.NewTCPConn(a, transport.Options{}))
	s := New(link, event.NewBus(nil), Options{PlayerName: "alice", PlayerID: 1, Version: "1"})

	hub := transport.NewTCPConn(b, transport.Options{})
	go func() {
		env, err := hub.ReadEnvelope()
		if err != nil {
			return
		}
		_, msg, err := protocol.Decode(protocol.ToHub, env.Body)
		if err != nil || msg.(*protocol.ConnectRequest).PlayerName != "alice" {
			return
		}
		hub.Send(delivery.Message(&protocol.ConnectResult{Code: protocol.ConnectAccepted}))
		hub.Send(delivery.Message(&protocol.JoinRoomResult{}))
	}()

	require.NoError(t, s.Connect())
	require.Eventually(t, func() bool {
		s.Tick()
		return s.State() == InRoom
	}, 2*time.Second, 5*time.Millisecond)

	hub.Close()
	require.Eventually(t, func() bool {
		s.Tick()
		return s.Ended()
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Err(), transport.ErrConnectionLost)
}

// TestJoinRequiresLobby verifies that creating or joining is refused while
// already in a room.
func TestJoinRequiresLobby(t *testing.T) {
	s, link, _ := connected(t)
	link.push(frame(&protocol.JoinRoomResult{}))
	s.Tick()
	require.Equal(t, InRoom, s.State())
	sent := len(link.sent)

	assert.ErrorIs(t, s.CreateRoom(protocol.RoomSettings{Name: "r"}), ErrInRoom)
	assert.ErrorIs(t, s.JoinRoom(2, ""), ErrInRoom)
	assert.ErrorIs(t, s.JoinChannel(1), ErrInRoom)
	assert.Len(t, link.sent, sent)

	require.NoError(t, s.LeaveRoom())
	assert.NoError(t, s.JoinChannel(1))
}

// TestMovedToChannel verifies that a join acknowledgment arriving while in
// a room switches the session over: the room is left, host rights are
// dropped, and a later leave targets the channel.
func TestMovedToChannel(t *testing.T) {
	s, link, rec := connected(t)
	link.push(frame(&protocol.RoomCreated{RoomID: 1}), frame(&protocol.JoinRoomResult{}))
	s.Tick()
	require.True(t, s.IsHost())
	require.False(t, s.InRadioMode())

	link.push(frame(&protocol.JoinChannelResult{Result: protocol.JoinSuccess}))
	s.Tick()

	assert.Equal(t, InRoom, s.State())
	assert.True(t, s.InRadioMode())
	assert.False(t, s.IsHost())
	assert.Equal(t, 1, rec.count(event.KindLeftRoom))
	assert.Equal(t, 2, rec.count(event.KindJoinedRoom))

	require.NoError(t, s.LeaveRoom())
	cmds := link.sentCommands()
	assert.Equal(t, protocol.CmdLeaveChannel, cmds[len(cmds)-1])
	assert.Equal(t, InLobby, s.State())
}

// TestRejectedJoinKeepsRoom verifies that a failed join while in a room
// leaves the session where it was.
func TestRejectedJoinKeepsRoom(t *testing.T) {
	s, link, rec := connected(t)
	link.push(frame(&protocol.RoomCreated{RoomID: 1}), frame(&protocol.JoinRoomResult{}))
	s.Tick()

	link.push(frame(&protocol.JoinChannelResult{Result: protocol.JoinTooManyPlayers}))
	s.Tick()

	assert.Equal(t, InRoom, s.State())
	assert.True(t, s.IsHost())
	assert.False(t, s.InRadioMode())
	assert.Zero(t, rec.count(event.KindLeftRoom))
}

// TestHeartbeat verifies that an idle session resends its snapshot once per
// heartbeat interval in the lobby, and that other traffic resets the timer.
func TestHeartbeat(t *testing.T) {
	now := time.Unix(5000, 0)
	link := newFakeLink()
	s := New(link, event.NewBus(nil), Options{
		PlayerName: "alice",
		PlayerID:   42,
		Heartbeat:  time.Second,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, s.Connect())
	link.push(status(StatusConnected, ""))
	s.Tick()
	require.Equal(t, Connected, s.State())

	count := func() int {
		n := 0
		for _, cmd := range link.sentCommands() {
			if cmd == protocol.CmdUpdatePlayerInfo {
				n++
			}
		}
		return n
	}
	assert.Zero(t, count(), "Connect itself counts as traffic")

	now = now.Add(500 * time.Millisecond)
	s.Tick()
	assert.Zero(t, count())

	now = now.Add(600 * time.Millisecond)
	s.Tick()
	assert.Equal(t, 1, count())
	s.Tick()
	assert.Equal(t, 1, count())

	now = now.Add(900 * time.Millisecond)
	require.NoError(t, s.GetRooms())
	now = now.Add(200 * time.Millisecond)
	s.Tick()
	assert.Equal(t, 1, count(), "GetRooms went out less than a heartbeat ago")

	now = now.Add(time.Second)
	s.Tick()
	assert.Equal(t, 2, count())
}

// TestEventMessageDispatchedOnce verifies that a relayed event reaches its
// subscribers once, and that sending one only needs a live session.
func TestEventMessageDispatchedOnce(t *testing.T) {
	link := newFakeLink()
	bus := event.NewBus(nil)
	rec := record(bus, event.KindFrame, event.KindEventMessage)
	s := New(link, bus, Options{PlayerName: "alice", PlayerID: 42})
	assert.ErrorIs(t, s.SendEventMessage("h", "d"), ErrNotConnected)

	require.NoError(t, s.Connect())
	link.push(status(StatusConnected, ""))
	s.Tick()
	require.NoError(t, s.SendEventMessage("h", "d"))
	assert.Contains(t, link.sentCommands(), protocol.CmdSendEventMessage)

	link.push(frame(&protocol.SendEventMessage{Header: "h", Data: "d"}))
	s.Tick()
	assert.Equal(t, 1, rec.count(event.KindEventMessage))
	assert.Empty(t, rec.frames())
}

// TestQueueLinkCloseDoesNotBlock verifies that Close returns at once even
// when the last frame cannot leave, and that the connection is still
// released in the background.
func TestQueueLinkCloseDoesNotBlock(t *testing.T) {
	a, b := net.Pipe() // nobody reads b, so writes stall
	defer b.Close()

	link := NewQueueLink(transport.NewTCPConn(a, transport.Options{}))
	link.Send(delivery.Message(&protocol.GetRooms{}))
	require.NoError(t, link.Flush())

	start := time.Now()
	require.NoError(t, link.Close())
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	select {
	case <-link.Closed():
	case <-time.After(3 * time.Second):
		t.Fatal("link never released the connection")
	}
	assert.Zero(t, link.ActiveConnections())
	assert.NoError(t, link.Close(), "closing twice is harmless")
}
