package session

import (
	"fmt"

	"github.com/1ureka/rhythmhub/internal/event"
	"github.com/1ureka/rhythmhub/internal/protocol"
	"github.com/1ureka/rhythmhub/internal/transport"
	"github.com/1ureka/rhythmhub/internal/util"
)

func (s *Session) process(in Inbound) {
	switch in.Kind {
	case InboundStatus:
		s.onStatus(in)
	case InboundData:
		s.onFrame(in)
	}
}

func (s *Session) onStatus(in Inbound) {
	switch in.Status {
	case StatusConnected:
		if s.State() != Connecting {
			return
		}
		s.setState(Connected)
		s.everUp = true
		util.LogSuccess("connected as %s", s.player.Name)
		s.bus.Publish(event.KindConnected, nil)

	case StatusRefused:
		if s.State() != Connecting {
			return
		}
		err := &RefusedError{Reason: in.Reason}
		util.LogWarning("%v", err)
		s.bus.Publish(event.KindRefused, err)
		s.end(err)

	case StatusLost:
		if in.Reason == "" {
			s.end(transport.ErrConnectionLost)
			return
		}
		s.end(fmt.Errorf("%w: %s", transport.ErrConnectionLost, in.Reason))
	}
}

func (s *Session) onFrame(in Inbound) {
	cmd, msg, err := protocol.Decode(protocol.ToClient, in.Env.Body)
	if err != nil {
		s.malformed++
		util.LogDebug("dropping frame: %v", err)
		return
	}

	if _, ok := msg.(*protocol.SendEventMessage); !ok {
		s.bus.Publish(event.KindFrame, msg)
	}

	switch m := msg.(type) {
	case *protocol.Disconnect:
		s.end(nil)

	case *protocol.RoomList:
		s.bus.Publish(event.KindRoomsUpdated, m)

	case *protocol.RoomCreated:
		s.isHost.Store(true)
		s.created = true

	case *protocol.JoinRoomResult:
		s.onJoined(m.Result, false)

	case *protocol.JoinChannelResult:
		s.onJoined(m.Result, true)

	case *protocol.RoomInfoMessage:
		s.bus.Publish(event.KindRoomInfo, m)

	case *protocol.ChannelInfoMessage:
		s.bus.Publish(event.KindChannelInfo, m)

	case *protocol.LeaveRoom, *protocol.DestroyRoom, *protocol.LeaveChannel:
		// The hub removed us.
		s.leftRoom()

	case *protocol.TransferHost:
		s.isHost.Store(m.PlayerID == s.player.ID)

	case *protocol.StartLevel:
		if s.player.State != protocol.PlayerRoom {
			util.LogDebug("ignoring %s outside a room", cmd)
			return
		}
		s.player.State = protocol.PlayerGame
		s.setState(InGame)
		s.bus.Publish(event.KindLevelStarted, m)

	case *protocol.SetGameState:
		if !m.InGame && s.State() == InGame {
			s.player.State = protocol.PlayerRoom
			s.setState(InRoom)
		}

	case *protocol.SendEventMessage:
		s.bus.Publish(event.KindEventMessage, m)

	case *protocol.UpdateVoIPData:
		s.bus.Publish(event.KindVoice, m)
		if s.opts.VoiceOut != nil {
			s.opts.VoiceOut.Play(m.Fragment)
		}
	}
}

// onJoined handles a join acknowledgment. A success while already in a room
// means the hub moved the player, so the old room is left first.
func (s *Session) onJoined(result protocol.JoinResult, radio bool) {
	created := s.created
	s.created = false

	st := s.State()
	if st < Connected {
		return
	}
	if result != protocol.JoinSuccess {
		util.LogInfo("join rejected: %s", result)
		if st != InRoom && st != InGame {
			s.isHost.Store(false)
		}
		return
	}

	if st == InRoom || st == InGame {
		s.leftRoom()
	}
	s.isHost.Store(created && !radio)
	s.radio = radio
	s.player.State = protocol.PlayerRoom
	s.setState(InRoom)
	s.bus.Publish(event.KindJoinedRoom, nil)
}

func (s *Session) leftRoom() {
	st := s.State()
	s.isHost.Store(false)
	if st != InRoom && st != InGame {
		return
	}
	s.radio = false
	s.player.State = protocol.PlayerLobby
	s.setState(InLobby)
	s.bus.Publish(event.KindLeftRoom, nil)
}
