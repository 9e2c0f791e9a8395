package session

import (
	"github.com/1ureka/rhythmhub/internal/delivery"
	"github.com/1ureka/rhythmhub/internal/protocol"
)

func (s *Session) send(msg protocol.Message) {
	s.link.Send(delivery.Message(msg))
	s.lastSent = s.opts.Now()
}

func (s *Session) live() error {
	if s.Ended() || s.State() < Connected {
		return ErrNotConnected
	}
	return nil
}

// lobby allows actions that put the player into a room or channel.
func (s *Session) lobby() error {
	if err := s.live(); err != nil {
		return err
	}
	if st := s.State(); st == InRoom || st == InGame {
		return ErrInRoom
	}
	return nil
}

func (s *Session) inRoom() error {
	if err := s.live(); err != nil {
		return err
	}
	if st := s.State(); st != InRoom && st != InGame {
		return ErrNotConnected
	}
	return nil
}

// Connect starts the handshake. The hub's answer arrives on a later tick.
func (s *Session) Connect() error {
	if s.Ended() {
		return ErrEnded
	}
	if s.State() != Disconnected {
		return nil
	}
	s.setState(Connecting)
	s.send(&protocol.ConnectRequest{
		Version:    s.opts.Version,
		PlayerName: s.player.Name,
		PlayerID:   s.player.ID,
	})
	return s.link.Flush()
}

// Disconnect says goodbye and ends the session locally.
func (s *Session) Disconnect() {
	if s.Ended() {
		return
	}
	if s.State() >= Connected {
		s.send(&protocol.Disconnect{Reason: "client disconnect"})
		s.link.Flush()
	}
	s.end(nil)
}

func (s *Session) GetRooms() error {
	if err := s.live(); err != nil {
		return err
	}
	s.send(&protocol.GetRooms{})
	return nil
}

// CreateRoom asks the hub for a room. The hub answers with the room id and
// a join acknowledgment.
func (s *Session) CreateRoom(settings protocol.RoomSettings) error {
	if err := s.lobby(); err != nil {
		return err
	}
	s.send(&protocol.CreateRoom{Settings: settings})
	return nil
}

func (s *Session) JoinRoom(roomID uint32, password string) error {
	if err := s.lobby(); err != nil {
		return err
	}
	s.send(&protocol.JoinRoom{RoomID: roomID, Password: password})
	return nil
}

func (s *Session) JoinChannel(channelID int32) error {
	if err := s.lobby(); err != nil {
		return err
	}
	s.send(&protocol.JoinChannel{ChannelID: channelID})
	return nil
}

// LeaveRoom leaves the current room or radio channel and returns to the
// lobby immediately.
func (s *Session) LeaveRoom() error {
	if err := s.inRoom(); err != nil {
		return err
	}
	if s.radio {
		s.send(&protocol.LeaveChannel{})
	} else {
		s.send(&protocol.LeaveRoom{})
	}
	s.leftRoom()
	return nil
}

// DestroyRoom closes the room for everyone. Host only.
func (s *Session) DestroyRoom() error {
	if err := s.inRoom(); err != nil {
		return err
	}
	if !s.IsHost() {
		return ErrNotHost
	}
	s.send(&protocol.DestroyRoom{})
	s.leftRoom()
	return nil
}

func (s *Session) TransferHost(playerID uint64) error {
	if err := s.inRoom(); err != nil {
		return err
	}
	if !s.IsHost() {
		return ErrNotHost
	}
	s.send(&protocol.TransferHost{PlayerID: playerID})
	s.isHost.Store(false)
	return nil
}

func (s *Session) RequestRoomInfo() error {
	if err := s.inRoom(); err != nil {
		return err
	}
	s.send(&protocol.GetRoomInfo{})
	return nil
}

func (s *Session) RequestChannelInfo(channelID int32) error {
	if err := s.live(); err != nil {
		return err
	}
	s.send(&protocol.GetChannelInfo{ChannelID: channelID})
	return nil
}

// SetSelectedSong picks or, with nil, clears the room's song. Host only.
func (s *Session) SetSelectedSong(song *protocol.SongInfo) error {
	if err := s.inRoom(); err != nil {
		return err
	}
	if !s.IsHost() {
		return ErrNotHost
	}
	s.send(&protocol.SetSelectedSong{Song: song})
	return nil
}

// StartLevel starts a song for the room. Host only; the local transition to
// InGame happens when the hub echoes StartLevel.
func (s *Session) StartLevel(difficulty protocol.Difficulty, song protocol.SongInfo) error {
	if err := s.inRoom(); err != nil {
		return err
	}
	if !s.IsHost() {
		return ErrNotHost
	}
	s.send(&protocol.StartLevel{Difficulty: difficulty, Song: song})
	return nil
}

// SendPlayerInfo queues the owned player snapshot on the telemetry channel.
func (s *Session) SendPlayerInfo() error {
	if err := s.live(); err != nil {
		return err
	}
	s.send(&protocol.UpdatePlayerInfo{Players: []protocol.PlayerInfo{s.player.Clone()}})
	return nil
}

// SetPlayerInfo replaces the telemetry part of the owned snapshot. Identity
// and player state stay under the session's control.
func (s *Session) SetPlayerInfo(p protocol.PlayerInfo) {
	p.Name, p.ID, p.State = s.player.Name, s.player.ID, s.player.State
	s.player = p.Clone()
}

func (s *Session) SendVoIP(f protocol.VoipFragment) error {
	if err := s.inRoom(); err != nil {
		return err
	}
	f.PlayerID = s.player.ID
	s.send(&protocol.UpdateVoIPData{Fragment: f})
	return nil
}

func (s *Session) SendPlayerReady(ready bool) error {
	if err := s.inRoom(); err != nil {
		return err
	}
	s.send(&protocol.PlayerReady{Ready: ready})
	return nil
}

// SendGameState tells the hub whether this player is inside a level.
func (s *Session) SendGameState(inGame bool) error {
	if err := s.inRoom(); err != nil {
		return err
	}
	s.send(&protocol.SetGameState{InGame: inGame})
	return nil
}

// SendEventMessage relays a custom event to the other players in the room or
// channel.
func (s *Session) SendEventMessage(header, data string) error {
	if err := s.live(); err != nil {
		return err
	}
	s.send(&protocol.SendEventMessage{Header: header, Data: data})
	return nil
}

// SendSongDuration reports a loaded song's real duration.
func (s *Session) SendSongDuration(song protocol.SongInfo) error {
	if err := s.live(); err != nil {
		return err
	}
	s.send(&protocol.GetSongDuration{Song: song})
	return nil
}

func (s *Session) RequestRandomSong() error {
	if err := s.live(); err != nil {
		return err
	}
	s.send(&protocol.GetRandomSongInfo{})
	return nil
}

// ClearQueue discards received frames that have not been processed yet,
// when the link supports it.
func (s *Session) ClearQueue() {
	if c, ok := s.link.(interface{ Clear() }); ok {
		c.Clear()
	}
}
