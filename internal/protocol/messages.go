package protocol

import "fmt"

// ---------------------------------------------------------------------------
// Connect / Disconnect
// ---------------------------------------------------------------------------

// ConnectCode is the hub's answer to a handshake.
type ConnectCode uint8

const (
	ConnectAccepted ConnectCode = iota
	ConnectVersionMismatch
	ConnectDuplicateID
	ConnectServerFull
)

func (c ConnectCode) String() string {
	switch c {
	case ConnectAccepted:
		return "accepted"
	case ConnectVersionMismatch:
		return "version mismatch"
	case ConnectDuplicateID:
		return "duplicate player id"
	case ConnectServerFull:
		return "server full"
	}
	return fmt.Sprintf("ConnectCode(%d)", uint8(c))
}

// ConnectRequest is the client handshake.
type ConnectRequest struct {
	Version    string
	PlayerName string
	PlayerID   uint64
}

func (*ConnectRequest) Command() Command { return CmdConnect }

func (m *ConnectRequest) MarshalTo(w *Writer) {
	w.PutString(m.Version)
	w.PutString(m.PlayerName)
	w.PutUint64(m.PlayerID)
}

func (m *ConnectRequest) UnmarshalFrom(r *Reader) error {
	m.Version = r.String()
	m.PlayerName = r.String()
	m.PlayerID = r.Uint64()
	return r.Err()
}

// ConnectResult answers a ConnectRequest. Reason is human readable and empty
// on acceptance.
type ConnectResult struct {
	Code   ConnectCode
	Reason string
}

func (*ConnectResult) Command() Command { return CmdConnect }

func (m *ConnectResult) MarshalTo(w *Writer) {
	w.PutUint8(uint8(m.Code))
	w.PutString(m.Reason)
}

func (m *ConnectResult) UnmarshalFrom(r *Reader) error {
	m.Code = ConnectCode(r.Uint8())
	m.Reason = r.String()
	return r.Err()
}

// Disconnect announces an orderly goodbye in either direction.
type Disconnect struct {
	Reason string
}

func (*Disconnect) Command() Command { return CmdDisconnect }

func (m *Disconnect) MarshalTo(w *Writer) { w.PutString(m.Reason) }

func (m *Disconnect) UnmarshalFrom(r *Reader) error {
	m.Reason = r.String()
	return r.Err()
}

// ---------------------------------------------------------------------------
// Rooms
// ---------------------------------------------------------------------------

// GetRooms asks for the public room list.
type GetRooms struct{}

func (*GetRooms) Command() Command              { return CmdGetRooms }
func (*GetRooms) MarshalTo(*Writer)             {}
func (*GetRooms) UnmarshalFrom(r *Reader) error { return r.Err() }

// RoomList answers GetRooms.
type RoomList struct {
	Rooms []RoomInfo
}

func (*RoomList) Command() Command { return CmdGetRooms }

func (m *RoomList) MarshalTo(w *Writer) {
	w.PutCount(len(m.Rooms))
	for i := range m.Rooms {
		m.Rooms[i].MarshalTo(w)
	}
}

func (m *RoomList) UnmarshalFrom(r *Reader) error {
	n := r.Count(roomInfoMinSize)
	m.Rooms = nil
	if n > 0 {
		m.Rooms = make([]RoomInfo, n)
	}
	for i := range m.Rooms {
		if err := m.Rooms[i].UnmarshalFrom(r); err != nil {
			return err
		}
	}
	return r.Err()
}

// CreateRoom asks the hub to open a room hosted by the sender.
type CreateRoom struct {
	Settings RoomSettings
}

func (*CreateRoom) Command() Command                { return CmdCreateRoom }
func (m *CreateRoom) MarshalTo(w *Writer)           { m.Settings.MarshalTo(w) }
func (m *CreateRoom) UnmarshalFrom(r *Reader) error { return m.Settings.UnmarshalFrom(r) }

// RoomCreated answers CreateRoom with the id of the new room.
type RoomCreated struct {
	RoomID uint32
}

func (*RoomCreated) Command() Command      { return CmdCreateRoom }
func (m *RoomCreated) MarshalTo(w *Writer) { w.PutUint32(m.RoomID) }

func (m *RoomCreated) UnmarshalFrom(r *Reader) error {
	m.RoomID = r.Uint32()
	return r.Err()
}

// JoinRoom asks to join a room. Password is only written when non-empty.
type JoinRoom struct {
	RoomID   uint32
	Password string
}

func (*JoinRoom) Command() Command { return CmdJoinRoom }

func (m *JoinRoom) MarshalTo(w *Writer) {
	w.PutUint32(m.RoomID)
	if m.Password != "" {
		w.PutString(m.Password)
	}
}

func (m *JoinRoom) UnmarshalFrom(r *Reader) error {
	m.RoomID = r.Uint32()
	m.Password = ""
	if r.Err() == nil && r.Remaining() > 0 {
		m.Password = r.String()
	}
	return r.Err()
}

// JoinRoomResult acknowledges JoinRoom. The result code sits at payload
// offset 0 (frame body offset 1).
type JoinRoomResult struct {
	Result JoinResult
}

func (*JoinRoomResult) Command() Command      { return CmdJoinRoom }
func (m *JoinRoomResult) MarshalTo(w *Writer) { w.PutUint8(uint8(m.Result)) }

func (m *JoinRoomResult) UnmarshalFrom(r *Reader) error {
	m.Result = JoinResult(r.Uint8())
	return r.Err()
}

// GetRoomInfo asks for the details of the sender's room.
type GetRoomInfo struct{}

func (*GetRoomInfo) Command() Command              { return CmdGetRoomInfo }
func (*GetRoomInfo) MarshalTo(*Writer)             {}
func (*GetRoomInfo) UnmarshalFrom(r *Reader) error { return r.Err() }

// RoomInfoMessage answers GetRoomInfo and is pushed on room changes.
type RoomInfoMessage struct {
	Info    RoomInfo
	Players []PlayerInfo
}

func (*RoomInfoMessage) Command() Command { return CmdGetRoomInfo }

func (m *RoomInfoMessage) MarshalTo(w *Writer) {
	m.Info.MarshalTo(w)
	w.PutCount(len(m.Players))
	for i := range m.Players {
		m.Players[i].MarshalTo(w)
	}
}

func (m *RoomInfoMessage) UnmarshalFrom(r *Reader) error {
	if err := m.Info.UnmarshalFrom(r); err != nil {
		return err
	}
	players, err := readPlayers(r)
	m.Players = players
	return err
}

// LeaveRoom leaves the sender's room. The hub echoes it to a player it
// removes.
type LeaveRoom struct{}

func (*LeaveRoom) Command() Command              { return CmdLeaveRoom }
func (*LeaveRoom) MarshalTo(*Writer)             {}
func (*LeaveRoom) UnmarshalFrom(r *Reader) error { return r.Err() }

// DestroyRoom closes the sender's room. Only the host may send it.
type DestroyRoom struct{}

func (*DestroyRoom) Command() Command              { return CmdDestroyRoom }
func (*DestroyRoom) MarshalTo(*Writer)             {}
func (*DestroyRoom) UnmarshalFrom(r *Reader) error { return r.Err() }

// TransferHost hands the room over to another player.
type TransferHost struct {
	PlayerID uint64
}

func (*TransferHost) Command() Command      { return CmdTransferHost }
func (m *TransferHost) MarshalTo(w *Writer) { w.PutUint64(m.PlayerID) }

func (m *TransferHost) UnmarshalFrom(r *Reader) error {
	m.PlayerID = r.Uint64()
	return r.Err()
}

// SetSelectedSong sets or clears the room's song.
type SetSelectedSong struct {
	Song *SongInfo
}

func (*SetSelectedSong) Command() Command      { return CmdSetSelectedSong }
func (m *SetSelectedSong) MarshalTo(w *Writer) { putOptionalSong(w, m.Song) }

func (m *SetSelectedSong) UnmarshalFrom(r *Reader) error {
	song, err := readOptionalSong(r)
	m.Song = song
	return err
}

// StartLevel starts the selected song for everyone in the room.
type StartLevel struct {
	Difficulty Difficulty
	Song       SongInfo
}

func (*StartLevel) Command() Command { return CmdStartLevel }

func (m *StartLevel) MarshalTo(w *Writer) {
	w.PutUint8(uint8(m.Difficulty))
	m.Song.MarshalTo(w)
}

func (m *StartLevel) UnmarshalFrom(r *Reader) error {
	m.Difficulty = Difficulty(r.Uint8())
	if err := m.Song.UnmarshalFrom(r); err != nil {
		return err
	}
	if m.Difficulty > DifficultyExpertPlus {
		return fmt.Errorf("invalid difficulty %d", m.Difficulty)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Telemetry
// ---------------------------------------------------------------------------

// UpdatePlayerInfo carries telemetry. A client sends its own snapshot; the
// hub broadcasts every player's.
type UpdatePlayerInfo struct {
	Players []PlayerInfo
}

func (*UpdatePlayerInfo) Command() Command { return CmdUpdatePlayerInfo }

func (m *UpdatePlayerInfo) MarshalTo(w *Writer) {
	w.PutCount(len(m.Players))
	for i := range m.Players {
		m.Players[i].MarshalTo(w)
	}
}

func (m *UpdatePlayerInfo) UnmarshalFrom(r *Reader) error {
	players, err := readPlayers(r)
	m.Players = players
	return err
}

func readPlayers(r *Reader) ([]PlayerInfo, error) {
	n := r.Count(playerInfoMinSize)
	if n == 0 {
		return nil, r.Err()
	}
	players := make([]PlayerInfo, n)
	for i := range players {
		if err := players[i].UnmarshalFrom(r); err != nil {
			return nil, err
		}
	}
	return players, r.Err()
}

// PlayerReady toggles the sender's ready flag in the room.
type PlayerReady struct {
	Ready bool
}

func (*PlayerReady) Command() Command      { return CmdPlayerReady }
func (m *PlayerReady) MarshalTo(w *Writer) { w.PutBool(m.Ready) }

func (m *PlayerReady) UnmarshalFrom(r *Reader) error {
	m.Ready = r.Bool()
	return r.Err()
}

// SetGameState reports whether the sender is inside a level.
type SetGameState struct {
	InGame bool
}

func (*SetGameState) Command() Command      { return CmdSetGameState }
func (m *SetGameState) MarshalTo(w *Writer) { w.PutBool(m.InGame) }

func (m *SetGameState) UnmarshalFrom(r *Reader) error {
	m.InGame = r.Bool()
	return r.Err()
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

// DisplayMessage shows text on the client's screen.
type DisplayMessage struct {
	Duration float32
	FontSize float32
	Text     string
}

func (*DisplayMessage) Command() Command { return CmdDisplayMessage }

func (m *DisplayMessage) MarshalTo(w *Writer) {
	w.PutFloat32(m.Duration)
	w.PutFloat32(m.FontSize)
	w.PutString(m.Text)
}

func (m *DisplayMessage) UnmarshalFrom(r *Reader) error {
	m.Duration = r.Float32()
	m.FontSize = r.Float32()
	m.Text = r.String()
	return r.Err()
}

// SendEventMessage relays an application-defined event to the room.
type SendEventMessage struct {
	Header string
	Data   string
}

func (*SendEventMessage) Command() Command { return CmdSendEventMessage }

func (m *SendEventMessage) MarshalTo(w *Writer) {
	w.PutString(m.Header)
	w.PutString(m.Data)
}

func (m *SendEventMessage) UnmarshalFrom(r *Reader) error {
	m.Header = r.String()
	m.Data = r.String()
	return r.Err()
}

// ---------------------------------------------------------------------------
// Radio channels
// ---------------------------------------------------------------------------

// GetChannelInfo asks for a channel description. Negative ids are valid on
// the wire; the hub answers with whatever it knows.
type GetChannelInfo struct {
	ChannelID int32
}

func (*GetChannelInfo) Command() Command      { return CmdGetChannelInfo }
func (m *GetChannelInfo) MarshalTo(w *Writer) { w.PutInt32(m.ChannelID) }

func (m *GetChannelInfo) UnmarshalFrom(r *Reader) error {
	m.ChannelID = r.Int32()
	return r.Err()
}

// ChannelInfoMessage answers GetChannelInfo and is pushed on phase changes.
type ChannelInfoMessage struct {
	Info ChannelInfo
}

func (*ChannelInfoMessage) Command() Command                { return CmdGetChannelInfo }
func (m *ChannelInfoMessage) MarshalTo(w *Writer)           { m.Info.MarshalTo(w) }
func (m *ChannelInfoMessage) UnmarshalFrom(r *Reader) error { return m.Info.UnmarshalFrom(r) }

// JoinChannel asks to join a radio channel.
type JoinChannel struct {
	ChannelID int32
}

func (*JoinChannel) Command() Command      { return CmdJoinChannel }
func (m *JoinChannel) MarshalTo(w *Writer) { w.PutInt32(m.ChannelID) }

func (m *JoinChannel) UnmarshalFrom(r *Reader) error {
	m.ChannelID = r.Int32()
	return r.Err()
}

// JoinChannelResult acknowledges JoinChannel.
type JoinChannelResult struct {
	Result JoinResult
}

func (*JoinChannelResult) Command() Command      { return CmdJoinChannel }
func (m *JoinChannelResult) MarshalTo(w *Writer) { w.PutUint8(uint8(m.Result)) }

func (m *JoinChannelResult) UnmarshalFrom(r *Reader) error {
	m.Result = JoinResult(r.Uint8())
	return r.Err()
}

// LeaveChannel leaves the sender's channel.
type LeaveChannel struct{}

func (*LeaveChannel) Command() Command              { return CmdLeaveChannel }
func (*LeaveChannel) MarshalTo(*Writer)             {}
func (*LeaveChannel) UnmarshalFrom(r *Reader) error { return r.Err() }

// GetSongDuration reports a song's duration to the hub once the client has
// loaded it. The hub echoes nothing.
type GetSongDuration struct {
	Song SongInfo
}

func (*GetSongDuration) Command() Command                { return CmdGetSongDuration }
func (m *GetSongDuration) MarshalTo(w *Writer)           { m.Song.MarshalTo(w) }
func (m *GetSongDuration) UnmarshalFrom(r *Reader) error { return m.Song.UnmarshalFrom(r) }

// ---------------------------------------------------------------------------
// Voice
// ---------------------------------------------------------------------------

// UpdateVoIPData carries one voice fragment.
type UpdateVoIPData struct {
	Fragment VoipFragment
}

func (*UpdateVoIPData) Command() Command                { return CmdUpdateVoIPData }
func (m *UpdateVoIPData) MarshalTo(w *Writer)           { m.Fragment.MarshalTo(w) }
func (m *UpdateVoIPData) UnmarshalFrom(r *Reader) error { return m.Fragment.UnmarshalFrom(r) }

// ---------------------------------------------------------------------------
// Random song
// ---------------------------------------------------------------------------

// GetRandomSongInfo asks the hub for a random song from its library.
type GetRandomSongInfo struct{}

func (*GetRandomSongInfo) Command() Command              { return CmdGetRandomSongInfo }
func (*GetRandomSongInfo) MarshalTo(*Writer)             {}
func (*GetRandomSongInfo) UnmarshalFrom(r *Reader) error { return r.Err() }

// RandomSong answers GetRandomSongInfo.
type RandomSong struct {
	Song SongInfo
}

func (*RandomSong) Command() Command                { return CmdGetRandomSongInfo }
func (m *RandomSong) MarshalTo(w *Writer)           { m.Song.MarshalTo(w) }
func (m *RandomSong) UnmarshalFrom(r *Reader) error { return m.Song.UnmarshalFrom(r) }

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// NewMessage returns an empty message for cmd in the given direction, or
// nil when cmd is unknown.
func NewMessage(dir Direction, cmd Command) Message {
	switch cmd {
	case CmdConnect:
		if dir == ToHub {
			return &ConnectRequest{}
		}
		return &ConnectResult{}
	case CmdDisconnect:
		return &Disconnect{}
	case CmdGetRooms:
		if dir == ToHub {
			return &GetRooms{}
		}
		return &RoomList{}
	case CmdCreateRoom:
		if dir == ToHub {
			return &CreateRoom{}
		}
		return &RoomCreated{}
	case CmdJoinRoom:
		if dir == ToHub {
			return &JoinRoom{}
		}
		return &JoinRoomResult{}
	case CmdGetRoomInfo:
		if dir == ToHub {
			return &GetRoomInfo{}
		}
		return &RoomInfoMessage{}
	case CmdLeaveRoom:
		return &LeaveRoom{}
	case CmdDestroyRoom:
		return &DestroyRoom{}
	case CmdTransferHost:
		return &TransferHost{}
	case CmdSetSelectedSong:
		return &SetSelectedSong{}
	case CmdStartLevel:
		return &StartLevel{}
	case CmdUpdatePlayerInfo:
		return &UpdatePlayerInfo{}
	case CmdPlayerReady:
		return &PlayerReady{}
	case CmdSetGameState:
		return &SetGameState{}
	case CmdDisplayMessage:
		return &DisplayMessage{}
	case CmdSendEventMessage:
		return &SendEventMessage{}
	case CmdGetChannelInfo:
		if dir == ToHub {
			return &GetChannelInfo{}
		}
		return &ChannelInfoMessage{}
	case CmdJoinChannel:
		if dir == ToHub {
			return &JoinChannel{}
		}
		return &JoinChannelResult{}
	case CmdLeaveChannel:
		return &LeaveChannel{}
	case CmdGetSongDuration:
		return &GetSongDuration{}
	case CmdUpdateVoIPData:
		return &UpdateVoIPData{}
	case CmdGetRandomSongInfo:
		if dir == ToHub {
			return &GetRandomSongInfo{}
		}
		return &RandomSong{}
	}
	return nil
}
