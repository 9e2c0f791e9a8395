package protocol

import (
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePlayer(hits int) PlayerInfo {
	p := PlayerInfo{
		Name:         "alice",
		ID:           76561198000000001,
		State:        PlayerGame,
		Score:        123456,
		CutBlocks:    300,
		ComboBlocks:  120,
		TotalBlocks:  310,
		Energy:       0.75,
		Progress:     0.5,
		RightHandPos: Vec3{0.3, 1.2, 0.1},
		LeftHandPos:  Vec3{-0.3, 1.2, 0.1},
		HeadPos:      Vec3{0, 1.7, 0},
		RightHandRot: Quat{0, 0, 0, 1},
		LeftHandRot:  Quat{0, 0.7, 0, 0.7},
		HeadRot:      Quat{0.1, 0, 0, 0.99},
	}
	for i := 0; i < hits; i++ {
		p.Hits = append(p.Hits, HitFromFlags(float32(i)*0.25, uint8(i)))
	}
	return p
}

func song() *SongInfo {
	s := NewSongInfo("Song", "custom_level_ABCDEF", 183.5)
	return &s
}

// TestRoundTrip verifies that every message decodes to what was encoded, in
// the direction it travels.
func TestRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		dir  Direction
		msg  Message
	}{
		{"connect request", ToHub, &ConnectRequest{Version: "0.3.0", PlayerName: "alice", PlayerID: 42}},
		{"connect request zero id", ToHub, &ConnectRequest{Version: "", PlayerName: "", PlayerID: 0}},
		{"connect refused", ToClient, &ConnectResult{Code: ConnectVersionMismatch, Reason: "hub runs 4"}},
		{"disconnect", ToHub, &Disconnect{Reason: "bye"}},
		{"get rooms", ToHub, &GetRooms{}},
		{"room list empty", ToClient, &RoomList{}},
		{"room list", ToClient, &RoomList{Rooms: []RoomInfo{
			{RoomID: 1, Name: "a", MaxPlayers: 4, PlayerCount: 1, HostName: "h"},
			{RoomID: 2, Name: "b", UsePassword: true, State: RoomInGame, SelectedSong: song()},
		}}},
		{"create room", ToHub, &CreateRoom{Settings: RoomSettings{Name: "r", UsePassword: true, Password: "pw", MaxPlayers: 8}}},
		{"create room no password", ToHub, &CreateRoom{Settings: RoomSettings{Name: "r", NoFail: true}}},
		{"room created", ToClient, &RoomCreated{RoomID: 7}},
		{"join room", ToHub, &JoinRoom{RoomID: 7}},
		{"join room password", ToHub, &JoinRoom{RoomID: 7, Password: "pw"}},
		{"join room result", ToClient, &JoinRoomResult{Result: JoinWrongPassword}},
		{"get room info", ToHub, &GetRoomInfo{}},
		{"room info", ToClient, &RoomInfoMessage{
			Info:    RoomInfo{RoomID: 3, Name: "x", HostName: "alice"},
			Players: []PlayerInfo{samplePlayer(2)},
		}},
		{"leave room", ToHub, &LeaveRoom{}},
		{"destroy room", ToHub, &DestroyRoom{}},
		{"transfer host", ToHub, &TransferHost{PlayerID: 9}},
		{"select song", ToHub, &SetSelectedSong{Song: song()}},
		{"clear song", ToHub, &SetSelectedSong{}},
		{"start level", ToClient, &StartLevel{Difficulty: DifficultyExpertPlus, Song: *song()}},
		{"player info no hits", ToHub, &UpdatePlayerInfo{Players: []PlayerInfo{samplePlayer(0)}}},
		{"player info max hits", ToClient, &UpdatePlayerInfo{Players: []PlayerInfo{samplePlayer(MaxHits), samplePlayer(1)}}},
		{"player ready", ToHub, &PlayerReady{Ready: true}},
		{"game state", ToHub, &SetGameState{InGame: false}},
		{"display message", ToClient, &DisplayMessage{Duration: 5, FontSize: 12, Text: "hi"}},
		{"display empty", ToClient, &DisplayMessage{}},
		{"event", ToHub, &SendEventMessage{Header: "vote", Data: "{\"x\":1}"}},
		{"get channel negative", ToHub, &GetChannelInfo{ChannelID: -1}},
		{"get channel zero", ToHub, &GetChannelInfo{ChannelID: 0}},
		{"channel voting", ToClient, &ChannelInfoMessage{Info: ChannelInfo{ChannelID: 0, Name: "radio", State: ChannelVoting, IP: "10.0.0.1", Port: 3701}}},
		{"channel playing", ToClient, &ChannelInfoMessage{Info: ChannelInfo{ChannelID: 2, State: ChannelInGame, CurrentSong: song(), PreferredDifficulty: DifficultyHard, PlayerCount: 4}}},
		{"join channel", ToHub, &JoinChannel{ChannelID: 2}},
		{"join channel result", ToClient, &JoinChannelResult{Result: JoinNotFound}},
		{"leave channel", ToHub, &LeaveChannel{}},
		{"song duration", ToHub, &GetSongDuration{Song: *song()}},
		{"voip", ToClient, &UpdateVoIPData{Fragment: VoipFragment{PlayerID: 1, Index: 77, Data: []byte{1, 2, 3}}}},
		{"voip empty", ToHub, &UpdateVoIPData{Fragment: VoipFragment{PlayerID: 1}}},
		{"random song request", ToHub, &GetRandomSongInfo{}},
		{"random song", ToClient, &RandomSong{Song: *song()}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			body := Encode(tc.msg)
			cmd, decoded, err := Decode(tc.dir, body)
			require.NoError(t, err)
			assert.Equal(t, tc.msg.Command(), cmd)
			assert.Equal(t, tc.msg, decoded)
		})
	}
}

// TestEncodeFrameLengthPrefix verifies the little-endian length prefix.
func TestEncodeFrameLengthPrefix(t *testing.T) {
	frame := EncodeFrame(&PlayerReady{Ready: true})
	require.Len(t, frame, LengthSize+2)
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(frame))
	assert.Equal(t, byte(CmdPlayerReady), frame[LengthSize])
	assert.Equal(t, byte(1), frame[LengthSize+1])
}

// TestJoinRoomResultOffset verifies the acknowledgment result sits right
// after the command byte.
func TestJoinRoomResultOffset(t *testing.T) {
	body := Encode(&JoinRoomResult{Result: JoinTooManyPlayers})
	require.Len(t, body, 2)
	assert.Equal(t, byte(JoinTooManyPlayers), body[1])
}

// TestHitsTruncatedToMostRecent verifies that more than MaxHits events keep
// the newest ones.
func TestHitsTruncatedToMostRecent(t *testing.T) {
	p := samplePlayer(MaxHits + 10)
	_, decoded, err := Decode(ToHub, Encode(&UpdatePlayerInfo{Players: []PlayerInfo{p}}))
	require.NoError(t, err)

	got := decoded.(*UpdatePlayerInfo).Players[0].Hits
	require.Len(t, got, MaxHits)
	assert.Equal(t, p.Hits[10], got[0])
	assert.Equal(t, p.Hits[len(p.Hits)-1], got[MaxHits-1])
}

// TestHitFlagsBitOrder verifies each flag owns its own bit, least
// significant first.
func TestHitFlagsBitOrder(t *testing.T) {
	h := HitData{NoteWasCut: true, DirectionOK: true, Reserved2: true}
	assert.Equal(t, uint8(0b1000_1001), h.Flags())
	assert.Equal(t, h, HitFromFlags(0, h.Flags()))

	for bit := 0; bit < 8; bit++ {
		assert.Equal(t, uint8(1)<<bit, HitFromFlags(0, 1<<bit).Flags())
	}
}

// TestLevelIDCapped verifies that level ids are capped on construction and
// encoding, and rejected when too long on decode.
func TestLevelIDCapped(t *testing.T) {
	long := strings.Repeat("x", 40)
	s := NewSongInfo("n", long, 1)
	assert.Len(t, s.LevelID, MaxLevelIDLength)

	_, decoded, err := Decode(ToClient, Encode(&RandomSong{Song: SongInfo{Name: "n", LevelID: long}}))
	require.NoError(t, err)
	assert.Len(t, decoded.(*RandomSong).Song.LevelID, MaxLevelIDLength)

	w := NewWriter(64)
	w.PutUint8(uint8(CmdGetRandomSongInfo))
	w.PutString("n")
	w.PutString(long)
	w.PutFloat32(1)
	_, _, err = Decode(ToClient, w.Bytes())
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

// TestChannelSongPresence verifies the song is present iff the channel is
// not voting.
func TestChannelSongPresence(t *testing.T) {
	voting := Encode(&ChannelInfoMessage{Info: ChannelInfo{State: ChannelVoting, CurrentSong: song()}})
	_, msg, err := Decode(ToClient, voting)
	require.NoError(t, err)
	assert.Nil(t, msg.(*ChannelInfoMessage).Info.CurrentSong)

	playing := Encode(&ChannelInfoMessage{Info: ChannelInfo{State: ChannelResults}})
	_, msg, err = Decode(ToClient, playing)
	require.NoError(t, err)
	assert.NotNil(t, msg.(*ChannelInfoMessage).Info.CurrentSong)
}

// TestDecodeMalformed verifies that bodies which cannot satisfy their
// structure fail with ErrMalformedFrame.
func TestDecodeMalformed(t *testing.T) {
	valid := Encode(&ConnectRequest{Version: "0.3.0", PlayerName: "bob", PlayerID: 5})

	// A name whose declared length runs past the buffer.
	overlong := NewWriter(16)
	overlong.PutUint8(uint8(CmdConnect))
	overlong.PutCount(200)
	overlong.PutUint8('b')

	// A player count that could not fit.
	hugeCount := NewWriter(8)
	hugeCount.PutUint8(uint8(CmdUpdatePlayerInfo))
	hugeCount.PutCount(1 << 20)

	testCases := []struct {
		name string
		dir  Direction
		body []byte
	}{
		{"empty", ToHub, nil},
		{"unknown command", ToHub, []byte{byte(commandCount)}},
		{"unknown command 255", ToClient, []byte{255, 0, 0}},
		{"short field", ToHub, valid[:len(valid)-1]},
		{"trailing bytes", ToHub, append(append([]byte(nil), valid...), 0)},
		{"string past end", ToHub, overlong.Bytes()},
		{"huge count", ToClient, hugeCount.Bytes()},
		{"bad bool", ToHub, []byte{byte(CmdPlayerReady), 2}},
		{"missing result", ToClient, []byte{byte(CmdJoinRoom)}},
		{"bad difficulty", ToClient, append([]byte{byte(CmdStartLevel), 9}, Encode(&RandomSong{Song: *song()})[1:]...)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, msg, err := Decode(tc.dir, tc.body)
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.True(t, errors.Is(err, ErrMalformedFrame), "got %v", err)

			var fe *FrameError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

// TestDecodeCopiesBytes verifies that decoded byte fields do not alias the
// input buffer.
func TestDecodeCopiesBytes(t *testing.T) {
	body := Encode(&UpdateVoIPData{Fragment: VoipFragment{PlayerID: 1, Data: []byte("opus")}})
	_, msg, err := Decode(ToHub, body)
	require.NoError(t, err)

	body[len(body)-1] = 'X'
	assert.Equal(t, []byte("opus"), msg.(*UpdateVoIPData).Fragment.Data)
}

// TestCommandString covers known and unknown command names.
func TestCommandString(t *testing.T) {
	assert.Equal(t, "UpdatePlayerInfo", CmdUpdatePlayerInfo.String())
	assert.Equal(t, "GetRandomSongInfo", CmdGetRandomSongInfo.String())
	assert.Equal(t, "Command(99)", Command(99).String())
	assert.Len(t, commandNames, int(commandCount))

	cmd, ok := Peek([]byte{byte(CmdJoinRoom), 0})
	assert.True(t, ok)
	assert.Equal(t, CmdJoinRoom, cmd)
	_, ok = Peek(nil)
	assert.False(t, ok)
}
