package protocol

import (
	"fmt"
	"unicode/utf8"
)

// PlayerState is where a player currently is in the hub.
type PlayerState uint8

const (
	PlayerLobby PlayerState = iota
	PlayerRoom
	PlayerGame
)

func (s PlayerState) String() string {
	switch s {
	case PlayerLobby:
		return "Lobby"
	case PlayerRoom:
		return "Room"
	case PlayerGame:
		return "Game"
	}
	return fmt.Sprintf("PlayerState(%d)", uint8(s))
}

// Difficulty is a beatmap difficulty.
type Difficulty uint8

const (
	DifficultyEasy Difficulty = iota
	DifficultyNormal
	DifficultyHard
	DifficultyExpert
	DifficultyExpertPlus
)

var difficultyNames = [...]string{"Easy", "Normal", "Hard", "Expert", "ExpertPlus"}

func (d Difficulty) String() string {
	if int(d) < len(difficultyNames) {
		return difficultyNames[d]
	}
	return fmt.Sprintf("Difficulty(%d)", uint8(d))
}

// ChannelState is the phase of a radio channel.
type ChannelState uint8

const (
	ChannelInGame ChannelState = iota
	ChannelVoting
	ChannelNextSong
	ChannelResults
)

func (s ChannelState) String() string {
	switch s {
	case ChannelInGame:
		return "InGame"
	case ChannelVoting:
		return "Voting"
	case ChannelNextSong:
		return "NextSong"
	case ChannelResults:
		return "Results"
	}
	return fmt.Sprintf("ChannelState(%d)", uint8(s))
}

// RoomState is the phase of a room.
type RoomState uint8

const (
	RoomSelectingSong RoomState = iota
	RoomPreparing
	RoomInGame
	RoomResults
)

func (s RoomState) String() string {
	switch s {
	case RoomSelectingSong:
		return "SelectingSong"
	case RoomPreparing:
		return "Preparing"
	case RoomInGame:
		return "InGame"
	case RoomResults:
		return "Results"
	}
	return fmt.Sprintf("RoomState(%d)", uint8(s))
}

// JoinResult is the result code carried by JoinRoom and JoinChannel
// acknowledgments. Zero is success.
type JoinResult uint8

const (
	JoinSuccess JoinResult = iota
	JoinNotFound
	JoinWrongPassword
	JoinTooManyPlayers
)

func (r JoinResult) String() string {
	switch r {
	case JoinSuccess:
		return "success"
	case JoinNotFound:
		return "not found"
	case JoinWrongPassword:
		return "wrong password"
	case JoinTooManyPlayers:
		return "too many players"
	}
	return fmt.Sprintf("JoinResult(%d)", uint8(r))
}

// ---------------------------------------------------------------------------
// PlayerInfo
// ---------------------------------------------------------------------------

// Vec3 is a position in meters.
type Vec3 struct{ X, Y, Z float32 }

// Quat is an orientation quaternion.
type Quat struct{ X, Y, Z, W float32 }

func (v Vec3) marshalTo(w *Writer) {
	w.PutFloat32(v.X)
	w.PutFloat32(v.Y)
	w.PutFloat32(v.Z)
}

func (v *Vec3) unmarshalFrom(r *Reader) {
	v.X, v.Y, v.Z = r.Float32(), r.Float32(), r.Float32()
}

func (q Quat) marshalTo(w *Writer) {
	w.PutFloat32(q.X)
	w.PutFloat32(q.Y)
	w.PutFloat32(q.Z)
	w.PutFloat32(q.W)
}

func (q *Quat) unmarshalFrom(r *Reader) {
	q.X, q.Y, q.Z, q.W = r.Float32(), r.Float32(), r.Float32(), r.Float32()
}

// MaxHits is the largest number of hit events one PlayerInfo carries.
const MaxHits = 255

// Hit flag bits, least significant first.
const (
	HitNoteWasCut uint8 = 1 << iota
	HitIsSaberA
	HitSpeedOK
	HitDirectionOK
	HitSaberTypeOK
	HitWasCutTooSoon
	HitReserved1
	HitReserved2
)

// HitData is one note-hit event. Its eight flags travel packed in one byte.
type HitData struct {
	ObjectTime    float32
	NoteWasCut    bool
	IsSaberA      bool
	SpeedOK       bool
	DirectionOK   bool
	SaberTypeOK   bool
	WasCutTooSoon bool
	Reserved1     bool
	Reserved2     bool
}

// Flags packs the eight booleans, bit i holding flag i.
func (h HitData) Flags() uint8 {
	var b uint8
	set := func(bit uint8, v bool) {
		if v {
			b |= bit
		}
	}
	set(HitNoteWasCut, h.NoteWasCut)
	set(HitIsSaberA, h.IsSaberA)
	set(HitSpeedOK, h.SpeedOK)
	set(HitDirectionOK, h.DirectionOK)
	set(HitSaberTypeOK, h.SaberTypeOK)
	set(HitWasCutTooSoon, h.WasCutTooSoon)
	set(HitReserved1, h.Reserved1)
	set(HitReserved2, h.Reserved2)
	return b
}

// HitFromFlags rebuilds a HitData from its object time and packed flags.
func HitFromFlags(objectTime float32, b uint8) HitData {
	return HitData{
		ObjectTime:    objectTime,
		NoteWasCut:    b&HitNoteWasCut != 0,
		IsSaberA:      b&HitIsSaberA != 0,
		SpeedOK:       b&HitSpeedOK != 0,
		DirectionOK:   b&HitDirectionOK != 0,
		SaberTypeOK:   b&HitSaberTypeOK != 0,
		WasCutTooSoon: b&HitWasCutTooSoon != 0,
		Reserved1:     b&HitReserved1 != 0,
		Reserved2:     b&HitReserved2 != 0,
	}
}

// PlayerInfo is a player's identity plus its latest telemetry snapshot. It
// is owned by the session or peer it describes and crosses the wire by value.
type PlayerInfo struct {
	Name  string
	ID    uint64
	State PlayerState

	Score       uint32
	CutBlocks   uint32
	ComboBlocks uint32
	TotalBlocks uint32
	Energy      float32
	Progress    float32

	RightHandPos Vec3
	LeftHandPos  Vec3
	HeadPos      Vec3
	RightHandRot Quat
	LeftHandRot  Quat
	HeadRot      Quat

	// Hits holds the note events since the previous update. An empty list
	// decodes as nil.
	Hits []HitData
}

const (
	playerInfoMinSize = 1 + 8 + 1 + 4*4 + 2*4 + 3*12 + 3*16 + 1
	hitSize           = 5
	songInfoMinSize   = 1 + 1 + 4
	roomInfoMinSize   = 4 + 1 + 1 + 1 + 1 + 4 + 4 + 1 + 1
)

// Clone returns a deep copy, so the snapshot can leave its owner.
func (p PlayerInfo) Clone() PlayerInfo {
	if p.Hits != nil {
		p.Hits = append([]HitData(nil), p.Hits...)
	}
	return p
}

func (p PlayerInfo) MarshalTo(w *Writer) {
	w.PutString(p.Name)
	w.PutUint64(p.ID)
	w.PutUint8(uint8(p.State))
	w.PutUint32(p.Score)
	w.PutUint32(p.CutBlocks)
	w.PutUint32(p.ComboBlocks)
	w.PutUint32(p.TotalBlocks)
	w.PutFloat32(p.Energy)
	w.PutFloat32(p.Progress)
	p.RightHandPos.marshalTo(w)
	p.LeftHandPos.marshalTo(w)
	p.HeadPos.marshalTo(w)
	p.RightHandRot.marshalTo(w)
	p.LeftHandRot.marshalTo(w)
	p.HeadRot.marshalTo(w)

	// Keep the most recent hits when over the limit.
	hits := p.Hits
	if len(hits) > MaxHits {
		hits = hits[len(hits)-MaxHits:]
	}
	w.PutUint8(uint8(len(hits)))
	for _, h := range hits {
		w.PutFloat32(h.ObjectTime)
		w.PutUint8(h.Flags())
	}
}

func (p *PlayerInfo) UnmarshalFrom(r *Reader) error {
	p.Name = r.String()
	p.ID = r.Uint64()
	p.State = PlayerState(r.Uint8())
	p.Score = r.Uint32()
	p.CutBlocks = r.Uint32()
	p.ComboBlocks = r.Uint32()
	p.TotalBlocks = r.Uint32()
	p.Energy = r.Float32()
	p.Progress = r.Float32()
	p.RightHandPos.unmarshalFrom(r)
	p.LeftHandPos.unmarshalFrom(r)
	p.HeadPos.unmarshalFrom(r)
	p.RightHandRot.unmarshalFrom(r)
	p.LeftHandRot.unmarshalFrom(r)
	p.HeadRot.unmarshalFrom(r)

	n := int(r.Uint8())
	if r.Err() == nil && n*hitSize > r.Remaining() {
		return fmt.Errorf("hit count %d exceeds remaining %d bytes", n, r.Remaining())
	}
	p.Hits = nil
	if n > 0 {
		p.Hits = make([]HitData, n)
		for i := range p.Hits {
			t := r.Float32()
			p.Hits[i] = HitFromFlags(t, r.Uint8())
		}
	}

	if err := r.Err(); err != nil {
		return err
	}
	if p.State > PlayerGame {
		return fmt.Errorf("invalid player state %d", p.State)
	}
	return nil
}

// ---------------------------------------------------------------------------
// SongInfo
// ---------------------------------------------------------------------------

// MaxLevelIDLength caps SongInfo.LevelID, in characters.
const MaxLevelIDLength = 32

// SongInfo identifies a level. Construct it with NewSongInfo so the level id
// cap holds.
type SongInfo struct {
	Name     string
	LevelID  string
	Duration float32
}

// NewSongInfo builds a SongInfo, truncating levelID to MaxLevelIDLength
// characters.
func NewSongInfo(name, levelID string, duration float32) SongInfo {
	return SongInfo{Name: name, LevelID: capLevelID(levelID), Duration: duration}
}

func capLevelID(id string) string {
	if utf8.RuneCountInString(id) <= MaxLevelIDLength {
		return id
	}
	return string([]rune(id)[:MaxLevelIDLength])
}

func (s SongInfo) MarshalTo(w *Writer) {
	w.PutString(s.Name)
	w.PutString(capLevelID(s.LevelID))
	w.PutFloat32(s.Duration)
}

func (s *SongInfo) UnmarshalFrom(r *Reader) error {
	s.Name = r.String()
	s.LevelID = r.String()
	s.Duration = r.Float32()
	if err := r.Err(); err != nil {
		return err
	}
	if utf8.RuneCountInString(s.LevelID) > MaxLevelIDLength {
		return fmt.Errorf("level id longer than %d characters", MaxLevelIDLength)
	}
	return nil
}

func putOptionalSong(w *Writer, s *SongInfo) {
	w.PutBool(s != nil)
	if s != nil {
		s.MarshalTo(w)
	}
}

func readOptionalSong(r *Reader) (*SongInfo, error) {
	if !r.Bool() {
		return nil, r.Err()
	}
	s := &SongInfo{}
	if err := s.UnmarshalFrom(r); err != nil {
		return nil, err
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Rooms and channels
// ---------------------------------------------------------------------------

// RoomSettings is what a host chooses when creating a room. Password only
// travels when UsePassword is set.
type RoomSettings struct {
	Name        string
	UsePassword bool
	Password    string
	NoFail      bool
	MaxPlayers  int32
}

func (s RoomSettings) MarshalTo(w *Writer) {
	w.PutString(s.Name)
	w.PutBool(s.UsePassword)
	if s.UsePassword {
		w.PutString(s.Password)
	}
	w.PutBool(s.NoFail)
	w.PutInt32(s.MaxPlayers)
}

func (s *RoomSettings) UnmarshalFrom(r *Reader) error {
	s.Name = r.String()
	s.UsePassword = r.Bool()
	s.Password = ""
	if s.UsePassword {
		s.Password = r.String()
	}
	s.NoFail = r.Bool()
	s.MaxPlayers = r.Int32()
	return r.Err()
}

// RoomInfo is the public description of a room, as listed by GetRooms.
type RoomInfo struct {
	RoomID       uint32
	Name         string
	UsePassword  bool
	NoFail       bool
	State        RoomState
	PlayerCount  int32
	MaxPlayers   int32
	HostName     string
	SelectedSong *SongInfo
}

func (i RoomInfo) MarshalTo(w *Writer) {
	w.PutUint32(i.RoomID)
	w.PutString(i.Name)
	w.PutBool(i.UsePassword)
	w.PutBool(i.NoFail)
	w.PutUint8(uint8(i.State))
	w.PutInt32(i.PlayerCount)
	w.PutInt32(i.MaxPlayers)
	w.PutString(i.HostName)
	putOptionalSong(w, i.SelectedSong)
}

func (i *RoomInfo) UnmarshalFrom(r *Reader) error {
	i.RoomID = r.Uint32()
	i.Name = r.String()
	i.UsePassword = r.Bool()
	i.NoFail = r.Bool()
	i.State = RoomState(r.Uint8())
	i.PlayerCount = r.Int32()
	i.MaxPlayers = r.Int32()
	i.HostName = r.String()
	song, err := readOptionalSong(r)
	if err != nil {
		return err
	}
	i.SelectedSong = song
	if i.State > RoomResults {
		return fmt.Errorf("invalid room state %d", i.State)
	}
	return r.Err()
}

// ChannelInfo describes a radio channel. CurrentSong is absent exactly when
// State is ChannelVoting; IP and Port are the rendezvous address of the
// channel's own data stream.
type ChannelInfo struct {
	ChannelID           int32
	Name                string
	IconURL             string
	State               ChannelState
	CurrentSong         *SongInfo
	PreferredDifficulty Difficulty
	PlayerCount         int32
	IP                  string
	Port                int32
}

func (c ChannelInfo) MarshalTo(w *Writer) {
	w.PutInt32(c.ChannelID)
	w.PutString(c.Name)
	w.PutString(c.IconURL)
	w.PutUint8(uint8(c.State))
	if c.State != ChannelVoting {
		song := SongInfo{}
		if c.CurrentSong != nil {
			song = *c.CurrentSong
		}
		song.MarshalTo(w)
	}
	w.PutUint8(uint8(c.PreferredDifficulty))
	w.PutInt32(c.PlayerCount)
	w.PutString(c.IP)
	w.PutInt32(c.Port)
}

func (c *ChannelInfo) UnmarshalFrom(r *Reader) error {
	c.ChannelID = r.Int32()
	c.Name = r.String()
	c.IconURL = r.String()
	c.State = ChannelState(r.Uint8())
	c.CurrentSong = nil
	if r.Err() == nil && c.State != ChannelVoting {
		song := &SongInfo{}
		if err := song.UnmarshalFrom(r); err != nil {
			return err
		}
		c.CurrentSong = song
	}
	c.PreferredDifficulty = Difficulty(r.Uint8())
	c.PlayerCount = r.Int32()
	c.IP = r.String()
	c.Port = r.Int32()
	if err := r.Err(); err != nil {
		return err
	}
	if c.State > ChannelResults {
		return fmt.Errorf("invalid channel state %d", c.State)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Voice
// ---------------------------------------------------------------------------

// VoipFragment is one opaque chunk of encoded voice audio. Index increases
// per sender so receivers can drop late fragments.
type VoipFragment struct {
	PlayerID uint64
	Index    uint32
	Data     []byte
}

func (v VoipFragment) MarshalTo(w *Writer) {
	w.PutUint64(v.PlayerID)
	w.PutUint32(v.Index)
	w.PutBytes(v.Data)
}

func (v *VoipFragment) UnmarshalFrom(r *Reader) error {
	v.PlayerID = r.Uint64()
	v.Index = r.Uint32()
	v.Data = r.Bytes()
	return r.Err()
}
