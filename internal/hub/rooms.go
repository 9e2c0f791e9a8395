package hub

import (
	"slices"

	"github.com/1ureka/rhythmhub/internal/event"
	"github.com/1ureka/rhythmhub/internal/protocol"
)

// Room is a player-hosted game room. All fields are guarded by Server.mu.
type Room struct {
	id         uint32
	settings   protocol.RoomSettings
	state      protocol.RoomState
	song       *protocol.SongInfo
	difficulty protocol.Difficulty
	host       *Peer
	members    []*Peer
}

func (r *Room) info() protocol.RoomInfo {
	info := protocol.RoomInfo{
		RoomID:       r.id,
		Name:         r.settings.Name,
		UsePassword:  r.settings.UsePassword,
		NoFail:       r.settings.NoFail,
		State:        r.state,
		PlayerCount:  int32(len(r.members)),
		MaxPlayers:   r.settings.MaxPlayers,
		SelectedSong: cloneSong(r.song),
	}
	if r.host != nil {
		info.HostName = r.host.info.Name
	}
	return info
}

func (r *Room) players() []protocol.PlayerInfo {
	out := make([]protocol.PlayerInfo, len(r.members))
	for i, m := range r.members {
		out[i] = m.info.Clone()
	}
	return out
}

func (r *Room) broadcast(msg protocol.Message, except *Peer) {
	for _, m := range r.members {
		if m != except {
			m.send(msg)
		}
	}
}

func (r *Room) member(id uint64) *Peer {
	for _, m := range r.members {
		if m.info.ID == id {
			return m
		}
	}
	return nil
}

func (r *Room) remove(p *Peer) bool {
	i := slices.Index(r.members, p)
	if i < 0 {
		return false
	}
	r.members = slices.Delete(r.members, i, i+1)
	return true
}

func (r *Room) inGame() int {
	n := 0
	for _, m := range r.members {
		if m.info.State == protocol.PlayerGame {
			n++
		}
	}
	return n
}

func cloneSong(s *protocol.SongInfo) *protocol.SongInfo {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// The methods below require s.mu.

func (s *Server) roomList() []protocol.RoomInfo {
	ids := make([]uint32, 0, len(s.rooms))
	for id := range s.rooms {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]protocol.RoomInfo, len(ids))
	for i, id := range ids {
		out[i] = s.rooms[id].info()
	}
	return out
}

func (s *Server) roomsChanged() {
	s.metrics.rooms.Set(float64(len(s.rooms)))
	s.publish(event.KindRoomsUpdated, &protocol.RoomList{Rooms: s.roomList()})
}

func (s *Server) sendRoomInfo(r *Room) {
	r.broadcast(&protocol.RoomInfoMessage{Info: r.info(), Players: r.players()}, nil)
}

func (s *Server) capacity(requested int32) int32 {
	limit := int32(s.cfg.MaxPlayers)
	if requested <= 0 || requested > limit {
		return limit
	}
	return requested
}

func (s *Server) createRoom(p *Peer, settings protocol.RoomSettings) {
	s.leaveCurrent(p)

	if !settings.UsePassword {
		settings.Password = ""
	}
	settings.MaxPlayers = s.capacity(settings.MaxPlayers)

	s.nextRoomID++
	r := &Room{
		id:       s.nextRoomID,
		settings: settings,
		state:    protocol.RoomSelectingSong,
		host:     p,
	}
	s.rooms[r.id] = r
	s.enterRoom(p, r)
	p.isHost = true

	p.log.Info("created room %d %q", r.id, settings.Name)
	p.send(&protocol.RoomCreated{RoomID: r.id})
	p.send(&protocol.JoinRoomResult{Result: protocol.JoinSuccess})
	s.sendRoomInfo(r)
	s.roomsChanged()
}

func (s *Server) joinRoom(p *Peer, m *protocol.JoinRoom) {
	result := s.tryJoinRoom(p, m)
	if result != protocol.JoinSuccess {
		p.log.Debug("join room %d refused: %s", m.RoomID, result)
		p.send(&protocol.JoinRoomResult{Result: result})
		return
	}
	r := p.room
	p.send(&protocol.JoinRoomResult{Result: protocol.JoinSuccess})
	s.sendRoomInfo(r)
	s.roomsChanged()
}

func (s *Server) tryJoinRoom(p *Peer, m *protocol.JoinRoom) protocol.JoinResult {
	r, ok := s.rooms[m.RoomID]
	switch {
	case !ok:
		return protocol.JoinNotFound
	case p.room == r:
		return protocol.JoinSuccess
	case r.settings.UsePassword && m.Password != r.settings.Password:
		return protocol.JoinWrongPassword
	case int32(len(r.members)) >= r.settings.MaxPlayers:
		return protocol.JoinTooManyPlayers
	}

	s.leaveCurrent(p)
	s.enterRoom(p, r)
	p.log.Info("joined room %d", r.id)
	return protocol.JoinSuccess
}

func (s *Server) enterRoom(p *Peer, r *Room) {
	r.members = append(r.members, p)
	p.room = r
	p.ready = false
	p.info.State = protocol.PlayerRoom
}

// leaveRoom removes p from its room. The next member inherits the host
// role; the last member out closes the room.
func (s *Server) leaveRoom(p *Peer) {
	r := p.room
	if r == nil {
		return
	}
	if !r.remove(p) {
		s.violation(p, "peer points at room %d but is not a member", r.id)
	}
	wasHost := r.host == p
	s.resetPeer(p)
	p.log.Info("left room %d", r.id)

	switch {
	case len(r.members) == 0:
		delete(s.rooms, r.id)
	case wasHost:
		next := r.members[0]
		r.host = next
		next.isHost = true
		r.broadcast(&protocol.TransferHost{PlayerID: next.info.ID}, nil)
		s.sendRoomInfo(r)
	default:
		s.sendRoomInfo(r)
	}
	s.roomsChanged()
}

func (s *Server) destroyRoom(p *Peer) {
	r := p.room
	if r == nil || r.host != p {
		p.log.Warn("destroy room refused: not the host")
		return
	}
	for _, m := range r.members {
		if m != p {
			m.send(&protocol.DestroyRoom{})
		}
		s.resetPeer(m)
	}
	r.members = nil
	delete(s.rooms, r.id)
	p.log.Info("destroyed room %d", r.id)
	s.roomsChanged()
}

func (s *Server) transferHost(p *Peer, id uint64) {
	r := p.room
	if r == nil || r.host != p {
		p.log.Warn("transfer host refused: not the host")
		return
	}
	next := r.member(id)
	if next == nil {
		p.log.Warn("transfer host refused: player %d is not in room %d", id, r.id)
		// The requester already gave up the role locally.
		p.send(&protocol.TransferHost{PlayerID: p.info.ID})
		return
	}
	p.isHost = false
	next.isHost = true
	r.host = next
	r.broadcast(&protocol.TransferHost{PlayerID: id}, nil)
	s.sendRoomInfo(r)
	s.roomsChanged()
}

func (s *Server) selectSong(p *Peer, song *protocol.SongInfo) {
	r := p.room
	if r == nil || r.host != p {
		p.log.Warn("select song refused: not the host")
		return
	}
	if r.state == protocol.RoomInGame {
		p.log.Warn("select song refused: level in progress")
		return
	}

	r.song = cloneSong(song)
	r.state = protocol.RoomSelectingSong
	if song != nil {
		r.state = protocol.RoomPreparing
		if known, ok := s.songs.Lookup(song.LevelID); ok && r.song.Duration <= 0 {
			r.song.Duration = known.Duration
		}
	}
	for _, m := range r.members {
		m.ready = false
	}

	r.broadcast(&protocol.SetSelectedSong{Song: cloneSong(r.song)}, p)
	s.sendRoomInfo(r)
	s.roomsChanged()
}

func (s *Server) startLevel(p *Peer, m *protocol.StartLevel) {
	r := p.room
	if r == nil || r.host != p {
		p.log.Warn("start level refused: not the host")
		return
	}
	if r.state == protocol.RoomInGame {
		p.log.Warn("start level refused: level in progress")
		return
	}

	song := m.Song
	r.song = &song
	r.difficulty = m.Difficulty
	r.state = protocol.RoomInGame
	for _, member := range r.members {
		member.ready = false
		member.info.State = protocol.PlayerGame
	}

	p.log.Info("room %d started %q on %s", r.id, song.Name, m.Difficulty)
	r.broadcast(&protocol.StartLevel{Difficulty: m.Difficulty, Song: song}, nil)
	s.roomsChanged()
}

// setGameState records a player entering or leaving a level. The room
// shows results once nobody is playing any more.
func (s *Server) setGameState(p *Peer, inGame bool) {
	if p.room == nil && p.channel == nil {
		return
	}
	if inGame {
		p.info.State = protocol.PlayerGame
		return
	}
	p.info.State = protocol.PlayerRoom

	r := p.room
	if r == nil || r.state != protocol.RoomInGame || r.inGame() > 0 {
		return
	}
	r.state = protocol.RoomResults
	r.broadcast(&protocol.SetGameState{InGame: false}, nil)
	s.sendRoomInfo(r)
	s.roomsChanged()
}

func (s *Server) playerReady(p *Peer, ready bool) {
	if p.room == nil {
		return
	}
	p.ready = ready
	if ready && allReady(p.room.members) {
		p.room.host.log.Debug("everyone in room %d is ready", p.room.id)
	}
}

func allReady(members []*Peer) bool {
	for _, m := range members {
		if !m.ready {
			return false
		}
	}
	return true
}

func (s *Server) sendRoomInfoTo(p *Peer) {
	if p.room == nil {
		p.log.Debug("room info requested outside a room")
		return
	}
	p.send(&protocol.RoomInfoMessage{Info: p.room.info(), Players: p.room.players()})
}

// resetPeer returns p to the lobby.
func (s *Server) resetPeer(p *Peer) {
	p.room = nil
	p.channel = nil
	p.isHost = false
	p.ready = false
	p.info.State = protocol.PlayerLobby
}

func (s *Server) leaveCurrent(p *Peer) {
	if p.room != nil {
		s.leaveRoom(p)
	}
	if p.channel != nil {
		s.leaveChannel(p)
	}
}

// relay forwards msg to everyone sharing a room or radio channel with p.
func (s *Server) relay(p *Peer, msg protocol.Message) {
	switch {
	case p.room != nil:
		p.room.broadcast(msg, p)
	case p.channel != nil:
		p.channel.broadcast(msg, p)
	}
}
