package hub

import (
	"slices"
	"time"

	"github.com/1ureka/rhythmhub/internal/config"
	"github.com/1ureka/rhythmhub/internal/event"
	"github.com/1ureka/rhythmhub/internal/protocol"
)

// defaultSongLength is used for songs whose duration nobody has reported.
const defaultSongLength = 3 * time.Minute

// radioChannel plays songs from the library back to back for whoever is
// listening. All fields are guarded by Server.mu.
type radioChannel struct {
	cfg        config.ChannelConfig
	difficulty protocol.Difficulty
	state      protocol.ChannelState
	song       *protocol.SongInfo
	until      time.Time
	members    []*Peer
}

func newRadioChannel(cfg config.ChannelConfig) (*radioChannel, error) {
	d, err := config.ParseDifficulty(cfg.Difficulty)
	if err != nil {
		return nil, err
	}
	return &radioChannel{cfg: cfg, difficulty: d, state: protocol.ChannelNextSong}, nil
}

func (c *radioChannel) info() protocol.ChannelInfo {
	return protocol.ChannelInfo{
		ChannelID:           c.cfg.ID,
		Name:                c.cfg.Name,
		IconURL:             c.cfg.IconURL,
		State:               c.state,
		CurrentSong:         cloneSong(c.song),
		PreferredDifficulty: c.difficulty,
		PlayerCount:         int32(len(c.members)),
		IP:                  c.cfg.IP,
		Port:                c.cfg.Port,
	}
}

func (c *radioChannel) broadcast(msg protocol.Message, except *Peer) {
	for _, m := range c.members {
		if m != except {
			m.send(msg)
		}
	}
}

// advance moves the channel through NextSong, InGame and Results and
// reports whether the state changed.
func (c *radioChannel) advance(now time.Time, s *Server) bool {
	switch c.state {
	case protocol.ChannelNextSong, protocol.ChannelVoting:
		song, ok := s.songs.Random()
		if !ok {
			if c.state == protocol.ChannelVoting {
				return false
			}
			c.state = protocol.ChannelVoting
			c.song = nil
			return true
		}
		length := time.Duration(song.Duration * float32(time.Second))
		if length <= 0 {
			length = defaultSongLength
		}
		c.song = &song
		c.state = protocol.ChannelInGame
		c.until = now.Add(length)
		for _, m := range c.members {
			m.info.State = protocol.PlayerGame
		}
		c.broadcast(&protocol.StartLevel{Difficulty: c.difficulty, Song: song}, nil)
		return true

	case protocol.ChannelInGame:
		if now.Before(c.until) {
			return false
		}
		c.state = protocol.ChannelResults
		c.until = now.Add(s.cfg.ResultsDuration)
		for _, m := range c.members {
			m.info.State = protocol.PlayerRoom
		}
		c.broadcast(&protocol.SetGameState{InGame: false}, nil)
		return true

	case protocol.ChannelResults:
		if now.Before(c.until) {
			return false
		}
		c.state = protocol.ChannelNextSong
		return true
	}
	return false
}

// The methods below require s.mu.

func (s *Server) channelList() []protocol.ChannelInfo {
	out := make([]protocol.ChannelInfo, len(s.channels))
	for i, c := range s.channels {
		out[i] = c.info()
	}
	return out
}

func (s *Server) findChannel(id int32) *radioChannel {
	for _, c := range s.channels {
		if c.cfg.ID == id {
			return c
		}
	}
	return nil
}

func (s *Server) channelChanged(c *radioChannel) {
	info := c.info()
	c.broadcast(&protocol.ChannelInfoMessage{Info: info}, nil)
	s.publish(event.KindChannelInfo, &protocol.ChannelInfoMessage{Info: info})
}

func (s *Server) joinChannel(p *Peer, id int32) {
	c := s.findChannel(id)
	switch {
	case c == nil:
		p.send(&protocol.JoinChannelResult{Result: protocol.JoinNotFound})
		return
	case p.channel == c:
	case len(c.members) >= s.cfg.MaxPlayers:
		p.send(&protocol.JoinChannelResult{Result: protocol.JoinTooManyPlayers})
		return
	default:
		s.leaveCurrent(p)
		c.members = append(c.members, p)
		p.channel = c
		p.info.State = protocol.PlayerRoom
		s.metrics.radio.Inc()
		p.log.Info("joined channel %d %q", c.cfg.ID, c.cfg.Name)
	}

	p.send(&protocol.JoinChannelResult{Result: protocol.JoinSuccess})
	s.channelChanged(c)
}

func (s *Server) leaveChannel(p *Peer) {
	c := p.channel
	if c == nil {
		return
	}
	i := slices.Index(c.members, p)
	if i < 0 {
		s.violation(p, "peer points at channel %d but is not a member", c.cfg.ID)
	} else {
		c.members = slices.Delete(c.members, i, i+1)
		s.metrics.radio.Dec()
	}
	s.resetPeer(p)
	p.log.Info("left channel %d", c.cfg.ID)
	s.channelChanged(c)
}

func (s *Server) sendChannelInfo(p *Peer, id int32) {
	c := s.findChannel(id)
	if c == nil {
		p.log.Debug("channel info requested for unknown channel %d", id)
		return
	}
	p.send(&protocol.ChannelInfoMessage{Info: c.info()})
}
