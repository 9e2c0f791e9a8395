package delivery

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/1ureka/rhythmhub/internal/protocol"
)

// TestRoute covers the channel assignment of every command.
func TestRoute(t *testing.T) {
	for cmd := protocol.CmdConnect; cmd.Valid(); cmd++ {
		class, ch := Route(cmd)
		switch cmd {
		case protocol.CmdUpdatePlayerInfo:
			assert.Equal(t, UnreliableSequenced, class)
			assert.Equal(t, ChannelTelemetry, ch)
		case protocol.CmdUpdateVoIPData:
			assert.Equal(t, UnreliableSequenced, class)
			assert.Equal(t, ChannelVoice, ch)
		default:
			assert.Equal(t, ReliableOrdered, class, cmd.String())
			assert.Equal(t, ChannelControl, ch, cmd.String())
		}
	}
}

// TestWrap verifies that envelopes are tagged from the body's command.
func TestWrap(t *testing.T) {
	env := Message(&protocol.UpdatePlayerInfo{})
	assert.Equal(t, ChannelTelemetry, env.Channel)
	assert.False(t, env.Reliable())

	env = Wrap(nil)
	assert.True(t, env.Reliable())
	assert.Equal(t, ChannelControl, env.Channel)
}

// TestSeqGenStartsAtOne verifies the first sequence number and the
// independence of lanes.
func TestSeqGenStartsAtOne(t *testing.T) {
	var st Stamp
	tel := Envelope{Class: UnreliableSequenced, Channel: ChannelTelemetry}
	voice := Envelope{Class: UnreliableSequenced, Channel: ChannelVoice}

	assert.Equal(t, uint32(1), st.Apply(tel).Seq)
	assert.Equal(t, uint32(2), st.Apply(tel).Seq)
	assert.Equal(t, uint32(1), st.Apply(voice).Seq)
	assert.Equal(t, uint32(0), st.Apply(Envelope{}).Seq)
}

// TestSeqGenConcurrent verifies that concurrent callers never share a number.
func TestSeqGenConcurrent(t *testing.T) {
	var g SeqGen
	var mu sync.Mutex
	seen := make(map[uint32]bool)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				n := g.Next()
				mu.Lock()
				seen[n] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 8000)
}

// TestSequencerDropsStale verifies per-lane drop of old and duplicate frames.
func TestSequencerDropsStale(t *testing.T) {
	var s Sequencer
	tel := func(seq uint32) Envelope {
		return Envelope{Class: UnreliableSequenced, Channel: ChannelTelemetry, Seq: seq}
	}
	voice := func(seq uint32) Envelope {
		return Envelope{Class: UnreliableSequenced, Channel: ChannelVoice, Seq: seq}
	}

	assert.True(t, s.Accept(tel(5)))
	assert.False(t, s.Accept(tel(3)))
	assert.False(t, s.Accept(tel(5)))
	assert.True(t, s.Accept(tel(6)))

	// Voice is sequenced independently of telemetry.
	assert.True(t, s.Accept(voice(1)))
	assert.True(t, s.Accept(voice(2)))

	// Reliable frames never pass through sequencing.
	assert.True(t, s.Accept(Envelope{Seq: 1}))
	assert.True(t, s.Accept(Envelope{Seq: 1}))

	assert.Equal(t, uint64(2), s.Dropped(ChannelTelemetry))
	assert.Equal(t, uint64(0), s.Dropped(ChannelVoice))
}

// TestSequencerWraparound verifies acceptance across the uint32 boundary.
func TestSequencerWraparound(t *testing.T) {
	var s Sequencer
	env := func(seq uint32) Envelope {
		return Envelope{Class: UnreliableSequenced, Channel: ChannelTelemetry, Seq: seq}
	}

	assert.True(t, s.Accept(env(math.MaxUint32-1)))
	assert.True(t, s.Accept(env(math.MaxUint32)))
	assert.True(t, s.Accept(env(0)))
	assert.True(t, s.Accept(env(1)))
	assert.False(t, s.Accept(env(math.MaxUint32)))

	s.Reset()
	assert.True(t, s.Accept(env(math.MaxUint32)))
}
