package delivery

import "sync"

// Sequencer is the receiving side of the unreliable lanes. Each channel keeps
// the last accepted sequence number; anything not newer is dropped. It is
// safe for concurrent use.
type Sequencer struct {
	mu      sync.Mutex
	last    [NumChannels]uint32
	seen    [NumChannels]bool
	dropped [NumChannels]uint64
}

// Accept reports whether env should be applied.
// Reliable envelopes are always accepted.
func (s *Sequencer) Accept(env Envelope) bool {
	if env.Reliable() || int(env.Channel) >= NumChannels {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch := env.Channel
	if s.seen[ch] && !newer(env.Seq, s.last[ch]) {
		s.dropped[ch]++
		return false
	}
	s.seen[ch] = true
	s.last[ch] = env.Seq
	return true
}

// Dropped returns how many stale frames ch has discarded.
func (s *Sequencer) Dropped(ch Channel) uint64 {
	if int(ch) >= NumChannels {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped[ch]
}

// Reset forgets all lanes, e.g. after a reconnect.
func (s *Sequencer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = [NumChannels]uint32{}
	s.seen = [NumChannels]bool{}
}

// newer compares with serial number arithmetic (RFC 1982), so a sender that
// wraps past math.MaxUint32 keeps being accepted.
func newer(a, b uint32) bool {
	return a != b && int32(a-b) > 0
}
