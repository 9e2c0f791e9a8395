package delivery

import "sync/atomic"

// SeqGen is a per-channel atomic sequence number generator. It is shared
// between a session's tick loop and a hub's broadcast goroutines, so all
// operations are atomic.
type SeqGen struct {
	val atomic.Uint32
}

// Next returns the next sequence number, starting at 1. It wraps around
// after math.MaxUint32; Sequencer handles that.
func (s *SeqGen) Next() uint32 {
	return s.val.Add(1)
}

// Stamp assigns sequence numbers to unreliable envelopes. Reliable envelopes
// pass through with Seq 0.
type Stamp struct {
	lanes [NumChannels]SeqGen
}

// Apply sets env.Seq from its channel's generator when the envelope is
// unreliable.
func (s *Stamp) Apply(env Envelope) Envelope {
	if env.Reliable() || int(env.Channel) >= NumChannels {
		return env
	}
	env.Seq = s.lanes[env.Channel].Next()
	return env
}
