// Package delivery tags outbound frames with a delivery class and a channel
// index, and sequences unreliable lanes on receipt.
//
//	channel 0  reliable-ordered       control plane
//	channel 1  unreliable-sequenced   player telemetry (UpdatePlayerInfo)
//	channel 2  unreliable-sequenced   voice (UpdateVoIPData)
package delivery

import (
	"fmt"

	"github.com/1ureka/rhythmhub/internal/protocol"
)

// Class is a delivery guarantee.
type Class uint8

const (
	// ReliableOrdered frames arrive in send order, or the connection is lost.
	ReliableOrdered Class = iota
	// UnreliableSequenced frames are never retransmitted; a receiver drops
	// any frame older than the last one it accepted on the same channel.
	UnreliableSequenced
)

func (c Class) String() string {
	switch c {
	case ReliableOrdered:
		return "reliable-ordered"
	case UnreliableSequenced:
		return "unreliable-sequenced"
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// Channel is an independent ordering lane.
type Channel uint8

const (
	ChannelControl Channel = iota
	ChannelTelemetry
	ChannelVoice

	// NumChannels is the number of lanes a link carries.
	NumChannels = 3
)

func (c Channel) String() string {
	switch c {
	case ChannelControl:
		return "control"
	case ChannelTelemetry:
		return "telemetry"
	case ChannelVoice:
		return "voice"
	}
	return fmt.Sprintf("Channel(%d)", uint8(c))
}

// Route returns the class and channel a command travels on.
func Route(cmd protocol.Command) (Class, Channel) {
	switch cmd {
	case protocol.CmdUpdatePlayerInfo:
		return UnreliableSequenced, ChannelTelemetry
	case protocol.CmdUpdateVoIPData:
		return UnreliableSequenced, ChannelVoice
	}
	return ReliableOrdered, ChannelControl
}

// Envelope is a frame body plus its delivery tag. Seq is only meaningful on
// unreliable channels and is assigned by the link that carries it.
type Envelope struct {
	Class   Class
	Channel Channel
	Seq     uint32
	Body    []byte
}

// Reliable reports whether the envelope must not be dropped.
func (e Envelope) Reliable() bool { return e.Class == ReliableOrdered }

// Wrap tags an encoded frame body by its command. A body with no valid
// command is routed on the control channel, where the receiver will reject
// it.
func Wrap(body []byte) Envelope {
	cmd, _ := protocol.Peek(body)
	class, ch := Route(cmd)
	return Envelope{Class: class, Channel: ch, Body: body}
}

// Message encodes msg and wraps it.
func Message(msg protocol.Message) Envelope {
	return Wrap(protocol.Encode(msg))
}
