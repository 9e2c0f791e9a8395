// Package rtc carries hub traffic over WebRTC DataChannels: one reliable
// ordered lane for control frames and two unordered lanes without
// retransmission for telemetry and voice.
package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rhythmhub/internal/delivery"
)

// newPeerConnection creates a PeerConnection using the given STUN/TURN URLs.
// No servers means host candidates only, which is enough on a LAN.
func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return webrtc.NewPeerConnection(config)
}

// openChannels creates the three pre-negotiated lanes, one per delivery
// channel. Both sides create them with the same ids, so neither depends on
// OnDataChannel.
func openChannels(pc *webrtc.PeerConnection) ([delivery.NumChannels]*webrtc.DataChannel, error) {
	var dcs [delivery.NumChannels]*webrtc.DataChannel
	for i := range dcs {
		ch := delivery.Channel(i)
		negotiated := true
		id := uint16(i)
		init := &webrtc.DataChannelInit{Negotiated: &negotiated, ID: &id}

		if ch != delivery.ChannelControl {
			ordered := false
			retransmits := uint16(0)
			init.Ordered = &ordered
			init.MaxRetransmits = &retransmits
		}

		dc, err := pc.CreateDataChannel(ch.String(), init)
		if err != nil {
			return dcs, fmt.Errorf("create %s channel: %w", ch, err)
		}
		dcs[i] = dc
	}
	return dcs, nil
}
