package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rhythmhub/internal/util"
)

// messageType identifies the kind of signaling message.
type messageType string

const (
	msgTypeOffer     messageType = "offer"
	msgTypeAnswer    messageType = "answer"
	msgTypeCandidate messageType = "candidate"
)

// message is the JSON structure exchanged over the WebSocket during
// signaling.
type message struct {
	Type      messageType `json:"type"`
	SDP       string      `json:"sdp,omitempty"`
	Candidate string      `json:"candidate,omitempty"` // JSON-encoded ICECandidateInit
}

// Upgrader is used by the hub's signaling endpoint. Game clients are not
// browsers, so any origin is accepted.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Accept answers a client's offer on an upgraded WebSocket and returns the
// link once every lane is open. The WebSocket is closed afterwards.
func Accept(ctx context.Context, ws *websocket.Conn, iceServers []string) (*Link, error) {
	l, err := newLink(context.WithoutCancel(ctx), iceServers)
	if err != nil {
		ws.Close()
		return nil, err
	}
	l.remote = ws.RemoteAddr().String()
	if err := exchange(ctx, ws, l, false); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Dial connects to a hub's signaling URL, offers a session and returns the
// link once every lane is open.
func Dial(ctx context.Context, url string, iceServers []string) (*Link, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to signaling server: %w", err)
	}

	l, err := newLink(context.WithoutCancel(ctx), iceServers)
	if err != nil {
		ws.Close()
		return nil, err
	}
	l.remote = ws.RemoteAddr().String()
	if err := exchange(ctx, ws, l, true); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// exchange performs the SDP/ICE exchange. The offerer sends an offer and
// waits for the answer; the answerer does the reverse. Both trickle ICE
// candidates and block until every lane is open, ctx ends or the WebSocket
// fails.
func exchange(ctx context.Context, ws *websocket.Conn, l *Link, offerer bool) error {
	defer ws.Close()

	var wsMu sync.Mutex
	wsSend := func(msg message) {
		wsMu.Lock()
		defer wsMu.Unlock()
		if err := ws.WriteJSON(msg); err != nil {
			// If WS closed because the link is already up, that's fine.
			select {
			case <-l.Ready():
			default:
				util.LogWarning("signaling send failed: %v", err)
			}
		}
	}

	// Trickle ICE candidates.
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, _ := json.Marshal(c.ToJSON())
		wsSend(message{Type: msgTypeCandidate, Candidate: string(data)})
	})

	if offerer {
		offer, err := l.pc.CreateOffer(nil)
		if err != nil {
			return fmt.Errorf("CreateOffer: %w", err)
		}
		if err := l.pc.SetLocalDescription(offer); err != nil {
			return fmt.Errorf("SetLocalDescription: %w", err)
		}
		wsSend(message{Type: msgTypeOffer, SDP: offer.SDP})
	}

	// Read loop: offer or answer, plus ICE candidates. Candidates that
	// arrive before the remote description are held until it is set.
	errCh := make(chan error, 1)
	go func() {
		var early []webrtc.ICECandidateInit
		addCandidates := func(inits ...webrtc.ICECandidateInit) {
			for _, init := range inits {
				if err := l.pc.AddICECandidate(init); err != nil {
					util.LogWarning("AddICECandidate failed: %v", err)
				}
			}
		}

		for {
			var msg message
			if err := ws.ReadJSON(&msg); err != nil {
				errCh <- err
				return
			}
			switch msg.Type {
			case msgTypeOffer:
				if offerer {
					continue
				}
				if err := answer(l.pc, msg.SDP, wsSend); err != nil {
					errCh <- err
					return
				}
				addCandidates(early...)
				early = nil
			case msgTypeAnswer:
				if !offerer {
					continue
				}
				if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
					Type: webrtc.SDPTypeAnswer,
					SDP:  msg.SDP,
				}); err != nil {
					errCh <- fmt.Errorf("SetRemoteDescription: %w", err)
					return
				}
				addCandidates(early...)
				early = nil
			case msgTypeCandidate:
				var init webrtc.ICECandidateInit
				if err := json.Unmarshal([]byte(msg.Candidate), &init); err != nil {
					continue
				}
				if l.pc.RemoteDescription() == nil {
					early = append(early, init)
					continue
				}
				addCandidates(init)
			}
		}
	}()

	// Wait for all lanes to open, then close WS.
	select {
	case <-l.Ready():
		return nil
	case <-l.Lost():
		return l.Err()
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		select {
		case <-l.Ready():
			return nil
		default:
			return fmt.Errorf("signaling read error: %w", err)
		}
	}
}

func answer(pc *webrtc.PeerConnection, sdp string, send func(message)) error {
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}
	ans, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := pc.SetLocalDescription(ans); err != nil {
		return fmt.Errorf("SetLocalDescription: %w", err)
	}
	send(message{Type: msgTypeAnswer, SDP: ans.SDP})
	return nil
}
