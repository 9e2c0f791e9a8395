package rtc

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/rhythmhub/internal/transport"
	"github.com/1ureka/rhythmhub/internal/util"
)

const (
	highWaterMark  = 256 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 64 * 1024  // resume sending when bufferedAmount drops below this
	sendBufferSize = 256        // outgoing frame channel capacity per lane
)

type outbound struct {
	data []byte
	done *transport.Completion
}

// sender is a goroutine-based frame writer that serializes all writes to a
// single DataChannel, adding open-gate and backpressure control.
type sender struct {
	inbox       chan outbound
	drainSignal chan struct{}

	mu      sync.Mutex
	stopped bool
	lostErr func() error
}

// newSender creates a sender, wires the backpressure callbacks on dc, and
// starts the background loop. The loop exits when ctx is cancelled or a
// write fails; a write failure is passed to fail, and frames still queued
// then fail with the result of lostErr.
func newSender(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}, lostErr func() error, fail func(error)) *sender {
	s := &sender{
		inbox:       make(chan outbound, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
		lostErr:     lostErr,
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal, lostErr, fail)

	return s
}

// loop is the single-writer goroutine. It waits for the DataChannel to open,
// then drains the inbox with backpressure awareness.
func (s *sender) loop(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}, lostErr func() error, fail func(error)) {
	defer s.drain(lostErr)

	// Phase 1: wait for DC to be open.
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	// Phase 2: send frames with backpressure.
	for {
		select {
		case out := <-s.inbox:
			if dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					out.done.Resolve(lostOr(lostErr))
					return
				}
			}

			err := dc.Send(out.data)
			out.done.Resolve(err)
			if err != nil {
				util.LogError("failed to send on %s: %v", dc.Label(), err)
				fail(err)
				return
			}
			util.Stats.AddSent(len(out.data))
		case <-ctx.Done():
			return
		}
	}
}

func lostOr(lostErr func() error) error {
	if err := lostErr(); err != nil {
		return err
	}
	return transport.ErrConnectionLost
}

// drain stops the sender and fails everything still queued.
func (s *sender) drain(lostErr func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true

	err := lostOr(lostErr)
	for {
		select {
		case out := <-s.inbox:
			out.done.Resolve(err)
		default:
			return
		}
	}
}

// trySend enqueues without blocking and reports whether there was room. A
// stopped sender fails the frame itself.
func (s *sender) trySend(out outbound) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		out.done.Resolve(lostOr(s.lostErr))
		return true
	}
	select {
	case s.inbox <- out:
		return true
	default:
		return false
	}
}
