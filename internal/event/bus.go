// Package event fans decoded frames and session lifecycle changes out to
// independent subscribers. A subscriber that fails never affects the others
// or the publisher.
package event

import (
	"errors"
	"fmt"
	"sync"

	"github.com/1ureka/rhythmhub/internal/util"
)

// Kind selects a subscriber list.
type Kind uint8

const (
	// KindFrame carries every decoded inbound message. A nil Payload means
	// the session ended and no further frames will follow.
	KindFrame Kind = iota
	KindConnected
	KindRefused      // Payload: error describing the refusal
	KindJoinedRoom   // Payload: nil, or *protocol.RoomInfoMessage once known
	KindLevelStarted // Payload: *protocol.StartLevel
	KindLeftRoom
	KindEventMessage // Payload: *protocol.SendEventMessage
	KindRoomsUpdated // Payload: *protocol.RoomList
	KindRoomInfo     // Payload: *protocol.RoomInfoMessage
	KindChannelInfo  // Payload: *protocol.ChannelInfoMessage
	KindVoice        // Payload: *protocol.UpdateVoIPData
	KindDisconnected // Payload: nil

	kindCount
)

var kindNames = [...]string{
	"frame", "connected", "refused", "joined-room", "level-started", "left-room",
	"event-message", "rooms-updated", "room-info", "channel-info", "voice", "disconnected",
}

func (k Kind) String() string {
	if k >= kindCount {
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Event is one published notification.
type Event struct {
	Kind    Kind
	Payload any
}

// Handler receives events. A returned error is treated like a panic: it is
// reported as a fault and delivery continues with the next handler.
type Handler func(Event) error

// ErrSubscriberFault marks errors produced by a failing handler.
var ErrSubscriberFault = errors.New("subscriber fault")

// Fault describes one handler failure during Publish.
type Fault struct {
	Kind  Kind
	Index int // position of the handler in the subscriber list
	Err   error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("subscriber %d of %s: %v", f.Index, f.Kind, f.Err)
}

func (f *Fault) Unwrap() []error { return []error{ErrSubscriberFault, f.Err} }

// FaultReporter is told about every fault. It must not block.
type FaultReporter func(*Fault)

// LogFaults is the default reporter.
func LogFaults(f *Fault) {
	util.LogError("%v", f)
}

type subscription struct {
	id uint64
	h  Handler
}

// Bus is a dispatch table keyed by Kind.
type Bus struct {
	mu     sync.RWMutex
	subs   [kindCount][]subscription
	nextID uint64
	report FaultReporter
}

// NewBus creates an empty bus. A nil reporter logs faults.
func NewBus(report FaultReporter) *Bus {
	if report == nil {
		report = LogFaults
	}
	return &Bus{report: report}
}

// Subscribe appends h to the handlers of kind and returns a function that
// removes it again.
func (b *Bus) Subscribe(kind Kind, h Handler) (unsubscribe func()) {
	if kind >= kindCount || h == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[kind] = append(b.subs[kind], subscription{id: id, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(kind, id) })
	}
}

func (b *Bus) remove(kind Kind, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[kind]
	for i, s := range list {
		if s.id == id {
			// Copy so a snapshot held by a running Publish stays intact.
			next := make([]subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			b.subs[kind] = append(next, list[i+1:]...)
			return
		}
	}
}

// Publish invokes every handler subscribed to kind, in subscription order.
// Handlers may subscribe or unsubscribe while running; the change applies
// from the next Publish. Faults are reported, never returned.
func (b *Bus) Publish(kind Kind, payload any) {
	if kind >= kindCount {
		return
	}

	b.mu.RLock()
	list := b.subs[kind]
	b.mu.RUnlock()

	ev := Event{Kind: kind, Payload: payload}
	for i, s := range list {
		if err := invoke(s.h, ev); err != nil {
			b.report(&Fault{Kind: kind, Index: i, Err: err})
		}
	}
}

// Len returns the number of handlers subscribed to kind.
func (b *Bus) Len(kind Kind) int {
	if kind >= kindCount {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

func invoke(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ev)
}
