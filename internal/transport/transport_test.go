package transport

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/rhythmhub/internal/delivery"
	"github.com/1ureka/rhythmhub/internal/protocol"
)

// TestReadFrameOneByteChunks verifies that a frame delivered one byte per
// read is reassembled exactly.
func TestReadFrameOneByteChunks(t *testing.T) {
	body := protocol.Encode(&protocol.DisplayMessage{Duration: 3, FontSize: 10, Text: "hello hub"})
	stream := protocol.AppendFrame(nil, body)
	stream = protocol.AppendFrame(stream, protocol.Encode(&protocol.LeaveRoom{}))

	r := iotest.OneByteReader(bytes.NewReader(stream))

	got, err := ReadFrame(r, protocol.MaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, body, got)

	got, err = ReadFrame(r, protocol.MaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, []byte{byte(protocol.CmdLeaveRoom)}, got)

	_, err = ReadFrame(r, protocol.MaxFrameSize)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

// TestReadFrameShort verifies that a stream ending mid-frame is a lost
// connection, not a malformed frame.
func TestReadFrameShort(t *testing.T) {
	frame := protocol.EncodeFrame(&protocol.TransferHost{PlayerID: 7})

	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"partial length", frame[:2]},
		{"length only", frame[:protocol.LengthSize]},
		{"partial body", frame[:len(frame)-1]},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadFrame(bytes.NewReader(tc.data), protocol.MaxFrameSize)
			assert.ErrorIs(t, err, ErrConnectionLost)
		})
	}
}

// TestReadFrameLengthOutOfRange rejects zero, negative and oversized lengths.
func TestReadFrameLengthOutOfRange(t *testing.T) {
	for _, hdr := range [][]byte{
		{0, 0, 0, 0},
		{0xff, 0xff, 0xff, 0xff},
		{0x01, 0x01, 0x00, 0x00},
	} {
		_, err := ReadFrame(bytes.NewReader(append(hdr, 1, 2, 3)), 256)
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	}
}

func pipe(t *testing.T, opts Options) (*TCPConn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	c := NewTCPConn(a, opts)
	t.Cleanup(func() {
		c.Close()
		b.Close()
	})
	return c, b
}

// TestSendAndReceive verifies frames in both directions over a stream.
func TestSendAndReceive(t *testing.T) {
	c, remote := pipe(t, Options{})

	done := c.Send(delivery.Message(&protocol.PlayerReady{Ready: true}))
	got, err := ReadFrame(remote, protocol.MaxFrameSize)
	require.NoError(t, err)
	assert.Equal(t, protocol.Encode(&protocol.PlayerReady{Ready: true}), got)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, done.Wait(ctx))

	go remote.Write(protocol.EncodeFrame(&protocol.UpdatePlayerInfo{}))
	env, err := c.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, delivery.ChannelTelemetry, env.Channel)
	assert.Equal(t, delivery.UnreliableSequenced, env.Class)
}

// TestCloseUnblocksRead verifies that Close ends a blocked ReadEnvelope.
func TestCloseUnblocksRead(t *testing.T) {
	c, _ := pipe(t, Options{})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ReadEnvelope()
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("ReadEnvelope still blocked after Close")
	}

	select {
	case <-c.Lost():
	default:
		t.Fatal("Lost not signalled")
	}
}

// TestLostOnce verifies that concurrent read and write failures resolve to
// a single lost signal carrying the first cause.
func TestLostOnce(t *testing.T) {
	c, remote := pipe(t, Options{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.ReadEnvelope()
	}()
	go func() {
		defer wg.Done()
		c.Send(delivery.Message(&protocol.GetRooms{}))
	}()
	remote.Close()
	wg.Wait()

	<-c.Lost()
	first := c.Err()
	require.ErrorIs(t, first, ErrConnectionLost)

	// Further failures are no-ops.
	c.fail(errors.New("second"))
	c.Close()
	assert.Equal(t, first, c.Err())

	done := c.Send(delivery.Message(&protocol.GetRooms{}))
	<-done.Done()
	assert.ErrorIs(t, done.Err(), ErrConnectionLost)
}

// TestUnreliableDroppedWhenQueueFull verifies that a stalled peer drops
// telemetry but keeps the connection.
func TestUnreliableDroppedWhenQueueFull(t *testing.T) {
	c, _ := pipe(t, Options{SendQueue: 1, WriteTimeout: time.Minute})

	dropped := 0
	for i := 0; i < 10; i++ {
		done := c.Send(delivery.Message(&protocol.UpdatePlayerInfo{}))
		select {
		case <-done.Done():
			if errors.Is(done.Err(), ErrSendQueueFull) {
				dropped++
			}
		default:
		}
	}

	assert.GreaterOrEqual(t, dropped, 8)
	assert.NoError(t, c.Err())
}

// TestReliableQueueFullLosesConnection verifies that a control frame that
// cannot be queued ends the connection.
func TestReliableQueueFullLosesConnection(t *testing.T) {
	c, _ := pipe(t, Options{SendQueue: 1, WriteTimeout: time.Minute})

	for i := 0; i < 10; i++ {
		c.Send(delivery.Message(&protocol.GetRooms{}))
	}

	select {
	case <-c.Lost():
	case <-time.After(time.Second):
		t.Fatal("connection not lost")
	}
	assert.ErrorIs(t, c.Err(), ErrSendQueueFull)
	assert.ErrorIs(t, c.Err(), ErrConnectionLost)
}

// TestWriteTimeout verifies that a peer that never reads fails the write
// within the deadline instead of hanging.
func TestWriteTimeout(t *testing.T) {
	c, _ := pipe(t, Options{WriteTimeout: 30 * time.Millisecond})

	done := c.Send(delivery.Message(&protocol.GetRooms{}))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	assert.Error(t, done.Wait(ctx))
	assert.ErrorIs(t, c.Err(), ErrConnectionLost)
}

// TestCompletion covers the resolve-once contract.
func TestCompletion(t *testing.T) {
	c := NewCompletion()
	assert.NoError(t, c.Err())

	boom := errors.New("boom")
	c.Resolve(boom)
	c.Resolve(nil)
	assert.Equal(t, boom, c.Err())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewCompletion().Wait(ctx), context.Canceled)
}
