package maco2

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitialize(t *testing.T) {
	p, clock, tr := newTestParser()
	start := clock.now
	tr.feed(Header, 0x33) // stale, dropped before waiting
	tr.feedAfter(100*time.Millisecond, 0x77, Header)
	tr.feedAfter(150*time.Millisecond, 1, 2, 3, 4, 5, 6, 7, 0xAA, 0xBB)

	require.NoError(t, p.Initialize(context.Background(), tr, time.Second))
	require.Equal(t, []byte{Ack}, tr.written)
	require.Equal(t, 1, tr.flushes)
	require.Equal(t, 0, tr.Available())
	require.True(t, clock.now.Sub(start) < time.Second)
	require.Equal(t, uint64(0), p.Statistics().ErrorCount)
	require.Equal(t, SyncStateSeeking, p.State())

	tr.feed(joinFrames(testFrames(1)...)...)
	require.Len(t, p.IngestAll(tr), 1)
}

func TestInitializeTimeout(t *testing.T) {
	p, clock, tr := newTestParser()
	start := clock.now
	tr.feedAfter(time.Second, Header)

	err := p.Initialize(context.Background(), tr, 500*time.Millisecond)
	require.Equal(t, ErrHandshakeTimeout, err)
	require.Empty(t, tr.written)
	require.Equal(t, 0, tr.flushes)
	require.False(t, clock.now.Sub(start) < 500*time.Millisecond)
	require.Equal(t, uint64(1), p.Statistics().ErrorCount)
}

func TestInitializeTimeoutOnNoise(t *testing.T) {
	p, clock, _ := newTestParser()
	start := clock.now
	tr := &noisyTransport{clock: clock, byteTime: time.Millisecond}

	err := p.Initialize(context.Background(), tr, 100*time.Millisecond)
	require.Equal(t, ErrHandshakeTimeout, err)
	require.Empty(t, tr.written)
	require.False(t, clock.now.Sub(start) < 100*time.Millisecond)
	require.True(t, tr.reads < 200)
	require.Equal(t, uint64(1), p.Statistics().ErrorCount)
}

func TestInitializeTimeoutOnNoiseWallClock(t *testing.T) {
	p := NewParser()
	tr := &noisyTransport{}
	done := make(chan error, 1)
	go func() {
		done <- p.Initialize(context.Background(), tr, 50*time.Millisecond)
	}()
	select {
	case err := <-done:
		require.Equal(t, ErrHandshakeTimeout, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not stop at its timeout")
	}
	require.Empty(t, tr.written)
}

func TestInitializeReadError(t *testing.T) {
	readErr := errors.New("port unplugged")

	p, _, tr := newTestParser()
	tr.readErr = readErr
	err := p.Initialize(context.Background(), tr, time.Second)
	require.True(t, errors.Is(err, ErrHandshakeTimeout))
	require.Contains(t, err.Error(), readErr.Error())
	require.Empty(t, tr.written)

	p, _, tr = newTestParser()
	tr.feedAfter(10*time.Millisecond, Header, 1, 2)
	tr.readErr = readErr
	err = p.Initialize(context.Background(), tr, time.Second)
	require.True(t, errors.Is(err, ErrHandshakeIncomplete))
	require.Equal(t, "handshake incomplete: got 2/7 bytes: port unplugged", err.Error())
	require.Equal(t, []byte{Ack}, tr.written)
	require.Equal(t, uint64(1), p.Statistics().ErrorCount)
}

func TestInitializeIncomplete(t *testing.T) {
	p, _, tr := newTestParser()
	tr.feedAfter(10*time.Millisecond, Header, 1, 2, 3)

	err := p.Initialize(context.Background(), tr, time.Second)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrHandshakeIncomplete))
	require.Equal(t, "handshake incomplete: got 3/7 bytes", err.Error())
	require.Equal(t, []byte{Ack}, tr.written)
	require.Equal(t, uint64(1), p.Statistics().ErrorCount)
}

func TestInitializeCanceled(t *testing.T) {
	p, _, tr := newTestParser()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Initialize(ctx, tr, time.Second)
	require.Equal(t, context.Canceled, err)
	require.Empty(t, tr.written)
}

func TestInitializeResetsFraming(t *testing.T) {
	p, _, tr := newTestParser()
	pkt := testFrame(12, 20, 35)
	tr.feed(pkt[:5]...)
	p.IngestAll(tr)
	require.Equal(t, SyncStateAccumulating, p.State())

	tr.feedAfter(10*time.Millisecond, Header, 1, 2, 3, 4, 5, 6, 7)
	require.NoError(t, p.Initialize(context.Background(), tr, time.Second))
	require.Equal(t, SyncStateSeeking, p.State())
}

func TestDiscard(t *testing.T) {
	_, _, tr := newTestParser()
	tr.feed(1, 2, 3)
	require.Equal(t, 3, Discard(tr))
	require.Equal(t, 0, tr.Available())

	require.Equal(t, 1, Discard(&noisyTransport{}))
}
