package maco2

import (
	"io"
	"time"
)

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time        { return c.now }
func (c *fakeClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

type scriptedChunk struct {
	at   time.Time
	data []byte
}

// scriptedTransport releases bytes once the fake clock reaches their
// arrival time.
type scriptedTransport struct {
	clock   *fakeClock
	chunks  []scriptedChunk
	buf     []byte
	written []byte
	flushes int

	// readErr is returned once all scripted bytes are consumed.
	readErr error
}

func newScriptedTransport(clock *fakeClock) *scriptedTransport {
	return &scriptedTransport{clock: clock}
}

func (t *scriptedTransport) feed(data ...byte) *scriptedTransport {
	return t.feedAfter(0, data...)
}

func (t *scriptedTransport) feedAfter(d time.Duration, data ...byte) *scriptedTransport {
	t.chunks = append(t.chunks, scriptedChunk{at: t.clock.now.Add(d), data: data})
	return t
}

func (t *scriptedTransport) arrive() {
	for len(t.chunks) > 0 && !t.chunks[0].at.After(t.clock.now) {
		t.buf = append(t.buf, t.chunks[0].data...)
		t.chunks = t.chunks[1:]
	}
}

func (t *scriptedTransport) failing() bool {
	return t.readErr != nil && len(t.buf) == 0 && len(t.chunks) == 0
}

func (t *scriptedTransport) Available() int {
	t.arrive()
	if t.failing() {
		return 1
	}
	return len(t.buf)
}

func (t *scriptedTransport) ReadByte() (byte, error) {
	t.arrive()
	if t.failing() {
		return 0, t.readErr
	}
	if len(t.buf) == 0 {
		return 0, io.EOF
	}
	b := t.buf[0]
	t.buf = t.buf[1:]
	return b, nil
}

func (t *scriptedTransport) Write(p []byte) (int, error) {
	t.written = append(t.written, p...)
	return len(p), nil
}

func (t *scriptedTransport) Flush() error {
	t.flushes++
	return nil
}

// noisyTransport always has a byte available and never sends a header.
// Each byte read takes byteTime on clock when clock is set.
type noisyTransport struct {
	clock    *fakeClock
	byteTime time.Duration
	reads    int
	written  []byte
}

func (t *noisyTransport) Available() int { return 1 }

func (t *noisyTransport) ReadByte() (byte, error) {
	t.reads++
	if t.clock != nil {
		t.clock.Sleep(t.byteTime)
	}
	return 0x55, nil
}

func (t *noisyTransport) Write(p []byte) (int, error) {
	t.written = append(t.written, p...)
	return len(p), nil
}

func (t *noisyTransport) Flush() error { return nil }

func testFrame(rr, wave, etco2 byte) RawPacket {
	return NewPacket(PacketFields{
		RespirationRate: rr,
		InspiredCO2:     1,
		WaveformCO2:     wave,
		EndTidalCO2:     etco2,
	})
}

// testFrames builds n frames whose waveform values count up from 20.
func testFrames(n int) []RawPacket {
	pkts := make([]RawPacket, n)
	for i := range pkts {
		pkts[i] = testFrame(12, byte(20+i), 35)
	}
	return pkts
}

func joinFrames(pkts ...RawPacket) (out []byte) {
	for _, p := range pkts {
		out = append(out, p[:]...)
	}
	return
}

func newTestParser() (*Parser, *fakeClock, *scriptedTransport) {
	clock := newFakeClock()
	p := NewParser()
	p.Clock = clock
	return p, clock, newScriptedTransport(clock)
}

func waveforms(ms []Measurement) (out []byte) {
	for _, m := range ms {
		out = append(out, m.WaveformCO2)
	}
	return
}
