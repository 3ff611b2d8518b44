package maco2

import (
	"time"

	"github.com/golang/glog"
)

// Defaults for Parser settings left zero.
const (
	DefaultMaxFramesPerCall = 10
	DefaultFrameTimeout     = 2 * time.Second
	DefaultResyncThreshold  = 3
	DefaultResyncTimeout    = 5 * time.Second
)

const (
	windowSize    = 16
	windowScanMin = 10
	windowShift   = 4
)

// SyncState indicates where the parser is in the byte stream.
type SyncState int

const (
	// SyncStateSeeking means waiting for a header byte.
	SyncStateSeeking SyncState = iota
	// SyncStateAccumulating means collecting bytes of a frame.
	SyncStateAccumulating
	// SyncStateSearching means alignment was lost and the resync window
	// search is active.
	SyncStateSearching
)

func (s SyncState) String() string {
	switch s {
	case SyncStateSeeking:
		return "seeking"
	case SyncStateAccumulating:
		return "accumulating"
	case SyncStateSearching:
		return "searching"
	}
	return "unknown"
}

// Statistics are the parser counters.
type Statistics struct {
	PacketCount    uint64
	ErrorCount     uint64
	LastPacketTime time.Time

	FrameTimeouts  uint64
	Resyncs        uint64
	ResyncTimeouts uint64
	Backlogs       uint64
}

// Parser recovers frames from the sensor byte stream.
// The zero value is ready to use. A Parser must only be used by a single
// goroutine.
type Parser struct {
	Clock            Clock
	PumpActiveHigh   bool
	MaxFramesPerCall int
	FrameTimeout     time.Duration
	ResyncThreshold  int
	ResyncTimeout    time.Duration

	state   SyncState
	frame   RawPacket
	fill    byte
	accumAt time.Time

	consecutiveErrors int
	window            [windowSize]byte
	windowLen         int
	resyncAt          time.Time // zero when not searching
	syncLostLogged    bool
	pending           []byte // bytes replayed before reading the transport

	stats Statistics
}

// NewParser creates a Parser with default settings.
func NewParser() *Parser {
	return &Parser{
		Clock:            SystemClock,
		MaxFramesPerCall: DefaultMaxFramesPerCall,
		FrameTimeout:     DefaultFrameTimeout,
		ResyncThreshold:  DefaultResyncThreshold,
		ResyncTimeout:    DefaultResyncTimeout,
	}
}

// State gets the current sync state.
func (p *Parser) State() SyncState {
	if p.state == SyncStateSeeking && p.searching() {
		return SyncStateSearching
	}
	return p.state
}

// ConsecutiveErrors returns the number of frames rejected since the last
// accepted one.
func (p *Parser) ConsecutiveErrors() int {
	return p.consecutiveErrors
}

// Statistics returns a snapshot of the counters.
func (p *Parser) Statistics() Statistics {
	return p.stats
}

// ResetStatistics zeroes the counters. Framing state is kept.
func (p *Parser) ResetStatistics() {
	p.stats = Statistics{}
}

// Ingest consumes available bytes and returns the most recent frame
// decoded in this call.
func (p *Parser) Ingest(t Transport) (m Measurement, ok bool) {
	p.ingest(t, func(latest Measurement) {
		m, ok = latest, true
	})
	return
}

// IngestAll consumes available bytes and returns all frames decoded in
// this call, in arrival order.
func (p *Parser) IngestAll(t Transport) (ms []Measurement) {
	p.ingest(t, func(m Measurement) {
		ms = append(ms, m)
	})
	return
}

func (p *Parser) ingest(t Transport, yield func(Measurement)) {
	now := p.clock().Now()
	p.checkFrameTimeout(now)
	if p.checkResyncTimeout(now, t) {
		return
	}

	limit := p.MaxFramesPerCall
	if limit <= 0 {
		limit = DefaultMaxFramesPerCall
	}
	var n int
	for n < limit {
		pkt, ok := p.readFrame(now, t)
		if !ok {
			return
		}
		n++
		p.stats.PacketCount++
		p.stats.LastPacketTime = now
		yield(Decode(pkt, now, p.PumpActiveHigh))
	}
	if remains := len(p.pending) + t.Available(); remains > 0 {
		p.stats.Backlogs++
		glog.Warningf("backlog: %d frames decoded in one call, %d bytes remaining", n, remains)
	}
}

func (p *Parser) readFrame(now time.Time, t Transport) (RawPacket, bool) {
	for {
		b, ok := p.nextByte(t)
		if !ok {
			return RawPacket{}, false
		}
		if pkt, ok := p.parseByte(now, b); ok {
			return pkt, true
		}
	}
}

func (p *Parser) nextByte(t Transport) (byte, bool) {
	if len(p.pending) > 0 {
		b := p.pending[0]
		p.pending = p.pending[1:]
		return b, true
	}
	if t.Available() <= 0 {
		return 0, false
	}
	b, err := t.ReadByte()
	if err != nil {
		glog.Warningf("read error: %v", err)
		return 0, false
	}
	return b, true
}

func (p *Parser) parseByte(now time.Time, b byte) (pkt RawPacket, ok bool) {
	switch p.state {
	case SyncStateSeeking:
		if p.searching() {
			return p.searchByte(b)
		}
		if b == Header {
			p.frame[0], p.fill = b, 1
			p.state, p.accumAt = SyncStateAccumulating, now
		}
	case SyncStateAccumulating:
		p.frame[p.fill] = b
		if p.fill++; p.fill < PacketSize {
			return
		}
		pkt = p.frame
		p.state, p.fill = SyncStateSeeking, 0
		if checks := Validate(pkt); !checks.OK() {
			glog.Warningf("frame rejected (%s): % X", checks, pkt[:])
			p.frameFailed(now)
			return RawPacket{}, false
		}
		glog.V(2).Infof("frame % X", pkt[:])
		p.resetSearch()
		return pkt, true
	}
	return
}

// searchByte appends a byte to the resync window and scans it for the
// earliest offset holding a valid frame.
func (p *Parser) searchByte(b byte) (RawPacket, bool) {
	p.window[p.windowLen] = b
	p.windowLen++
	if p.windowLen < windowScanMin {
		return RawPacket{}, false
	}
	for off := 0; off+int(PacketSize) <= p.windowLen; off++ {
		if p.window[off] != Header {
			continue
		}
		var pkt RawPacket
		copy(pkt[:], p.window[off:])
		if !Validate(pkt).OK() {
			continue
		}
		glog.Infof("sync found at window offset %d: rr=%d fco2=%d fetco2=%d",
			off, pkt[OffsetRespirationRate], pkt[OffsetWaveformCO2], pkt[OffsetEndTidalCO2])
		if rest := p.window[off+int(PacketSize) : p.windowLen]; len(rest) > 0 {
			p.pending = append(append([]byte(nil), rest...), p.pending...)
		}
		p.stats.Resyncs++
		p.resetSearch()
		return pkt, true
	}
	if p.windowLen == windowSize {
		copy(p.window[:], p.window[windowShift:])
		p.windowLen -= windowShift
	}
	return RawPacket{}, false
}

func (p *Parser) frameFailed(now time.Time) {
	p.consecutiveErrors++
	p.stats.ErrorCount++
	if p.searching() && p.resyncAt.IsZero() {
		p.resyncAt, p.windowLen = now, 0
		if !p.syncLostLogged {
			glog.Warningf("sync lost after %d consecutive errors, searching for header + checksum", p.consecutiveErrors)
			p.syncLostLogged = true
		}
	}
}

func (p *Parser) checkFrameTimeout(now time.Time) {
	if p.state != SyncStateAccumulating || now.Sub(p.accumAt) <= p.frameTimeout() {
		return
	}
	glog.Warningf("%v: discarding %d partial bytes", ErrFrameTimeout, p.fill)
	p.stats.FrameTimeouts++
	p.state, p.fill = SyncStateSeeking, 0
	p.frameFailed(now)
}

func (p *Parser) checkResyncTimeout(now time.Time, t Transport) bool {
	if p.resyncAt.IsZero() || now.Sub(p.resyncAt) <= p.resyncTimeout() {
		return false
	}
	flushed := Discard(t) + p.windowLen + len(p.pending)
	glog.Warningf("%v: flushed %d bytes, restarting", ErrResyncTimeout, flushed)
	p.stats.ResyncTimeouts++
	p.resetFraming()
	return true
}

func (p *Parser) searching() bool {
	return p.consecutiveErrors > p.resyncThreshold()
}

// resetSearch clears all resync state after a frame is accepted or the
// search is abandoned.
func (p *Parser) resetSearch() {
	p.consecutiveErrors = 0
	p.windowLen = 0
	p.resyncAt = time.Time{}
	p.syncLostLogged = false
}

func (p *Parser) resetFraming() {
	p.resetSearch()
	p.state, p.fill = SyncStateSeeking, 0
	p.pending = nil
}

func (p *Parser) clock() Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return SystemClock
}

func (p *Parser) frameTimeout() time.Duration {
	if p.FrameTimeout > 0 {
		return p.FrameTimeout
	}
	return DefaultFrameTimeout
}

func (p *Parser) resyncThreshold() int {
	if p.ResyncThreshold > 0 {
		return p.ResyncThreshold
	}
	return DefaultResyncThreshold
}

func (p *Parser) resyncTimeout() time.Duration {
	if p.ResyncTimeout > 0 {
		return p.ResyncTimeout
	}
	return DefaultResyncTimeout
}
