package maco2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParserFraming(t *testing.T) {
	p, clock, tr := newTestParser()
	pkts := testFrames(5)
	tr.feed(joinFrames(pkts...)...)

	ms := p.IngestAll(tr)
	require.Len(t, ms, 5)
	for i, m := range ms {
		require.Equalf(t, pkts[i].Fields().WaveformCO2, m.WaveformCO2, "frame %d", i)
		require.Equal(t, byte(12), m.RespirationRate)
		require.Equal(t, byte(35), m.EndTidalCO2)
		require.Equal(t, clock.now, m.Timestamp)
		require.True(t, m.Valid)
	}
	stats := p.Statistics()
	require.Equal(t, uint64(5), stats.PacketCount)
	require.Equal(t, uint64(0), stats.ErrorCount)
	require.Equal(t, clock.now, stats.LastPacketTime)
	require.Equal(t, SyncStateSeeking, p.State())
}

func TestParserFramingAcrossCalls(t *testing.T) {
	p, _, tr := newTestParser()
	pkts := testFrames(3)
	stream := joinFrames(pkts...)

	var got []Measurement
	for _, b := range stream {
		tr.feed(b)
		got = append(got, p.IngestAll(tr)...)
	}
	require.Equal(t, []byte{20, 21, 22}, waveforms(got))
}

func TestParserIngestLatest(t *testing.T) {
	p, _, tr := newTestParser()
	tr.feed(joinFrames(testFrames(3)...)...)
	m, ok := p.Ingest(tr)
	require.True(t, ok)
	require.Equal(t, byte(22), m.WaveformCO2)
	require.Equal(t, uint64(3), p.Statistics().PacketCount)

	_, ok = p.Ingest(tr)
	require.False(t, ok)
}

func TestParserBacklog(t *testing.T) {
	p, _, tr := newTestParser()
	tr.feed(joinFrames(testFrames(12)...)...)

	ms := p.IngestAll(tr)
	require.Len(t, ms, DefaultMaxFramesPerCall)
	require.Equal(t, uint64(1), p.Statistics().Backlogs)

	ms = p.IngestAll(tr)
	require.Equal(t, []byte{30, 31}, waveforms(ms))
	require.Equal(t, uint64(1), p.Statistics().Backlogs)
}

func TestParserCorruption(t *testing.T) {
	testCases := []struct {
		name   string
		offset byte
		errors uint64
	}{
		{"header", OffsetHeader, 0},
		{"status", OffsetStatus, 1},
		{"waveform", OffsetWaveformCO2, 1},
		{"checksum", OffsetChecksum, 1},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p, _, tr := newTestParser()
			pkts := testFrames(5)
			pkts[1][tc.offset] ^= 0x01
			tr.feed(joinFrames(pkts...)...)

			ms := p.IngestAll(tr)
			require.Equal(t, []byte{20, 22, 23, 24}, waveforms(ms))
			require.Equal(t, tc.errors, p.Statistics().ErrorCount)
			require.Equal(t, 0, p.ConsecutiveErrors())
		})
	}
}

func TestParserStraysBetweenFrames(t *testing.T) {
	p, _, tr := newTestParser()
	pkts := testFrames(2)
	tr.feed(0x00, 0xFF, 0x42)
	tr.feed(pkts[0][:]...)
	tr.feed(0x13)
	tr.feed(pkts[1][:]...)

	ms := p.IngestAll(tr)
	require.Equal(t, []byte{20, 21}, waveforms(ms))
	require.Equal(t, uint64(0), p.Statistics().ErrorCount)
}

// misalignedFrame carries a header value in its reserved byte, so a
// stream of them stays misaligned on the normal path.
func misalignedFrame(wave byte) RawPacket {
	return NewPacket(PacketFields{RespirationRate: 12, InspiredCO2: 1, WaveformCO2: wave, EndTidalCO2: 35, Reserved: Header})
}

func TestParserResyncAfterByteLoss(t *testing.T) {
	p, _, tr := newTestParser()
	var pkts []RawPacket
	for i := 1; i <= 8; i++ {
		pkts = append(pkts, misalignedFrame(byte(20+i)))
	}
	// tail of a frame whose leading bytes were lost
	tr.feed(Header, 80)
	tr.feed(joinFrames(pkts...)...)

	ms := p.IngestAll(tr)
	require.Equal(t, []byte{25, 26, 27, 28}, waveforms(ms))
	stats := p.Statistics()
	require.Equal(t, uint64(4), stats.ErrorCount)
	require.Equal(t, uint64(1), stats.Resyncs)
	require.Equal(t, uint64(4), stats.PacketCount)
	require.Equal(t, 0, p.ConsecutiveErrors())
	require.Equal(t, SyncStateSeeking, p.State())
}

func TestParserResyncKeepsFollowingFrame(t *testing.T) {
	p, _, tr := newTestParser()
	bad := testFrame(12, 20, 35)
	bad[OffsetChecksum]++
	for i := 0; i < 4; i++ {
		tr.feed(bad[:]...)
	}
	require.Empty(t, p.IngestAll(tr))
	require.Equal(t, SyncStateSearching, p.State())

	// the window holds the first frame plus the start of the next one
	// when the match is found
	pkts := testFrames(3)
	tr.feed(joinFrames(pkts...)...)
	ms := p.IngestAll(tr)
	require.Equal(t, []byte{20, 21, 22}, waveforms(ms))
	require.Equal(t, uint64(1), p.Statistics().Resyncs)
	require.Equal(t, uint64(4), p.Statistics().ErrorCount)
}

func TestParserResyncScansEveryOffset(t *testing.T) {
	for lead := 0; lead < 12; lead++ {
		p, _, tr := newTestParser()
		bad := testFrame(12, 20, 35)
		bad[OffsetChecksum]++
		for i := 0; i < 4; i++ {
			tr.feed(bad[:]...)
		}
		p.IngestAll(tr)
		require.Equal(t, SyncStateSearching, p.State())

		for i := 0; i < lead; i++ {
			tr.feed(0x55)
		}
		tr.feed(joinFrames(testFrames(2)...)...)
		ms := p.IngestAll(tr)
		require.Equalf(t, []byte{20, 21}, waveforms(ms), "lead %d", lead)
	}
}

func TestParserResyncTimeout(t *testing.T) {
	p, clock, tr := newTestParser()
	bad := testFrame(12, 20, 35)
	bad[OffsetChecksum]++
	for i := 0; i < 4; i++ {
		tr.feed(bad[:]...)
	}
	p.IngestAll(tr)
	require.Equal(t, SyncStateSearching, p.State())

	garbage := make([]byte, 24)
	for i := range garbage {
		garbage[i] = 0x55
	}
	clock.Sleep(3 * time.Second)
	tr.feed(garbage...)
	require.Empty(t, p.IngestAll(tr))
	require.Equal(t, SyncStateSearching, p.State())

	clock.Sleep(2500 * time.Millisecond)
	tr.feed(garbage...)
	require.Empty(t, p.IngestAll(tr))
	require.Equal(t, 0, tr.Available())
	require.Equal(t, SyncStateSeeking, p.State())
	require.Equal(t, 0, p.ConsecutiveErrors())
	stats := p.Statistics()
	require.Equal(t, uint64(1), stats.ResyncTimeouts)
	require.Equal(t, uint64(4), stats.ErrorCount)

	tr.feed(joinFrames(testFrames(1)...)...)
	ms := p.IngestAll(tr)
	require.Equal(t, []byte{20}, waveforms(ms))
}

func TestParserFrameTimeout(t *testing.T) {
	p, clock, tr := newTestParser()
	pkts := testFrames(2)
	tr.feed(pkts[0][:4]...)
	require.Empty(t, p.IngestAll(tr))
	require.Equal(t, SyncStateAccumulating, p.State())

	clock.Sleep(2500 * time.Millisecond)
	tr.feed(pkts[0][4:]...)
	tr.feed(pkts[1][:]...)
	ms := p.IngestAll(tr)
	require.Equal(t, []byte{21}, waveforms(ms))
	stats := p.Statistics()
	require.Equal(t, uint64(1), stats.FrameTimeouts)
	require.Equal(t, uint64(1), stats.ErrorCount)
}

func TestParserSlowFrameWithinTimeout(t *testing.T) {
	p, clock, tr := newTestParser()
	pkt := testFrame(12, 20, 35)
	tr.feed(pkt[:4]...)
	p.IngestAll(tr)

	clock.Sleep(time.Second)
	tr.feed(pkt[4:]...)
	ms := p.IngestAll(tr)
	require.Equal(t, []byte{20}, waveforms(ms))
	require.Equal(t, uint64(0), p.Statistics().FrameTimeouts)
}

func TestParserFrameTimeoutAfterSilence(t *testing.T) {
	p, clock, tr := newTestParser()
	clock.Sleep(time.Minute)
	pkt := testFrame(12, 20, 35)
	tr.feed(pkt[:4]...)
	p.IngestAll(tr)
	clock.Sleep(100 * time.Millisecond)
	tr.feed(pkt[4:]...)
	require.Len(t, p.IngestAll(tr), 1)
	require.Equal(t, uint64(0), p.Statistics().FrameTimeouts)
}

func TestParserResetStatistics(t *testing.T) {
	p, _, tr := newTestParser()
	pkt := testFrame(12, 20, 35)
	tr.feed(joinFrames(pkt, pkt)...)
	tr.feed(pkt[:3]...)
	p.IngestAll(tr)
	require.Equal(t, uint64(2), p.Statistics().PacketCount)

	p.ResetStatistics()
	require.Equal(t, Statistics{}, p.Statistics())
	require.Equal(t, SyncStateAccumulating, p.State())

	tr.feed(pkt[3:]...)
	require.Len(t, p.IngestAll(tr), 1)
	require.Equal(t, uint64(1), p.Statistics().PacketCount)
}

func TestParserZeroValue(t *testing.T) {
	var p Parser
	tr := newScriptedTransport(newFakeClock())
	tr.feed(joinFrames(testFrames(2)...)...)
	require.Len(t, p.IngestAll(tr), 2)
}
