package sh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/capno.go/pkg/maco2"
)

func TestFormatMeasurement(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 20, 30, 125e6, time.Local)
	m := maco2.Decode(maco2.NewPacket(maco2.PacketFields{
		Status:          maco2.StatusPumpStopped | maco2.StatusOcclusion,
		RespirationRate: 14,
		InspiredCO2:     1,
		WaveformCO2:     33,
		EndTidalCO2:     38,
	}), at, false)
	require.Equal(t, "10:20:30.125 rr=14 fico2=1 fco2=33 fetco2=38 pump-stopped occlusion", FormatMeasurement(m))

	m = maco2.Decode(maco2.NewPacket(maco2.PacketFields{RespirationRate: 12}), at, false)
	require.Equal(t, "10:20:30.125 rr=12 fico2=0 fco2=0 fetco2=0", FormatMeasurement(m))
}

func TestFormatStatistics(t *testing.T) {
	out := FormatStatistics(maco2.Statistics{}, maco2.SyncStateSeeking)
	require.Contains(t, out, "packets:         0\n")
	require.NotContains(t, out, "error rate")
	require.NotContains(t, out, "last packet")

	out = FormatStatistics(maco2.Statistics{
		PacketCount:    3,
		ErrorCount:     1,
		LastPacketTime: time.Now(),
	}, maco2.SyncStateAccumulating)
	require.Contains(t, out, "state:           "+maco2.SyncStateAccumulating.String())
	require.Contains(t, out, "error rate:      25.00%")
	require.Contains(t, out, "last packet:")
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration(nil, time.Second)
	require.NoError(t, err)
	require.Equal(t, time.Second, d)

	d, err = parseDuration([]string{"250ms"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, d)

	_, err = parseDuration([]string{"soon"}, time.Second)
	require.Error(t, err)
}
