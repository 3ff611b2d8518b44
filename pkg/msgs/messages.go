package msgs

import (
	"time"

	"github.com/golang/protobuf/proto"

	"github.com/robotalks/capno.go/pkg/maco2"
)

// MeasurementEvent carries one decoded frame.
type MeasurementEvent struct {
	Timestamp       int64  `protobuf:"varint,1,opt,name=timestamp,proto3" json:"timestamp,omitempty"`
	Status          uint32 `protobuf:"varint,2,opt,name=status,proto3" json:"status,omitempty"`
	PumpRunning     bool   `protobuf:"varint,3,opt,name=pump_running,json=pumpRunning,proto3" json:"pump_running,omitempty"`
	Leak            bool   `protobuf:"varint,4,opt,name=leak,proto3" json:"leak,omitempty"`
	Occlusion       bool   `protobuf:"varint,5,opt,name=occlusion,proto3" json:"occlusion,omitempty"`
	RespirationRate uint32 `protobuf:"varint,6,opt,name=respiration_rate,json=respirationRate,proto3" json:"respiration_rate,omitempty"`
	InspiredCo2     uint32 `protobuf:"varint,7,opt,name=inspired_co2,json=inspiredCo2,proto3" json:"inspired_co2,omitempty"`
	WaveformCo2     uint32 `protobuf:"varint,8,opt,name=waveform_co2,json=waveformCo2,proto3" json:"waveform_co2,omitempty"`
	EndTidalCo2     uint32 `protobuf:"varint,9,opt,name=end_tidal_co2,json=endTidalCo2,proto3" json:"end_tidal_co2,omitempty"`
	Valid           bool   `protobuf:"varint,10,opt,name=valid,proto3" json:"valid,omitempty"`
}

// NewMeasurementEvent creates a MeasurementEvent.
func NewMeasurementEvent(m maco2.Measurement) *MeasurementEvent {
	return &MeasurementEvent{
		Timestamp:       unixMillis(m.Timestamp),
		Status:          uint32(m.Status),
		PumpRunning:     m.PumpRunning,
		Leak:            m.Leak,
		Occlusion:       m.Occlusion,
		RespirationRate: uint32(m.RespirationRate),
		InspiredCo2:     uint32(m.InspiredCO2),
		WaveformCo2:     uint32(m.WaveformCO2),
		EndTidalCo2:     uint32(m.EndTidalCO2),
		Valid:           m.Valid,
	}
}

// Measurement converts back to maco2.Measurement.
func (m *MeasurementEvent) Measurement() maco2.Measurement {
	return maco2.Measurement{
		Status:          byte(m.Status),
		PumpRunning:     m.PumpRunning,
		Leak:            m.Leak,
		Occlusion:       m.Occlusion,
		RespirationRate: byte(m.RespirationRate),
		InspiredCO2:     byte(m.InspiredCo2),
		WaveformCO2:     byte(m.WaveformCo2),
		EndTidalCO2:     byte(m.EndTidalCo2),
		Timestamp:       fromUnixMillis(m.Timestamp),
		Valid:           m.Valid,
	}
}

// NewMessage implements Message.
func (m *MeasurementEvent) NewMessage() Message { return &MeasurementEvent{} }

// TypeID implements Message.
func (m *MeasurementEvent) TypeID() uint32 { return MeasurementEventTypeID }

// Serializable implements Message.
func (m *MeasurementEvent) Serializable() proto.Message { return m }

// ProtoMessage implements proto.Message.
func (m *MeasurementEvent) ProtoMessage() {}

// Reset implements proto.Message.
func (m *MeasurementEvent) Reset() { *m = MeasurementEvent{} }

// String implements proto.Message.
func (m *MeasurementEvent) String() string { return proto.CompactTextString(m) }

// StatisticsEvent carries a snapshot of parser counters.
type StatisticsEvent struct {
	PacketCount    uint64 `protobuf:"varint,1,opt,name=packet_count,json=packetCount,proto3" json:"packet_count,omitempty"`
	ErrorCount     uint64 `protobuf:"varint,2,opt,name=error_count,json=errorCount,proto3" json:"error_count,omitempty"`
	LastPacketTime int64  `protobuf:"varint,3,opt,name=last_packet_time,json=lastPacketTime,proto3" json:"last_packet_time,omitempty"`
	FrameTimeouts  uint64 `protobuf:"varint,4,opt,name=frame_timeouts,json=frameTimeouts,proto3" json:"frame_timeouts,omitempty"`
	Resyncs        uint64 `protobuf:"varint,5,opt,name=resyncs,proto3" json:"resyncs,omitempty"`
	ResyncTimeouts uint64 `protobuf:"varint,6,opt,name=resync_timeouts,json=resyncTimeouts,proto3" json:"resync_timeouts,omitempty"`
	Backlogs       uint64 `protobuf:"varint,7,opt,name=backlogs,proto3" json:"backlogs,omitempty"`
}

// NewStatisticsEvent creates a StatisticsEvent.
func NewStatisticsEvent(s maco2.Statistics) *StatisticsEvent {
	return &StatisticsEvent{
		PacketCount:    s.PacketCount,
		ErrorCount:     s.ErrorCount,
		LastPacketTime: unixMillis(s.LastPacketTime),
		FrameTimeouts:  s.FrameTimeouts,
		Resyncs:        s.Resyncs,
		ResyncTimeouts: s.ResyncTimeouts,
		Backlogs:       s.Backlogs,
	}
}

// NewMessage implements Message.
func (m *StatisticsEvent) NewMessage() Message { return &StatisticsEvent{} }

// TypeID implements Message.
func (m *StatisticsEvent) TypeID() uint32 { return StatisticsEventTypeID }

// Serializable implements Message.
func (m *StatisticsEvent) Serializable() proto.Message { return m }

// ProtoMessage implements proto.Message.
func (m *StatisticsEvent) ProtoMessage() {}

// Reset implements proto.Message.
func (m *StatisticsEvent) Reset() { *m = StatisticsEvent{} }

// String implements proto.Message.
func (m *StatisticsEvent) String() string { return proto.CompactTextString(m) }

// CommandRequest asks the daemon to send a command to the sensor.
type CommandRequest struct {
	Command string `protobuf:"bytes,1,opt,name=command,proto3" json:"command,omitempty"`
}

// NewMessage implements Message.
func (m *CommandRequest) NewMessage() Message { return &CommandRequest{} }

// TypeID implements Message.
func (m *CommandRequest) TypeID() uint32 { return CommandRequestTypeID }

// Serializable implements Message.
func (m *CommandRequest) Serializable() proto.Message { return m }

// ProtoMessage implements proto.Message.
func (m *CommandRequest) ProtoMessage() {}

// Reset implements proto.Message.
func (m *CommandRequest) Reset() { *m = CommandRequest{} }

// String implements proto.Message.
func (m *CommandRequest) String() string { return proto.CompactTextString(m) }

// GroupCapno is the type ID group of capnography messages.
const GroupCapno uint32 = 0x00010000

// TypeIDs
const (
	MeasurementEventTypeID uint32 = GroupCapno | TypeIDKindEvent | 0x0000
	StatisticsEventTypeID  uint32 = GroupCapno | TypeIDKindEvent | 0x0001
	CommandRequestTypeID   uint32 = GroupCapno | 0x0000
)

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano() / int64(time.Millisecond)
}

func fromUnixMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
