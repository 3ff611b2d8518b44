package maco2

import (
	"strings"
	"time"
)

// Protocol constants.
const (
	PacketSize byte = 8

	Header byte = 0x06
	Ack    byte = 0x1B

	MaxRespirationRate byte = 60
	MaxWaveformCO2     byte = 50
	MaxEndTidalCO2     byte = 120
)

// Field offsets within a RawPacket.
const (
	OffsetHeader byte = iota
	OffsetStatus
	OffsetRespirationRate
	OffsetInspiredCO2
	OffsetWaveformCO2
	OffsetEndTidalCO2
	OffsetReserved
	OffsetChecksum
)

// Status bits.
const (
	StatusPumpStopped byte = 0x01
	StatusLeak        byte = 0x02
	StatusOcclusion   byte = 0x04
)

// RawPacket is one frame exactly as received.
type RawPacket [PacketSize]byte

// PacketFields are the decoded fields of a RawPacket, used to build frames.
type PacketFields struct {
	Status          byte
	RespirationRate byte
	InspiredCO2     byte
	WaveformCO2     byte
	EndTidalCO2     byte
	Reserved        byte
}

// NewPacket encodes fields into a RawPacket with header and checksum set.
func NewPacket(f PacketFields) RawPacket {
	var p RawPacket
	p[OffsetHeader] = Header
	p[OffsetStatus] = f.Status
	p[OffsetRespirationRate] = f.RespirationRate
	p[OffsetInspiredCO2] = f.InspiredCO2
	p[OffsetWaveformCO2] = f.WaveformCO2
	p[OffsetEndTidalCO2] = f.EndTidalCO2
	p[OffsetReserved] = f.Reserved
	p[OffsetChecksum] = p.Checksum()
	return p
}

// Fields decodes the payload fields.
func (p RawPacket) Fields() PacketFields {
	return PacketFields{
		Status:          p[OffsetStatus],
		RespirationRate: p[OffsetRespirationRate],
		InspiredCO2:     p[OffsetInspiredCO2],
		WaveformCO2:     p[OffsetWaveformCO2],
		EndTidalCO2:     p[OffsetEndTidalCO2],
		Reserved:        p[OffsetReserved],
	}
}

// Checksum calculates the low byte of the sum of bytes 0..6.
func (p RawPacket) Checksum() byte {
	var sum byte
	for _, b := range p[:OffsetChecksum] {
		sum += b
	}
	return sum
}

// Bytes returns the frame as a slice.
func (p RawPacket) Bytes() []byte {
	return p[:]
}

// Checks is a bit set of failed validation checks. Zero means valid.
type Checks uint8

// Validation failures.
const (
	FailHeader Checks = 1 << iota
	FailChecksum
	FailRespirationRate
	FailWaveformCO2
	FailEndTidalCO2
)

// Validate runs every check against a frame.
func Validate(p RawPacket) (c Checks) {
	if p[OffsetHeader] != Header {
		c |= FailHeader
	}
	if p.Checksum() != p[OffsetChecksum] {
		c |= FailChecksum
	}
	if p[OffsetRespirationRate] > MaxRespirationRate {
		c |= FailRespirationRate
	}
	if p[OffsetWaveformCO2] > MaxWaveformCO2 {
		c |= FailWaveformCO2
	}
	if p[OffsetEndTidalCO2] > MaxEndTidalCO2 {
		c |= FailEndTidalCO2
	}
	return
}

// OK indicates all checks passed.
func (c Checks) OK() bool {
	return c == 0
}

// HeaderOK indicates the header check passed.
func (c Checks) HeaderOK() bool { return c&FailHeader == 0 }

// ChecksumOK indicates the checksum check passed.
func (c Checks) ChecksumOK() bool { return c&FailChecksum == 0 }

// RateOK indicates the respiration rate is in range.
func (c Checks) RateOK() bool { return c&FailRespirationRate == 0 }

// CO2OK indicates both waveform and end-tidal CO2 are in range.
func (c Checks) CO2OK() bool { return c&(FailWaveformCO2|FailEndTidalCO2) == 0 }

var checkErrors = []struct {
	check Checks
	err   error
}{
	{FailChecksum, ErrChecksumMismatch},
	{FailHeader, ErrHeaderMismatch},
	{FailRespirationRate, ErrRateOutOfRange},
	{FailWaveformCO2, ErrWaveformCO2OutOfRange},
	{FailEndTidalCO2, ErrEndTidalCO2OutOfRange},
}

// Err returns the error of the first failed check, or nil.
func (c Checks) Err() error {
	for _, ce := range checkErrors {
		if c&ce.check != 0 {
			return ce.err
		}
	}
	return nil
}

// String lists failed checks.
func (c Checks) String() string {
	if c.OK() {
		return "ok"
	}
	var names []string
	for _, ce := range checkErrors {
		if c&ce.check != 0 {
			names = append(names, ce.err.Error())
		}
	}
	return strings.Join(names, ",")
}

// Measurement is a decoded frame.
type Measurement struct {
	Status          byte
	PumpRunning     bool
	Leak            bool
	Occlusion       bool
	RespirationRate byte
	InspiredCO2     byte
	WaveformCO2     byte
	EndTidalCO2     byte
	Timestamp       time.Time
	Valid           bool
}

// Decode decodes a frame into a Measurement. pumpActiveHigh selects the
// polarity of the pump status bit: by default a set bit means the pump
// stopped.
func Decode(p RawPacket, at time.Time, pumpActiveHigh bool) Measurement {
	status := p[OffsetStatus]
	pumpBit := status&StatusPumpStopped != 0
	return Measurement{
		Status:          status,
		PumpRunning:     pumpBit == pumpActiveHigh,
		Leak:            status&StatusLeak != 0,
		Occlusion:       status&StatusOcclusion != 0,
		RespirationRate: p[OffsetRespirationRate],
		InspiredCO2:     p[OffsetInspiredCO2],
		WaveformCO2:     p[OffsetWaveformCO2],
		EndTidalCO2:     p[OffsetEndTidalCO2],
		Timestamp:       at,
		Valid:           Validate(p).OK(),
	}
}
