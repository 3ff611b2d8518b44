package maco2

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeTimeout indicates no header byte arrived during handshake.
	ErrHandshakeTimeout = errors.New("handshake timeout")
	// ErrHandshakeIncomplete indicates fewer than 7 bytes followed the ack.
	ErrHandshakeIncomplete = errors.New("handshake incomplete")

	// ErrChecksumMismatch indicates byte 7 is not the sum of bytes 0..6.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrHeaderMismatch indicates byte 0 is not the header value.
	ErrHeaderMismatch = errors.New("header mismatch")
	// ErrRateOutOfRange indicates respiration rate above 60.
	ErrRateOutOfRange = errors.New("respiration rate out of range")
	// ErrWaveformCO2OutOfRange indicates waveform CO2 above 50.
	ErrWaveformCO2OutOfRange = errors.New("waveform CO2 out of range")
	// ErrEndTidalCO2OutOfRange indicates end-tidal CO2 above 120.
	ErrEndTidalCO2OutOfRange = errors.New("end-tidal CO2 out of range")

	// ErrFrameTimeout indicates a partial frame stalled.
	// It is only reported through logs and statistics.
	ErrFrameTimeout = errors.New("frame timeout")
	// ErrResyncTimeout indicates the resync search gave up.
	// It is only reported through logs and statistics.
	ErrResyncTimeout = errors.New("resync search timeout")

	// ErrUnknownCommand indicates the command code is not defined.
	ErrUnknownCommand = errors.New("unknown command")
)

func incompleteHandshake(got int) error {
	return fmt.Errorf("%w: got %d/%d bytes", ErrHandshakeIncomplete, got, PacketSize-1)
}
