// Package maco2 provides MaCO2 capnography sensor protocol support.
package maco2

// The sensor streams fixed 8-byte frames over a serial port (9600 8N1),
// roughly 8 frames per second, after a one-time handshake:
//
//	sensor: 0x06
//	host:   0x1B (ESC)
//	sensor: 7 bytes, discarded
//
// Each frame starts with header byte 0x06 and ends with an additive
// checksum of the first 7 bytes. There is no escaping, so the header value
// may legitimately appear inside a frame. The Parser therefore gates every
// candidate frame on checksum and range checks, and falls back to a window
// search when several candidates in a row fail.
//
// Producer: MaCO2 sensor
// Consumer: monitor loop (pkg/monitor)
