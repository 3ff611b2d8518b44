package maco2

import (
	"io"
	"time"
)

// Transport is the byte link to the sensor.
// Available and ReadByte must not block.
type Transport interface {
	io.Writer
	io.ByteReader
	// Available returns the number of bytes readable without blocking.
	Available() int
	// Flush blocks until written bytes are transmitted.
	Flush() error
}

// Clock provides time to the Parser.
type Clock interface {
	Now() time.Time
	Sleep(time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// Discard reads and drops the bytes available at the time of the call,
// returning how many. Bytes arriving meanwhile are kept.
func Discard(t Transport) (n int) {
	for avail := t.Available(); n < avail; n++ {
		if _, err := t.ReadByte(); err != nil {
			return
		}
	}
	return
}
