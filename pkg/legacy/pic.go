// Package legacy emits measurements in the line format of the PIC based
// monitor, read by LabVIEW acquisition tools.
package legacy

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/robotalks/capno.go/pkg/maco2"
)

// Zero replacements keep NUL bytes out of the stream.
const (
	ZeroStatus2 byte = 128
	ZeroValue   byte = 255
)

// ADCReading supplies the auxiliary O2 and volume channels.
type ADCReading struct {
	O2     uint16
	Volume uint16
}

// ADCSource provides the latest ADC readings.
type ADCSource interface {
	ReadADC() ADCReading
}

// Writer writes one line per valid measurement:
//
//	ESC wave(3) TAB o2(5) TAB vol(5) TAB status1 status2 rr fico2 fetco2 CR LF
type Writer struct {
	Out io.Writer
	ADC ADCSource

	lock        sync.Mutex
	packetsSent uint64
	bytesSent   uint64
}

// NewWriter creates a Writer.
func NewWriter(out io.Writer) *Writer {
	return &Writer{Out: out}
}

// Format formats a measurement line.
func Format(m maco2.Measurement, adc ADCReading) []byte {
	// status bytes are raw, %c would UTF-8 encode values above 127
	line := []byte(fmt.Sprintf("\x1B%03d\t%05d\t%05d\t", m.WaveformCO2, adc.O2, adc.Volume))
	return append(line,
		maco2.Header,
		replaceZero(m.Status, ZeroStatus2),
		replaceZero(m.RespirationRate, ZeroValue),
		replaceZero(m.InspiredCO2, ZeroValue),
		replaceZero(m.EndTidalCO2, ZeroValue),
		'\r', '\n',
	)
}

// HandleMeasurement implements monitor.Sink. Invalid measurements are
// skipped.
func (w *Writer) HandleMeasurement(ctx context.Context, m maco2.Measurement) error {
	if !m.Valid {
		return nil
	}
	var adc ADCReading
	if w.ADC != nil {
		adc = w.ADC.ReadADC()
	}
	line := Format(m, adc)
	w.lock.Lock()
	defer w.lock.Unlock()
	n, err := w.Out.Write(line)
	w.bytesSent += uint64(n)
	if err != nil {
		return fmt.Errorf("legacy write: %w", err)
	}
	w.packetsSent++
	return nil
}

// Statistics returns lines and bytes written.
func (w *Writer) Statistics() (packets, bytes uint64) {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.packetsSent, w.bytesSent
}

// ResetStatistics zeroes the counters.
func (w *Writer) ResetStatistics() {
	w.lock.Lock()
	w.packetsSent, w.bytesSent = 0, 0
	w.lock.Unlock()
}

func replaceZero(v, replacement byte) byte {
	if v == 0 {
		return replacement
	}
	return v
}
