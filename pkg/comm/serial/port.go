package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	goserial "go.bug.st/serial"
)

var (
	// ErrNoData indicates nothing has been received yet.
	ErrNoData = errors.New("no data available")
	// ErrClosed indicates the port is closed.
	ErrClosed = errors.New("port closed")
)

// DefaultBaudRate is the sensor link rate.
const DefaultBaudRate = 9600

// ReadTimeout bounds each read of the underlying port so Close can stop
// the read loop.
const ReadTimeout = 100 * time.Millisecond

// Drainer is implemented by ports which can wait for transmission.
type Drainer interface {
	Drain() error
}

// Port buffers bytes read from a blocking stream in the background so
// they can be consumed without blocking.
type Port struct {
	ReadWriter io.ReadWriter

	lock   sync.Mutex
	buf    []byte
	err    error
	closed bool
	done   chan struct{}
}

// NewPort creates a Port and starts reading from rw.
func NewPort(rw io.ReadWriter) *Port {
	p := &Port{ReadWriter: rw, done: make(chan struct{})}
	go p.readLoop()
	return p
}

// Open opens a serial device at 8N1 with the given baud rate.
func Open(path string, baud int) (*Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	sp, err := goserial.Open(path, &goserial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := sp.SetReadTimeout(ReadTimeout); err != nil {
		sp.Close()
		return nil, fmt.Errorf("set read timeout %s: %w", path, err)
	}
	glog.Infof("opened %s at %d baud", path, baud)
	return NewPort(sp), nil
}

// ListPorts lists serial devices on this host.
func ListPorts() ([]string, error) {
	return goserial.GetPortsList()
}

func (p *Port) readLoop() {
	defer close(p.done)
	buf := make([]byte, 64)
	for {
		n, err := p.ReadWriter.Read(buf)
		p.lock.Lock()
		if n > 0 {
			p.buf = append(p.buf, buf[:n]...)
		}
		if p.closed {
			err = ErrClosed
		}
		if err != nil {
			if p.err == nil {
				p.err = err
			}
			p.lock.Unlock()
			if err != ErrClosed {
				glog.Warningf("serial read: %v", err)
			}
			return
		}
		p.lock.Unlock()
	}
}

// Available returns the number of buffered bytes.
func (p *Port) Available() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return len(p.buf)
}

// ReadByte reads a buffered byte without blocking.
func (p *Port) ReadByte() (byte, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if len(p.buf) == 0 {
		if p.err != nil {
			return 0, p.err
		}
		return 0, ErrNoData
	}
	b := p.buf[0]
	p.buf = p.buf[1:]
	return b, nil
}

// Write writes to the underlying stream.
func (p *Port) Write(b []byte) (int, error) {
	return p.ReadWriter.Write(b)
}

// Flush waits for written bytes to be transmitted if the stream supports it.
func (p *Port) Flush() error {
	if d, ok := p.ReadWriter.(Drainer); ok {
		return d.Drain()
	}
	return nil
}

// Err returns the error which stopped the read loop, if any.
func (p *Port) Err() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.err == ErrClosed {
		return nil
	}
	return p.err
}

// Close closes the underlying stream and waits for the read loop to exit.
func (p *Port) Close() error {
	p.lock.Lock()
	p.closed = true
	p.lock.Unlock()
	var err error
	if c, ok := p.ReadWriter.(io.Closer); ok {
		err = c.Close()
	}
	<-p.done
	return err
}
