package maco2

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
)

// Handshake timing.
const (
	DefaultHandshakeTimeout = 30 * time.Second
	InitResponseTimeout     = 2 * time.Second
	InitResponseSize        = int(PacketSize) - 1

	handshakePollInterval = 10 * time.Millisecond
)

// Initialize performs the sensor handshake: wait up to timeout for a
// header byte, reply with Ack and read the 7 bytes that follow.
// Framing state is reset on return, successful or not.
func (p *Parser) Initialize(ctx context.Context, t Transport, timeout time.Duration) error {
	p.resetFraming()
	defer p.resetFraming()

	if n := Discard(t); n > 0 {
		glog.V(2).Infof("handshake: discarded %d stale bytes", n)
	}
	glog.Info("waiting for sensor handshake")

	if err := p.waitHeader(ctx, t, timeout); err != nil {
		p.stats.ErrorCount++
		glog.Warningf("handshake: %v", err)
		return err
	}

	if _, err := t.Write([]byte{Ack}); err != nil {
		p.stats.ErrorCount++
		return fmt.Errorf("handshake ack: %w", err)
	}
	if err := t.Flush(); err != nil {
		p.stats.ErrorCount++
		return fmt.Errorf("handshake flush: %w", err)
	}

	got, err := p.readInitResponse(ctx, t)
	if err != nil {
		p.stats.ErrorCount++
		glog.Warningf("handshake: %v", err)
		return err
	}
	if got < InitResponseSize {
		p.stats.ErrorCount++
		err = incompleteHandshake(got)
		glog.Warningf("handshake: %v", err)
		return err
	}

	if n := Discard(t); n > 0 {
		glog.V(2).Infof("handshake: discarded %d residual bytes", n)
	}
	glog.Info("sensor initialized")
	return nil
}

func (p *Parser) waitHeader(ctx context.Context, t Transport, timeout time.Duration) error {
	clock := p.clock()
	deadline := clock.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !clock.Now().Before(deadline) {
			return ErrHandshakeTimeout
		}
		if t.Available() == 0 {
			clock.Sleep(handshakePollInterval)
			continue
		}
		b, err := t.ReadByte()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
		}
		if b == Header {
			return nil
		}
		glog.V(2).Infof("handshake: skip 0x%02X", b)
	}
}

// readInitResponse returns the number of response bytes read before the
// deadline, failing with ErrHandshakeIncomplete on transport errors.
func (p *Parser) readInitResponse(ctx context.Context, t Transport) (got int, err error) {
	clock := p.clock()
	deadline := clock.Now().Add(InitResponseTimeout)
	for got < InitResponseSize {
		if err = ctx.Err(); err != nil {
			return
		}
		if !clock.Now().Before(deadline) {
			return
		}
		if t.Available() == 0 {
			clock.Sleep(handshakePollInterval)
			continue
		}
		if _, rerr := t.ReadByte(); rerr != nil {
			err = fmt.Errorf("%w: got %d/%d bytes: %v", ErrHandshakeIncomplete, got, InitResponseSize, rerr)
			return
		}
		got++
	}
	return
}
