package device

import (
	"context"
	"fmt"
	"net"
	"time"

	"ambientd/internal/color"
)

// UDPConfig addresses a remote frame sink reachable over UDP, used for
// fanning a single instance's output out to network-attached satellite
// controllers.
type UDPConfig struct {
	Addr    string // host:port
	Timeout time.Duration
}

// UDPDevice writes each frame as a length-framed RGB byte stream to a
// UDP socket: one datagram per frame, 3 bytes per LED in R,G,B order,
// no acknowledgement — undelivered frames are simply superseded by the
// next tick, matching the scheduler's own "never coalesce, never
// retransmit past MaxAttempts" contract.
type UDPDevice struct {
	cfg  UDPConfig
	conn net.Conn
}

func NewUDP(cfg UDPConfig) *UDPDevice {
	return &UDPDevice{cfg: cfg}
}

func (d *UDPDevice) Open(ctx context.Context) error {
	conn, err := net.Dial("udp", d.cfg.Addr)
	if err != nil {
		return fmt.Errorf("device: dial udp %q: %w", d.cfg.Addr, err)
	}
	d.conn = conn
	return nil
}

func (d *UDPDevice) WriteLEDs(ctx context.Context, colors []color.RGB) error {
	if d.conn == nil {
		return fmt.Errorf("device: udp not open")
	}
	if d.cfg.Timeout > 0 {
		_ = d.conn.SetWriteDeadline(time.Now().Add(d.cfg.Timeout))
	}
	buf := make([]byte, len(colors)*3)
	for i, c := range colors {
		buf[i*3] = c.R
		buf[i*3+1] = c.G
		buf[i*3+2] = c.B
	}
	_, err := d.conn.Write(buf)
	if err != nil {
		return fmt.Errorf("device: udp write: %w", err)
	}
	return nil
}

func (d *UDPDevice) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
