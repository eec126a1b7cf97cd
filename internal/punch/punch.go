// Package punch opens the local firewall/NAT for incoming media by sending
// a small datagram from each media port to the remote server.
package punch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/smazurov/doorbell/internal/logging"
	"github.com/smazurov/doorbell/internal/metrics"
)

// ErrPunchFailed wraps any bind, send or close failure.
var ErrPunchFailed = errors.New("punch failed")

// PacketSize is the length of the zero-filled punch datagram.
const PacketSize = 8

// Listener opens a local UDP socket bound to port.
type Listener func(network string, port uint16) (net.PacketConn, error)

// ListenUDP binds on all interfaces.
func ListenUDP(network string, port uint16) (net.PacketConn, error) {
	return net.ListenPacket(network, ":"+strconv.Itoa(int(port)))
}

// Sequencer punches ports one at a time. The zero value is not usable; use
// New.
type Sequencer struct {
	listen  Listener
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithListener replaces the socket opener.
func WithListener(l Listener) Option {
	return func(s *Sequencer) { s.listen = l }
}

// WithTimeout bounds each send.
func WithTimeout(d time.Duration) Option {
	return func(s *Sequencer) { s.timeout = d }
}

// New creates a Sequencer.
func New(opts ...Option) *Sequencer {
	s := &Sequencer{
		listen:  ListenUDP,
		timeout: 2 * time.Second,
		logger:  logging.GetLogger("punch"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Punch sends one datagram to host:port from local port, for each port in
// order. Each socket is closed before the next port is bound. The first
// failure aborts the sequence and later ports are left untouched.
func (s *Sequencer) Punch(ctx context.Context, host string, ports []uint16) error {
	network := "udp4"
	if addr, err := netip.ParseAddr(host); err == nil && !addr.Unmap().Is4() {
		network = "udp6"
	}

	for _, port := range ports {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: port %d: %w", ErrPunchFailed, port, err)
		}
		if err := s.punchPort(network, host, port); err != nil {
			metrics.PunchPacket(false)
			s.logger.Warn("Firewall punch failed", "host", host, "port", port, "error", err)
			return err
		}
		metrics.PunchPacket(true)
		s.logger.Debug("Firewall punched", "host", host, "port", port)
	}
	return nil
}

func (s *Sequencer) punchPort(network, host string, port uint16) error {
	remote, err := net.ResolveUDPAddr(network, net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", ErrPunchFailed, host, err)
	}

	conn, err := s.listen(network, port)
	if err != nil {
		return fmt.Errorf("%w: bind port %d: %w", ErrPunchFailed, port, err)
	}

	if s.timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
			conn.Close()
			return fmt.Errorf("%w: port %d: %w", ErrPunchFailed, port, err)
		}
	}

	if _, err := conn.WriteTo(make([]byte, PacketSize), remote); err != nil {
		conn.Close()
		return fmt.Errorf("%w: send to port %d: %w", ErrPunchFailed, port, err)
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("%w: close port %d: %w", ErrPunchFailed, port, err)
	}
	return nil
}
