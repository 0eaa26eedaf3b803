package ingest

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"time"
)

// ErrNoReplyPath is returned by [Datagram.Reply] for datagrams that were not
// received on a socket.
var ErrNoReplyPath = errors.New("ingest: datagram has no reply path")

// Endpoint is the local address the ingestor binds to.
type Endpoint struct {
	Port int

	// BindAddress is the local address. The zero value binds all IPv4
	// interfaces.
	BindAddress netip.Addr
}

// AddrPort returns the endpoint as a socket address.
func (e Endpoint) AddrPort() netip.AddrPort {
	addr := e.BindAddress
	if !addr.IsValid() {
		addr = netip.IPv4Unspecified()
	}
	return netip.AddrPortFrom(addr, uint16(e.Port))
}

// String returns "addr:port".
func (e Endpoint) String() string { return e.AddrPort().String() }

// ReplyFunc sends b to addr from the socket a datagram arrived on.
type ReplyFunc func(b []byte, addr netip.AddrPort) (int, error)

// Datagram is one received UDP payload.
//
// Payload aliases the ingestor's receive buffer and is only valid for the
// duration of the [Sink.Output] call. Sinks that keep the data must copy it.
type Datagram struct {
	Source     netip.AddrPort
	Payload    []byte
	Truncated  bool
	ReceivedAt time.Time

	reply ReplyFunc
}

// NewDatagram builds a datagram with a reply path, for sinks driven outside
// an [Ingestor].
func NewDatagram(src netip.AddrPort, payload []byte, reply ReplyFunc) Datagram {
	return Datagram{Source: src, Payload: payload, ReceivedAt: time.Now(), reply: reply}
}

// Reply sends b back to the datagram's source through the receiving socket.
func (d Datagram) Reply(b []byte) error {
	if d.reply == nil {
		return ErrNoReplyPath
	}
	n, err := d.reply(b, d.Source)
	if err != nil {
		return fmt.Errorf("ingest: reply to %s: %w", d.Source, err)
	}
	if n != len(b) {
		return fmt.Errorf("ingest: reply to %s: %w", d.Source, io.ErrShortWrite)
	}
	return nil
}
