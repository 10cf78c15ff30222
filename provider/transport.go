package provider

import (
	"github.com/zenghr0820/gbsip/sip"
)

// Transport moves bytes. Send opens (or reuses) a connection for
// connection-oriented protocols and returns it; datagram sends return nil.
type Transport interface {
	Send(data []byte, host string, port int, proto string) (Connection, error)
	Reliable(proto string) bool
}

// Connection is one connection-oriented transport channel.
type Connection interface {
	ID() sip.Identifier
	Write(data []byte) error
	Close() error
}

// Receiver is the inbound side of the transport contract.
type Receiver interface {
	OnReceivedBytes(data []byte, host string, port int, proto string, conn Connection)
	OnConnectionClosed(id sip.Identifier, err error)
}
