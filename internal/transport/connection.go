// Package transport implements the peer-connection and connector pieces of
// the chain-replication engine: one duplex link to a single peer, and the
// TCP listener/dialer with its identity handshake and peer registry.
package transport

import (
	"io"
	"net"
	"sync"

	"github.com/distkv/chainkv/internal/wire"
	"github.com/sirupsen/logrus"
)

// Logic is the chain-replication protocol engine's callback surface, as
// seen by a peer connection. It is implemented by internal/chain.Chain.
type Logic interface {
	// HandleMessage processes one decoded frame from peer.
	HandleMessage(peer *Connection, msgType wire.MessageType, payload []byte)
	// HandleDisconnect is invoked once, when peer's receive loop observes
	// EOF or a fatal decode error.
	HandleDisconnect(peer *Connection)
	// HandleIncomingConnection is invoked at most once per node, when the
	// connector accepts the chain's successor (the tail never receives
	// one). Firing twice is a protocol violation.
	HandleIncomingConnection(peer *Connection)
}

// Connection is one established, bidirectional link to a single peer,
// identified by that peer's node id. Send calls are serialized by sendMu
// so wire integrity is preserved under concurrent callers.
type Connection struct {
	id   int
	host string
	port int

	conn   net.Conn
	sendMu sync.Mutex

	logic Logic
	log   *logrus.Entry

	closeOnce sync.Once
}

func newConnection(id int, host string, port int, conn net.Conn, logic Logic, initial []byte, log *logrus.Entry) *Connection {
	c := &Connection{
		id:    id,
		host:  host,
		port:  port,
		conn:  conn,
		logic: logic,
		log:   log.WithField("peer_id", id),
	}
	go c.receiveLoop(initial)
	return c
}

// ID is the connected peer's node id.
func (c *Connection) ID() int { return c.id }

// Hostname is the connected peer's advertised hostname.
func (c *Connection) Hostname() string { return c.host }

// Port is the connected peer's advertised TCP listen port.
func (c *Connection) Port() int { return c.port }

// Send serializes one frame and writes it to the socket under the send
// lock, so concurrent Send calls from different goroutines never
// interleave their bytes on the wire.
func (c *Connection) Send(t wire.MessageType, u wire.Update) error {
	raw, err := wire.EncodeUpdate(t, u)
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err = c.conn.Write(raw)
	return err
}

// Disconnect closes the write half of the socket and tears the connection
// down. It is idempotent.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// receiveLoop runs until EOF or a fatal decode error, dispatching each
// decoded frame to c.logic.HandleMessage. initial holds any bytes already
// read past the identity handshake line.
func (c *Connection) receiveLoop(initial []byte) {
	decoder := wire.NewDecoder(initial)
	buf := make([]byte, 4096)

	// Bytes buffered during the handshake may already contain one or more
	// complete frames; drain those before blocking on the socket.
	if err := c.drainAndDispatch(decoder); err != nil {
		c.teardown(err)
		return
	}

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			if derr := c.drainAndDispatch(decoder); derr != nil {
				c.teardown(derr)
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				c.log.Debugf("receive loop error: %v", err)
			}
			c.teardown(nil)
			return
		}
	}
}

func (c *Connection) drainAndDispatch(decoder *wire.Decoder) error {
	frames, err := decoder.Drain()
	for _, f := range frames {
		c.logic.HandleMessage(c, f.Type, f.Payload)
	}
	return err
}

func (c *Connection) teardown(decodeErr error) {
	if decodeErr != nil {
		c.log.Warnf("closing connection after decode error: %v", decodeErr)
	}
	_ = c.Disconnect()
	c.logic.HandleDisconnect(c)
}
