package transport

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Connector owns one TCP listener bound to (hostname, port) and the
// registry of established peer connections, keyed by peer id.
type Connector struct {
	id       int
	hostname string
	port     int
	logic    Logic
	log      *logrus.Entry

	listener net.Listener

	mu    sync.Mutex
	peers map[int]*Connection
}

// NewConnector creates a Connector for the given node id, bound (once
// Start is called) to hostname:port.
func NewConnector(id int, hostname string, port int, logic Logic, log *logrus.Entry) *Connector {
	return &Connector{
		id:       id,
		hostname: hostname,
		port:     port,
		logic:    logic,
		log:      log.WithField("component", "connector"),
		peers:    make(map[int]*Connection),
	}
}

// Start binds the listener and begins accepting connections in the
// background. It must be called at most once.
func (c *Connector) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", c.hostname, c.port))
	if err != nil {
		return fmt.Errorf("connector: listen on %s:%d: %w", c.hostname, c.port, err)
	}
	c.listener = ln
	go c.acceptLoop()
	return nil
}

// Close stops accepting new connections and disconnects every established
// peer link.
func (c *Connector) Close() error {
	var err error
	if c.listener != nil {
		err = c.listener.Close()
	}

	c.mu.Lock()
	peers := make([]*Connection, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	for _, p := range peers {
		_ = p.Disconnect()
	}

	return err
}

// Peer returns the established connection to peerID, if any.
func (c *Connector) Peer(peerID int) (*Connection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[peerID]
	return p, ok
}

func (c *Connector) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			c.log.Debugf("accept loop stopped: %v", err)
			return
		}
		go c.handleAccepted(conn)
	}
}

func (c *Connector) handleAccepted(conn net.Conn) {
	if err := c.sendIdentity(conn); err != nil {
		c.log.Errorf("failed sending identity to incoming peer: %v", err)
		_ = conn.Close()
		return
	}

	peerID, host, port, excess, err := c.receiveIdentity(conn)
	if err != nil {
		c.log.Errorf("failed receiving identity from incoming peer: %v", err)
		_ = conn.Close()
		return
	}

	if peerID == c.id {
		panic(fmt.Sprintf("connector: node %d accepted a connection from itself", c.id))
	}

	c.mu.Lock()
	if _, exists := c.peers[peerID]; exists {
		c.mu.Unlock()
		c.log.Warnf("node %d is already connected to us; closing duplicate", peerID)
		_ = conn.Close()
		return
	}

	peer := newConnection(peerID, host, port, conn, c.logic, excess, c.log)
	c.peers[peerID] = peer
	c.mu.Unlock()

	c.log.Infof("node %d got a new connection from node %d", c.id, peerID)
	c.logic.HandleIncomingConnection(peer)
}

// Connect dials hostname:port, performs the identity handshake, and
// returns the resulting peer connection. It does not notify Logic; the
// caller is expected to install the returned handle as previous/next.
func (c *Connector) Connect(hostname string, port int) (*Connection, error) {
	if hostname == c.hostname && port == c.port {
		return nil, fmt.Errorf("connector: cannot connect to self (%s:%d)", hostname, port)
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", hostname, port))
	if err != nil {
		return nil, fmt.Errorf("connector: dial %s:%d: %w", hostname, port, err)
	}

	if err := c.sendIdentity(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connector: send identity: %w", err)
	}

	peerID, peerHost, peerPort, excess, err := c.receiveIdentity(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("connector: receive identity: %w", err)
	}

	if peerID == c.id {
		panic(fmt.Sprintf("connector: node %d dialed itself", c.id))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, exists := c.peers[peerID]; exists {
		c.log.Warnf("already connected to node %d, reusing existing link", peerID)
		_ = conn.Close()
		return existing, nil
	}

	peer := newConnection(peerID, peerHost, peerPort, conn, c.logic, excess, c.log)
	c.peers[peerID] = peer
	return peer, nil
}

// sendIdentity writes this node's identity line, framed as a uint32
// little-endian length prefix followed by ASCII "<id>:<hostname>:<port>".
func (c *Connector) sendIdentity(conn net.Conn) error {
	msg := fmt.Sprintf("%d:%s:%d", c.id, c.hostname, c.port)
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(msg)))

	if _, err := conn.Write(append(header, msg...)); err != nil {
		return err
	}
	return nil
}

// receiveIdentity reads the peer's identity line. Any bytes read past the
// identity line's terminator are returned as excess, to be handed to the
// new Connection as its initial receive buffer: a fast sender's frames may
// arrive coalesced with the identity line.
func (c *Connector) receiveIdentity(conn net.Conn) (id int, host string, port int, excess []byte, err error) {
	const headerLen = 4
	var in []byte
	buf := make([]byte, 4096)

	for {
		n, rerr := conn.Read(buf)
		if n > 0 {
			in = append(in, buf[:n]...)
		}
		if len(in) >= headerLen {
			msgLen := int(binary.LittleEndian.Uint32(in[0:headerLen]))
			total := headerLen + msgLen
			if len(in) >= total {
				line := string(in[headerLen:total])
				parsed, perr := parseIdentity(line)
				if perr != nil {
					return 0, "", 0, nil, perr
				}
				return parsed.id, parsed.host, parsed.port, in[total:], nil
			}
		}
		if rerr != nil {
			return 0, "", 0, nil, fmt.Errorf("connector: reading identity: %w", rerr)
		}
	}
}

type identity struct {
	id   int
	host string
	port int
}

func parseIdentity(line string) (identity, error) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) != 3 {
		return identity{}, fmt.Errorf("connector: malformed identity line %q", line)
	}
	id, err := strconv.Atoi(parts[0])
	if err != nil {
		return identity{}, fmt.Errorf("connector: malformed identity id %q: %w", parts[0], err)
	}
	port, err := strconv.Atoi(parts[2])
	if err != nil {
		return identity{}, fmt.Errorf("connector: malformed identity port %q: %w", parts[2], err)
	}
	return identity{id: id, host: parts[1], port: port}, nil
}
