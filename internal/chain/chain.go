// Package chain implements the chain-replication protocol engine: the
// per-node state machine that accepts a client write at the head,
// forwards it deterministically down an ordered chain of peers, applies it
// at each hop, and returns an acknowledgement to the head that unblocks the
// client.
package chain

import (
	"fmt"
	"sync"

	"github.com/distkv/chainkv/internal/metrics"
	"github.com/distkv/chainkv/internal/store"
	"github.com/distkv/chainkv/internal/transport"
	"github.com/distkv/chainkv/internal/wire"
	"github.com/sirupsen/logrus"
	"github.com/twmb/murmur3"
)

// Port layout: the peer listener is PeerBasePort+id, the HTTP listener is
// ClientBasePort+id. The two bases must never collide.
const (
	PeerBasePort   = 9000
	ClientBasePort = 8000
)

// pendingUpdate records that this node has forwarded an update downstream
// and is awaiting its backward-pass acknowledgement. done is only non-nil
// at the head, where a client Put is blocked on it; middle nodes keep a
// pending entry for observability only and never read it back.
type pendingUpdate struct {
	txnID uint64
	key   string
	value string
	done  chan struct{}
}

// Chain is one node's chain-replication logic.
type Chain struct {
	id       int
	hostname string

	store     *store.Store
	connector *transport.Connector
	metrics   *metrics.Metrics
	log       *logrus.Entry

	peerBasePort int

	mu          sync.Mutex
	previous    *transport.Connection
	next        *transport.Connection
	pending     map[uint64]*pendingUpdate
	gotIncoming bool
}

// New constructs a Chain for node id, bound to hostname, with its peer
// listener at the standard PeerBasePort+id. The connector's listener is
// not started until Start is called.
func New(id int, hostname string, st *store.Store, m *metrics.Metrics, log *logrus.Entry) *Chain {
	return newWithPeerBasePort(id, hostname, PeerBasePort, st, m, log)
}

// newWithPeerBasePort is the shared constructor used by New and by tests
// that need an isolated port range to run concurrently.
func newWithPeerBasePort(id int, hostname string, peerBasePort int, st *store.Store, m *metrics.Metrics, log *logrus.Entry) *Chain {
	c := &Chain{
		id:           id,
		hostname:     hostname,
		store:        st,
		metrics:      m,
		log:          log.WithField("node_id", id),
		pending:      make(map[uint64]*pendingUpdate),
		peerBasePort: peerBasePort,
	}
	c.connector = transport.NewConnector(id, hostname, peerBasePort+id, c, c.log)
	return c
}

// Start starts the peer listener and, if predecessorID is non-nil, dials
// that node and installs the resulting connection as previous. The
// successor, if any, arrives later via HandleIncomingConnection.
func (c *Chain) Start(predecessorID *int) error {
	if err := c.connector.Start(); err != nil {
		return err
	}

	if predecessorID != nil {
		c.log.Infof("connecting to predecessor node %d", *predecessorID)
		peer, err := c.connector.Connect(c.hostname, c.peerBasePort+*predecessorID)
		if err != nil {
			return fmt.Errorf("chain: connecting to predecessor %d: %w", *predecessorID, err)
		}
		c.mu.Lock()
		c.previous = peer
		c.mu.Unlock()
	}

	return nil
}

// Close stops accepting new peer connections.
func (c *Chain) Close() error {
	return c.connector.Close()
}

// IsHead reports whether this node has no predecessor.
func (c *Chain) IsHead() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previous == nil
}

// IsTail reports whether this node has no successor.
func (c *Chain) IsTail() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next == nil
}

// Put stores a new entry on all nodes in the chain. It is only legal to
// call at the head; calling it elsewhere is a programming invariant
// violation and panics rather than returning an error.
func (c *Chain) Put(key, value string) {
	if !c.IsHead() {
		panic("chain: put called on a non-head node")
	}

	if c.IsTail() {
		// Chain of length 1: head and tail are the same node, apply
		// directly with no peer traffic.
		c.store.Put(key, value)
		c.metrics.WritesApplied.Inc()
		return
	}

	// Head applies optimistically before the forward pass is even sent.
	c.store.Put(key, value)
	c.metrics.WritesApplied.Inc()

	txnID := fingerprint(key)
	update := wire.Update{TxnID: txnID, Key: key, Value: value}
	done := make(chan struct{})

	c.mu.Lock()
	c.pending[txnID] = &pendingUpdate{txnID: txnID, key: key, value: value, done: done}
	c.metrics.PendingDepth.Set(float64(len(c.pending)))
	next := c.next
	c.mu.Unlock()

	if err := next.Send(wire.ForwardPass, update); err != nil {
		// No retries: the pending entry is orphaned and this Put
		// blocks forever if the successor link is lost mid-write.
		c.log.Errorf("failed sending forward pass for txn %d: %v", txnID, err)
	} else {
		c.metrics.FramesSent.WithLabelValues("forward").Inc()
	}

	<-done
}

// Get reads a single entry directly from the local store. No peer traffic
// is involved; a read at a non-tail node is not guaranteed to reflect the
// globally committed value.
func (c *Chain) Get(key string) (string, bool) {
	return c.store.Get(key)
}

// GetAll returns every entry in the local store.
func (c *Chain) GetAll() []store.Entry {
	return c.store.Snapshot()
}

// HandleMessage implements transport.Logic: it is invoked by a
// Connection's receive loop for every decoded frame.
func (c *Chain) HandleMessage(peer *transport.Connection, msgType wire.MessageType, payload []byte) {
	update, err := wire.DecodeUpdate(payload)
	if err != nil {
		c.log.Errorf("failed decoding update from peer %d: %v", peer.ID(), err)
		return
	}

	switch msgType {
	case wire.ForwardPass:
		c.metrics.FramesReceived.WithLabelValues("forward").Inc()
		c.handleForwardPass(update)
	case wire.BackwardPass:
		c.metrics.FramesReceived.WithLabelValues("backward").Inc()
		c.handleBackwardPass(update)
	default:
		c.log.Warnf("unexpected message type %s from peer %d", msgType, peer.ID())
	}
}

func (c *Chain) handleForwardPass(update wire.Update) {
	c.store.Put(update.Key, update.Value)
	c.metrics.WritesApplied.Inc()

	if c.IsTail() {
		c.mu.Lock()
		previous := c.previous
		c.mu.Unlock()
		if err := previous.Send(wire.BackwardPass, update); err != nil {
			c.log.Errorf("failed sending backward pass for txn %d: %v", update.TxnID, err)
			return
		}
		c.metrics.FramesSent.WithLabelValues("backward").Inc()
		return
	}

	c.mu.Lock()
	c.pending[update.TxnID] = &pendingUpdate{txnID: update.TxnID, key: update.Key, value: update.Value}
	c.metrics.PendingDepth.Set(float64(len(c.pending)))
	next := c.next
	c.mu.Unlock()

	if err := next.Send(wire.ForwardPass, update); err != nil {
		c.log.Errorf("failed forwarding txn %d: %v", update.TxnID, err)
		return
	}
	c.metrics.FramesSent.WithLabelValues("forward").Inc()
}

func (c *Chain) handleBackwardPass(update wire.Update) {
	if c.IsHead() {
		c.mu.Lock()
		p, ok := c.pending[update.TxnID]
		delete(c.pending, update.TxnID)
		c.metrics.PendingDepth.Set(float64(len(c.pending)))
		c.mu.Unlock()

		// A backward pass for an unknown txn_id is silently discarded;
		// erasing an absent key from pending is a no-op.
		if ok {
			close(p.done)
		}
		return
	}

	c.mu.Lock()
	delete(c.pending, update.TxnID)
	c.metrics.PendingDepth.Set(float64(len(c.pending)))
	previous := c.previous
	c.mu.Unlock()

	if err := previous.Send(wire.BackwardPass, update); err != nil {
		c.log.Errorf("failed relaying backward pass for txn %d: %v", update.TxnID, err)
		return
	}
	c.metrics.FramesSent.WithLabelValues("backward").Inc()
}

// HandleIncomingConnection implements transport.Logic. It fires at most
// once per node; a second call is a protocol violation.
func (c *Chain) HandleIncomingConnection(peer *transport.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gotIncoming {
		panic(fmt.Sprintf("chain: node %d received a second incoming connection from node %d", c.id, peer.ID()))
	}
	c.gotIncoming = true
	c.next = peer
	c.metrics.PeerConnections.WithLabelValues("incoming").Inc()
}

// HandleDisconnect implements transport.Logic. There is no peer-loss
// recovery; this only logs and updates metrics.
func (c *Chain) HandleDisconnect(peer *transport.Connection) {
	c.log.Infof("lost connection from node %d", peer.ID())
	c.metrics.PeerConnections.WithLabelValues("lost").Inc()
}

// fingerprint derives a deterministic txn_id from a key, using a
// process-independent hash: two writes to the same key must collide into
// the same pending slot on every node.
func fingerprint(key string) uint64 {
	return murmur3.Sum64([]byte(key))
}
