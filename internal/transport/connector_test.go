package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/distkv/chainkv/internal/wire"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type recordingLogic struct {
	mu        sync.Mutex
	messages  []wire.MessageType
	incoming  []*Connection
	disconns  int
}

func (r *recordingLogic) HandleMessage(peer *Connection, msgType wire.MessageType, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msgType)
}

func (r *recordingLogic) HandleDisconnect(peer *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconns++
}

func (r *recordingLogic) HandleIncomingConnection(peer *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incoming = append(r.incoming, peer)
}

func (r *recordingLogic) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func TestConnector_HandshakeAndForward(t *testing.T) {
	logicA := &recordingLogic{}
	logicB := &recordingLogic{}

	connA := NewConnector(0, "127.0.0.1", 29500, logicA, quietLog())
	connB := NewConnector(1, "127.0.0.1", 29501, logicB, quietLog())

	require.NoError(t, connA.Start())
	require.NoError(t, connB.Start())
	defer connA.Close()
	defer connB.Close()

	peerB, err := connA.Connect("127.0.0.1", 29501)
	require.NoError(t, err)
	require.Equal(t, 1, peerB.ID())

	require.Eventually(t, func() bool {
		return len(logicB.incoming) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, peerB.Send(wire.ForwardPass, wire.Update{TxnID: 1, Key: "k", Value: "v"}))

	require.Eventually(t, func() bool {
		return logicB.count() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestConnector_DuplicatePeerIDOnAcceptIsRejected(t *testing.T) {
	logicA := &recordingLogic{}
	logicB := &recordingLogic{}

	connA := NewConnector(0, "127.0.0.1", 29510, logicA, quietLog())
	connB := NewConnector(1, "127.0.0.1", 29511, logicB, quietLog())
	require.NoError(t, connA.Start())
	require.NoError(t, connB.Start())
	defer connA.Close()
	defer connB.Close()

	_, err := connA.Connect("127.0.0.1", 29511)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(logicB.incoming) == 1 }, time.Second, 10*time.Millisecond)

	// A second attempt to connect to the same peer id should be rejected
	// on the accept side; connB's peer table still has exactly one entry.
	_, err = connA.Connect("127.0.0.1", 29511)
	require.NoError(t, err) // returns existing handle on the dial side
	time.Sleep(50 * time.Millisecond)
	require.Len(t, logicB.incoming, 1)
}

func TestConnector_DuplicatePeerIDOnDialReturnsExisting(t *testing.T) {
	logicA := &recordingLogic{}
	logicB := &recordingLogic{}

	connA := NewConnector(0, "127.0.0.1", 29520, logicA, quietLog())
	connB := NewConnector(1, "127.0.0.1", 29521, logicB, quietLog())
	require.NoError(t, connA.Start())
	require.NoError(t, connB.Start())
	defer connA.Close()
	defer connB.Close()

	first, err := connA.Connect("127.0.0.1", 29521)
	require.NoError(t, err)

	second, err := connA.Connect("127.0.0.1", 29521)
	require.NoError(t, err)
	require.Same(t, first, second)
}
