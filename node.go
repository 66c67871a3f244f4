// MIT License
//
// Copyright (c) 2016-2017 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package meshnet implements a peer-to-peer mesh networking node: a
// single-threaded event engine that accepts and dials TCP peers,
// negotiates one reader and one writer socket per pair of nodes,
// exchanges framed messages and survives transient connectivity
// failures through automatic reconnection.
package meshnet

import (
	"io"
	"net/netip"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Callbacks surface mesh events to the user. Nil members default to
// no-ops.
type Callbacks struct {
	// OnNodeReady fires when a peer first becomes reachable (its first
	// reader or writer socket is established).
	OnNodeReady func(peer NodeID)

	// OnNodeClosed fires when a peer loses its last socket.
	OnNodeClosed func(peer NodeID)

	// OnMessage delivers an application payload received from peer.
	OnMessage func(peer NodeID, payload []byte)

	// OnFailure reports a per-socket error. The node closes the failed
	// socket itself; its removal completes at the end of the current
	// step.
	OnFailure func(id int, err error)
}

func (c *Callbacks) fillDefaults() {
	if c.OnNodeReady == nil {
		c.OnNodeReady = func(NodeID) {}
	}
	if c.OnNodeClosed == nil {
		c.OnNodeClosed = func(NodeID) {}
	}
	if c.OnMessage == nil {
		c.OnMessage = func(NodeID, []byte) {}
	}
	if c.OnFailure == nil {
		c.OnFailure = func(int, error) {}
	}
}

// Node is one process-local mesh peer. All methods must be called from
// a single goroutine; the only blocking point is inside Step.
type Node struct {
	id        NodeID
	config    *Config
	logger    *logrus.Entry
	callbacks Callbacks
	reconnect ReconnectPolicy

	listenerPool   *listenerPool
	connectingPool *connectingPool
	readerPool     *readerPool
	writerPool     *writerPool
	socketPool     *socketPool

	handshake *handshakeProcessor
	heartbeat *heartbeatScheduler
	input     *inputProcessor

	readers map[NodeID]int // peer -> reader socket
	writers map[NodeID]int // peer -> writer socket
	peers   map[int]NodeID // socket -> peer, set on handshake completion
	nat     map[NodeID]bool
}

// NewNode creates a node with the given identity. A nil config uses
// DefaultConfig, a nil policy disables reconnection and a nil logger
// discards output.
func NewNode(id NodeID, config *Config, policy ReconnectPolicy, callbacks Callbacks, logger *logrus.Entry) (*Node, error) {
	if id.IsZero() {
		return nil, errors.New("node id must not be zero")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := VerifyConfig(config); err != nil {
		return nil, err
	}
	if policy == nil {
		policy = NoReconnect{}
	}
	if logger == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		logger = logrus.NewEntry(discard)
	}
	callbacks.fillDefaults()

	n := &Node{
		id:        id,
		config:    config,
		logger:    logger.WithField("node", id.String()),
		callbacks: callbacks,
		reconnect: policy,
		readers:   make(map[NodeID]int),
		writers:   make(map[NodeID]int),
		peers:     make(map[int]NodeID),
		nat:       make(map[NodeID]bool),
	}
	n.listenerPool = newListenerPool(n)
	n.connectingPool = newConnectingPool(n)
	n.readerPool = newReaderPool(n, config.ReadChunkSize)
	n.writerPool = newWriterPool(n, config.ChunkSize, nil)
	n.socketPool = newSocketPool()
	n.handshake = newHandshakeProcessor(n, n, config.HandshakeTimeout)
	n.heartbeat = newHeartbeatScheduler(n, config.HeartbeatTimeout)
	n.input = newInputProcessor(n)

	n.logger.Debugf("node created")
	return n, nil
}

// ID returns the node identity.
func (n *Node) ID() NodeID {
	return n.id
}

// PriorityCount reports the number of outbound priorities accepted by
// Send. Frames of one socket share a single FIFO lane.
func (n *Node) PriorityCount() int {
	return 1
}

// AddListener registers a bind address for inbound sockets.
func (n *Node) AddListener(addr netip.AddrPort) error {
	return n.listenerPool.add(addr)
}

// ListenerAddrs reports the bound listener addresses, with ephemeral
// ports resolved.
func (n *Node) ListenerAddrs() []netip.AddrPort {
	return n.listenerPool.addrs()
}

// Listen transitions all registered listeners to listening. A
// non-positive backlog uses the configured one.
func (n *Node) Listen(backlog int) error {
	if backlog <= 0 {
		backlog = n.config.ListenBacklog
	}
	return n.listenerPool.listen(backlog)
}

// ConnectHost starts a connection attempt toward addr and reports
// whether the dispatch succeeded.
func (n *Node) ConnectHost(addr netip.AddrPort) bool {
	return n.connectingPool.connect(addr) != connFailure
}

// Send enqueues raw bytes on a socket. The caller is responsible for
// framing; use SendTo for application messages.
func (n *Node) Send(id int, priority int, data []byte) error {
	if priority < 0 || priority >= n.PriorityCount() {
		return errors.Wrapf(ErrInvalidPriority, "priority %d", priority)
	}
	n.writerPool.enqueue(id, data)
	return nil
}

// SendTo wraps payload in a message envelope and enqueues it on the
// writer socket of peer.
func (n *Node) SendTo(peer NodeID, payload []byte) error {
	id, ok := n.writers[peer]
	if !ok {
		return errors.Wrapf(ErrUnknownPeer, "no writer for %s", peer)
	}
	n.writerPool.enqueue(id, encodeMessage(payload))
	return nil
}

// RemainBytes reports the outbound bytes buffered and not yet sent,
// for backpressure telemetry.
func (n *Node) RemainBytes() uint64 {
	return n.writerPool.remain()
}

// Peers lists the nodes with at least one established socket.
func (n *Node) Peers() []NodeID {
	seen := make(map[NodeID]bool)
	var out []NodeID
	for peer := range n.readers {
		if !seen[peer] {
			seen[peer] = true
			out = append(out, peer)
		}
	}
	for peer := range n.writers {
		if !seen[peer] {
			seen[peer] = true
			out = append(out, peer)
		}
	}
	return out
}

// Step advances the node once, bounded by a wall-clock budget. Unused
// slack is spent waiting in the reader poll; if that returns early, the
// rest of the budget is slept out, so an idle node burns no CPU between
// steps.
func (n *Node) Step(budget time.Duration) {
	deadline := time.Now().Add(budget)

	n.listenerPool.step()
	n.connectingPool.step()
	n.writerPool.step(time.Until(deadline))
	n.readerPool.step(time.Until(deadline))

	now := time.Now()
	n.handshake.step(now)
	n.heartbeat.step(now)

	n.connectingPool.applyRemove()
	n.listenerPool.applyRemove()
	n.readerPool.applyRemove()
	n.writerPool.applyRemove()
	n.socketPool.applyRemove() // must be last in the removal sequence

	if d := time.Until(deadline); d > 0 {
		time.Sleep(d)
	}
}

// closeSocket tears one socket out of every subsystem. Pool removal is
// deferred to the end of the current step.
func (n *Node) closeSocket(id int) {
	n.handshake.cancel(id)
	n.heartbeat.remove(id)
	n.input.remove(id)
	n.readerPool.removeLater(id)
	n.writerPool.removeLater(id)
	n.socketPool.removeLater(id)

	peer, known := n.peers[id]
	delete(n.peers, id)
	if sid, ok := n.readers[peer]; known && ok && sid == id {
		delete(n.readers, peer)
	}
	if sid, ok := n.writers[peer]; known && ok && sid == id {
		delete(n.writers, peer)
	}
	if known {
		if _, ok := n.readers[peer]; !ok {
			if _, ok = n.writers[peer]; !ok {
				n.logger.Debugf("node closed: %s", peer)
				n.callbacks.OnNodeClosed(peer)
			}
		}
	}
}

func (n *Node) scheduleReconnection(id int) {
	timeout := n.reconnect.Timeout()
	if timeout <= 0 {
		return
	}
	rec := n.socketPool.locate(id)
	if rec == nil || rec.accepted {
		return
	}
	if peer, ok := n.peers[id]; ok && n.nat[peer] {
		// A peer behind NAT is unreachable from here; it has to dial
		// out again itself.
		return
	}
	n.logger.Debugf("reconnecting to %s in %s", rec.addr, timeout)
	n.connectingPool.connectTimeout(timeout, rec.addr)
}

// listenerObserver

func (n *Node) onAccepted(fd int, addr netip.AddrPort) {
	n.logger.Debugf("socket accepted: #%d: %s", fd, addr)
	n.input.add(fd)
	n.readerPool.add(fd)
	n.socketPool.addAccepted(fd, addr)
	n.handshake.start(fd, false)
}

func (n *Node) onListenerFailure(err error) {
	n.logger.Errorf("listener pool failure: %s", err)
}

// connectingObserver

func (n *Node) onConnected(fd int, addr netip.AddrPort) {
	n.logger.Debugf("socket connected: #%d: %s", fd, addr)
	n.input.add(fd)
	n.readerPool.add(fd)
	n.socketPool.addConnected(fd, addr)
	n.handshake.start(fd, true)
}

func (n *Node) onConnectionRefused(fd int, addr netip.AddrPort, err error) {
	n.logger.Errorf("connection refused: #%d: %s", fd, addr)
	n.callbacks.OnFailure(fd, err)
	if timeout := n.reconnect.Timeout(); timeout > 0 {
		n.connectingPool.connectTimeout(timeout, addr)
	}
}

func (n *Node) onConnectingFailure(err error) {
	n.logger.Errorf("connecting pool failure: %s", err)
}

// readerObserver

func (n *Node) onDataReady(id int, data []byte) {
	n.input.processInput(id, data)
}

func (n *Node) onDisconnected(id int) {
	n.logger.Debugf("socket disconnected: #%d", id)
	n.scheduleReconnection(id)
	n.closeSocket(id)
}

func (n *Node) onReadFailure(id int, err error) {
	n.logger.Errorf("read from socket failure: #%d: %s", id, err)
	if id < 0 {
		return
	}
	n.callbacks.OnFailure(id, err)
	n.closeSocket(id)
}

// writerObserver

func (n *Node) onBytesWritten(id int, count int) {
	n.logger.Tracef("bytes written: #%d: %d", id, count)
}

func (n *Node) onWriteFailure(id int, err error) {
	n.logger.Errorf("write to socket failure: #%d: %s", id, err)
	if id < 0 {
		return
	}
	n.callbacks.OnFailure(id, err)
	n.scheduleReconnection(id)
	n.closeSocket(id)
}

// handshakeContext

func (n *Node) localID() NodeID {
	return n.id
}

func (n *Node) localBehindNAT() bool {
	return n.config.BehindNAT
}

// sendFrame is the internal control-frame path, heartbeat priority.
func (n *Node) sendFrame(id int, data []byte) {
	n.writerPool.enqueue(id, data)
}

// handshakeObserver

func (n *Node) onHandshakeCompleted(peer NodeID, id int, role handshakeRole, behindNAT bool) {
	n.logger.Debugf("handshake complete: socket #%d is %s for node %s", id, role, peer)
	if behindNAT {
		n.nat[peer] = true
	}
	switch role {
	case roleUnusable:
		n.closeSocket(id)
	case roleReader:
		if n.installRoute(n.readers, peer, id) {
			n.heartbeat.add(id)
		}
	case roleWriter:
		if n.installRoute(n.writers, peer, id) {
			n.heartbeat.add(id)
		}
	}
}

// installRoute records id as the peer's socket in the given table and
// reports whether id survived. When a concurrent open produced two
// sockets for one pair, the survivor on both ends is the socket dialed
// by the canonical writer: connected origin on the lesser node,
// accepted origin on the greater one. The loser is unusable and
// closed.
func (n *Node) installRoute(table map[NodeID]int, peer NodeID, id int) bool {
	if existing, ok := table[peer]; ok && existing != id {
		keepAccepted := !n.id.Less(peer)
		rec := n.socketPool.locate(id)
		if rec == nil || rec.accepted != keepAccepted {
			n.logger.Debugf("handshake complete: socket #%d excluded for node %s", id, peer)
			n.closeSocket(id)
			return false
		}
		table[peer] = id
		n.peers[id] = peer
		n.logger.Debugf("handshake complete: socket #%d excluded for node %s", existing, peer)
		n.closeSocket(existing)
		return true
	}

	first := !n.hasRoute(peer)
	table[peer] = id
	n.peers[id] = peer
	if first {
		n.logger.Debugf("node ready: %s", peer)
		n.callbacks.OnNodeReady(peer)
	}
	return true
}

func (n *Node) hasRoute(peer NodeID) bool {
	if _, ok := n.readers[peer]; ok {
		return true
	}
	_, ok := n.writers[peer]
	return ok
}

func (n *Node) onHandshakeExpired(id int) {
	n.logger.Warnf("handshake expired for socket: #%d", id)
	n.callbacks.OnFailure(id, errors.Wrapf(ErrHandshakeExpired, "socket #%d", id))
	n.closeSocket(id)
}

func (n *Node) onHandshakeFailure(id int, err error) {
	n.logger.Errorf("handshake failure: #%d: %s", id, err)
	n.callbacks.OnFailure(id, err)
	n.closeSocket(id)
}

// inputSink

func (n *Node) handleHello(id int, peer NodeID, behindNAT bool) {
	n.handshake.processHello(id, peer, behindNAT)
}

func (n *Node) handleAck(id int, peer NodeID, isWriterHere bool) {
	n.handshake.processAck(id, peer, isWriterHere)
}

func (n *Node) handleHeartbeat(id int) {
	// Liveness is implied by the read itself; nothing to track.
}

func (n *Node) handleMessage(id int, payload []byte) {
	peer, ok := n.peers[id]
	if !ok {
		n.handleProtocolError(id, errors.Wrap(ErrInvalidProtocol, "message before handshake"))
		return
	}
	n.callbacks.OnMessage(peer, payload)
}

func (n *Node) handleProtocolError(id int, err error) {
	n.logger.Errorf("protocol error: #%d: %s", id, err)
	n.callbacks.OnFailure(id, err)
	n.closeSocket(id)
}
