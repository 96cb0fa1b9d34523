package network

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/flowmesh/flowmesh/chanx"
	"github.com/flowmesh/flowmesh/coord"
	"github.com/sirupsen/logrus"
)

// outFanInCapacity bounds how far a multiplexer's TCP writer can lag
// behind its senders before Send itself starts blocking, which is how
// spec section 4.4's end-to-end backpressure reaches the operator thread
// that called NetworkSender.Send.
const outFanInCapacity = chanx.CHANNEL_CAPACITY

type outgoingFrame struct {
	endpointID uint32
	sender     uint32
	payload    []byte
}

type peerConn struct {
	host   coord.HostID
	out    *chanx.Bounded[outgoingFrame]
	closed chan struct{}
	once   sync.Once
}

func (p *peerConn) disconnect() {
	p.once.Do(func() {
		close(p.closed)
		p.out.Close()
	})
}

// Multiplexer carries many endpoints' traffic between one pair of hosts
// over a single TCP connection, per spec section 4.4. One Multiplexer
// instance is created per host process and handles both directions: it
// dials out to every peer host it must send to, and accepts inbound
// connections from every peer host that sends to it.
type Multiplexer struct {
	hostID    coord.HostID
	addresses []string // address of every host, indexed by HostID
	log       *logrus.Logger

	mu      sync.RWMutex
	out     map[coord.HostID]*peerConn
	inboxes map[uint32]*chanx.Bounded[frame]

	listener net.Listener
}

// NewMultiplexer constructs a Multiplexer for hostID, given the address
// of every host in the job (indexed by HostID).
func NewMultiplexer(hostID coord.HostID, addresses []string, log *logrus.Logger) *Multiplexer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Multiplexer{
		hostID:    hostID,
		addresses: addresses,
		log:       log,
		out:       map[coord.HostID]*peerConn{},
		inboxes:   map[uint32]*chanx.Bounded[frame]{},
	}
}

// Listen opens the local listening socket peers will dial into.
func (m *Multiplexer) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("network: listen %s: %w", addr, err)
	}
	m.listener = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go m.serveIncoming(conn)
		}
	}()
	return nil
}

// Close shuts down the listener and every outgoing connection.
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.out {
		p.disconnect()
	}
	if m.listener != nil {
		return m.listener.Close()
	}
	return nil
}

// RegisterEndpoint creates (or returns the existing) raw-frame inbox for
// endpointID, the queue a NetworkReceiver drains.
func (m *Multiplexer) RegisterEndpoint(endpointID uint32) *chanx.Bounded[frame] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.inboxes[endpointID]; ok {
		return in
	}
	in := chanx.New[frame](chanx.CHANNEL_CAPACITY)
	m.inboxes[endpointID] = in
	return in
}

// Connect eagerly dials the peer at hostID, used during the scheduler's
// startup barrier (spec section 4.2: "ready once... the multiplexer is
// connected to every peer host it must send to").
func (m *Multiplexer) Connect(ctx context.Context, hostID coord.HostID) error {
	_, err := m.peer(hostID)
	return err
}

func (m *Multiplexer) peer(hostID coord.HostID) (*peerConn, error) {
	m.mu.RLock()
	p, ok := m.out[hostID]
	m.mu.RUnlock()
	if ok {
		return p, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.out[hostID]; ok {
		return p, nil
	}

	if int(hostID) >= len(m.addresses) {
		return nil, fmt.Errorf("network: unknown host %d", hostID)
	}

	conn, err := net.Dial("tcp", m.addresses[hostID])
	if err != nil {
		return nil, fmt.Errorf("network: dial host %d (%s): %w", hostID, m.addresses[hostID], err)
	}

	if err := writeHello(conn, hello{hostID: uint32(m.hostID), protocolVersion: ProtocolVersion}); err != nil {
		conn.Close()
		return nil, err
	}

	p = &peerConn{
		host:   hostID,
		out:    chanx.New[outgoingFrame](outFanInCapacity),
		closed: make(chan struct{}),
	}
	m.out[hostID] = p

	go m.writeLoop(conn, p)

	return p, nil
}

func (m *Multiplexer) writeLoop(conn net.Conn, p *peerConn) {
	defer conn.Close()
	defer p.disconnect()

	ctx := context.Background()
	for {
		of, err := p.out.Recv(ctx)
		if err != nil {
			return
		}
		f := frame{endpointID: of.endpointID, kind: frameData, sender: of.sender, payload: of.payload}
		if err := writeFrame(conn, f); err != nil {
			m.log.WithError(err).WithField("peer_host", p.host).Warn("multiplexer: write failed, disconnecting peer")
			return
		}
	}
}

func (m *Multiplexer) serveIncoming(conn net.Conn) {
	defer conn.Close()

	hf, err := readFrame(conn)
	if err != nil {
		m.log.WithError(err).Warn("multiplexer: failed to read hello frame")
		return
	}
	h, err := decodeHello(hf)
	if err != nil {
		m.log.WithError(err).Warn("multiplexer: malformed hello frame")
		return
	}
	if h.protocolVersion != ProtocolVersion {
		m.log.WithFields(logrus.Fields{
			"peer_version": h.protocolVersion,
			"our_version":  ProtocolVersion,
		}).Error("multiplexer: protocol version mismatch, aborting connection")
		return
	}

	peerHost := coord.HostID(h.hostID)

	for {
		f, err := readFrame(conn)
		if err != nil {
			m.log.WithError(err).WithField("peer_host", peerHost).Warn("multiplexer: peer disconnected")
			m.disconnectPeer(peerHost)
			return
		}
		if f.kind != frameData {
			continue
		}
		f.sourceHost = peerHost

		m.mu.RLock()
		in, ok := m.inboxes[f.endpointID]
		m.mu.RUnlock()
		if !ok {
			m.log.WithField("endpoint_id", f.endpointID).Warn("multiplexer: frame for unknown endpoint dropped")
			continue
		}

		// Backpressure: if the local inbox is full this Send blocks,
		// which stalls this read loop, which eventually blocks the TCP
		// socket's send buffer on the peer, which blocks its writeLoop
		// and thus the upstream operator that produced the batch.
		if err := in.Send(context.Background(), f); err != nil {
			return
		}
	}
}

func (m *Multiplexer) disconnectPeer(hostID coord.HostID) {
	m.mu.RLock()
	p, ok := m.out[hostID]
	m.mu.RUnlock()
	if ok {
		p.disconnect()
	}
}

// Send enqueues a data frame bound for toHost. It blocks if that peer's
// outgoing fan-in is full (spec's end-to-end backpressure) and returns
// an error wrapping ErrPeerDisconnected if the peer connection has been
// torn down.
func (m *Multiplexer) Send(ctx context.Context, toHost coord.HostID, endpointID uint32, sender coord.Coord, payload []byte) error {
	p, err := m.peer(toHost)
	if err != nil {
		return err
	}

	select {
	case <-p.closed:
		return fmt.Errorf("network: %w: host %d", ErrPeerDisconnected, toHost)
	default:
	}

	of := outgoingFrame{endpointID: endpointID, sender: encodeCoord(sender), payload: payload}

	done := make(chan error, 1)
	go func() { done <- p.out.Send(ctx, of) }()

	select {
	case err := <-done:
		return err
	case <-p.closed:
		return fmt.Errorf("network: %w: host %d", ErrPeerDisconnected, toHost)
	}
}

// Disconnected returns a channel closed once the connection to hostID has
// been torn down (dial failure, write failure, or peer-reported EOF).
func (m *Multiplexer) Disconnected(hostID coord.HostID) <-chan struct{} {
	m.mu.RLock()
	p, ok := m.out[hostID]
	m.mu.RUnlock()
	if !ok {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return p.closed
}
