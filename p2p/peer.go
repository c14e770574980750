package p2p

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"genesismesh/crypto"
	"genesismesh/metrics"
	"genesismesh/trust"
)

// State is a connection's position in the lifecycle spec.md section 4.2
// defines: Dialing and Handshaking are transient setup states, Established
// is steady state, Draining is a graceful wind-down, and Closed/Failed are
// terminal.
type State int

const (
	stateDialing State = iota
	stateHandshaking
	stateEstablished
	stateDraining
	stateClosed
	stateFailed
)

func (s State) String() string {
	switch s {
	case stateDialing:
		return "Dialing"
	case stateHandshaking:
		return "Handshaking"
	case stateEstablished:
		return "Established"
	case stateDraining:
		return "Draining"
	case stateClosed:
		return "Closed"
	case stateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

var errQueueFull = errors.New("p2p: outbound queue full")

const outboundQueueSize = 256

// Peer wires one connection's read/write goroutines to the owning Server,
// following the node repo's Peer shape (paired readLoop/writeLoop goroutines,
// a buffered outbound channel, single-shot terminate) with framing swapped
// for the mesh's signed binary protocol and an explicit lifecycle State.
type Peer struct {
	nodeID     crypto.NodeId
	conn       net.Conn
	reader     *bufio.Reader
	remotePub  crypto.PublicKey
	cert       trust.JoinCertificate
	endpoint   string
	inbound    bool
	persistent bool

	server   *Server
	outbound chan outboundFrame

	enqueueMu sync.Mutex

	pingMu       sync.Mutex
	pingNonce    uint64
	lastPingSent time.Time
	awaitingPong bool
	missedPongs  int

	mu    sync.RWMutex
	state State

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closed    chan struct{}
}

type outboundFrame struct {
	kind    Kind
	payload []byte
}

func newPeer(server *Server, conn net.Conn, reader *bufio.Reader, inbound, persistent bool, endpoint string) *Peer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Peer{
		conn:       conn,
		reader:     reader,
		endpoint:   endpoint,
		inbound:    inbound,
		persistent: persistent,
		server:     server,
		outbound:   make(chan outboundFrame, outboundQueueSize),
		state:      stateDialing,
		ctx:        ctx,
		cancel:     cancel,
		closed:     make(chan struct{}),
	}
}

func (p *Peer) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// NodeID returns the peer's verified identity, valid once Established.
func (p *Peer) NodeID() crypto.NodeId {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nodeID
}

// Endpoint returns the dial address advertised by the peer during handshake.
func (p *Peer) Endpoint() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.endpoint
}

// Persistent reports whether this connection came from the persistent-peer
// configuration and is therefore exempt from connection-manager pruning.
func (p *Peer) Persistent() bool {
	return p.persistent
}

// Certificate returns the peer's join certificate as presented at handshake.
func (p *Peer) Certificate() trust.JoinCertificate {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cert
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// markEstablished records the verified remote identity and flips the peer
// into steady state after a successful handshake.
func (p *Peer) markEstablished(id crypto.NodeId, pub crypto.PublicKey, cert trust.JoinCertificate) {
	p.mu.Lock()
	p.nodeID = id
	p.remotePub = pub
	p.cert = cert
	p.state = stateEstablished
	p.mu.Unlock()
}

func (p *Peer) start() {
	p.setState(stateHandshaking)
	go p.readLoop()
	go p.writeLoop()
	go p.pingLoop()
}

// Enqueue queues a signed frame for delivery. When the outbound buffer is
// full it makes room by dropping the oldest queued frame that isn't Control
// (spec's backpressure rule: stale gossip and route traffic yields before
// control-plane traffic does). A Control frame is never dropped — if the
// queue is saturated with nothing else to evict, the connection can't keep
// up with its own control traffic and is failed instead.
func (p *Peer) Enqueue(kind Kind, payload []byte) error {
	select {
	case <-p.ctx.Done():
		return fmt.Errorf("p2p: peer %s shutting down", p.nodeID)
	default:
	}

	frame := outboundFrame{kind: kind, payload: payload}

	select {
	case p.outbound <- frame:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("p2p: peer %s shutting down", p.nodeID)
	default:
	}

	p.enqueueMu.Lock()
	defer p.enqueueMu.Unlock()

	if p.evictOldestNonControl() {
		metrics.Get().RecordMessageDropped()
		select {
		case p.outbound <- frame:
			return nil
		default:
			return errQueueFull
		}
	}

	if kind == KindControl {
		p.terminate(true, fmt.Errorf("p2p: peer %s outbound queue saturated with control traffic", p.nodeID))
		return errQueueFull
	}

	metrics.Get().RecordMessageDropped()
	return errQueueFull
}

// evictOldestNonControl drains the outbound queue, drops the first
// (oldest) frame that isn't Control if one exists, and refills the queue
// with everything else in its original order. It reports whether a frame
// was dropped.
func (p *Peer) evictOldestNonControl() bool {
	var buffered []outboundFrame
	for {
		select {
		case f := <-p.outbound:
			buffered = append(buffered, f)
			continue
		default:
		}
		break
	}

	dropIdx := -1
	for i, f := range buffered {
		if f.kind != KindControl {
			dropIdx = i
			break
		}
	}
	if dropIdx >= 0 {
		buffered = append(buffered[:dropIdx], buffered[dropIdx+1:]...)
	}
	for _, f := range buffered {
		p.outbound <- f
	}
	return dropIdx >= 0
}

// pingLoop sends an idle-connection keepalive every ping interval and fails
// the connection once two consecutive pings go unanswered, implementing the
// liveness half of the connection lifecycle.
func (p *Peer) pingLoop() {
	interval := p.server.cfg.PingInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if p.State() != stateEstablished {
				continue
			}

			p.pingMu.Lock()
			if p.awaitingPong {
				p.missedPongs++
				if p.missedPongs >= 2 {
					missed := p.missedPongs
					p.pingMu.Unlock()
					p.terminate(true, fmt.Errorf("p2p: peer %s missed %d consecutive pongs", p.nodeID, missed))
					return
				}
			}
			p.pingNonce++
			nonce := p.pingNonce
			p.awaitingPong = true
			p.lastPingSent = time.Now()
			p.pingMu.Unlock()

			body, err := json.Marshal(PingPayload{Nonce: nonce, Timestamp: time.Now().UnixMilli()})
			if err != nil {
				continue
			}
			if err := p.Enqueue(KindPing, body); err != nil {
				return
			}
		}
	}
}

// OnPong reports a Pong carrying nonce, clearing the missed-pong strike and
// returning the observed round trip. It returns zero if nonce doesn't match
// the outstanding ping (a stale or duplicate reply).
func (p *Peer) OnPong(nonce uint64) time.Duration {
	p.pingMu.Lock()
	defer p.pingMu.Unlock()
	if !p.awaitingPong || nonce != p.pingNonce {
		return 0
	}
	rtt := time.Since(p.lastPingSent)
	p.awaitingPong = false
	p.missedPongs = 0
	return rtt
}

// Drain stops accepting new outbound traffic and closes once the queue is
// flushed or the deadline elapses, implementing the Established->Draining
// ->Closed edge of the lifecycle.
func (p *Peer) Drain(deadline time.Duration) {
	p.setState(stateDraining)
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			p.terminate(false, fmt.Errorf("p2p: drain deadline exceeded"))
			return
		default:
		}
		if len(p.outbound) == 0 {
			p.terminate(false, nil)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (p *Peer) readLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		readTimeout := p.server.cfg.ReadTimeout
		if readTimeout <= 0 {
			readTimeout = 30 * time.Second
		}
		if err := p.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			p.terminate(false, fmt.Errorf("set read deadline: %w", err))
			return
		}

		frame, err := ReadFrame(p.reader, p.server.cfg.MaxMessageBytes)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				p.terminate(false, fmt.Errorf("p2p: read timeout"))
				return
			}
			if errors.Is(err, io.EOF) {
				p.terminate(false, io.EOF)
				return
			}
			p.terminate(false, fmt.Errorf("read frame: %w", err))
			return
		}

		if p.State() != stateHandshaking {
			if err := frame.Verify(p.currentPubKey()); err != nil {
				p.server.onSignatureInvalid(p)
				p.terminate(false, fmt.Errorf("verify frame: %w", err))
				return
			}
		}

		if !p.server.rateLimiter.Allow(string(p.nodeID), frame.Kind) {
			p.server.onRateLimitViolation(p)
			p.terminate(false, fmt.Errorf("p2p: rate limit exceeded"))
			return
		}

		if err := p.server.dispatch(p, frame); err != nil {
			p.server.onProtocolViolation(p, err)
		}
	}
}

// currentPubKey returns the verified remote signing key once the handshake
// has recorded it; before that it returns the zero key (handshake frames
// rely on handshake-specific verification instead).
func (p *Peer) currentPubKey() crypto.PublicKey {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.remotePub
}

func (p *Peer) writeLoop() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case f, ok := <-p.outbound:
			if !ok {
				return
			}
			writeTimeout := p.server.cfg.WriteTimeout
			if writeTimeout <= 0 {
				writeTimeout = 10 * time.Second
			}
			if err := p.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				p.terminate(false, fmt.Errorf("set write deadline: %w", err))
				return
			}
			if err := WriteFrame(p.conn, p.server.identity, f.kind, f.payload); err != nil {
				p.terminate(false, fmt.Errorf("write frame: %w", err))
				return
			}
		}
	}
}

func (p *Peer) terminate(failed bool, reason error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		if failed {
			p.state = stateFailed
		} else {
			p.state = stateClosed
		}
		p.mu.Unlock()
		p.cancel()
		p.conn.Close()
		close(p.outbound)
		close(p.closed)
		p.server.removePeer(p, reason)
	})
}
