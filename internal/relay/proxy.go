package relay

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/bardlex/gomp-relay/pkg/log"
)

// DefaultOutboundBuffer is the per-connection outbound channel capacity
const DefaultOutboundBuffer = 1024

// ProxyConfig configures a Proxy
type ProxyConfig struct {
	// OutboundBuffer is the outbound channel capacity. A full channel makes Send fail.
	OutboundBuffer int
	// MaxFrameSize is handed to every Framer the proxy creates
	MaxFrameSize int
	// Rand supplies frame nonces. Nil uses crypto/rand.
	Rand io.Reader
}

// Proxy bridges one logical receiver connection to the Submitter. The
// transport calls Establish, MessageReceived and Closed; the Submitter calls Send.
type Proxy struct {
	addr     string
	password string
	cfg      ProxyConfig
	logger   *log.Logger

	// connected and outbound change together under mu: outbound != nil iff connected
	mu        sync.Mutex
	connected bool
	outbound  chan Message
	onConnect func()

	sent     atomic.Uint64
	connects atomic.Uint64
	received atomic.Uint64
}

// NewProxy creates a disconnected proxy for the receiver at addr
func NewProxy(addr, password string, cfg ProxyConfig, logger *log.Logger) *Proxy {
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = DefaultOutboundBuffer
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	return &Proxy{
		addr:     addr,
		password: password,
		cfg:      cfg,
		logger:   logger.WithReceiver(addr),
	}
}

// Addr returns the receiver address this proxy serves
func (p *Proxy) Addr() string {
	return p.addr
}

// SetOnConnect registers fn to run after every successful Establish
func (p *Proxy) SetOnConnect(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnect = fn
}

// Establish is called by the transport once per new socket. The auth frame is
// queued before the channel is published, so it is always the first frame
// written on the connection.
func (p *Proxy) Establish() (*Framer, <-chan Message) {
	out := make(chan Message, p.cfg.OutboundBuffer)

	p.mu.Lock()
	if p.outbound != nil {
		// previous connection never reported Closed
		close(p.outbound)
	}
	p.outbound = nil
	p.connected = false

	select {
	case out <- NewAuthMessage(p.password):
		p.outbound = out
		p.connected = true
	default:
		close(out)
	}
	connected := p.connected
	hook := p.onConnect
	p.mu.Unlock()

	if !connected {
		p.logger.Warn("receiver disconnected before login")
	} else {
		p.connects.Add(1)
		p.logger.LogConnection("established", p.addr)
		if hook != nil {
			hook()
		}
	}

	framer := NewFramer(p.cfg.Rand)
	framer.MaxFrameSize = p.cfg.MaxFrameSize
	return framer, out
}

// MessageReceived records an inbound frame. Receivers define no replies, so
// inbound traffic is informational only.
func (p *Proxy) MessageReceived(msg Message) error {
	p.received.Add(1)
	p.logger.Info("received message from receiver", "message", msg.String())
	return nil
}

// Closed is called by the transport on any disconnect. It drops the outbound
// channel, which releases the transport's writer.
func (p *Proxy) Closed() {
	p.mu.Lock()
	wasConnected := p.connected
	if p.outbound != nil {
		close(p.outbound)
		p.outbound = nil
	}
	p.connected = false
	p.mu.Unlock()

	if wasConnected {
		p.logger.LogConnection("closed", p.addr)
	}
}

// Send queues msg for this receiver without blocking. It returns false when the
// receiver is not connected or its outbound channel is full.
func (p *Proxy) Send(msg Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected || p.outbound == nil {
		return false
	}

	select {
	case p.outbound <- msg:
		p.sent.Add(1)
		p.logger.LogRelayMessage("queued", msg.Type.String(), len(msg.Payload))
		return true
	default:
		return false
	}
}

// Connected reports whether a live outbound channel exists
func (p *Proxy) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// ReceiverStats is a point-in-time view of one proxy
type ReceiverStats struct {
	Addr      string
	Connected bool
	Sent      uint64
	Received  uint64
	Connects  uint64
}

// Stats returns counters for this receiver
func (p *Proxy) Stats() ReceiverStats {
	return ReceiverStats{
		Addr:      p.addr,
		Connected: p.Connected(),
		Sent:      p.sent.Load(),
		Received:  p.received.Load(),
		Connects:  p.connects.Load(),
	}
}
