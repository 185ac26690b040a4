package relay

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/bardlex/gomp-relay/pkg/errors"
	"github.com/bardlex/gomp-relay/pkg/log"
	"github.com/bardlex/gomp-relay/pkg/retry"
)

// Config configures a Submitter
type Config struct {
	// Receivers in failover priority order. At least one is required.
	Receivers []string
	// Password is the shared secret sent as the first frame of every connection
	Password string

	QueueSize      int
	OutboundBuffer int
	MaxFrameSize   int

	// Backoff paces queue retries while no receiver accepts messages. Nil uses retry.DrainConfig.
	Backoff *retry.Config
	// Rand supplies frame nonces. Nil uses crypto/rand.
	Rand io.Reader
}

// Submitter is the single entry point for event producers. Receivers form a
// static primary/backup chain: the first connected proxy in configuration
// order always takes the message.
type Submitter struct {
	proxies []*Proxy
	queue   *retryQueue
	backoff *retry.Backoff
	logger  *log.Logger

	// pending is signalled when the queue goes from empty to non-empty,
	// reconnected whenever any proxy establishes a connection
	pending     chan struct{}
	reconnected chan struct{}

	submitted      atomic.Uint64
	deliveredFirst atomic.Uint64
	deliveredRetry atomic.Uint64
	queued         atomic.Uint64
	dropped        atomic.Uint64
}

// NewSubmitter creates one proxy per configured receiver
func NewSubmitter(cfg Config, logger *log.Logger) (*Submitter, error) {
	if len(cfg.Receivers) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "new_submitter", "at least one receiver address is required")
	}

	backoffCfg := cfg.Backoff
	if backoffCfg == nil {
		backoffCfg = retry.DrainConfig()
	}

	s := &Submitter{
		queue:       newRetryQueue(cfg.QueueSize),
		backoff:     retry.NewBackoff(backoffCfg),
		logger:      logger.WithComponent("submitter"),
		pending:     make(chan struct{}, 1),
		reconnected: make(chan struct{}, 1),
	}

	proxyCfg := ProxyConfig{
		OutboundBuffer: cfg.OutboundBuffer,
		MaxFrameSize:   cfg.MaxFrameSize,
		Rand:           cfg.Rand,
	}
	for _, addr := range cfg.Receivers {
		p := NewProxy(addr, cfg.Password, proxyCfg, logger.WithComponent("proxy"))
		p.SetOnConnect(s.notifyReconnected)
		s.proxies = append(s.proxies, p)
	}

	return s, nil
}

// Proxies returns the proxies in failover order, for wiring transports
func (s *Submitter) Proxies() []*Proxy {
	return s.proxies
}

// Submit hands msg to the first receiver that accepts it, or queues it for
// the drain loop. It never blocks on network I/O and never fails from the
// caller's point of view.
func (s *Submitter) Submit(msg Message) {
	s.submitted.Add(1)
	if s.deliver(msg) {
		s.deliveredFirst.Add(1)
		return
	}

	s.enqueue(msg)
	s.logger.Warn("could not deliver message immediately, queued for retry",
		"type", msg.Type.String(),
		"queue_depth", s.queue.len(),
	)
}

// SubmitShare wraps a serialized share record and submits it
func (s *Submitter) SubmitShare(data string) {
	s.Submit(NewShareMessage(data))
}

// deliver tries every proxy in configuration order and stops at the first taker
func (s *Submitter) deliver(msg Message) bool {
	for _, p := range s.proxies {
		if p.Send(msg) {
			return true
		}
	}
	return false
}

func (s *Submitter) enqueue(msg Message) {
	s.queued.Add(1)
	if s.queue.pushBack(msg) {
		s.dropped.Add(1)
		s.logger.Warn("retry queue full, dropped oldest message", "queue_limit", s.queue.limit)
	}
	signal(s.pending)
}

// Run drains the retry queue until ctx is done. A message that still finds no
// receiver goes back to the head of the queue; the loop then waits for a
// reconnect or a bounded backoff delay before trying again.
func (s *Submitter) Run(ctx context.Context) error {
	s.logger.Info("retry queue drain started", "receivers", len(s.proxies))

	for {
		msg, ok := s.queue.popFront()
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.pending:
			}
			continue
		}

		if s.deliver(msg) {
			s.deliveredRetry.Add(1)
			s.backoff.Reset()
			continue
		}

		if !s.queue.pushFront(msg) {
			s.dropped.Add(1)
			s.logger.Warn("retry queue full, dropped oldest message", "queue_limit", s.queue.limit)
		}

		delay := s.backoff.Next()
		s.logger.Debug("no receiver available, backing off",
			"delay", delay,
			"queue_depth", s.queue.len(),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.reconnected:
			s.backoff.Reset()
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (s *Submitter) notifyReconnected() {
	signal(s.reconnected)
}

// signal performs a non-blocking send on a capacity-1 channel
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// QueueLen returns the number of messages waiting for a receiver
func (s *Submitter) QueueLen() int {
	return s.queue.len()
}

// Stats is a point-in-time view of the submitter
type Stats struct {
	Submitted        uint64
	DeliveredDirect  uint64
	DeliveredRetried uint64
	Queued           uint64
	Dropped          uint64
	QueueDepth       int
	Receivers        []ReceiverStats
}

// Stats returns the current counters
func (s *Submitter) Stats() Stats {
	st := Stats{
		Submitted:        s.submitted.Load(),
		DeliveredDirect:  s.deliveredFirst.Load(),
		DeliveredRetried: s.deliveredRetry.Load(),
		Queued:           s.queued.Load(),
		Dropped:          s.dropped.Load(),
		QueueDepth:       s.queue.len(),
	}
	for _, p := range s.proxies {
		st.Receivers = append(st.Receivers, p.Stats())
	}
	return st
}
