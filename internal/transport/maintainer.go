// Package transport keeps a TCP connection to one receiver alive and drives a
// relay handler over it: a fresh Establish per socket, inbound frames to
// MessageReceived, outbound frames written in order, Closed on every teardown.
package transport

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/bardlex/gomp-relay/internal/relay"
	"github.com/bardlex/gomp-relay/pkg/errors"
	"github.com/bardlex/gomp-relay/pkg/log"
	"github.com/bardlex/gomp-relay/pkg/retry"
)

// Handler is the per-receiver callback set. relay.Proxy implements it.
type Handler interface {
	Establish() (*relay.Framer, <-chan relay.Message)
	MessageReceived(msg relay.Message) error
	Closed()
}

// DialFunc opens a connection. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config configures a Maintainer
type Config struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// Backoff paces reconnect attempts. Nil uses retry.ReconnectConfig.
	Backoff *retry.Config
	// Dial overrides the dialer, mainly for tests
	Dial DialFunc
}

// Maintainer reconnects to a single receiver until its context is cancelled
type Maintainer struct {
	addr    string
	handler Handler
	cfg     Config
	backoff *retry.Backoff
	logger  *log.Logger

	attempts atomic.Uint64
	sessions atomic.Uint64
}

// NewMaintainer creates a maintainer for addr. Nothing is dialled until Run.
func NewMaintainer(addr string, handler Handler, cfg Config, logger *log.Logger) *Maintainer {
	if cfg.Dial == nil {
		d := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: 30 * time.Second}
		cfg.Dial = d.DialContext
	}
	backoffCfg := cfg.Backoff
	if backoffCfg == nil {
		backoffCfg = retry.ReconnectConfig()
	}
	return &Maintainer{
		addr:    addr,
		handler: handler,
		cfg:     cfg,
		backoff: retry.NewBackoff(backoffCfg),
		logger:  logger.WithComponent("transport").WithReceiver(addr),
	}
}

// Run dials, serves and redials until ctx is done. It always returns ctx.Err().
func (m *Maintainer) Run(ctx context.Context) error {
	m.logger.Info("transport started")

	for {
		if err := ctx.Err(); err != nil {
			m.logger.Info("transport stopped")
			return err
		}

		conn, err := m.dial(ctx)
		if err != nil {
			delay := m.backoff.Next()
			m.logger.WithError(err).Warn("failed to connect to receiver",
				"retry_in", delay,
				"attempt", m.backoff.Attempts(),
			)
			if err := retry.Sleep(ctx, delay); err != nil {
				m.logger.Info("transport stopped")
				return err
			}
			continue
		}

		m.backoff.Reset()
		m.sessions.Add(1)
		m.logger.LogConnection("connected", conn.RemoteAddr().String())

		sessErr := newSession(conn, m.handler, m.cfg.WriteTimeout, m.logger).run(ctx)
		if sessErr != nil {
			m.logger.WithError(sessErr).Warn("receiver connection failed")
		} else {
			m.logger.LogConnection("disconnected", m.addr)
		}

		// a receiver that accepts and immediately hangs up must not spin us
		if err := retry.Sleep(ctx, m.backoff.Next()); err != nil {
			m.logger.Info("transport stopped")
			return err
		}
	}
}

func (m *Maintainer) dial(ctx context.Context) (net.Conn, error) {
	m.attempts.Add(1)

	dialCtx := ctx
	if m.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
	}

	conn, err := m.cfg.Dial(dialCtx, "tcp", m.addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "dial", "failed to dial receiver").
			WithContext("addr", m.addr)
	}
	return conn, nil
}

// Addr returns the receiver address
func (m *Maintainer) Addr() string {
	return m.addr
}

// Sessions returns how many connections have been established
func (m *Maintainer) Sessions() uint64 {
	return m.sessions.Load()
}

// DialAttempts returns how many dials have been tried
func (m *Maintainer) DialAttempts() uint64 {
	return m.attempts.Load()
}
