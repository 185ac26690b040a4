// Package auth decides whether a miner may have shares relayed, based on the
// authorised-users hash kept in Redis.
package auth

import (
	"context"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bardlex/gomp-relay/pkg/circuit"
	"github.com/bardlex/gomp-relay/pkg/errors"
	"github.com/bardlex/gomp-relay/pkg/log"
)

// DefaultUsersKey is the Redis hash mapping usernames to non-zero ids
const DefaultUsersKey = "BetterHash:AuthorizedUsers"

// UserStore looks up the id stored for a user. Zero means not authorised.
type UserStore interface {
	UserID(ctx context.Context, key, user string) (uint64, error)
}

// Authenticator checks miner usernames against a UserStore
type Authenticator struct {
	store   UserStore
	key     string
	timeout time.Duration
	breaker *circuit.Breaker
	logger  *log.Logger

	accepted atomic.Uint64
	rejected atomic.Uint64
	failures atomic.Uint64
}

// NewAuthenticator creates an authenticator reading the hash at key. An empty
// key uses DefaultUsersKey.
func NewAuthenticator(store UserStore, key string, logger *log.Logger) *Authenticator {
	if key == "" {
		key = DefaultUsersKey
	}
	return &Authenticator{
		store:   store,
		key:     key,
		timeout: 2 * time.Second,
		breaker: circuit.New(circuit.DefaultConfig("redis_auth")),
		logger:  logger.WithComponent("auth"),
	}
}

// Key returns the hash name in use
func (a *Authenticator) Key() string {
	return a.key
}

// CheckUserAuth reports whether user is authorised. The credential is not
// verified against anything; only its length is logged. Non-UTF-8 usernames
// and store failures are treated as not authorised.
func (a *Authenticator) CheckUserAuth(ctx context.Context, user, credential []byte) bool {
	if !utf8.Valid(user) {
		a.rejected.Add(1)
		a.logger.Warn("rejecting non-UTF-8 username", "user_bytes", len(user))
		return false
	}
	name := string(user)
	logger := a.logger.WithFields("user", name)
	logger.Debug("user authenticating", "credential_len", len(credential))

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	// a malformed entry is a data problem for one user, not a store outage
	var entryErr error
	id, err := circuit.ExecuteWithResult(ctx, a.breaker, func() (uint64, error) {
		id, err := a.store.UserID(ctx, a.key, name)
		if errors.IsType(err, errors.ErrorTypeValidation) {
			entryErr = err
			return 0, nil
		}
		return id, err
	})
	if entryErr != nil {
		a.rejected.Add(1)
		logger.WithError(entryErr).Warn("authorised user entry is malformed")
		return false
	}
	if err != nil {
		a.failures.Add(1)
		logger.WithError(err).Error("failed to check user authorisation")
		return false
	}

	if id == 0 {
		a.rejected.Add(1)
		logger.Info("authentication failed")
		return false
	}

	a.accepted.Add(1)
	logger.Debug("authentication succeeded", "user_id", id)
	return true
}

// Stats is a snapshot of authentication outcomes
type Stats struct {
	Accepted uint64
	Rejected uint64
	Failures uint64
	Breaker  circuit.Stats
}

// Stats returns the current counters
func (a *Authenticator) Stats() Stats {
	return Stats{
		Accepted: a.accepted.Load(),
		Rejected: a.rejected.Load(),
		Failures: a.failures.Load(),
		Breaker:  a.breaker.Stats(),
	}
}
