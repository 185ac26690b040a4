package events

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/gomp-relay/internal/bitcoin"
	"github.com/bardlex/gomp-relay/internal/messaging"
	"github.com/bardlex/gomp-relay/pkg/errors"
	"github.com/bardlex/gomp-relay/pkg/log"
)

// Submitter accepts serialized share records. relay.Submitter implements it.
type Submitter interface {
	SubmitShare(data string)
}

// Authorizer gates which users' events are relayed. auth.Authenticator implements it.
type Authorizer interface {
	CheckUserAuth(ctx context.Context, user, credential []byte) bool
}

// Producer builds share and weak-block records and hands them to the submitter
type Producer struct {
	submitter  Submitter
	authorizer Authorizer
	logger     *log.Logger

	shares         atomic.Uint64
	weakBlocks     atomic.Uint64
	goodBlocks     atomic.Uint64
	invalidTargets atomic.Uint64
	unauthorized   atomic.Uint64
	events         atomic.Uint64
}

// NewProducer creates a producer. A nil authorizer relays every user.
func NewProducer(submitter Submitter, authorizer Authorizer, logger *log.Logger) *Producer {
	return &Producer{
		submitter:  submitter,
		authorizer: authorizer,
		logger:     logger.WithComponent("events"),
	}
}

// ShareSubmitted relays an accepted share
func (p *Producer) ShareSubmitted(s Share) error {
	data, err := json.Marshal(NewShareRecord(s))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "share_submitted", "failed to encode share record")
	}

	p.logger.LogShareRelayed(s.User, s.Worker, s.Payout, s.Height, false)
	p.submitter.SubmitShare(string(data))
	p.shares.Add(1)
	return nil
}

// WeakBlockSubmitted relays a weak block, flagging it as a good block when
// its hash also meets the network target encoded in the header. A header
// whose target decodes as negative or overflowing is logged and dropped.
func (p *Producer) WeakBlockSubmitted(s Share, hash chainhash.Hash, txCount int) (bool, error) {
	logger := p.logger.WithMiner(s.User, s.Worker)
	logger.Info("got valid weak block",
		"payout", s.Payout,
		"tx_count", txCount,
	)

	target, negative, overflow := bitcoin.CompactToTarget(s.Header.Bits)
	if negative || overflow {
		p.invalidTargets.Add(1)
		logger.Warn("invalid block target, weak block not relayed",
			"nbits", s.Header.Bits,
			"negative", negative,
			"overflow", overflow,
		)
		return false, nil
	}
	isGood := bitcoin.HashMeetsTarget(hash, target)

	data, err := json.Marshal(NewWeakBlockRecord(s, bitcoin.RawHex(hash), isGood))
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeInternal, "weak_block_submitted", "failed to encode weak block record")
	}

	logger.LogShareRelayed(s.User, s.Worker, s.Payout, s.Height, true)
	p.submitter.SubmitShare(string(data))
	p.weakBlocks.Add(1)
	if isGood {
		p.goodBlocks.Add(1)
		logger.Info("weak block meets network target", "hash", hash.String())
	}
	return true, nil
}

// EventSubmitted logs a free-form pool event. Events are not relayed.
func (p *Producer) EventSubmitted(event string) {
	p.events.Add(1)
	p.logger.Info("new event", "event", event)
}

// Handle dispatches a consumed relay event
func (p *Producer) Handle(ctx context.Context, ev *messaging.RelayEvent) error {
	if ev.Kind == messaging.KindEvent {
		p.EventSubmitted(ev.Event)
		return nil
	}

	if p.authorizer != nil && !p.authorizer.CheckUserAuth(ctx, []byte(ev.User), []byte(ev.Credential)) {
		p.unauthorized.Add(1)
		p.logger.WithMiner(ev.User, ev.Worker).Warn("dropping event from unauthorised user", "kind", ev.Kind)
		return nil
	}

	header, err := bitcoin.DecodeHeaderHex(ev.Header)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "handle_event", "invalid block header").
			WithContext("kind", string(ev.Kind)).
			WithContext("user", ev.User)
	}
	hash := header.BlockHash()

	share := Share{
		User:         ev.User,
		Worker:       ev.Worker,
		Payout:       ev.Payout,
		Header:       header,
		ClientTarget: ev.ClientTarget,
		Height:       ev.Height,
	}
	if ev.LeadingZeros != nil {
		share.LeadingZeros = *ev.LeadingZeros
	} else {
		share.LeadingZeros = uint8(min(bitcoin.LeadingZeros(hash), 255))
	}

	switch ev.Kind {
	case messaging.KindShare:
		return p.ShareSubmitted(share)
	case messaging.KindWeakBlock:
		_, err := p.WeakBlockSubmitted(share, hash, ev.TxCount)
		return err
	default:
		return errors.New(errors.ErrorTypeValidation, "handle_event", "unknown event kind").
			WithContext("kind", string(ev.Kind))
	}
}

// Stats is a snapshot of producer counters
type Stats struct {
	Shares         uint64
	WeakBlocks     uint64
	GoodBlocks     uint64
	InvalidTargets uint64
	Unauthorized   uint64
	Events         uint64
}

// Stats returns the current counters
func (p *Producer) Stats() Stats {
	return Stats{
		Shares:         p.shares.Load(),
		WeakBlocks:     p.weakBlocks.Load(),
		GoodBlocks:     p.goodBlocks.Load(),
		InvalidTargets: p.invalidTargets.Load(),
		Unauthorized:   p.unauthorized.Load(),
		Events:         p.events.Load(),
	}
}
