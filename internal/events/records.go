// Package events turns accepted shares and weak blocks into the JSON records
// relayed downstream, and feeds them to the relay submitter.
package events

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/wire"
)

// Share describes one accepted share as reported by the pool server
type Share struct {
	User   string
	Worker string
	// Payout is the claimed value of the share
	Payout uint64
	Header *wire.BlockHeader
	// LeadingZeros is the share's achieved difficulty, ClientTarget the required one
	LeadingZeros uint8
	ClientTarget uint8
	Height       int64
}

// ShareRecord is the relayed form of a plain share
type ShareRecord struct {
	User          string `json:"user"`
	Worker        string `json:"worker"`
	Height        int64  `json:"height"`
	PrevBlockHash string `json:"prev_block_hash"`
	Payout        uint64 `json:"payout"`
	ClientTarget  uint8  `json:"client_target"`
	LeadingZeros  uint8  `json:"leading_zeros"`
	Version       uint32 `json:"version"`
	NBits         uint32 `json:"nbits"`
	Time          uint32 `json:"time"`
	IsGoodBlock   bool   `json:"is_good_block"`
	IsWeakBlock   bool   `json:"is_weak_block"`
}

// WeakBlockRecord is the relayed form of a weak block
type WeakBlockRecord struct {
	User          string `json:"user"`
	Worker        string `json:"worker"`
	Height        int64  `json:"height"`
	PrevBlockHash string `json:"prev_block_hash"`
	Payout        uint64 `json:"payout"`
	ClientTarget  uint8  `json:"client_target"`
	LeadingZeros  uint8  `json:"leading_zeros"`
	Version       uint32 `json:"version"`
	NBits         uint32 `json:"nbits"`
	Time          uint32 `json:"time"`
	Hash          string `json:"hash"`
	IsGoodBlock   bool   `json:"is_good_block"`
	IsWeakBlock   bool   `json:"is_weak_block"`
}

// NewShareRecord maps a share onto its record. Hashes are hex encoded in the
// byte order they have inside the header.
func NewShareRecord(s Share) ShareRecord {
	return ShareRecord{
		User:          s.User,
		Worker:        s.Worker,
		Height:        s.Height,
		PrevBlockHash: hex.EncodeToString(s.Header.PrevBlock[:]),
		Payout:        s.Payout,
		ClientTarget:  s.ClientTarget,
		LeadingZeros:  s.LeadingZeros,
		Version:       uint32(s.Header.Version),
		NBits:         s.Header.Bits,
		Time:          uint32(s.Header.Timestamp.Unix()),
	}
}

// NewWeakBlockRecord maps a weak block onto its record
func NewWeakBlockRecord(s Share, hash string, isGoodBlock bool) WeakBlockRecord {
	r := NewShareRecord(s)
	return WeakBlockRecord{
		User:          r.User,
		Worker:        r.Worker,
		Height:        r.Height,
		PrevBlockHash: r.PrevBlockHash,
		Payout:        r.Payout,
		ClientTarget:  r.ClientTarget,
		LeadingZeros:  r.LeadingZeros,
		Version:       r.Version,
		NBits:         r.NBits,
		Time:          r.Time,
		Hash:          hash,
		IsGoodBlock:   isGoodBlock,
		IsWeakBlock:   true,
	}
}
