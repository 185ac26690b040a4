// Package bitcoin provides the proof-of-work primitives the relay needs to
// describe shares and weak blocks: block header decoding, compact target
// expansion and hash-versus-target comparison.
package bitcoin

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"math/big"
	"math/bits"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TargetSize is the width of an expanded target in bytes
const TargetSize = 32

// bigIntPool reuses big.Int instances for target expansion, which runs once
// per weak block on the relay hot path.
var bigIntPool = sync.Pool{
	New: func() any {
		return new(big.Int)
	},
}

func getBigInt() *big.Int {
	bi := bigIntPool.Get().(*big.Int)
	bi.SetInt64(0)
	return bi
}

func putBigInt(bi *big.Int) {
	if bi != nil {
		bigIntPool.Put(bi)
	}
}

// CompactToTarget expands the compact nbits encoding into a 32-byte big-endian
// target, following Bitcoin Core's arith_uint256::SetCompact.
//
// negative reports that the sign bit was set on a non-zero mantissa and
// overflow that the value does not fit in 256 bits. Either flag means the
// target is unusable; on overflow the returned slice is nil.
func CompactToTarget(nbits uint32) (target []byte, negative, overflow bool) {
	size := nbits >> 24
	word := nbits & 0x007fffff
	if size <= 3 {
		word >>= 8 * (3 - size)
	}

	negative = word != 0 && nbits&0x00800000 != 0
	overflow = word != 0 && (size > 34 ||
		(word > 0xff && size > 33) ||
		(word > 0xffff && size > 32))
	if overflow {
		return nil, negative, true
	}

	n := getBigInt()
	defer putBigInt(n)

	n.SetUint64(uint64(word))
	if size > 3 {
		n.Lsh(n, uint(8*(size-3)))
	}

	target = make([]byte, TargetSize)
	n.FillBytes(target)
	return target, negative, false
}

// HashMeetsTarget reports whether hash, in its internal little-endian byte
// order, is numerically less than or equal to the big-endian target.
func HashMeetsTarget(hash chainhash.Hash, target []byte) bool {
	if len(target) != TargetSize {
		return false
	}

	for i := 0; i < TargetSize; i++ {
		h := hash[TargetSize-1-i]
		if h < target[i] {
			return true
		}
		if h > target[i] {
			return false
		}
	}
	return true
}

// LeadingZeros counts the leading zero bits of hash read as a 256-bit number
func LeadingZeros(hash chainhash.Hash) int {
	zeros := 0
	for i := TargetSize - 1; i >= 0; i-- {
		if hash[i] != 0 {
			return zeros + bits.LeadingZeros8(hash[i])
		}
		zeros += 8
	}
	return zeros
}

// DecodeHeader parses an 80-byte serialized block header
func DecodeHeader(raw []byte) (*wire.BlockHeader, error) {
	if len(raw) != wire.MaxBlockHeaderPayload {
		return nil, fmt.Errorf("invalid block header length: expected %d bytes, got %d", wire.MaxBlockHeaderPayload, len(raw))
	}

	var header wire.BlockHeader
	if err := header.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to deserialize block header: %w", err)
	}
	return &header, nil
}

// DecodeHeaderHex parses a hex-encoded block header
func DecodeHeaderHex(s string) (*wire.BlockHeader, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode header hex: %w", err)
	}
	return DecodeHeader(raw)
}

// RawHex hex-encodes a hash in its stored byte order, not the reversed
// display order that chainhash.Hash.String uses.
func RawHex(hash chainhash.Hash) string {
	return hex.EncodeToString(hash[:])
}
