package fhe

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/hkdf"
)

// randomStream returns the deterministic byte stream the coprocessor draws
// a transaction's random values from. It is keyed by the coprocessor seed,
// so the outcome is fixed once the transaction is ordered but cannot be
// computed by anyone who does not hold the seed.
func randomStream(seed []byte, txHash common.Hash) io.Reader {
	return hkdf.New(sha256.New, seed, txHash[:], []byte("lockedworlds/fhe/rand"))
}

// uniform draws a value uniformly distributed over [0, bound) by rejection
// sampling 64-bit words.
func uniform(r io.Reader, bound uint64) (uint64, error) {
	if bound == 0 {
		return 0, ErrBoundOutOfRange
	}
	limit := ^uint64(0) - (^uint64(0) % bound)
	var buf [8]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, fmt.Errorf("fhe: random stream exhausted: %w", err)
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v < limit {
			return v % bound, nil
		}
	}
}
