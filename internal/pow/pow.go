// Package pow implements the proof-of-work nonce search: a parallel scan
// over nonce space with cooperative cancellation via a shared atomic flag.
package pow

import (
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strconv"
	"sync/atomic"
	"time"
)

// Candidate carries the header fields of a block-to-be, minus the nonce,
// which this package searches for.
type Candidate struct {
	Height       uint64
	PreviousHash [32]byte
	Timestamp    string
	MerkleRoot   [32]byte
}

// candidateHash returns SHA-256(fmt(candidate) || fmt(nonce)) using the
// same canonical encoding as chain.Block.Hash, so that a solved nonce
// produces exactly the hash the chain package will recompute when the
// finished block is appended.
func (c Candidate) candidateHash(nonce *big.Int) [32]byte {
	var buf []byte
	buf = append(buf, strconv.FormatUint(c.Height, 10)...)
	buf = append(buf, hex.EncodeToString(c.PreviousHash[:])...)
	buf = append(buf, c.Timestamp...)
	buf = append(buf, hex.EncodeToString(c.MerkleRoot[:])...)
	buf = append(buf, nonce.String()...)
	return sha256.Sum256(buf)
}

// Search looks for a nonce such that candidateHash begins with prefix. It
// fans nonce search out across workers goroutines, each scanning a disjoint
// residue class (start=k, stride=workers), polling cancel on every
// iteration. Returns (nonce, true) on success, or (nil, false) if cancel
// flips to false before a solution is found. The winning nonce is not
// guaranteed to be the smallest valid one — any worker may win the race.
func Search(candidate Candidate, prefix []byte, cancel *atomic.Bool, workers int) (*big.Int, bool) {
	if workers < 1 {
		workers = 1
	}

	type result struct {
		nonce *big.Int
	}
	resultCh := make(chan result, 1)
	done := make(chan struct{})

	for k := 0; k < workers; k++ {
		go func(start int) {
			nonce := big.NewInt(int64(start))
			stride := big.NewInt(int64(workers))
			for {
				select {
				case <-done:
					return
				default:
				}
				if !cancel.Load() {
					return
				}
				hash := candidate.candidateHash(nonce)
				if hasPrefix(hash[:], prefix) {
					select {
					case resultCh <- result{nonce: new(big.Int).Set(nonce)}:
					default:
					}
					return
				}
				nonce.Add(nonce, stride)
			}
		}(k)
	}

	// Poll for either a winning nonce or cancellation; closing done lets
	// the losing workers exit promptly once we stop waiting.
	ticker := time.NewTicker(200 * time.Microsecond)
	defer ticker.Stop()
	for {
		select {
		case r := <-resultCh:
			close(done)
			return r.nonce, true
		case <-ticker.C:
			if !cancel.Load() {
				close(done)
				return nil, false
			}
		}
	}
}

func hasPrefix(hash, prefix []byte) bool {
	if len(prefix) > len(hash) {
		return false
	}
	for i := range prefix {
		if hash[i] != prefix[i] {
			return false
		}
	}
	return true
}
