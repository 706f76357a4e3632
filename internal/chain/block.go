// Package chain implements the in-memory block chain: block construction,
// hashing, Merkle roots over payload batches, and the validity predicate
// that governs appends.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// GenesisPreviousHash is the fixed 32-byte sentinel every node uses as the
// previous-hash field of its genesis block. It must be identical across all
// peers on the network or GenesisHash will diverge and the network will
// partition.
var GenesisPreviousHash [32]byte

// genesisSeedLeaf is the single payload the genesis block's Merkle root is
// computed over, so that GenesisHash is deterministic and stable across runs.
const genesisSeedLeaf = "RUNCHAINNET genesis"

// Block is an immutable record in the chain. Height is strictly monotonic,
// PreviousHash links it to its predecessor, Timestamp is informational only
// (not consensus-critical), MerkleRoot commits to Payloads, and Nonce is the
// proof-of-work solution.
type Block struct {
	Height       uint64   `json:"height"`
	PreviousHash [32]byte `json:"previous_hash"`
	Timestamp    string   `json:"timestamp"`
	MerkleRoot   [32]byte `json:"merkle_root"`
	Nonce        string   `json:"nonce"` // decimal string of a big.Int; see internal/pow
	Payloads     []string `json:"payloads"`
}

// Hash computes the block's hash: decimal height, lowercase-hex
// previous-hash, the timestamp string verbatim, lowercase-hex merkle-root,
// and the nonce's decimal string, concatenated with no separators and
// hashed with SHA-256. All peers must agree on this exact encoding to
// validate each other's blocks.
func (b Block) Hash() [32]byte {
	var buf []byte
	buf = append(buf, strconv.FormatUint(b.Height, 10)...)
	buf = append(buf, hex.EncodeToString(b.PreviousHash[:])...)
	buf = append(buf, b.Timestamp...)
	buf = append(buf, hex.EncodeToString(b.MerkleRoot[:])...)
	buf = append(buf, b.Nonce...)
	return sha256.Sum256(buf)
}

// newGenesisBlock constructs the deterministic genesis block: height 0, the
// fixed previous-hash sentinel, and a Merkle root over a fixed seed leaf so
// every node produces byte-identical genesis blocks.
func newGenesisBlock() Block {
	return Block{
		Height:       0,
		PreviousHash: GenesisPreviousHash,
		Timestamp:    genesisTimestamp,
		MerkleRoot:   MerkleRoot([]string{genesisSeedLeaf}),
		Nonce:        "0",
		Payloads:     []string{genesisSeedLeaf},
	}
}

// genesisTimestamp is fixed (not time.Now()) so that two independently
// started nodes compute an identical genesis hash.
const genesisTimestamp = "2024-01-01T00:00:00Z"

// newCandidate builds the header fields for the next block on top of tip;
// Nonce and Payloads are left empty for the caller to fill in.
func newCandidate(tip Block, timestamp time.Time, merkleRoot [32]byte) Block {
	return Block{
		Height:       tip.Height + 1,
		PreviousHash: tip.Hash(),
		Timestamp:    timestamp.UTC().Format(time.RFC3339Nano),
		MerkleRoot:   merkleRoot,
	}
}

func (b Block) String() string {
	return fmt.Sprintf("Block{height=%d hash=%s payloads=%d}", b.Height, hex.EncodeToString(func() []byte { h := b.Hash(); return h[:] }()), len(b.Payloads))
}
