package chain

import (
	"crypto/sha256"
	"errors"
	"strconv"
	"testing"
	"time"
)

// mineHeader finds a nonce (as a decimal string) that satisfies prefix for
// the given header fields, without pulling in internal/pow (the chain tests
// are kept free of that dependency).
func mineHeader(t *testing.T, tip Block, payloads []string, prefix []byte) Block {
	t.Helper()
	b := newCandidate(tip, time.Unix(0, 0), MerkleRoot(payloads))
	b.Payloads = payloads
	for n := 0; n < 2_000_000; n++ {
		b.Nonce = strconv.Itoa(n)
		h := b.Hash()
		if hasPrefix(h[:], prefix) {
			return b
		}
	}
	t.Fatalf("failed to mine a block satisfying prefix %v within bound", prefix)
	return Block{}
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

func TestNew_Genesis(t *testing.T) {
	c := New([]byte{0})
	if c.Height() != 1 {
		t.Fatalf("Height() = %d, want 1", c.Height())
	}
	if c.Tip().Height != 0 {
		t.Fatalf("Tip().Height = %d, want 0", c.Tip().Height)
	}

	c2 := New([]byte{0})
	if c.GenesisHash() != c2.GenesisHash() {
		t.Fatalf("genesis hash is not stable across independently constructed chains")
	}
}

func TestBlockHash_Deterministic(t *testing.T) {
	b := Block{Height: 1, PreviousHash: GenesisPreviousHash, Timestamp: "t", MerkleRoot: EmptyMerkleRoot, Nonce: "7"}
	h1 := b.Hash()
	h2 := b.Hash()
	if h1 != h2 {
		t.Fatalf("Hash() is not deterministic for identical fields")
	}

	b2 := b
	b2.Nonce = "8"
	if b2.Hash() == h1 {
		t.Fatalf("Hash() did not change when Nonce changed")
	}
}

func TestMerkleRoot_EmptyAndSingle(t *testing.T) {
	if MerkleRoot(nil) != EmptyMerkleRoot {
		t.Fatalf("MerkleRoot(nil) did not return the fixed empty sentinel")
	}
	want := sha256.Sum256([]byte("x"))
	if MerkleRoot([]string{"x"}) != want {
		t.Fatalf("MerkleRoot([x]) did not equal SHA-256(x)")
	}
}

func TestChain_TryAppend_RejectsBadPreviousHash(t *testing.T) {
	c := New([]byte{}) // empty prefix: any hash satisfies difficulty
	bad := Block{
		Height:       1,
		PreviousHash: [32]byte{}, // wrong: should be hash of genesis
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		MerkleRoot:   EmptyMerkleRoot,
		Nonce:        "0",
	}
	err := c.TryAppend(bad)
	if !errors.Is(err, ErrBadPreviousHash) {
		t.Fatalf("TryAppend() err = %v, want ErrBadPreviousHash", err)
	}
	if c.Height() != 1 {
		t.Fatalf("chain height changed after a rejected append")
	}
}

func TestChain_TryAppend_RejectsBadMerkleRoot(t *testing.T) {
	c := New([]byte{})
	tip := c.Tip()
	b := newCandidate(tip, time.Now(), MerkleRoot([]string{"a", "b"}))
	b.Payloads = []string{"a"} // tampered: doesn't match merkle root
	err := c.TryAppend(b)
	if !errors.Is(err, ErrBadMerkleRoot) {
		t.Fatalf("TryAppend() err = %v, want ErrBadMerkleRoot", err)
	}
}

func TestChain_TryAppend_AcceptsValidBlock(t *testing.T) {
	c := New([]byte{0}) // one-byte prefix, cheap to mine in a test
	tip := c.Tip()
	b := mineHeader(t, tip, []string{"payload-1"}, []byte{0})
	if err := c.TryAppend(b); err != nil {
		t.Fatalf("TryAppend() unexpected error: %v", err)
	}
	if c.Height() != 2 {
		t.Fatalf("Height() = %d, want 2", c.Height())
	}
	if c.Tip().Height != 1 {
		t.Fatalf("Tip().Height = %d, want 1", c.Tip().Height)
	}
}

func TestChain_LastN(t *testing.T) {
	c := New([]byte{0})
	tip := c.Tip()
	for i := 0; i < 3; i++ {
		b := mineHeader(t, tip, []string{"p"}, []byte{0})
		if err := c.TryAppend(b); err != nil {
			t.Fatalf("TryAppend() unexpected error: %v", err)
		}
		tip = c.Tip()
	}
	last := c.LastN(2)
	if len(last) != 2 {
		t.Fatalf("LastN(2) returned %d blocks", len(last))
	}
	if last[1].Height != tip.Height {
		t.Fatalf("LastN(2) last element is not the tip")
	}
}
