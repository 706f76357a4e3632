package control

import (
	"context"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"runchainnet/internal/chain"
	"runchainnet/internal/miner"
	"runchainnet/internal/p2pnet"
	"runchainnet/internal/protocol"
)

// fakeNet is a Publisher that records published frames in memory instead of
// touching a real libp2p host, so the control loop's two-peer sync
// convergence can be driven directly without a real transport.
type fakeNet struct {
	peerID string

	mu        sync.Mutex
	published []fakeFrame
}

type fakeFrame struct {
	Type protocol.Type
	V    any
}

func (f *fakeNet) PeerID() string { return f.peerID }

func (f *fakeNet) Publish(_ context.Context, typ protocol.Type, v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, fakeFrame{Type: typ, V: v})
	return nil
}

func (f *fakeNet) last(typ protocol.Type) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.published) - 1; i >= 0; i-- {
		if f.published[i].Type == typ {
			return f.published[i].V, true
		}
	}
	return nil, false
}

func newTestLoop(t *testing.T, c *chain.Chain, peerID string) (*Loop, *fakeNet, chan p2pnet.ControlEvent, chan p2pnet.BlockResponseEvent) {
	t.Helper()
	log := zap.NewNop().Sugar()
	net := &fakeNet{peerID: peerID}
	controlCh := make(chan p2pnet.ControlEvent, 8)
	blockResponseCh := make(chan p2pnet.BlockResponseEvent, 8)
	payloadCh := make(chan p2pnet.PayloadEvent, 8)

	cancel := &atomic.Bool{}
	cancel.Store(true)
	resume := make(chan struct{}, 1)

	m := miner.New(log, miner.Config{BatchCap: 16, BatchTimer: time.Hour, DifficultyPrefix: []byte{0}, Workers: 1}, c, payloadCh, cancel, resume)

	cfg := Config{AnnounceTick: time.Hour, SyncTimeout: 300 * time.Millisecond, TopicID: protocol.Topic}
	l := New(log, cfg, c, net, controlCh, blockResponseCh, m, cancel, resume)
	return l, net, controlCh, blockResponseCh
}

func TestControlLoop_RequestBlocksAnswersWithLastN(t *testing.T) {
	c := chain.New([]byte{}) // empty prefix: appends are trivial to construct in-test
	tip := c.Tip()
	b := chain.Block{Height: tip.Height + 1, PreviousHash: tip.Hash(), Timestamp: "t", MerkleRoot: chain.EmptyMerkleRoot, Nonce: "0"}
	if err := c.TryAppend(b); err != nil {
		t.Fatalf("TryAppend: %v", err)
	}

	l, net, controlCh, _ := newTestLoop(t, c, "local-peer")
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	go l.Run(ctx)

	controlCh <- p2pnet.ControlEvent{RequestBlocks: &protocol.RequestBlocks{FromPeer: "remote-peer", ToPeer: "local-peer", Count: 1}}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, ok := net.last(protocol.TypeResponseBlocks); ok {
			resp := v.(protocol.ResponseBlocks)
			if resp.ToPeer != "remote-peer" || len(resp.Blocks) != 1 {
				t.Fatalf("unexpected ResponseBlocks: %+v", resp)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("control loop did not publish a ResponseBlocks in time")
}

func TestControlLoop_ChainInfoAheadTriggersRequestAndSyncs(t *testing.T) {
	local := chain.New([]byte{})
	remote := chain.New([]byte{})
	tip := remote.Tip()
	for i := 0; i < 3; i++ {
		b := chain.Block{Height: tip.Height + 1, PreviousHash: tip.Hash(), Timestamp: "t", MerkleRoot: chain.EmptyMerkleRoot, Nonce: "0"}
		if err := remote.TryAppend(b); err != nil {
			t.Fatalf("TryAppend: %v", err)
		}
		tip = remote.Tip()
	}

	l, net, controlCh, blockResponseCh := newTestLoop(t, local, "local-peer")
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()
	go l.Run(ctx)

	remoteGenesis := remote.GenesisHash()
	controlCh <- p2pnet.ControlEvent{ChainInfo: &protocol.ChainInfo{
		PeerID:      "remote-peer",
		Topic:       protocol.Topic,
		GenesisHash: hex.EncodeToString(remoteGenesis[:]),
		BlockHeight: remote.Height(),
	}}

	// Wait for the RequestBlocks publication, then answer as the remote
	// peer would: send back its last N blocks.
	deadline := time.Now().Add(time.Second)
	var req protocol.RequestBlocks
	for time.Now().Before(deadline) {
		if v, ok := net.last(protocol.TypeRequestBlocks); ok {
			req = v.(protocol.RequestBlocks)
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if req.ToPeer != "remote-peer" {
		t.Fatalf("control loop did not request blocks from the ahead peer")
	}

	blocks := remote.LastN(int(req.Count))
	blockResponseCh <- p2pnet.BlockResponseEvent{Response: protocol.ResponseBlocks{
		FromPeer: "remote-peer", ToPeer: "local-peer", Count: req.Count, Blocks: blocks,
	}}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if local.Height() == remote.Height() {
			if local.Tip().Hash() != remote.Tip().Hash() {
				t.Fatalf("synced chains have the same height but different tip hashes")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("local chain did not converge to remote height: local=%d remote=%d", local.Height(), remote.Height())
}
