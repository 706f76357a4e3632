// Package miner implements the miner loop: batch, verify, build, mine, and
// on success append + signal the control loop to broadcast. It owns its
// own mempool and runs on a dedicated goroutine that never touches the
// async control loop.
package miner

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"runchainnet/internal/chain"
	"runchainnet/internal/p2pnet"
	"runchainnet/internal/payload"
	"runchainnet/internal/pow"
)

// Config holds the tunables for the miner's batching and mining behaviour.
type Config struct {
	BatchCap         int
	BatchTimer       time.Duration
	DifficultyPrefix []byte
	Workers          int
}

// Solved is sent on Miner.SolvedCh every time the miner successfully
// appends a block, so the control loop can broadcast a fresh ChainInfo.
// Modeled as message passing rather than letting the miner call the
// transport directly, keeping publishing on a single goroutine.
type Solved struct {
	Block chain.Block
}

// Miner runs the batch/verify/build/mine/outcome state machine.
type Miner struct {
	log    *zap.SugaredLogger
	cfg    Config
	chain  *chain.Chain
	in     <-chan p2pnet.PayloadEvent
	cancel *atomic.Bool
	resume chan struct{}

	SolvedCh chan Solved

	mempool []payload.Signed
	mining  atomic.Bool // written only by Run's goroutine, read by the control loop
}

// New constructs a Miner. cancel is the process-wide PoW cancellation flag
// shared with the control loop; resume is the 1-slot channel the control
// loop signals on once a sync completes.
func New(log *zap.SugaredLogger, cfg Config, c *chain.Chain, payloadCh <-chan p2pnet.PayloadEvent, cancel *atomic.Bool, resume chan struct{}) *Miner {
	return &Miner{
		log:      log,
		cfg:      cfg,
		chain:    c,
		in:       payloadCh,
		cancel:   cancel,
		resume:   resume,
		SolvedCh: make(chan Solved, 1),
	}
}

// Run drives the miner loop until the stop channel is closed.
func (m *Miner) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}

		batch := m.batch(stop)
		select {
		case <-stop:
			return
		default:
		}

		verified := m.verify(batch)
		m.mempool = append(m.mempool, verified...)

		candidate, payloads := m.buildCandidate()

		m.mining.Store(true)
		m.cancel.Store(true)
		nonce, solved := pow.Search(pow.Candidate{
			Height:       candidate.Height,
			PreviousHash: candidate.PreviousHash,
			Timestamp:    candidate.Timestamp,
			MerkleRoot:   candidate.MerkleRoot,
		}, m.cfg.DifficultyPrefix, m.cancel, m.cfg.Workers)
		m.mining.Store(false)

		if solved {
			block := candidate
			block.Nonce = nonce.String()
			block.Payloads = payloads
			if err := m.chain.TryAppend(block); err != nil {
				m.log.Warnw("miner: solved block rejected by chain", "error", err)
				continue
			}
			m.mempool = nil
			select {
			case m.SolvedCh <- Solved{Block: block}:
			default:
				m.log.Warnw("miner: solved signal dropped, control loop did not drain in time")
			}
			continue
		}

		// Cancelled: restore the verified payloads (they were already
		// appended to m.mempool above) and wait for the control loop to
		// finish its sync before mining again.
		select {
		case <-m.resume:
		case <-stop:
			return
		}
	}
}

// IsMining reports whether the miner is currently inside a PoW search.
// Used by the control loop solely to decide whether a resume signal is
// needed at all: sending on resume when the miner isn't waiting on it would
// otherwise be a wasted, possibly-lost send.
func (m *Miner) IsMining() bool { return m.mining.Load() }

// batch drains the payload channel into a slice until either BatchCap
// messages accumulate or BatchTimer elapses, whichever comes first.
func (m *Miner) batch(stop <-chan struct{}) []p2pnet.PayloadEvent {
	deadline := time.NewTimer(m.cfg.BatchTimer)
	defer deadline.Stop()

	var out []p2pnet.PayloadEvent
	for len(out) < m.cfg.BatchCap {
		select {
		case <-stop:
			return out
		case ev := <-m.in:
			out = append(out, ev)
		case <-deadline.C:
			return out
		}
	}
	return out
}

// verify retains only payloads whose signature verifies.
func (m *Miner) verify(events []p2pnet.PayloadEvent) []payload.Signed {
	verified := make([]payload.Signed, 0, len(events))
	for _, ev := range events {
		sp := payload.Signed{Payload: ev.Payload.Payload, Signature: ev.Payload.Signature, PublicKey: ev.Payload.PublicKey}
		if sp.Verify() {
			verified = append(verified, sp)
		} else {
			m.log.Infow("miner: dropping payload with invalid signature", "from", ev.From)
		}
	}
	return verified
}

// buildCandidate reads the chain tip and constructs the next block's header
// fields from the current mempool.
func (m *Miner) buildCandidate() (chain.Block, []string) {
	tip := m.chain.Tip()
	texts := make([]string, len(m.mempool))
	for i, sp := range m.mempool {
		texts[i] = sp.Payload
	}
	root := chain.MerkleRoot(texts)

	return chain.Block{
		Height:       tip.Height + 1,
		PreviousHash: tip.Hash(),
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		MerkleRoot:   root,
	}, texts
}
