// Package control implements the control loop: periodic ChainInfo
// announces, ChainInfo/RequestBlocks handling, and the cancel/resume
// coordination with the miner during a chain sync.
package control

import (
	"context"
	"encoding/hex"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"runchainnet/internal/chain"
	"runchainnet/internal/miner"
	"runchainnet/internal/p2pnet"
	"runchainnet/internal/protocol"
)

// Config holds the tunables for the control loop's timing.
type Config struct {
	AnnounceTick time.Duration
	SyncTimeout  time.Duration
	TopicID      string
}

// Publisher is the slice of the network adapter the control loop needs: its
// own peer id and the ability to publish a frame. Modeled as an interface
// (rather than depending on *p2pnet.Adapter directly) so the loop can be
// driven in tests without a real libp2p host.
type Publisher interface {
	PeerID() string
	Publish(ctx context.Context, typ protocol.Type, v any) error
}

// Loop drives the control loop's select over the announce ticker, the
// adapter's control queue, and the block-response queue consumed during a
// sync await.
type Loop struct {
	log   *zap.SugaredLogger
	cfg   Config
	chain *chain.Chain
	net   Publisher
	miner *miner.Miner

	controlCh       <-chan p2pnet.ControlEvent
	blockResponseCh <-chan p2pnet.BlockResponseEvent

	cancel *atomic.Bool
	resume chan struct{}
}

// New constructs a control Loop. cancel and resume are the same
// process-wide PoW-cancellation flag and 1-slot resume channel passed to
// the miner.
func New(log *zap.SugaredLogger, cfg Config, c *chain.Chain, net Publisher, controlCh <-chan p2pnet.ControlEvent, blockResponseCh <-chan p2pnet.BlockResponseEvent, m *miner.Miner, cancel *atomic.Bool, resume chan struct{}) *Loop {
	return &Loop{
		log: log, cfg: cfg, chain: c, net: net,
		controlCh: controlCh, blockResponseCh: blockResponseCh,
		miner: m, cancel: cancel, resume: resume,
	}
}

// Run drives the control loop until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.AnnounceTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			l.announce(ctx)

		case solved := <-l.miner.SolvedCh:
			l.log.Infow("control: broadcasting newly mined block", "height", solved.Block.Height)
			l.announce(ctx)

		case ev := <-l.controlCh:
			switch {
			case ev.ChainInfo != nil:
				l.handleChainInfo(ctx, *ev.ChainInfo)
			case ev.RequestBlocks != nil:
				l.handleRequestBlocks(ctx, *ev.RequestBlocks)
			}
		}
	}
}

// announce publishes the node's current ChainInfo.
func (l *Loop) announce(ctx context.Context) {
	genesisHash := l.chain.GenesisHash()
	info := protocol.ChainInfo{
		PeerID:      l.net.PeerID(),
		Topic:       l.cfg.TopicID,
		GenesisHash: hex.EncodeToString(genesisHash[:]),
		BlockHeight: l.chain.Height(),
	}
	if err := l.net.Publish(ctx, protocol.TypeChainInfo, info); err != nil {
		l.log.Warnw("control: failed to publish ChainInfo", "error", err)
	}
}

// handleChainInfo ignores mismatched topic/genesis, then compares heights
// and either requests a sync or (optionally) re-announces to help a
// lagging peer catch up.
func (l *Loop) handleChainInfo(ctx context.Context, remote protocol.ChainInfo) {
	if remote.Topic != l.cfg.TopicID {
		return
	}
	localGenesis := l.chain.GenesisHash()
	if remote.GenesisHash != hex.EncodeToString(localGenesis[:]) {
		return
	}

	localHeight := l.chain.Height()
	if remote.BlockHeight <= localHeight {
		l.announce(ctx) // help the lagging peer catch up; keep mining regardless
		return
	}

	diff := remote.BlockHeight - localHeight
	l.syncFrom(ctx, remote.PeerID, diff)
}

// syncFrom cancels the miner, requests diff blocks from remotePeer, awaits
// a matching ResponseBlocks with a timeout, and on success appends the
// returned blocks in order before resuming mining.
func (l *Loop) syncFrom(ctx context.Context, remotePeer string, diff uint64) {
	l.cancel.Store(false)
	defer l.resumeMiner()

	req := protocol.RequestBlocks{FromPeer: l.net.PeerID(), ToPeer: remotePeer, Count: diff}
	if err := l.net.Publish(ctx, protocol.TypeRequestBlocks, req); err != nil {
		l.log.Warnw("control: failed to publish RequestBlocks", "error", err)
		return
	}

	timeout := time.NewTimer(l.cfg.SyncTimeout)
	defer timeout.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timeout.C:
			l.log.Warnw("control: sync timed out, resuming mining on current tip", "peer", remotePeer)
			return

		case resp := <-l.blockResponseCh:
			if resp.Response.ToPeer != l.net.PeerID() {
				continue // not addressed to us; not our sync round
			}
			for _, b := range resp.Response.Blocks {
				if err := l.chain.TryAppend(b); err != nil {
					l.log.Warnw("control: aborting sync, peer sent an invalid block", "error", err, "peer", remotePeer)
					return
				}
			}
			l.log.Infow("control: sync complete", "peer", remotePeer, "appended", len(resp.Response.Blocks), "height", l.chain.Height())
			return
		}
	}
}

// resumeMiner sets the cancel flag back to mining and, unless the miner is
// inside a PoW search, makes a non-blocking send on the 1-slot resume
// channel; a signal already pending in the channel is not duplicated.
func (l *Loop) resumeMiner() {
	l.cancel.Store(true)
	if l.miner.IsMining() {
		return // miner is already past the wait point, mining on the new tip
	}
	select {
	case l.resume <- struct{}{}:
	default:
	}
}

// handleRequestBlocks answers a request addressed to this node with its
// last Count blocks.
func (l *Loop) handleRequestBlocks(ctx context.Context, req protocol.RequestBlocks) {
	if req.ToPeer != l.net.PeerID() {
		return
	}
	height := l.chain.Height()
	count := req.Count
	if count > height {
		count = height
	}
	blocks := l.chain.LastN(int(count))

	resp := protocol.ResponseBlocks{FromPeer: l.net.PeerID(), ToPeer: req.FromPeer, Count: count, Blocks: blocks}
	if err := l.net.Publish(ctx, protocol.TypeResponseBlocks, resp); err != nil {
		l.log.Warnw("control: failed to publish ResponseBlocks", "error", err)
	}
}
