// Package node wires the chain, network adapter, miner, and control loop
// together into a running process, with a signal-driven shutdown select.
package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"runchainnet/internal/chain"
	"runchainnet/internal/config"
	"runchainnet/internal/control"
	"runchainnet/internal/miner"
	"runchainnet/internal/p2pnet"
)

// Node owns every long-lived component of a runchainnet process.
type Node struct {
	log   *zap.SugaredLogger
	cfg   config.Config
	chain *chain.Chain
	net   *p2pnet.Adapter
	miner *miner.Miner
	ctrl  *control.Loop
}

// New constructs a Node: builds the chain, starts the network adapter
// (libp2p host, pubsub join, mDNS discovery), and wires the miner and
// control loop on top of its event channels.
func New(ctx context.Context, log *zap.SugaredLogger, cfg config.Config) (*Node, error) {
	prefix, err := cfg.DifficultyPrefixBytes()
	if err != nil {
		return nil, err
	}

	c := chain.New(prefix)

	net, err := p2pnet.New(ctx, log, cfg.Node.ListenPort, cfg.Node.TopicID, cfg.Node.BootstrapPeers)
	if err != nil {
		return nil, fmt.Errorf("node: starting network adapter: %w", err)
	}

	cancel := &atomic.Bool{}
	cancel.Store(true)
	resume := make(chan struct{}, 1)

	minerCfg := miner.Config{
		BatchCap:         cfg.Node.BatchCap,
		BatchTimer:       cfg.Node.BatchTimer,
		DifficultyPrefix: prefix,
		Workers:          cfg.Workers(),
	}
	m := miner.New(log, minerCfg, c, net.PayloadCh, cancel, resume)

	ctrlCfg := control.Config{
		AnnounceTick: cfg.Node.AnnounceTick,
		SyncTimeout:  cfg.Node.SyncTimeout,
		TopicID:      cfg.Node.TopicID,
	}
	ctrl := control.New(log, ctrlCfg, c, net, net.ControlCh, net.BlockResponseCh, m, cancel, resume)

	return &Node{log: log, cfg: cfg, chain: c, net: net, miner: m, ctrl: ctrl}, nil
}

// Run starts the adapter, miner, and control loop on their own goroutines
// and blocks until ctx is cancelled or an OS interrupt/terminate signal
// arrives.
func (n *Node) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n.log.Infow("node: starting", "peer_id", n.net.PeerID(), "listen_port", n.cfg.Node.ListenPort, "topic", n.cfg.Node.TopicID)

	go n.net.Run(ctx)

	stop := make(chan struct{})
	go func() {
		n.miner.Run(stop)
	}()

	go n.ctrl.Run(ctx)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case sig := <-shutdown:
		n.log.Infow("node: shutdown signal received", "signal", sig)
	}

	close(stop)
	cancel()
	n.log.Infow("node: shutdown complete", "height", n.chain.Height())
	return nil
}
