// Package p2pnet is the network adapter: it joins the gossip topic over
// libp2p pubsub, discovers peers via mDNS, decodes incoming frames,
// classifies them, and forwards typed events onto three single-producer
// queues that the miner and control loops drain. It also publishes
// outgoing frames on behalf of the control loop.
package p2pnet

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"runchainnet/internal/protocol"
)

const mdnsServiceTag = "runchainnet-mdns"

// ControlEvent is forwarded to the control loop's control queue: either a
// ChainInfo advertisement or a RequestBlocks.
type ControlEvent struct {
	From          peer.ID
	ChainInfo     *protocol.ChainInfo
	RequestBlocks *protocol.RequestBlocks
}

// BlockResponseEvent is forwarded to the control loop during sync.
type BlockResponseEvent struct {
	From     peer.ID
	Response protocol.ResponseBlocks
}

// PayloadEvent is forwarded to the miner loop's payload queue.
type PayloadEvent struct {
	From    peer.ID
	Payload protocol.NewPayload
}

// Adapter owns the libp2p host, pubsub topic/subscription, and the three
// outgoing channels. Exactly one goroutine (Run) produces onto each of
// them; the miner and control loops are the sole consumers.
type Adapter struct {
	log  *zap.SugaredLogger
	host host.Host
	ps   *pubsub.PubSub
	topic *pubsub.Topic
	sub  *pubsub.Subscription

	ControlCh       chan ControlEvent
	BlockResponseCh chan BlockResponseEvent
	PayloadCh       chan PayloadEvent
}

// New constructs a libp2p host listening on the given TCP port (0 = kernel
// assigned), joins topicID over gossipsub, dials any bootstrapPeers given as
// multiaddr strings, and starts mDNS discovery. Sequencing is identity, then
// host, then discovery.
func New(ctx context.Context, log *zap.SugaredLogger, port int, topicID string, bootstrapPeers []string) (*Adapter, error) {
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return nil, fmt.Errorf("p2pnet: generate host identity: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port)),
	)
	if err != nil {
		return nil, fmt.Errorf("p2pnet: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("p2pnet: create gossipsub: %w", err)
	}

	topic, err := ps.Join(topicID)
	if err != nil {
		return nil, fmt.Errorf("p2pnet: join topic %s: %w", topicID, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("p2pnet: subscribe to topic %s: %w", topicID, err)
	}

	a := &Adapter{
		log:             log,
		host:            h,
		ps:              ps,
		topic:           topic,
		sub:             sub,
		ControlCh:       make(chan ControlEvent, 64),
		BlockResponseCh: make(chan BlockResponseEvent, 16),
		PayloadCh:       make(chan PayloadEvent, 256),
	}

	discoveryService := mdns.NewMdnsService(h, mdnsServiceTag, &discoveryNotifee{host: h, log: log})
	if err := discoveryService.Start(); err != nil {
		return nil, fmt.Errorf("p2pnet: start mdns discovery: %w", err)
	}

	a.dialBootstrapPeers(ctx, bootstrapPeers)

	return a, nil
}

// dialBootstrapPeers connects to each configured bootstrap multiaddr,
// skipping (and logging) any entry that doesn't parse or isn't reachable.
// Unlike mDNS, this works across subnets and is how a node joins a network
// it can't discover locally.
func (a *Adapter) dialBootstrapPeers(ctx context.Context, peers []string) {
	for _, raw := range peers {
		maddr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			a.log.Warnw("p2pnet: skipping malformed bootstrap address", "addr", raw, "error", err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			a.log.Warnw("p2pnet: bootstrap address has no peer id", "addr", raw, "error", err)
			continue
		}
		if err := a.host.Connect(ctx, *info); err != nil {
			a.log.Warnw("p2pnet: failed to connect to bootstrap peer", "peer", info.ID, "error", err)
			continue
		}
		a.log.Infow("p2pnet: connected to bootstrap peer", "peer", info.ID)
	}
}

// Host returns the underlying libp2p host.
func (a *Adapter) Host() host.Host { return a.host }

// PeerID returns the node's own libp2p peer id as a string.
func (a *Adapter) PeerID() string { return a.host.ID().String() }

// Publish marshals and publishes a protocol message on the gossip topic.
func (a *Adapter) Publish(ctx context.Context, typ protocol.Type, v any) error {
	frame, err := protocol.Encode(typ, v)
	if err != nil {
		return err
	}
	return a.topic.Publish(ctx, frame)
}

// Run drains the subscription, decoding and classifying each frame onto the
// adapter's three outgoing channels, until ctx is cancelled. Unknown or
// malformed frames are logged and dropped.
func (a *Adapter) Run(ctx context.Context) {
	for {
		raw, err := a.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.log.Warnw("p2pnet: subscription read failed", "error", err)
			continue
		}
		if raw.ReceivedFrom == a.host.ID() {
			continue // don't process our own published frames
		}

		msg, err := protocol.Decode(raw.Data)
		if err != nil {
			a.log.Warnw("p2pnet: dropping malformed frame", "error", err, "from", raw.ReceivedFrom)
			continue
		}

		switch msg.Type {
		case protocol.TypeChainInfo:
			info, err := msg.DecodeChainInfo()
			if err != nil {
				a.log.Warnw("p2pnet: dropping malformed ChainInfo", "error", err)
				continue
			}
			a.ControlCh <- ControlEvent{From: raw.ReceivedFrom, ChainInfo: &info}

		case protocol.TypeRequestBlocks:
			req, err := msg.DecodeRequestBlocks()
			if err != nil {
				a.log.Warnw("p2pnet: dropping malformed RequestBlocks", "error", err)
				continue
			}
			a.ControlCh <- ControlEvent{From: raw.ReceivedFrom, RequestBlocks: &req}

		case protocol.TypeResponseBlocks:
			resp, err := msg.DecodeResponseBlocks()
			if err != nil {
				a.log.Warnw("p2pnet: dropping malformed ResponseBlocks", "error", err)
				continue
			}
			a.BlockResponseCh <- BlockResponseEvent{From: raw.ReceivedFrom, Response: resp}

		case protocol.TypeNewPayload:
			p, err := msg.DecodeNewPayload()
			if err != nil {
				a.log.Warnw("p2pnet: dropping malformed NewPayload", "error", err)
				continue
			}
			a.PayloadCh <- PayloadEvent{From: raw.ReceivedFrom, Payload: p}

		default:
			a.log.Warnw("p2pnet: dropping frame with unknown type", "type", msg.Type)
		}
	}
}

// discoveryNotifee connects newly-discovered peers to the host. gossipsub
// manages its own peer mesh once peers are connected.
type discoveryNotifee struct {
	host host.Host
	log  *zap.SugaredLogger
}

func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	if pi.ID == n.host.ID() {
		return
	}
	ctx := context.Background()
	if err := n.host.Connect(ctx, pi); err != nil {
		n.log.Warnw("p2pnet: failed to connect to discovered peer", "peer", pi.ID, "error", err)
		return
	}
	n.log.Infow("p2pnet: connected to discovered peer", "peer", pi.ID)
}
