// Package protocol defines the four gossip message variants that travel
// over the node's single pub-sub topic.
package protocol

import (
	"encoding/json"
	"fmt"

	"runchainnet/internal/chain"
)

// Topic is the default pub-sub topic identifier shared by all peers of one
// network. Configurable, but must match across a network.
const Topic = "RUNCHAINNET"

// Type tags the variant carried by a Message envelope.
type Type string

const (
	TypeChainInfo     Type = "ChainInfo"
	TypeRequestBlocks Type = "RequestBlocks"
	TypeResponseBlocks Type = "ResponseBlocks"
	TypeNewPayload    Type = "NewPayload"
)

// Message is the envelope every frame on the topic is wrapped in.
type Message struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ChainInfo is broadcast periodically so peers can discover a longer chain.
type ChainInfo struct {
	PeerID      string `json:"peer_id"`
	Topic       string `json:"topic"`
	GenesisHash string `json:"genesis_hash"` // hex-encoded
	BlockHeight uint64 `json:"block_height"`
}

// RequestBlocks asks ToPeer for the last Count blocks of its chain.
// Broadcast on the shared topic but only acted on by ToPeer.
type RequestBlocks struct {
	FromPeer string `json:"from_peer"`
	ToPeer   string `json:"to_peer"`
	Count    uint64 `json:"count"`
}

// ResponseBlocks answers a RequestBlocks with the requested blocks in order.
// Broadcast on the shared topic but only acted on by ToPeer.
type ResponseBlocks struct {
	FromPeer string        `json:"from_peer"`
	ToPeer   string        `json:"to_peer"`
	Count    uint64        `json:"count"`
	Blocks   []chain.Block `json:"blocks"`
}

// NewPayload is broadcast by wallets submitting a signed payload for
// inclusion in a future block.
type NewPayload struct {
	Payload   string `json:"payload"`
	Signature []byte `json:"signature"`
	PublicKey []byte `json:"public_key"`
}

// Encode wraps v in a Message envelope tagged with typ and marshals it.
func Encode(typ Type, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s payload: %w", typ, err)
	}
	return json.Marshal(Message{Type: typ, Payload: payload})
}

// Decode unmarshals a raw frame into its envelope without decoding the
// inner payload; callers switch on Type and call the matching DecodeX.
func Decode(frame []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(frame, &m); err != nil {
		return Message{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	return m, nil
}

func (m Message) DecodeChainInfo() (ChainInfo, error) {
	var v ChainInfo
	err := json.Unmarshal(m.Payload, &v)
	return v, err
}

func (m Message) DecodeRequestBlocks() (RequestBlocks, error) {
	var v RequestBlocks
	err := json.Unmarshal(m.Payload, &v)
	return v, err
}

func (m Message) DecodeResponseBlocks() (ResponseBlocks, error) {
	var v ResponseBlocks
	err := json.Unmarshal(m.Payload, &v)
	return v, err
}

func (m Message) DecodeNewPayload() (NewPayload, error) {
	var v NewPayload
	err := json.Unmarshal(m.Payload, &v)
	return v, err
}
