package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"modalnode/model"
)

// Gossip topic names for the two broadcast classes the node needs, section
// 6's "gossip topics for miner blocks and validator certificates".
const (
	TopicMinerBlocks           = "modalnode/miner-blocks/1.0.0"
	TopicValidatorCertificates = "modalnode/validator-certificates/1.0.0"
)

// BroadcastMinerBlock gossips a mined block on the miner-blocks topic,
// following Node.BroadcastOrphanBlock's json.Marshal-then-Publish shape.
func (h *Host) BroadcastMinerBlock(ctx context.Context, b *model.MinerBlock) error {
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("transport: marshal miner block: %w", err)
	}
	return h.publish(ctx, TopicMinerBlocks, data)
}

// SubscribeMinerBlocks joins the miner-blocks topic and decodes each message
// into a *model.MinerBlock, following Node.SubscribeOrphanBlocks's
// decode-in-a-pump-goroutine shape. Malformed payloads are logged and
// dropped rather than closing the channel.
func (h *Host) SubscribeMinerBlocks() (<-chan *model.MinerBlock, error) {
	raw, err := h.subscribe(TopicMinerBlocks)
	if err != nil {
		return nil, err
	}
	out := make(chan *model.MinerBlock)
	go func() {
		defer close(out)
		for data := range raw {
			var b model.MinerBlock
			if err := json.Unmarshal(data, &b); err != nil {
				h.log.WithError(err).Warn("transport: dropping malformed miner block")
				continue
			}
			select {
			case out <- &b:
			case <-h.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// BroadcastCertificate gossips a BFT certificate on the
// validator-certificates topic.
func (h *Host) BroadcastCertificate(ctx context.Context, c *model.Certificate) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("transport: marshal certificate: %w", err)
	}
	return h.publish(ctx, TopicValidatorCertificates, data)
}

// SubscribeCertificates joins the validator-certificates topic and decodes
// each message into a *model.Certificate.
func (h *Host) SubscribeCertificates() (<-chan *model.Certificate, error) {
	raw, err := h.subscribe(TopicValidatorCertificates)
	if err != nil {
		return nil, err
	}
	out := make(chan *model.Certificate)
	go func() {
		defer close(out)
		for data := range raw {
			var c model.Certificate
			if err := json.Unmarshal(data, &c); err != nil {
				h.log.WithError(err).Warn("transport: dropping malformed certificate")
				continue
			}
			select {
			case out <- &c:
			case <-h.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
