package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"modalnode/model"
	"modalnode/sync"
)

// Protocol IDs for the three sync wire messages of section 6, following
// PeerManagement.SendAsync's protocol.ID(proto) convention.
const (
	protoChainInfo    protocol.ID = "/modalnode/chaininfo/1.0.0"
	protoFindAncestor protocol.ID = "/modalnode/findancestor/1.0.0"
	protoBlocksRange  protocol.ID = "/modalnode/blocksrange/1.0.0"
)

// findAncestorRequest is the wire body for protoFindAncestor.
type findAncestorRequest struct {
	Checkpoints []sync.Checkpoint `json:"checkpoints"`
}

// blocksRangeRequest is the wire body for protoBlocksRange.
type blocksRangeRequest struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// PeerService is the local handler a Host serves the three sync protocols
// against — the node package's bridge from incoming streams to
// sync.Coordinator.LocalChainState and Observer's block lookups. Its method
// set matches sync.Peer exactly (minus ID, which is transport-level), so any
// type capable of answering a remote peer's sync queries can also satisfy
// sync.Peer for the reverse direction.
type PeerService interface {
	ChainInfo(ctx context.Context) (sync.ChainInfo, error)
	FindAncestor(ctx context.Context, checkpoints []sync.Checkpoint) (sync.FindAncestorResponse, error)
	BlocksRange(ctx context.Context, from, to uint64) ([]*model.MinerBlock, error)
}

// ServePeerRequests registers stream handlers for the three sync protocols,
// each backed by svc. Call once per Host; re-registering replaces the
// previous handlers.
func (h *Host) ServePeerRequests(svc PeerService) {
	h.host.SetStreamHandler(protoChainInfo, func(s network.Stream) {
		defer s.Close()
		info, err := svc.ChainInfo(h.ctx)
		if err != nil {
			h.log.WithError(err).Warn("transport: chain_info handler failed")
			return
		}
		if err := writeJSON(s, info); err != nil {
			h.log.WithError(err).Warn("transport: chain_info response write failed")
		}
	})

	h.host.SetStreamHandler(protoFindAncestor, func(s network.Stream) {
		defer s.Close()
		var req findAncestorRequest
		if err := readJSON(s, &req); err != nil {
			h.log.WithError(err).Warn("transport: find_ancestor request read failed")
			return
		}
		resp, err := svc.FindAncestor(h.ctx, req.Checkpoints)
		if err != nil {
			h.log.WithError(err).Warn("transport: find_ancestor handler failed")
			return
		}
		if err := writeJSON(s, resp); err != nil {
			h.log.WithError(err).Warn("transport: find_ancestor response write failed")
		}
	})

	h.host.SetStreamHandler(protoBlocksRange, func(s network.Stream) {
		defer s.Close()
		var req blocksRangeRequest
		if err := readJSON(s, &req); err != nil {
			h.log.WithError(err).Warn("transport: blocks_range request read failed")
			return
		}
		blocks, err := svc.BlocksRange(h.ctx, req.From, req.To)
		if err != nil {
			h.log.WithError(err).Warn("transport: blocks_range handler failed")
			return
		}
		if err := writeJSON(s, blocks); err != nil {
			h.log.WithError(err).Warn("transport: blocks_range response write failed")
		}
	})
}

// StreamPeer is the concrete sync.Peer implementation this package
// contributes: each Peer method opens one libp2p stream, writes a JSON
// request (chain_info has none), half-closes the write side, and decodes a
// JSON response. This is the request-response counterpart to
// PeerManagement.SendAsync's fire-and-forget stream write in
// core/peer_management.go.
type StreamPeer struct {
	host    *Host
	id      peer.ID
	timeout time.Duration
}

// NewStreamPeer builds a sync.Peer that talks to the peer at peerID over h.
func NewStreamPeer(h *Host, peerID string) (*StreamPeer, error) {
	pid, err := peer.Decode(peerID)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid peer id %q: %w", peerID, err)
	}
	timeout := h.streamTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StreamPeer{host: h, id: pid, timeout: timeout}, nil
}

func (p *StreamPeer) ID() string { return p.id.String() }

func (p *StreamPeer) ChainInfo(ctx context.Context) (sync.ChainInfo, error) {
	var resp sync.ChainInfo
	if err := p.roundTrip(ctx, protoChainInfo, nil, &resp); err != nil {
		return sync.ChainInfo{}, err
	}
	return resp, nil
}

func (p *StreamPeer) FindAncestor(ctx context.Context, checkpoints []sync.Checkpoint) (sync.FindAncestorResponse, error) {
	var resp sync.FindAncestorResponse
	req := findAncestorRequest{Checkpoints: checkpoints}
	if err := p.roundTrip(ctx, protoFindAncestor, req, &resp); err != nil {
		return sync.FindAncestorResponse{}, err
	}
	return resp, nil
}

func (p *StreamPeer) BlocksRange(ctx context.Context, from, to uint64) ([]*model.MinerBlock, error) {
	var resp []*model.MinerBlock
	req := blocksRangeRequest{From: from, To: to}
	if err := p.roundTrip(ctx, protoBlocksRange, req, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// roundTrip opens a stream to p over protoID, optionally writes req as JSON
// (skipped when req is nil), half-closes the write side so the remote's
// reader sees EOF after one message, and decodes the response into resp.
func (p *StreamPeer) roundTrip(ctx context.Context, protoID protocol.ID, req any, resp any) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	s, err := p.host.host.NewStream(ctx, p.id, protoID)
	if err != nil {
		return fmt.Errorf("transport: open stream %s to %s: %w", protoID, p.id, err)
	}
	defer s.Close()

	if req != nil {
		if err := writeJSON(s, req); err != nil {
			return fmt.Errorf("transport: write request on %s: %w", protoID, err)
		}
	}
	if err := s.CloseWrite(); err != nil {
		return fmt.Errorf("transport: close write on %s: %w", protoID, err)
	}
	if err := readJSON(s, resp); err != nil {
		return fmt.Errorf("transport: read response on %s: %w", protoID, err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func readJSON(r io.Reader, v any) error {
	return json.NewDecoder(bufio.NewReader(r)).Decode(v)
}
