// Package transport is the thin concrete libp2p adapter the rest of the
// repository treats as an abstract collaborator (spec section 1: "Gossip/
// transport, peer discovery, request-response wire codecs"). It demonstrates
// how gossip topics for miner blocks and validator certificates, and a
// request-response sync.Peer implementation, bind to a real libp2p host —
// core components never import this package directly, only the node package
// wires it in.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

// Host wraps a libp2p host and gossipsub router, following core/network.go's
// Node shape: one host, one pubsub instance, topic/subscription maps guarded
// by their own locks.
type Host struct {
	host   host.Host
	pubsub *pubsub.PubSub
	log    *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc

	topicMu sync.Mutex
	topics  map[string]*pubsub.Topic

	subMu sync.Mutex
	subs  map[string]*pubsub.Subscription

	streamTimeout time.Duration
}

// New creates a libp2p host listening on listenAddr and wires a gossipsub
// router over it, mirroring core.NewNode's libp2p.New + pubsub.NewGossipSub
// sequence.
func New(listenAddr string, log *logrus.Logger) (*Host, error) {
	if log == nil {
		log = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("transport: create pubsub: %w", err)
	}

	return &Host{
		host:          h,
		pubsub:        ps,
		log:           log,
		ctx:           ctx,
		cancel:        cancel,
		topics:        make(map[string]*pubsub.Topic),
		subs:          make(map[string]*pubsub.Subscription),
		streamTimeout: 10 * time.Second,
	}, nil
}

// ID returns this host's libp2p peer ID as a string, the same value peers
// address it by in sync.Peer.ID.
func (h *Host) ID() string { return h.host.ID().String() }

// Connect dials a peer at the given multiaddress string.
func (h *Host) Connect(ctx context.Context, addr string) error {
	pi, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("transport: invalid peer address %q: %w", addr, err)
	}
	if err := h.host.Connect(ctx, *pi); err != nil {
		return fmt.Errorf("transport: connect to %s: %w", addr, err)
	}
	return nil
}

// Close tears down the pubsub subscriptions, the libp2p host, and cancels
// the host's background context.
func (h *Host) Close() error {
	h.cancel()
	h.subMu.Lock()
	for _, s := range h.subs {
		s.Cancel()
	}
	h.subMu.Unlock()
	return h.host.Close()
}

// joinTopic returns (creating if necessary) the pubsub topic handle for
// name, following Node.Broadcast's lazy-join pattern.
func (h *Host) joinTopic(name string) (*pubsub.Topic, error) {
	h.topicMu.Lock()
	defer h.topicMu.Unlock()
	if t, ok := h.topics[name]; ok {
		return t, nil
	}
	t, err := h.pubsub.Join(name)
	if err != nil {
		return nil, fmt.Errorf("transport: join topic %s: %w", name, err)
	}
	h.topics[name] = t
	return t, nil
}

func (h *Host) publish(ctx context.Context, topicName string, data []byte) error {
	t, err := h.joinTopic(topicName)
	if err != nil {
		return err
	}
	if err := t.Publish(ctx, data); err != nil {
		return fmt.Errorf("transport: publish on %s: %w", topicName, err)
	}
	return nil
}

// subscribe subscribes to topicName and returns a raw byte channel fed by a
// pump goroutine, following Node.Subscribe's lazy-subscribe-then-pump-goroutine
// pattern. A second subscribe to the same topic returns an error.
func (h *Host) subscribe(topicName string) (<-chan []byte, error) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	if _, ok := h.subs[topicName]; ok {
		return nil, fmt.Errorf("transport: already subscribed to %s", topicName)
	}
	t, err := h.joinTopic(topicName)
	if err != nil {
		return nil, err
	}
	sub, err := t.Subscribe()
	if err != nil {
		return nil, fmt.Errorf("transport: subscribe to %s: %w", topicName, err)
	}
	h.subs[topicName] = sub

	out := make(chan []byte)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(h.ctx)
			if err != nil {
				h.log.WithError(err).WithField("topic", topicName).Warn("transport: subscription closed")
				return
			}
			if msg.ReceivedFrom == h.host.ID() {
				continue
			}
			select {
			case out <- msg.Data:
			case <-h.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
