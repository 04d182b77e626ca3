package node

import (
	"context"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/quarrypool/quarry/pkg/log"
)

// BlockNotifier subscribes to the node's ZMQ hashblock feed so the pool
// can refresh work the moment a new block appears instead of waiting for
// the next template poll.
type BlockNotifier struct {
	socket   *zmq.Socket
	endpoint string
	logger   *log.Logger
}

// NewBlockNotifier creates a notifier for the given ZMQ endpoint.
func NewBlockNotifier(endpoint string, logger *log.Logger) (*BlockNotifier, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, fmt.Errorf("failed to create ZMQ socket: %w", err)
	}

	return &BlockNotifier{
		socket:   socket,
		endpoint: endpoint,
		logger:   logger.WithComponent("zmq"),
	}, nil
}

// Listen connects, subscribes to hashblock, and invokes onBlock for every
// notification until the context is cancelled.
func (n *BlockNotifier) Listen(ctx context.Context, onBlock func(blockHash string)) error {
	if err := n.socket.SetSubscribe("hashblock"); err != nil {
		return fmt.Errorf("failed to subscribe to hashblock: %w", err)
	}
	if err := n.socket.Connect(n.endpoint); err != nil {
		return fmt.Errorf("failed to connect to ZMQ endpoint %s: %w", n.endpoint, err)
	}
	if err := n.socket.SetRcvtimeo(time.Second); err != nil {
		return fmt.Errorf("failed to set receive timeout: %w", err)
	}

	n.logger.Info("ZMQ block listener started", "endpoint", n.endpoint)

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("ZMQ block listener stopping")
			return ctx.Err()
		default:
		}

		msg, err := n.socket.RecvMessageBytes(0)
		if err != nil {
			// Receive timeout, loop back and check for cancellation.
			continue
		}

		if len(msg) < 2 {
			n.logger.Warn("Malformed ZMQ message", "parts", len(msg))
			continue
		}

		topic := string(msg[0])
		if topic != "hashblock" {
			continue
		}
		if len(msg[1]) != 32 {
			n.logger.Warn("Invalid block hash length", "length", len(msg[1]))
			continue
		}

		blockHash := reverseHex(msg[1])
		n.logger.Info("New block notification", "hash", blockHash)
		onBlock(blockHash)
	}
}

// Close releases the ZMQ socket.
func (n *BlockNotifier) Close() error {
	if n.socket != nil {
		return n.socket.Close()
	}
	return nil
}

// reverseHex renders a hash in display order. ZMQ delivers hashes in wire
// byte order, reversed from the usual hex form.
func reverseHex(data []byte) string {
	reversed := make([]byte, len(data))
	for i := range data {
		reversed[i] = data[len(data)-1-i]
	}
	return fmt.Sprintf("%x", reversed)
}
