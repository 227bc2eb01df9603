package sink

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Push after Close, and by Receive once a closed
// conduit is drained.
var ErrClosed = errors.New("conduit closed")

// Conduit is an unbounded FIFO of messages for one sink. Push never blocks;
// a single receiver takes messages in push order.
type Conduit struct {
	mu     sync.Mutex
	queue  []string
	closed bool

	notify chan struct{}
	done   chan struct{}
}

func NewConduit() *Conduit {
	return &Conduit{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (c *Conduit) Push(msg string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive blocks until a message is available, the conduit is closed and
// drained, or ctx is done.
func (c *Conduit) Receive(ctx context.Context) (string, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue[0] = ""
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, nil
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return "", ErrClosed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.notify:
		case <-c.done:
		}
	}
}

// Close stops accepting messages. Queued messages can still be received.
func (c *Conduit) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.done)
}

func (c *Conduit) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
