package sink

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Console writes each message to w, followed by a blank line.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Deliver(_ context.Context, msg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.w, "%s\n\n", msg); err != nil {
		return fmt.Errorf("write console: %w", err)
	}
	return nil
}
