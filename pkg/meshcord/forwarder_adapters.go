package meshcord

import (
	"context"
	"fmt"
	"sync"

	"github.com/sargonas/meshcord/internal/ports"
)

// ChunkSink receives formatted message chunks in delivery order.
type ChunkSink func(ctx context.Context, chunk string) error

// ErrChannelForwarderClosed is returned when a channel forwarder is sent to
// after being closed. It wraps ErrDeliveryRejected so the delivery worker
// abandons the message instead of retrying.
var ErrChannelForwarderClosed = fmt.Errorf("meshcord: channel forwarder closed: %w", ports.ErrDeliveryRejected)

// NewCallbackForwarder adapts a ChunkSink into a full ports.Forwarder
// implementation so callers can plug arbitrary functions without defining
// structs. maxChunk bounds the formatter's chunk size; values below one fall
// back to 1900.
func NewCallbackForwarder(name string, maxChunk int, fn ChunkSink) Forwarder {
	if name == "" {
		name = "callback"
	}
	if maxChunk < 1 {
		maxChunk = 1900
	}
	return &callbackForwarder{name: name, max: maxChunk, fn: fn}
}

// NewChannelForwarder exposes chunks via a channel; it returns the forwarder,
// the read-only channel, and a close function that the caller should invoke
// during shutdown.
func NewChannelForwarder(name string, buffer, maxChunk int) (Forwarder, <-chan string, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	if maxChunk < 1 {
		maxChunk = 1900
	}
	ch := make(chan string, buffer)
	f := &channelForwarder{
		name:   name,
		max:    maxChunk,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return f, ch, func() { f.close() }
}

type callbackForwarder struct {
	name string
	max  int
	fn   ChunkSink
}

func (f *callbackForwarder) Send(ctx context.Context, chunk string) error {
	if f.fn == nil {
		return fmt.Errorf("callback forwarder %q: nil handler", f.name)
	}
	return f.fn(ctx, chunk)
}

func (f *callbackForwarder) MaxChunkSize() int { return f.max }

func (f *callbackForwarder) Name() string { return f.name }

type channelForwarder struct {
	name   string
	max    int
	ch     chan string
	closed chan struct{}
	once   sync.Once
}

func (f *channelForwarder) Send(ctx context.Context, chunk string) error {
	select {
	case <-f.closed:
		return ErrChannelForwarderClosed
	default:
	}

	select {
	case <-f.closed:
		return ErrChannelForwarderClosed
	case <-ctx.Done():
		return ctx.Err()
	case f.ch <- chunk:
		return nil
	}
}

func (f *channelForwarder) MaxChunkSize() int { return f.max }

func (f *channelForwarder) Name() string { return f.name }

func (f *channelForwarder) close() {
	f.once.Do(func() {
		close(f.closed)
		close(f.ch)
	})
}
