package meshcord

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCallbackForwarder(t *testing.T) {
	var got []string
	fwd := NewCallbackForwarder("cb", 256, func(_ context.Context, chunk string) error {
		got = append(got, chunk)
		return nil
	})

	if err := fwd.Send(context.Background(), "hello mesh"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if len(got) != 1 || got[0] != "hello mesh" {
		t.Fatalf("unexpected chunks: %q", got)
	}
	if fwd.Name() != "cb" {
		t.Fatalf("unexpected name %q", fwd.Name())
	}
	if fwd.MaxChunkSize() != 256 {
		t.Fatalf("unexpected max chunk size %d", fwd.MaxChunkSize())
	}
}

func TestNewCallbackForwarderDefaults(t *testing.T) {
	fwd := NewCallbackForwarder("", 0, nil)
	if err := fwd.Send(context.Background(), "x"); err == nil {
		t.Fatal("expected error when callback is nil")
	}
	if fwd.Name() != "callback" {
		t.Fatalf("expected default name, got %q", fwd.Name())
	}
	if fwd.MaxChunkSize() != 1900 {
		t.Fatalf("expected default chunk size, got %d", fwd.MaxChunkSize())
	}
}

func TestNewChannelForwarder(t *testing.T) {
	fwd, ch, closeFn := NewChannelForwarder("chan", 1, 0)
	defer closeFn()

	errCh := make(chan error, 1)
	go func() {
		errCh <- fwd.Send(context.Background(), "chunk-1")
	}()

	var chunk string
	select {
	case chunk = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for chunk")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if chunk != "chunk-1" {
		t.Fatalf("unexpected chunk %q", chunk)
	}

	closeFn()
	err := fwd.Send(context.Background(), "chunk-2")
	if !errors.Is(err, ErrChannelForwarderClosed) {
		t.Fatalf("expected ErrChannelForwarderClosed, got %v", err)
	}
	if !errors.Is(err, ErrDeliveryRejected) {
		t.Fatalf("expected a closed forwarder to reject permanently, got %v", err)
	}
}

func TestChannelForwarderHonorsContext(t *testing.T) {
	fwd, _, closeFn := NewChannelForwarder("chan", 0, 0)
	defer closeFn()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := fwd.Send(ctx, "chunk"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
