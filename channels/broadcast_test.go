package channels

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBroadcastDeliversToEveryReceiver(t *testing.T) {
	b := NewBroadcast[int]("numbers")
	first := b.NewReceiver(0)
	second := b.NewReceiver(0)
	sender := b.NewSender()

	for _, v := range []int{1, 2, 3} {
		if err := sender.Send(v); err != nil {
			t.Fatalf("Send(%d): %v", v, err)
		}
	}

	for _, recv := range []*Receiver[int]{first, second} {
		for _, want := range []int{1, 2, 3} {
			got, err := recv.Receive(context.Background())
			if err != nil {
				t.Fatalf("Receive: %v", err)
			}
			if got != want {
				t.Fatalf("Receive = %d, want %d", got, want)
			}
		}
	}
}

func TestBroadcastNoHistoryForNewReceivers(t *testing.T) {
	b := NewBroadcast[string]("history")
	sender := b.NewSender()

	if err := sender.Send("before"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	recv := b.NewReceiver(0)
	if err := sender.Send("after"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := recv.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got != "after" {
		t.Fatalf("Receive = %q, want %q (no historical samples)", got, "after")
	}
}

func TestBroadcastDropsOldestOnOverflow(t *testing.T) {
	b := NewBroadcast[int]("overflow")
	recv := b.NewReceiver(2)
	sender := b.NewSender()

	for v := 1; v <= 3; v++ {
		if err := sender.Send(v); err != nil {
			t.Fatalf("Send(%d): %v", v, err)
		}
	}

	// The queue held 1 and 2 when 3 arrived; 1 was dropped for it.
	for _, want := range []int{2, 3} {
		got, err := recv.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		if got != want {
			t.Fatalf("Receive = %d, want %d", got, want)
		}
	}
}

func TestBroadcastClose(t *testing.T) {
	b := NewBroadcast[int]("closing")
	recv := b.NewReceiver(0)
	sender := b.NewSender()

	if err := sender.Send(7); err != nil {
		t.Fatalf("Send: %v", err)
	}
	b.Close()
	b.Close() // idempotent

	if err := sender.Send(8); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Close = %v, want ErrClosed", err)
	}

	// Buffered values drain before the closed signal.
	got, err := recv.Receive(context.Background())
	if err != nil {
		t.Fatalf("Receive buffered value: %v", err)
	}
	if got != 7 {
		t.Fatalf("Receive = %d, want 7", got)
	}
	if _, err := recv.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Receive after drain = %v, want ErrClosed", err)
	}
}

func TestReceiverCloseUnsubscribes(t *testing.T) {
	b := NewBroadcast[int]("unsubscribe")
	recv := b.NewReceiver(0)
	keeper := b.NewReceiver(0)
	sender := b.NewSender()

	recv.Close()
	recv.Close() // idempotent

	if err := sender.Send(1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := recv.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Receive on closed receiver = %v, want ErrClosed", err)
	}
	if got, err := keeper.Receive(context.Background()); err != nil || got != 1 {
		t.Fatalf("keeper Receive = %d, %v, want 1, nil", got, err)
	}
}

func TestReceiveHonoursContext(t *testing.T) {
	b := NewBroadcast[int]("context")
	recv := b.NewReceiver(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := recv.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Receive = %v, want deadline exceeded", err)
	}
}
