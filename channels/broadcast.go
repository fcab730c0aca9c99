// Package channels provides the in-process communication fabric of the
// microgrid runtime: typed broadcast channels and a dynamic registry that
// creates and shares them by string key. Independent workers establish
// communication paths by agreeing on a key instead of holding references to
// each other.
package channels

import (
	"context"
	"errors"
	"sync"
)

// DefaultQueueDepth bounds the per-receiver queue of a broadcast channel when
// the subscriber does not ask for a specific limit.
const DefaultQueueDepth = 50

// ErrClosed is returned by Send and Receive after the broadcast channel has
// been closed.
var ErrClosed = errors.New("channels: broadcast channel closed")

// A Broadcast is a named channel delivering every published value to every
// live receiver. Receivers observe values in publish order, starting from the
// first publish after their own creation; historical values are not replayed.
//
// Each receiver has its own bounded queue. A slow receiver never blocks
// senders: on overflow, the receiver's oldest buffered value is dropped.
type Broadcast[T any] struct {
	name string

	mu        sync.Mutex
	receivers map[*Receiver[T]]struct{}
	closed    bool
}

// NewBroadcast returns a broadcast channel with the given name. The name only
// serves diagnostics.
func NewBroadcast[T any](name string) *Broadcast[T] {
	return &Broadcast[T]{
		name:      name,
		receivers: make(map[*Receiver[T]]struct{}),
	}
}

// Name returns the channel's diagnostic name.
func (b *Broadcast[T]) Name() string { return b.name }

// NewSender returns a sender endpoint of the channel. All senders of a
// channel are equivalent.
func (b *Broadcast[T]) NewSender() *Sender[T] {
	return &Sender[T]{b: b}
}

// NewReceiver subscribes a new receiver with the given queue limit; a
// non-positive limit selects DefaultQueueDepth. The receiver only observes
// values published after this call returns.
func (b *Broadcast[T]) NewReceiver(limit int) *Receiver[T] {
	if limit <= 0 {
		limit = DefaultQueueDepth
	}
	r := &Receiver[T]{b: b, ch: make(chan T, limit)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(r.ch)
		return r
	}
	b.receivers[r] = struct{}{}
	return r
}

// Close tears the channel down: every receiver's queue channel is closed
// after the already-buffered values drain. Close is idempotent; sends after
// Close return ErrClosed.
func (b *Broadcast[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for r := range b.receivers {
		close(r.ch)
	}
	b.receivers = nil
}

func (b *Broadcast[T]) send(v T) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for r := range b.receivers {
		select {
		case r.ch <- v:
		default:
			// The receiver's queue is full: drop its oldest buffered value to
			// make room. The receiver may concurrently drain the queue, so
			// both steps stay non-blocking.
			select {
			case <-r.ch:
			default:
			}
			select {
			case r.ch <- v:
			default:
			}
		}
	}
	return nil
}

func (b *Broadcast[T]) unsubscribe(r *Receiver[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if _, ok := b.receivers[r]; ok {
		delete(b.receivers, r)
		close(r.ch)
	}
}

// A Sender publishes values into a broadcast channel.
type Sender[T any] struct {
	b *Broadcast[T]
}

// Send publishes v to every live receiver of the channel. It never blocks; a
// receiver whose queue is full loses its oldest buffered value instead. Send
// returns ErrClosed after the channel has been closed.
func (s *Sender[T]) Send(v T) error {
	return s.b.send(v)
}

// A Receiver consumes values from a broadcast channel.
type Receiver[T any] struct {
	b  *Broadcast[T]
	ch chan T
}

// C exposes the receiver's queue for use in select loops. The channel is
// closed (after draining) when the broadcast channel closes or the receiver
// unsubscribes, so reads must check the second return value.
func (r *Receiver[T]) C() <-chan T { return r.ch }

// Receive returns the next value, blocking until one is available, the
// context is done, or the channel is closed.
func (r *Receiver[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-r.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close unsubscribes the receiver from the channel. Values already buffered
// remain readable from C until it drains. Close is idempotent.
func (r *Receiver[T]) Close() {
	r.b.unsubscribe(r)
}
