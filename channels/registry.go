package channels

import (
	"fmt"
	"sync"
)

// A Registry dynamically creates, owns and provides access to broadcast
// channels addressed by string keys. It can be used by workers to establish a
// communication channel between each other without holding references: both
// sides ask the registry for the same key and get endpoints of the same
// channel.
//
// A single registry carries heterogeneously-typed channels; the first
// SenderFor or ReceiverFor call for a key commits the channel to its payload
// type, and later calls with a different type for the same key fail. The
// registry's map is guarded by a mutex whose critical sections are O(1);
// channels live until the registry is garbage.
type Registry struct {
	name       string
	queueDepth int

	mu       sync.Mutex
	channels map[string]any
}

// NewRegistry returns a registry with the given unique name. Channels created
// by the registry are named "{registry_name}-{key}" and their receivers get
// queues of the given depth (non-positive selects DefaultQueueDepth).
func NewRegistry(name string, queueDepth int) *Registry {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Registry{
		name:       name,
		queueDepth: queueDepth,
		channels:   make(map[string]any),
	}
}

// Name returns the registry's unique name.
func (r *Registry) Name() string { return r.name }

// channelFor returns the broadcast channel stored under key, creating it when
// the key is unknown. It fails when the key is already committed to another
// payload type.
func channelFor[T any](r *Registry, key string) (*Broadcast[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.channels[key]
	if !ok {
		ch := NewBroadcast[T](fmt.Sprintf("%s-%s", r.name, key))
		r.channels[key] = ch
		return ch, nil
	}
	ch, ok := existing.(*Broadcast[T])
	if !ok {
		return nil, fmt.Errorf("channels: key %q already carries payload type %T", key, existing)
	}
	return ch, nil
}

// SenderFor returns a sender to the dynamically created channel with the
// given key. Repeated calls with the same key address the same channel.
func SenderFor[T any](r *Registry, key string) (*Sender[T], error) {
	ch, err := channelFor[T](r, key)
	if err != nil {
		return nil, err
	}
	return ch.NewSender(), nil
}

// ReceiverFor returns a receiver of the dynamically created channel with the
// given key. Repeated calls with the same key address the same channel; each
// call subscribes a fresh receiver.
func ReceiverFor[T any](r *Registry, key string) (*Receiver[T], error) {
	ch, err := channelFor[T](r, key)
	if err != nil {
		return nil, err
	}
	return ch.NewReceiver(r.queueDepth), nil
}
