package sessionclient

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Notifier is the cross-tab broadcast channel. Delivery is best-effort and
// at-most-once per subscriber; the same logical event may arrive over more
// than one channel, which the store's invalidated flag absorbs.
type Notifier interface {
	Publish(ctx context.Context, sig Signal) error
	Subscribe(ctx context.Context) (<-chan Signal, error)
	Close() error
}

// NewNotifier picks the delivery mechanism by probing capabilities at
// construction time: redis pub/sub when SUBSCRIBE works, otherwise the
// shared-key polling fallback. The profile string namespaces sibling tabs of
// one browsing context.
func NewNotifier(ctx context.Context, client redis.UniversalClient, profile string) (Notifier, error) {
	if client == nil {
		return nil, errors.New("sessionclient: nil redis client")
	}
	probe := client.Subscribe(ctx, channelName(profile))
	if _, err := probe.Receive(ctx); err == nil {
		_ = probe.Close()
		return newPubSubNotifier(client, profile), nil
	}
	_ = probe.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return newKeyNotifier(client, profile, 0), nil
}

func channelName(profile string) string {
	if profile == "" {
		profile = "default"
	}
	return "sessions:" + profile
}

// memoryNotifier is an in-process loopback hub for tests and single-process
// use. Every published signal fans out to every subscriber, the publisher's
// own included.
type memoryNotifier struct {
	mu     sync.Mutex
	subs   []chan Signal
	closed bool
}

func NewMemoryNotifier() Notifier {
	return &memoryNotifier{}
}

func (m *memoryNotifier) Publish(ctx context.Context, sig Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("sessionclient: notifier closed")
	}
	for _, ch := range m.subs {
		select {
		case ch <- sig:
		default:
			// Slow subscriber; broadcast is best-effort.
		}
	}
	return nil
}

func (m *memoryNotifier) Subscribe(ctx context.Context) (<-chan Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("sessionclient: notifier closed")
	}
	ch := make(chan Signal, 16)
	m.subs = append(m.subs, ch)

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.subs {
			if sub == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				close(ch)
				break
			}
		}
	}()
	return ch, nil
}

func (m *memoryNotifier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.subs {
		close(ch)
	}
	m.subs = nil
	return nil
}
