package sessionclient

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// pubsubNotifier is the primary low-latency channel: one redis PUBLISH per
// signal, fanned out to every subscribed sibling.
type pubsubNotifier struct {
	client  redis.UniversalClient
	channel string

	mu   sync.Mutex
	subs []*redis.PubSub
}

func newPubSubNotifier(client redis.UniversalClient, profile string) *pubsubNotifier {
	return &pubsubNotifier{
		client:  client,
		channel: channelName(profile),
	}
}

func (n *pubsubNotifier) Publish(ctx context.Context, sig Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

func (n *pubsubNotifier) Subscribe(ctx context.Context) (<-chan Signal, error) {
	ps := n.client.Subscribe(ctx, n.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	n.mu.Lock()
	n.subs = append(n.subs, ps)
	n.mu.Unlock()

	out := make(chan Signal, 16)
	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var sig Signal
				if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
					slog.Debug("discarding malformed cross-tab signal", "error", err)
					continue
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					_ = ps.Close()
					return
				}
			}
		}
	}()
	return out, nil
}

func (n *pubsubNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ps := range n.subs {
		_ = ps.Close()
	}
	n.subs = nil
	return nil
}

const defaultPollInterval = 250 * time.Millisecond

// keyNotifier is the fallback channel for environments where SUBSCRIBE is
// unavailable. A publish writes the signal to a shared per-profile key and
// bumps a version counter; siblings poll the counter and re-read the key on
// change. Only the latest signal between two polls is observed, which is
// acceptable for a best-effort channel.
type keyNotifier struct {
	client redis.UniversalClient
	key    string
	verKey string
	poll   time.Duration
}

func newKeyNotifier(client redis.UniversalClient, profile string, poll time.Duration) *keyNotifier {
	if poll <= 0 {
		poll = defaultPollInterval
	}
	base := channelName(profile)
	return &keyNotifier{
		client: client,
		key:    base + ":last",
		verKey: base + ":ver",
		poll:   poll,
	}
}

func (n *keyNotifier) Publish(ctx context.Context, sig Signal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	pipe := n.client.TxPipeline()
	pipe.Set(ctx, n.key, payload, time.Hour)
	pipe.Incr(ctx, n.verKey)
	_, err = pipe.Exec(ctx)
	return err
}

func (n *keyNotifier) Subscribe(ctx context.Context) (<-chan Signal, error) {
	// Changes before this point are history, not events.
	last, err := n.currentVersion(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan Signal, 16)
	go func() {
		defer close(out)
		ticker := time.NewTicker(n.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			ver, err := n.currentVersion(ctx)
			if err != nil || ver == last {
				continue
			}
			last = ver
			raw, err := n.client.Get(ctx, n.key).Result()
			if err != nil {
				continue
			}
			var sig Signal
			if err := json.Unmarshal([]byte(raw), &sig); err != nil {
				slog.Debug("discarding malformed cross-tab signal", "error", err)
				continue
			}
			select {
			case out <- sig:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (n *keyNotifier) currentVersion(ctx context.Context) (int64, error) {
	raw, err := n.client.Get(ctx, n.verKey).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Close is a no-op; poll loops stop with their subscription context.
func (n *keyNotifier) Close() error { return nil }
