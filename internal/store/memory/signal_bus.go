package memory

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/yieldbet/internal/domain"
)

const subscriberBuffer = 100

// SignalBus implements domain.SignalBus in process. Channel patterns ending
// in "*" match by prefix. Slow subscribers drop messages.
type SignalBus struct {
	mu      sync.RWMutex
	subs    map[string][]chan []byte
	streams map[string][]domain.StreamMessage
}

// NewSignalBus creates an empty bus.
func NewSignalBus() *SignalBus {
	return &SignalBus{
		subs:    make(map[string][]chan []byte),
		streams: make(map[string][]domain.StreamMessage),
	}
}

// Publish delivers payload to every matching subscriber.
func (b *SignalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for pattern, chans := range b.subs {
		if !matches(pattern, channel) {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- payload:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel that is closed when ctx ends.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[channel]
		for i, c := range chans {
			if c == ch {
				b.subs[channel] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// StreamAppend adds payload to stream with ids "<n>-0".
func (b *SignalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	msgs := b.streams[stream]
	id := strconv.Itoa(len(msgs)+1) + "-0"
	b.streams[stream] = append(msgs, domain.StreamMessage{ID: id, Payload: payload})
	return nil
}

// StreamRead returns up to count entries after lastID. "0" or "" reads from
// the start.
func (b *SignalBus) StreamRead(_ context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := 0
	if lastID != "" && lastID != "0" {
		n, err := strconv.Atoi(strings.TrimSuffix(lastID, "-0"))
		if err == nil {
			start = n
		}
	}
	msgs := b.streams[stream]
	if start >= len(msgs) {
		return nil, nil
	}
	out := msgs[start:]
	if count > 0 && count < len(out) {
		out = out[:count]
	}
	return append([]domain.StreamMessage(nil), out...), nil
}

func matches(pattern, channel string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == channel
}
