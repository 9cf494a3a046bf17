// Package stream delivers rendered live frames to MJPEG and websocket viewers.
package stream

import (
	"sync"

	"signserver/internal/pipeline"
)

// Broadcaster hands the latest JPEG to every MJPEG subscriber. Subscribers
// that fall behind only ever see the newest frame.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan []byte]struct{}
	latest []byte
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan []byte]struct{})}
}

// Subscribe returns a channel of JPEG frames and a function that ends the
// subscription. The channel is closed by cancel.
func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, 1)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	if b.latest != nil {
		ch <- b.latest
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

func (b *Broadcaster) Publish(f pipeline.LiveFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.latest = f.JPEG
	for ch := range b.subs {
		select {
		case ch <- f.JPEG:
		default:
			// drop the stale frame, keep the newest
			select {
			case <-ch:
			default:
			}
			ch <- f.JPEG
		}
	}
}

// Latest returns the most recent frame, or nil before the first one.
func (b *Broadcaster) Latest() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
