package camera

import (
	"sync"
)

// Broadcaster fans preview JPEG frames out to any number of viewers. Slow
// viewers miss frames instead of blocking the stream.
type Broadcaster struct {
	lock sync.Mutex
	next int
	subs map[int]chan []byte
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan []byte)}
}

// Subscribe returns a frame channel and the func that closes it.
func (b *Broadcaster) Subscribe() (<-chan []byte, func()) {
	b.lock.Lock()
	defer b.lock.Unlock()
	id := b.next
	b.next++
	ch := make(chan []byte, 1)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.lock.Lock()
			defer b.lock.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Active reports whether anyone is watching, so encoding can be skipped.
func (b *Broadcaster) Active() bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return len(b.subs) > 0
}

func (b *Broadcaster) Publish(frame []byte) {
	b.lock.Lock()
	defer b.lock.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- frame:
		default:
		}
	}
}
