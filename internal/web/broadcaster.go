package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// FixBroadcaster fans out location payloads to websocket listeners. It keeps
// the most recent value so a new subscriber gets an immediate sample.
type FixBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan LocationPayload
	nextID   int
	last     LocationPayload
	haveLast bool
}

func NewFixBroadcaster() *FixBroadcaster {
	return &FixBroadcaster{subs: make(map[int]chan LocationPayload)}
}

func (b *FixBroadcaster) Subscribe(buffer int) (int, <-chan LocationPayload) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan LocationPayload, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last := b.last
	have := b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *FixBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish delivers to every subscriber without blocking; a slow listener
// simply misses samples.
func (b *FixBroadcaster) Publish(p LocationPayload) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := make([]chan LocationPayload, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- p:
		default:
		}
	}
	b.mu.Lock()
	b.last = p
	b.haveLast = true
	b.mu.Unlock()
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The service is LAN-only; the map client may be opened from any origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS streams location payloads to one websocket client until it
// disconnects.
func (b *FixBroadcaster) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}

	id, ch := b.Subscribe(4)
	defer b.Unsubscribe(id)
	defer conn.Close()

	// Reader goroutine: we never expect client data, but reading is how the
	// close handshake is noticed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				b.Unsubscribe(id)
				return
			}
		}
	}()

	for p := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(p); err != nil {
			log.Debugf("ws write failed: %v", err)
			return
		}
	}
}
