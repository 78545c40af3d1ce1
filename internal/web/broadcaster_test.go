package web

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestFixBroadcaster_PublishAndReplay(t *testing.T) {
	b := NewFixBroadcaster()

	id1, ch1 := b.Subscribe(1)
	b.Publish(LocationPayload{SpeedKnots: 1.5, Valid: true})

	select {
	case p := <-ch1:
		if p.SpeedKnots != 1.5 || !p.Valid {
			t.Fatalf("payload=%+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no payload delivered")
	}

	// A late subscriber gets the last sample immediately.
	id2, ch2 := b.Subscribe(1)
	select {
	case p := <-ch2:
		if p.SpeedKnots != 1.5 {
			t.Fatalf("replayed payload=%+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no replay for late subscriber")
	}

	b.Unsubscribe(id1)
	b.Unsubscribe(id2)
	b.Unsubscribe(id1) // second call is a no-op

	if _, open := <-ch1; open {
		t.Fatal("channel still open after unsubscribe")
	}
}

func TestFixBroadcaster_SlowSubscriberMissesSamples(t *testing.T) {
	b := NewFixBroadcaster()
	id, ch := b.Subscribe(1)
	defer b.Unsubscribe(id)

	b.Publish(LocationPayload{SpeedKnots: 1})
	b.Publish(LocationPayload{SpeedKnots: 2}) // dropped, buffer full
	b.Publish(LocationPayload{SpeedKnots: 3}) // dropped

	p := <-ch
	if p.SpeedKnots != 1 {
		t.Fatalf("got %v want first sample", p.SpeedKnots)
	}
	select {
	case p := <-ch:
		t.Fatalf("unexpected extra sample %+v", p)
	default:
	}
}

func TestFixBroadcaster_NilSafe(t *testing.T) {
	var b *FixBroadcaster
	b.Publish(LocationPayload{})
	b.Unsubscribe(0)
	if id, ch := b.Subscribe(1); id != 0 || ch != nil {
		t.Fatal("nil broadcaster should return no subscription")
	}
}

func TestWebsocketLocationStream(t *testing.T) {
	b := NewFixBroadcaster()
	ts := httptest.NewServer(Handler(Options{Broadcast: b}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/location"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	// The subscription races the dial, so publish until the client sees one.
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				b.Publish(LocationPayload{SpeedKmh: 42, Valid: true})
			}
		}
	}()
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var p LocationPayload
	if err := conn.ReadJSON(&p); err != nil {
		t.Fatalf("read: %v", err)
	}
	if p.SpeedKmh != 42 || !p.Valid {
		t.Fatalf("payload=%+v", p)
	}
}
