package realtime

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func recv(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case m := <-c.Outbound:
		return m
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestHub_BroadcastIsPerUser(t *testing.T) {
	h := NewHub()
	a1 := h.Subscribe("u1")
	a2 := h.Subscribe("u1")
	b := h.Subscribe("u2")
	defer h.Unsubscribe(a1)
	defer h.Unsubscribe(a2)
	defer h.Unsubscribe(b)

	h.Publish(context.Background(), "u1", "completion.recorded", map[string]any{"day": "2024-06-10"})

	for _, c := range []*Client{a1, a2} {
		if m := recv(t, c); m.Event != "completion.recorded" || m.UserID != "u1" {
			t.Fatalf("unexpected message: %+v", m)
		}
	}
	select {
	case m := <-b.Outbound:
		t.Fatalf("u2 received %+v", m)
	default:
	}
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub()
	c := h.Subscribe("u1")
	if h.Clients("u1") != 1 {
		t.Fatalf("clients = %d", h.Clients("u1"))
	}
	h.Unsubscribe(c)
	h.Unsubscribe(c)
	if h.Clients("u1") != 0 {
		t.Fatalf("clients = %d after unsubscribe", h.Clients("u1"))
	}
	h.Broadcast(Message{UserID: "u1", Event: "x"}) // no receivers, no panic
}

func TestHub_DropsWhenBufferFull(t *testing.T) {
	h := NewHub()
	c := h.Subscribe("u1")
	defer h.Unsubscribe(c)

	before := testutil.ToFloat64(droppedMessages)
	for i := 0; i < outboundBuffer+3; i++ {
		h.Broadcast(Message{UserID: "u1", Event: "tick"})
	}
	if got := testutil.ToFloat64(droppedMessages) - before; got != 3 {
		t.Fatalf("dropped = %v, want 3", got)
	}
}

func TestHub_ServeHTTP_StreamsEvents(t *testing.T) {
	h := NewHub()
	h.Heartbeat = 20 * time.Millisecond

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := h.Subscribe("u1")
		defer h.Unsubscribe(c)
		h.ServeHTTP(w, r, c)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}

	rd := bufio.NewReader(resp.Body)
	if line, _ := rd.ReadString('\n'); !strings.HasPrefix(line, ": connected") {
		t.Fatalf("first line = %q", line)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients("u1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	h.Publish(ctx, "u1", "risk.computed", map[string]int{"routines": 2})

	var sawPing, sawEvent bool
	for !(sawPing && sawEvent) {
		line, err := rd.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v (ping=%v event=%v)", err, sawPing, sawEvent)
		}
		switch {
		case strings.HasPrefix(line, ": ping"):
			sawPing = true
		case strings.HasPrefix(line, "event: risk.computed"):
			sawEvent = true
		}
	}
}

type fakeRelay struct {
	msgs []Message
	err  error
}

func (f *fakeRelay) Publish(_ context.Context, m Message) error {
	f.msgs = append(f.msgs, m)
	return f.err
}

func TestPublisher_RelayAndFallback(t *testing.T) {
	h := NewHub()
	c := h.Subscribe("u1")
	defer h.Unsubscribe(c)

	relay := &fakeRelay{}
	p := &Publisher{Hub: h, Relay: relay}
	p.Publish(context.Background(), "u1", "routines.refreshed", nil)
	if len(relay.msgs) != 1 {
		t.Fatalf("relay got %d messages", len(relay.msgs))
	}
	select {
	case m := <-c.Outbound:
		t.Fatalf("relayed message must arrive via the forwarder, got %+v", m)
	default:
	}

	relay.err = errors.New("redis down")
	p.Publish(context.Background(), "u1", "routines.refreshed", nil)
	if m := recv(t, c); m.Event != "routines.refreshed" {
		t.Fatalf("fallback message: %+v", m)
	}
}

func TestDecodeMessage(t *testing.T) {
	if _, err := decodeMessage(`{"user_id":"u1","event":"completion.recorded"}`); err != nil {
		t.Fatalf("valid payload: %v", err)
	}
	for _, bad := range []string{`not json`, `{"event":"x"}`, `{"user_id":"u1"}`} {
		if _, err := decodeMessage(bad); err == nil {
			t.Fatalf("expected error for %s", bad)
		}
	}
}

func TestNewRedisBus_RequiresAddress(t *testing.T) {
	if _, err := NewRedisBus(context.Background(), RedisOptions{}); err == nil {
		t.Fatal("expected error without address")
	}
}
