package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "index.created", Data: IndexEvent{Index: "repo"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: index.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"index":"repo"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishIndexEvent_CatalogThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishIndexEvent(KindCreated, "a", nil)
	b.PublishIndexEvent(KindUpdated, "a", map[string]int{"added": 3})
	b.PublishIndexEvent("renamed", "a", nil)

	time.Sleep(50 * time.Millisecond)
	catalogCount := 0
	var indexEvents []string
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			if strings.Contains(s, "catalog.changed") {
				catalogCount++
			} else {
				indexEvents = append(indexEvents, s)
			}
		default:
			break loop
		}
	}

	if len(indexEvents) != 2 {
		t.Fatalf("index events = %d, want 2: %q", len(indexEvents), indexEvents)
	}
	if !strings.Contains(indexEvents[1], "event: index.updated") || !strings.Contains(indexEvents[1], `"added":3`) {
		t.Errorf("unexpected update event %q", indexEvents[1])
	}
	if catalogCount != 1 {
		t.Errorf("catalog events = %d, want 1 (throttled)", catalogCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishIndexEvent(KindRemoved, "old", nil)
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: index.removed") {
		t.Errorf("handler output missing event: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// One past the client buffer must not block the loop.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	if b.ClientCount() != 1 {
		t.Fatal("broker loop stalled")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// No-ops after close.
	b.Publish(Event{Type: "index.updated", Data: IndexEvent{Index: "x"}})
	b.PublishIndexEvent(KindUpdated, "x", nil)
}

func TestSubscribeIndexFilters(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	only := b.SubscribeIndex("a")
	defer b.Unsubscribe(only)

	b.PublishIndexEvent(KindUpdated, "b", nil)
	b.PublishIndexEvent(KindUpdated, "a", nil)
	time.Sleep(50 * time.Millisecond)

	var got []string
	for len(only) > 0 {
		got = append(got, string(<-only))
	}
	// catalog.changed follows the first event regardless of index.
	if len(got) != 2 {
		t.Fatalf("messages = %q, want 2", got)
	}
	if !strings.Contains(got[0], "catalog.changed") {
		t.Errorf("first message = %q, want catalog.changed", got[0])
	}
	if !strings.Contains(got[1], `"index":"a"`) {
		t.Errorf("second message = %q, want index a", got[1])
	}
}

func TestSSEHandlerHeartbeat(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	b.heartbeat = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events?index=repo", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(80 * time.Millisecond)
	cancel()
	<-done

	if !strings.Contains(w.Body.String(), ": ping\n\n") {
		t.Errorf("no heartbeat in %q", w.Body.String())
	}
}
