package stream

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/followups/internal/dispatch"
	"github.com/ashureev/followups/internal/domain"
)

func dial(t *testing.T, hub *Hub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(NewHandler(hub))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+query, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })

	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func TestHub_StreamsPassEvents(t *testing.T) {
	hub := NewHub(nil)
	conn := dial(t, hub, "")
	ctx := context.Background()

	hub.PassStarted(ctx, "run-1")
	hub.Outcome(ctx, "run-1", domain.Outcome{ContactID: "c1", AgentID: "alice", Kind: domain.OutcomeSent})
	hub.PassFinished(ctx, &dispatch.Report{
		RunID:          "run-1",
		ProcessedCount: 1,
		Counts:         map[domain.OutcomeKind]int{domain.OutcomeSent: 1},
	})

	if ev := readEvent(t, conn); ev.Type != EventPassStarted || ev.RunID != "run-1" {
		t.Errorf("unexpected first event %+v", ev)
	}
	if ev := readEvent(t, conn); ev.Type != EventOutcome || ev.Outcome == nil || ev.Outcome.ContactID != "c1" {
		t.Errorf("unexpected outcome event %+v", ev)
	}
	ev := readEvent(t, conn)
	if ev.Type != EventPassFinished || ev.ProcessedCount != 1 || ev.Counts[domain.OutcomeSent] != 1 {
		t.Errorf("unexpected finish event %+v", ev)
	}
}

func TestHub_FiltersOutcomesByAgent(t *testing.T) {
	hub := NewHub(nil)
	conn := dial(t, hub, "?agent=alice")
	ctx := context.Background()

	hub.Outcome(ctx, "run-1", domain.Outcome{ContactID: "b1", AgentID: "bob", Kind: domain.OutcomeSent})
	hub.Outcome(ctx, "run-1", domain.Outcome{ContactID: "a1", AgentID: "alice", Kind: domain.OutcomeSkippedQuota})

	ev := readEvent(t, conn)
	if ev.Outcome == nil || ev.Outcome.ContactID != "a1" {
		t.Fatalf("expected only alice's outcome, got %+v", ev)
	}
}

func TestHub_UnsubscribeOnClose(t *testing.T) {
	hub := NewHub(nil)
	conn := dial(t, hub, "")

	if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for hub.Subscribers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not removed after close")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_PublishWithoutSubscribers(t *testing.T) {
	hub := NewHub(nil)
	hub.Outcome(context.Background(), "run-1", domain.Outcome{Kind: domain.OutcomeFailed})
}
