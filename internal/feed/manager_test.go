package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/moverse/agentdesk/internal/backend"
	"github.com/moverse/agentdesk/internal/bus"
	"go.uber.org/zap"
)

type fakeSub struct {
	events chan backend.FeedEvent
	once   sync.Once
	closed chan struct{}
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		events: make(chan backend.FeedEvent, 8),
		closed: make(chan struct{}),
	}
}

func (s *fakeSub) Events() <-chan backend.FeedEvent { return s.events }

func (s *fakeSub) Close() {
	s.once.Do(func() {
		close(s.events)
		close(s.closed)
	})
}

type subscribeCall struct {
	table  string
	filter string
	sub    *fakeSub
}

type fakeFeed struct {
	mu      sync.Mutex
	inserts []subscribeCall
	updates []subscribeCall
	err     error
}

func (f *fakeFeed) SubscribeInserts(_ context.Context, table, filter string) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := newFakeSub()
	f.inserts = append(f.inserts, subscribeCall{table: table, filter: filter, sub: sub})
	return sub, nil
}

func (f *fakeFeed) SubscribeUpdates(_ context.Context, table, filter string) (backend.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sub := newFakeSub()
	f.updates = append(f.updates, subscribeCall{table: table, filter: filter, sub: sub})
	return sub, nil
}

func (f *fakeFeed) insertCalls() []subscribeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subscribeCall(nil), f.inserts...)
}

func waitEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus event")
		return bus.Event{}
	}
}

func TestEnterSidebarOpensBothScopes(t *testing.T) {
	f := &fakeFeed{}
	b := bus.New()
	m := NewManager(f, b, zap.NewNop())
	defer m.Stop()

	if err := m.EnterSidebar(context.Background()); err != nil {
		t.Fatalf("EnterSidebar() error = %v", err)
	}

	if got := m.State(ScopeSidebar); got != Subscribed {
		t.Errorf("sidebar state = %s, want %s", got, Subscribed)
	}
	if got := m.State(ScopeConversations); got != Subscribed {
		t.Errorf("conversations state = %s, want %s", got, Subscribed)
	}

	calls := f.insertCalls()
	if len(calls) != 1 || calls[0].table != "messages" || calls[0].filter != "" {
		t.Fatalf("insert subscriptions = %+v, want one unfiltered messages subscription", calls)
	}
}

func TestThreadRowsBecomeBusEvents(t *testing.T) {
	f := &fakeFeed{}
	b := bus.New()
	m := NewManager(f, b, zap.NewNop())
	defer m.Stop()

	ch, unsub := b.Subscribe(bus.KindThreadMessageInserted, 8)
	defer unsub()

	if err := m.EnterConversation(context.Background(), "conv-1"); err != nil {
		t.Fatalf("EnterConversation() error = %v", err)
	}

	calls := f.insertCalls()
	if len(calls) != 1 {
		t.Fatalf("subscribe calls = %d, want 1", len(calls))
	}
	if calls[0].filter != "conversation_id=eq.conv-1" {
		t.Errorf("filter = %q, want conversation scoping", calls[0].filter)
	}

	record, _ := json.Marshal(map[string]any{
		"id":              "m-1",
		"conversation_id": "conv-1",
		"direction":       "inbound",
		"message":         "hey",
	})
	calls[0].sub.events <- backend.FeedEvent{Table: "messages", Type: backend.ChangeInsert, Record: record}

	evt := waitEvent(t, ch)
	row, ok := evt.Payload.(*backend.MessageRow)
	if !ok {
		t.Fatalf("payload type = %T, want *backend.MessageRow", evt.Payload)
	}
	if row.ID != "m-1" || row.ConversationID != "conv-1" {
		t.Errorf("row = %+v, want m-1 in conv-1", row)
	}
}

func TestReenterSameConversationIsNoop(t *testing.T) {
	f := &fakeFeed{}
	m := NewManager(f, bus.New(), zap.NewNop())
	defer m.Stop()

	ctx := context.Background()
	if err := m.EnterConversation(ctx, "conv-1"); err != nil {
		t.Fatalf("first EnterConversation() error = %v", err)
	}
	if err := m.EnterConversation(ctx, "conv-1"); err != nil {
		t.Fatalf("second EnterConversation() error = %v", err)
	}

	if calls := f.insertCalls(); len(calls) != 1 {
		t.Errorf("subscribe calls = %d, want 1 for a repeated open", len(calls))
	}
}

func TestSwitchingConversationTearsDownOldSubscription(t *testing.T) {
	f := &fakeFeed{}
	m := NewManager(f, bus.New(), zap.NewNop())
	defer m.Stop()

	ctx := context.Background()
	if err := m.EnterConversation(ctx, "conv-1"); err != nil {
		t.Fatalf("EnterConversation(conv-1) error = %v", err)
	}
	if err := m.EnterConversation(ctx, "conv-2"); err != nil {
		t.Fatalf("EnterConversation(conv-2) error = %v", err)
	}

	calls := f.insertCalls()
	if len(calls) != 2 {
		t.Fatalf("subscribe calls = %d, want 2", len(calls))
	}
	select {
	case <-calls[0].sub.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("old thread subscription was not closed")
	}
	if got := m.State(ScopeThread); got != Subscribed {
		t.Errorf("thread state = %s, want %s", got, Subscribed)
	}
}

func TestSubscribeFailureLeavesScopeUnsubscribed(t *testing.T) {
	f := &fakeFeed{err: errors.New("join rejected")}
	m := NewManager(f, bus.New(), zap.NewNop())

	err := m.EnterConversation(context.Background(), "conv-1")
	if err == nil {
		t.Fatal("EnterConversation() error = nil, want join failure")
	}
	if got := m.State(ScopeThread); got != Unsubscribed {
		t.Errorf("thread state = %s, want %s", got, Unsubscribed)
	}
}

func TestClosedStreamTransitionsToUnsubscribed(t *testing.T) {
	f := &fakeFeed{}
	b := bus.New()
	m := NewManager(f, b, zap.NewNop())

	ch, unsub := b.Subscribe(bus.KindFeedStatusChanged, 8)
	defer unsub()

	if err := m.EnterConversation(context.Background(), "conv-1"); err != nil {
		t.Fatalf("EnterConversation() error = %v", err)
	}
	// Drain the transitions emitted while subscribing.
	for len(ch) > 0 {
		<-ch
	}

	f.insertCalls()[0].sub.Close()

	evt := waitEvent(t, ch)
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.Scope != ScopeThread || change.To != Unsubscribed {
		t.Errorf("change = %+v, want thread -> %s", change, Unsubscribed)
	}
	if got := m.State(ScopeThread); got != Unsubscribed {
		t.Errorf("thread state = %s, want %s", got, Unsubscribed)
	}
}
