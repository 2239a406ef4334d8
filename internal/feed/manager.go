package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/moverse/agentdesk/internal/backend"
	"github.com/moverse/agentdesk/internal/bus"
	"go.uber.org/zap"
)

// State of one logical feed scope.
type State string

const (
	Unsubscribed State = "UNSUBSCRIBED"
	Subscribing  State = "SUBSCRIBING"
	Subscribed   State = "SUBSCRIBED"
)

var validTransitions = map[State][]State{
	Unsubscribed: {Subscribing},
	Subscribing:  {Subscribed, Unsubscribed},
	Subscribed:   {Unsubscribed},
}

// Scope identifies one logical subscription slot. Exactly one live
// subscription exists per scope at any time.
type Scope string

const (
	// ScopeThread is the message-insert feed filtered to the open
	// conversation.
	ScopeThread Scope = "thread"
	// ScopeSidebar is the unfiltered message-insert feed driving the
	// conversation list.
	ScopeSidebar Scope = "sidebar"
	// ScopeConversations is the unfiltered conversation-update feed.
	ScopeConversations Scope = "conversations"
)

// StatusChange is the payload of feed.status_changed events.
type StatusChange struct {
	Scope Scope
	From  State
	To    State
}

// Manager owns the lifecycle of the three feed scopes: it opens
// subscriptions on navigation, tears the old one down before opening a
// replacement when a scope's filter key changes, and republishes every
// delivered row as a typed bus event. It never retries on its own — a
// dead subscription stays quiet until the next navigation re-enters the
// scope.
type Manager struct {
	mu     sync.Mutex
	feed   backend.Feed
	bus    *bus.Bus
	logger *zap.Logger
	slots  map[Scope]*slot
}

type slot struct {
	key   string
	state State
	sub   backend.Subscription
}

// NewManager creates a feed manager over the given feed source.
func NewManager(f backend.Feed, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		feed:   f,
		bus:    b,
		logger: logger,
		slots: map[Scope]*slot{
			ScopeThread:        {state: Unsubscribed},
			ScopeSidebar:       {state: Unsubscribed},
			ScopeConversations: {state: Unsubscribed},
		},
	}
}

// EnterSidebar opens the two global scopes: message inserts for the
// sidebar and conversation updates. Re-entering while both are live is a
// no-op.
func (m *Manager) EnterSidebar(ctx context.Context) error {
	if err := m.open(ScopeSidebar, "", func() (backend.Subscription, error) {
		return m.feed.SubscribeInserts(ctx, "messages", "")
	}); err != nil {
		return err
	}
	return m.open(ScopeConversations, "", func() (backend.Subscription, error) {
		return m.feed.SubscribeUpdates(ctx, "conversations", "")
	})
}

// EnterConversation scopes the thread feed to one conversation. A live
// subscription for a different conversation is torn down first; for the
// same conversation this is a no-op.
func (m *Manager) EnterConversation(ctx context.Context, conversationID string) error {
	filter := "conversation_id=eq." + conversationID
	return m.open(ScopeThread, conversationID, func() (backend.Subscription, error) {
		return m.feed.SubscribeInserts(ctx, "messages", filter)
	})
}

// LeaveConversation tears down the thread scope.
func (m *Manager) LeaveConversation() {
	m.teardown(ScopeThread)
}

// Stop tears down every scope.
func (m *Manager) Stop() {
	m.teardown(ScopeThread)
	m.teardown(ScopeSidebar)
	m.teardown(ScopeConversations)
}

// State returns the current state of a scope.
func (m *Manager) State(scope Scope) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slots[scope].state
}

func (m *Manager) open(scope Scope, key string, subscribe func() (backend.Subscription, error)) error {
	m.mu.Lock()
	sl := m.slots[scope]
	if sl.state == Subscribed && sl.key == key {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	// Teardown before resubscribe: no overlap, so no duplicate delivery.
	m.teardown(scope)

	m.transition(scope, Subscribing)
	sub, err := subscribe()
	if err != nil {
		m.transition(scope, Unsubscribed)
		return fmt.Errorf("subscribe %s: %w", scope, err)
	}

	m.mu.Lock()
	sl.key = key
	sl.sub = sub
	m.mu.Unlock()
	m.transition(scope, Subscribed)

	go m.dispatch(scope, sub)
	return nil
}

func (m *Manager) teardown(scope Scope) {
	m.mu.Lock()
	sl := m.slots[scope]
	sub := sl.sub
	sl.sub = nil
	sl.key = ""
	live := sl.state != Unsubscribed
	m.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	if live {
		m.transition(scope, Unsubscribed)
	}
}

// dispatch forwards delivered rows as typed bus events, in delivery
// order, until the subscription's stream ends. A closed stream moves the
// scope to Unsubscribed unless a replacement subscription already took
// the slot.
func (m *Manager) dispatch(scope Scope, sub backend.Subscription) {
	for evt := range sub.Events() {
		m.publish(scope, evt)
	}

	m.mu.Lock()
	sl := m.slots[scope]
	current := sl.sub == sub
	if current {
		sl.sub = nil
		sl.key = ""
	}
	m.mu.Unlock()

	if current {
		m.logger.Warn("feed subscription ended", zap.String("scope", string(scope)))
		m.transition(scope, Unsubscribed)
	}
}

func (m *Manager) publish(scope Scope, evt backend.FeedEvent) {
	switch scope {
	case ScopeThread, ScopeSidebar:
		var row backend.MessageRow
		if err := json.Unmarshal(evt.Record, &row); err != nil {
			m.logger.Warn("undecodable message record", zap.Error(err))
			return
		}
		kind := bus.KindThreadMessageInserted
		if scope == ScopeSidebar {
			kind = bus.KindSidebarMessageInserted
		}
		m.bus.Publish(bus.Event{Kind: kind, Payload: &row})
	case ScopeConversations:
		var row backend.ConversationRow
		if err := json.Unmarshal(evt.Record, &row); err != nil {
			m.logger.Warn("undecodable conversation record", zap.Error(err))
			return
		}
		m.bus.Publish(bus.Event{Kind: bus.KindConversationUpdated, Payload: &row})
	}
}

func (m *Manager) transition(scope Scope, to State) {
	m.mu.Lock()
	sl := m.slots[scope]
	from := sl.state
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		m.logger.Warn("invalid feed state transition",
			zap.String("scope", string(scope)),
			zap.String("from", string(from)), zap.String("to", string(to)))
		return
	}
	sl.state = to
	m.mu.Unlock()

	m.bus.Publish(bus.Event{
		Kind:    bus.KindFeedStatusChanged,
		Payload: StatusChange{Scope: scope, From: from, To: to},
	})
}
