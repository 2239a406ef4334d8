package view

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/moverse/agentdesk/internal/backend"
	"github.com/moverse/agentdesk/internal/bus"
	"github.com/moverse/agentdesk/internal/model"
	"go.uber.org/zap"
)

// dedupWindow bounds the timestamp distance under which an id-less feed
// message and an optimistic entry with matching sender and body are treated
// as the same underlying send.
const dedupWindow = 2 * time.Second

// MessageStore holds the ordered message sequence of the active
// conversation. It merges the initial fetch, feed inserts and optimistic
// sends into one duplicate-free sequence sorted by sent-at ascending with
// insertion order breaking ties.
//
// Reconciliation policy: the optimistic entry is retained and the matching
// feed row is collapsed into it (server id and timestamp are stamped in
// place); the feed row is never appended as a second entry.
type MessageStore struct {
	mu       sync.Mutex
	store    backend.Store
	bus      *bus.Bus
	logger   *zap.Logger
	activeID string
	msgs     []*model.Message
}

// NewMessageStore creates an empty message store.
func NewMessageStore(st backend.Store, b *bus.Bus, logger *zap.Logger) *MessageStore {
	return &MessageStore{store: st, bus: b, logger: logger}
}

// Load fetches the history of conversationID, replacing any previous
// content. If the active conversation changes while the fetch is in
// flight, the late response is discarded.
func (s *MessageStore) Load(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.activeID = conversationID
	s.mu.Unlock()

	rows, err := s.store.FetchMessages(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID != conversationID {
		// The agent switched away mid-fetch; this response is stale.
		return nil
	}
	s.msgs = s.msgs[:0]
	for i := range rows {
		s.msgs = append(s.msgs, rows[i].ToMessage())
	}
	s.resequence()
	s.notify()
	return nil
}

// ActiveID returns the conversation the store currently tracks.
func (s *MessageStore) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Clear drops the sequence and active conversation.
func (s *MessageStore) Clear() {
	s.mu.Lock()
	s.activeID = ""
	s.msgs = s.msgs[:0]
	s.mu.Unlock()
}

// AppendFromFeed merges one feed-delivered message. Messages for other
// conversations and duplicates are dropped. Returns true if the sequence
// changed.
func (s *MessageStore) AppendFromFeed(m *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ConversationID != s.activeID {
		return false
	}
	if existing := s.findDuplicate(m); existing != nil {
		// Collapse onto the optimistic entry: stamp the authoritative id
		// and timestamp, keep the entry itself.
		if existing.ID == "" && m.ID != "" {
			existing.ID = m.ID
			existing.SentAt = m.SentAt
			existing.Status = model.StatusSent
			s.resequence()
			s.notify()
			return true
		}
		return false
	}

	s.msgs = append(s.msgs, m)
	s.resequence()
	s.notify()
	return true
}

// AppendOptimistic inserts a locally-authored message before any network
// acknowledgment. The entry carries a client id and provisional timestamp.
func (s *MessageStore) AppendOptimistic(m *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ConversationID != s.activeID {
		return
	}
	s.msgs = append(s.msgs, m)
	s.resequence()
	s.notify()
}

// ConfirmSend stamps the durable id and server timestamp onto the
// optimistic entry identified by clientID.
func (s *MessageStore) ConfirmSend(clientID, serverID string, sentAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ClientID == clientID {
			m.ID = serverID
			if !sentAt.IsZero() {
				m.SentAt = sentAt
			}
			m.Status = model.StatusSent
			s.resequence()
			s.notify()
			return
		}
	}
}

// MarkSendFailed flags the optimistic entry as failed. The entry stays
// visible; user-authored content is never silently dropped.
func (s *MessageStore) MarkSendFailed(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.msgs {
		if m.ClientID == clientID {
			m.Status = model.StatusFailed
			s.notify()
			return
		}
	}
}

// Snapshot returns a copy of the current sequence.
func (s *MessageStore) Snapshot() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = *m
	}
	return out
}

// findDuplicate applies the de-duplication rule: matching server ids, or,
// for entries that have no server id yet, matching sender and body within
// dedupWindow of each other.
func (s *MessageStore) findDuplicate(m *model.Message) *model.Message {
	for _, existing := range s.msgs {
		if m.ID != "" && existing.ID == m.ID {
			return existing
		}
		if existing.ID == "" &&
			existing.Sender == m.Sender &&
			existing.Body == m.Body &&
			absDuration(existing.SentAt.Sub(m.SentAt)) <= dedupWindow {
			return existing
		}
	}
	return nil
}

// resequence restores sent-at ascending order. The sort is stable so
// equal timestamps keep insertion order.
func (s *MessageStore) resequence() {
	sort.SliceStable(s.msgs, func(i, j int) bool {
		return s.msgs[i].SentAt.Before(s.msgs[j].SentAt)
	})
}

func (s *MessageStore) notify() {
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindMessagesChanged, Payload: s.activeID})
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
