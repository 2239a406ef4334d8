package view

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/moverse/agentdesk/internal/backend"
	"github.com/moverse/agentdesk/internal/bus"
	"github.com/moverse/agentdesk/internal/model"
	"go.uber.org/zap"
)

// ConversationIndex maintains the sidebar view: every conversation summary
// with its unread count, status and last-message preview. It merges the
// initial fetch, feed inserts and updates, and local open/send side
// effects. All mutations are idempotent and never regress newer state.
type ConversationIndex struct {
	mu     sync.Mutex
	store  backend.Store
	bus    *bus.Bus
	logger *zap.Logger

	byID   map[string]*indexEntry
	openID string
}

// indexEntry wraps a summary with the id of the last merged message, which
// makes re-delivered insert events no-ops.
type indexEntry struct {
	conv      *model.Conversation
	lastMsgID string
}

// NewConversationIndex creates an empty index backed by the given store.
func NewConversationIndex(st backend.Store, b *bus.Bus, logger *zap.Logger) *ConversationIndex {
	return &ConversationIndex{
		store:  st,
		bus:    b,
		logger: logger,
		byID:   make(map[string]*indexEntry),
	}
}

// Load seeds the index: fetch all conversations, then fetch their messages
// newest-first and take the first message per conversation id as its
// preview. A preview's timestamp wins over the conversation row's own
// last_message_at, which can lag for messages that arrived while the agent
// was offline.
func (ix *ConversationIndex) Load(ctx context.Context) error {
	rows, err := ix.store.FetchConversations(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	ids := make([]string, 0, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].ID)
	}

	recent, err := ix.store.FetchRecentMessages(ctx, ids)
	if err != nil {
		// The list is still usable without previews.
		ix.logger.Warn("recent message fetch failed", zap.Error(err))
	}

	// First write wins per conversation: rows arrive newest-first.
	latest := make(map[string]*backend.MessageRow, len(rows))
	for i := range recent {
		row := &recent[i]
		if _, ok := latest[row.ConversationID]; !ok {
			latest[row.ConversationID] = row
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.byID = make(map[string]*indexEntry, len(rows))
	for i := range rows {
		entry := &indexEntry{conv: rows[i].ToConversation()}
		if last := latest[rows[i].ID]; last != nil {
			m := last.ToMessage()
			entry.conv.Preview = model.PreviewOf(m)
			entry.conv.LastMessageAt = m.SentAt
			entry.lastMsgID = m.ID
		}
		ix.byID[entry.conv.ID] = entry
	}
	ix.notify()
	return nil
}

// SetOpen records which conversation the agent is looking at. Empty means
// none.
func (ix *ConversationIndex) SetOpen(id string) {
	ix.mu.Lock()
	ix.openID = id
	ix.mu.Unlock()
}

// OpenID returns the currently open conversation id.
func (ix *ConversationIndex) OpenID() string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.openID
}

// ApplyMessageInserted merges one observed message into the sidebar:
// preview and recency move forward, and the unread counter follows the
// reconciliation policy. Called for feed inserts and for local optimistic
// sends alike.
//
// An insert naming an unknown conversation triggers a scoped refetch of
// that single summary rather than a full list reload, preserving the rest
// of the sidebar state.
func (ix *ConversationIndex) ApplyMessageInserted(ctx context.Context, m *model.Message) {
	ix.mu.Lock()
	entry, ok := ix.byID[m.ConversationID]
	ix.mu.Unlock()

	if !ok {
		entry = ix.fetchMissing(ctx, m.ConversationID)
		if entry == nil {
			return
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	// Re-delivered event for a message already merged.
	if m.ID != "" && m.ID == entry.lastMsgID {
		return
	}

	if !m.SentAt.Before(entry.conv.LastMessageAt) {
		entry.conv.Preview = model.PreviewOf(m)
		entry.conv.LastMessageAt = m.SentAt
		if m.ID != "" {
			entry.lastMsgID = m.ID
		}
	}

	switch ReconcileUnread(ix.openID == m.ConversationID, m.Sender) {
	case UnreadIncrement:
		entry.conv.UnreadCount++
	case UnreadZero:
		entry.conv.UnreadCount = 0
		ix.writeUnreadZero(m.ConversationID)
	}

	ix.notify()
}

// ApplyConversationUpdated shallow-merges a pushed conversation update
// into the matching summary. Unknown ids are ignored: update events never
// create summaries, only insert-derived events do. Updates older than the
// current state (by last_message_at) are dropped.
func (ix *ConversationIndex) ApplyConversationUpdated(row *backend.ConversationRow) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entry, ok := ix.byID[row.ID]
	if !ok {
		return
	}

	if row.LastMessageAt != nil && row.LastMessageAt.Before(entry.conv.LastMessageAt) {
		return
	}

	if row.Status != "" {
		entry.conv.Status = row.Status
	}
	if row.LastMessageAt != nil {
		entry.conv.LastMessageAt = *row.LastMessageAt
	}
	// The open conversation's badge stays at zero no matter what the
	// pushed row says; the durable zero-write may still be in flight.
	if ix.openID == row.ID {
		entry.conv.UnreadCount = 0
	} else {
		entry.conv.UnreadCount = row.UnreadCount
	}

	ix.notify()
}

// MarkRead zeroes the unread counter locally and issues the durable
// zero-write. Safe to call repeatedly.
func (ix *ConversationIndex) MarkRead(ctx context.Context, conversationID string) {
	ix.mu.Lock()
	entry, ok := ix.byID[conversationID]
	if ok {
		entry.conv.UnreadCount = 0
	}
	ix.mu.Unlock()

	if !ok {
		return
	}
	ix.writeUnreadZero(conversationID)
	ix.notify()
}

// Contact returns the contact snapshot of a conversation, if known.
func (ix *ConversationIndex) Contact(conversationID string) (model.Contact, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	entry, ok := ix.byID[conversationID]
	if !ok {
		return model.Contact{}, false
	}
	return entry.conv.Contact, true
}

// Snapshot returns the summaries ordered by recency descending, ties
// broken by id ascending for determinism.
func (ix *ConversationIndex) Snapshot() []model.Conversation {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]model.Conversation, 0, len(ix.byID))
	for _, entry := range ix.byID {
		out = append(out, *entry.conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Search filters the snapshot by case-insensitive substring match on the
// contact display name.
func (ix *ConversationIndex) Search(query string) []model.Conversation {
	all := ix.Snapshot()
	if query == "" {
		return all
	}
	q := strings.ToLower(query)
	out := all[:0]
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.Contact.DisplayName), q) {
			out = append(out, c)
		}
	}
	return out
}

// fetchMissing performs the scoped single-conversation refetch for insert
// events that race the initial load, and registers the result.
func (ix *ConversationIndex) fetchMissing(ctx context.Context, conversationID string) *indexEntry {
	row, err := ix.store.FetchConversation(ctx, conversationID)
	if err != nil {
		ix.logger.Warn("scoped conversation refetch failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return nil
	}
	if row == nil {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	// Another event may have raced us here; keep whichever entry landed
	// first so its merged message ids survive.
	if existing, ok := ix.byID[conversationID]; ok {
		return existing
	}
	entry := &indexEntry{conv: row.ToConversation()}
	ix.byID[conversationID] = entry
	return entry
}

// writeUnreadZero issues the durable counter reset without blocking the
// caller; its effect is observed through later feed events.
func (ix *ConversationIndex) writeUnreadZero(conversationID string) {
	go func() {
		if err := ix.store.WriteUnreadZero(context.Background(), conversationID); err != nil {
			ix.logger.Warn("unread zero-write failed",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}()
}

func (ix *ConversationIndex) notify() {
	if ix.bus != nil {
		ix.bus.Publish(bus.Event{Kind: bus.KindConversationsChanged})
	}
}
