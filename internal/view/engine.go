package view

import (
	"context"
	"fmt"

	"github.com/moverse/agentdesk/internal/backend"
	"github.com/moverse/agentdesk/internal/bus"
	"github.com/moverse/agentdesk/internal/feed"
	"github.com/moverse/agentdesk/internal/model"
	"go.uber.org/zap"
)

// Engine glues the reconciled views to the change feed: it consumes feed.*
// bus events published by the feed manager and applies them to the
// ConversationIndex and MessageStore, and it carries the navigation
// operations the UI layer calls. Events from one subscription are handled
// strictly in order because the engine drains its bus channel with a
// single goroutine.
type Engine struct {
	index  *ConversationIndex
	msgs   *MessageStore
	feeds  *feed.Manager
	logger *zap.Logger

	bus    *bus.Bus
	cancel context.CancelFunc
}

// NewEngine creates the reconciliation engine.
func NewEngine(index *ConversationIndex, msgs *MessageStore, feeds *feed.Manager, b *bus.Bus, logger *zap.Logger) *Engine {
	return &Engine{
		index:  index,
		msgs:   msgs,
		feeds:  feeds,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to feed events and begins dispatching them.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("feed.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindSidebarMessageInserted:
		row, ok := evt.Payload.(*backend.MessageRow)
		if !ok {
			return
		}
		e.index.ApplyMessageInserted(ctx, row.ToMessage())
	case bus.KindThreadMessageInserted:
		row, ok := evt.Payload.(*backend.MessageRow)
		if !ok {
			return
		}
		e.msgs.AppendFromFeed(row.ToMessage())
	case bus.KindConversationUpdated:
		row, ok := evt.Payload.(*backend.ConversationRow)
		if !ok {
			return
		}
		e.index.ApplyConversationUpdated(row)
	}
}

// Bootstrap seeds the sidebar and opens its feed subscriptions. Fetch
// failures degrade to an empty, retryable list rather than killing the
// daemon.
func (e *Engine) Bootstrap(ctx context.Context) {
	if err := e.index.Load(ctx); err != nil {
		e.logger.Warn("initial conversation load failed", zap.Error(err))
	}
	if err := e.feeds.EnterSidebar(ctx); err != nil {
		e.logger.Warn("sidebar feed subscription failed", zap.Error(err))
	}
}

// OpenConversation is the user "open" action: mark the thread read, load
// its history, and re-scope the thread feed subscription. The returned
// sequence is the loaded history snapshot.
func (e *Engine) OpenConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	e.index.SetOpen(conversationID)
	e.index.MarkRead(ctx, conversationID)

	if err := e.msgs.Load(ctx, conversationID); err != nil {
		return nil, fmt.Errorf("open conversation %s: %w", conversationID, err)
	}
	if err := e.feeds.EnterConversation(ctx, conversationID); err != nil {
		// Degraded: history is shown, live updates resume on the next
		// open action.
		e.logger.Warn("thread feed subscription failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
	}
	return e.msgs.Snapshot(), nil
}

// CloseConversation leaves the open thread: the scoped subscription is
// torn down and the message view cleared.
func (e *Engine) CloseConversation() {
	e.index.SetOpen("")
	e.msgs.Clear()
	e.feeds.LeaveConversation()
}

// Conversations returns the sidebar, optionally filtered by contact name.
func (e *Engine) Conversations(query string) []model.Conversation {
	if query != "" {
		return e.index.Search(query)
	}
	return e.index.Snapshot()
}

// Messages returns the active thread's sequence.
func (e *Engine) Messages() []model.Message {
	return e.msgs.Snapshot()
}

// OpenID returns the open conversation's id, or "" when none is open.
func (e *Engine) OpenID() string {
	return e.index.OpenID()
}
