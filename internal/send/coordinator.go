// Package send owns the outbound message pipeline: optimistic local
// append, durable outbox queueing, the store write that mints the
// server id, and delivery through the agency gateway.
package send

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moverse/agentdesk/internal/backend"
	"github.com/moverse/agentdesk/internal/bus"
	"github.com/moverse/agentdesk/internal/media"
	"github.com/moverse/agentdesk/internal/model"
	"github.com/moverse/agentdesk/internal/store"
	"github.com/moverse/agentdesk/internal/view"
	"go.uber.org/zap"
)

// Deliverer hands outbound content to the messaging gateway.
type Deliverer interface {
	SendText(ctx context.Context, to, message string) error
	SendMedia(ctx context.Context, to, mediaURL, caption string) error
}

var _ Deliverer = (*media.Agency)(nil)

// Coordinator runs the send pipeline. Submit* appends an optimistic
// entry and queues the send durably; a background loop drains the queue,
// writes the record of truth to the store, delivers via the gateway, and
// resolves the optimistic entry either way. A failed entry stays visible
// with a failed badge rather than disappearing.
type Coordinator struct {
	db       *store.DB
	backend  backend.Store
	deliver  Deliverer
	index    *view.ConversationIndex
	msgs     *view.MessageStore
	bus      *bus.Bus
	logger   *zap.Logger
	interval time.Duration
	cancel   context.CancelFunc
}

// NewCoordinator creates a send coordinator.
func NewCoordinator(db *store.DB, be backend.Store, deliver Deliverer, index *view.ConversationIndex, msgs *view.MessageStore, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		db:       db,
		backend:  be,
		deliver:  deliver,
		index:    index,
		msgs:     msgs,
		bus:      b,
		logger:   logger,
		interval: 500 * time.Millisecond,
	}
}

// SubmitText validates and enqueues a text send. A whitespace-only body
// is dropped without an error so a stray enter key produces nothing.
func (c *Coordinator) SubmitText(ctx context.Context, conversationID, body string) (*model.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	return c.submit(ctx, conversationID, &model.Message{
		Kind: model.KindText,
		Body: body,
	})
}

// SubmitMedia enqueues a media send for an already-uploaded attachment.
// The caption may be empty; the message kind follows the attachment.
func (c *Coordinator) SubmitMedia(ctx context.Context, conversationID string, att model.PendingAttachment, caption string) (*model.Message, error) {
	if att.RemoteMediaURL == "" {
		return nil, fmt.Errorf("attachment has no uploaded media url")
	}
	kind := att.Kind
	if kind == "" {
		kind = model.KindForAttachment(att.MimeType, att.RemoteMediaURL)
	}
	return c.submit(ctx, conversationID, &model.Message{
		Kind:     kind,
		Body:     strings.TrimSpace(caption),
		MediaURL: att.RemoteMediaURL,
		FileName: att.FileName,
		FileSize: att.FileSize,
		MimeType: att.MimeType,
	})
}

func (c *Coordinator) submit(ctx context.Context, conversationID string, m *model.Message) (*model.Message, error) {
	contact, ok := c.index.Contact(conversationID)
	if !ok {
		return nil, fmt.Errorf("unknown conversation %s", conversationID)
	}
	recipient := contact.PhoneNumber
	if recipient == "" {
		recipient = contact.ExternalID
	}
	if recipient == "" {
		return nil, fmt.Errorf("conversation %s has no recipient number", conversationID)
	}

	m.ClientID = uuid.NewString()
	m.ConversationID = conversationID
	m.Sender = model.SenderSelf
	m.SentAt = time.Now()
	m.Status = model.StatusSending

	// The optimistic entry renders immediately; the feed echo later
	// collapses onto it instead of adding a second bubble.
	c.msgs.AppendOptimistic(m)
	c.index.ApplyMessageInserted(ctx, m)

	if err := c.db.QueueOutbox(store.OutboxEntry{
		ClientID:       m.ClientID,
		ConversationID: conversationID,
		Recipient:      recipient,
		Kind:           string(m.Kind),
		Body:           m.Body,
		MediaURL:       m.MediaURL,
		FileName:       m.FileName,
		FileSize:       m.FileSize,
		MimeType:       m.MimeType,
	}); err != nil {
		c.msgs.MarkSendFailed(m.ClientID)
		return nil, fmt.Errorf("queue send: %w", err)
	}
	return m, nil
}

// Start begins draining the outbox.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.loop(ctx)
}

// Stop stops the drain loop.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) processPending(ctx context.Context) {
	pending, err := c.db.PendingOutbox()
	if err != nil {
		c.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if err := c.db.MarkOutboxSending(entry.ClientID); err != nil {
			c.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_id", entry.ClientID))
			continue
		}
		c.process(ctx, entry)
	}
}

func (c *Coordinator) process(ctx context.Context, entry store.OutboxEntry) {
	receipt, err := c.backend.WriteOutboundSend(ctx, backend.OutboundSend{
		ClientID:       entry.ClientID,
		ConversationID: entry.ConversationID,
		Kind:           model.Kind(entry.Kind),
		Body:           entry.Body,
		MediaURL:       entry.MediaURL,
		FileName:       entry.FileName,
		FileSize:       entry.FileSize,
		MimeType:       entry.MimeType,
	})
	if err != nil {
		c.fail(entry, fmt.Errorf("durable write: %w", err))
		return
	}

	if entry.MediaURL != "" {
		err = c.deliver.SendMedia(ctx, entry.Recipient, entry.MediaURL, entry.Body)
	} else {
		err = c.deliver.SendText(ctx, entry.Recipient, entry.Body)
	}
	if err != nil {
		c.fail(entry, fmt.Errorf("gateway delivery: %w", err))
		return
	}

	if err := c.db.MarkOutboxSent(entry.ClientID, receipt.ID); err != nil {
		c.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_id", entry.ClientID))
	}
	c.msgs.ConfirmSend(entry.ClientID, receipt.ID, receipt.SentAt)

	c.logger.Info("message sent",
		zap.String("client_id", entry.ClientID),
		zap.String("server_id", receipt.ID))
	c.bus.Publish(bus.Event{
		Kind: bus.KindSendAck,
		Payload: map[string]string{
			"client_id": entry.ClientID,
			"server_id": receipt.ID,
		},
	})
}

func (c *Coordinator) fail(entry store.OutboxEntry, err error) {
	c.logger.Error("failed to send message", zap.Error(err), zap.String("client_id", entry.ClientID))
	_ = c.db.MarkOutboxFailed(entry.ClientID, err.Error())
	c.msgs.MarkSendFailed(entry.ClientID)
	c.bus.Publish(bus.Event{
		Kind: bus.KindSendFailed,
		Payload: map[string]string{
			"client_id": entry.ClientID,
			"error":     err.Error(),
		},
	})
}
