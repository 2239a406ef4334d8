package backend

import (
	"time"

	"github.com/moverse/agentdesk/internal/model"
)

// Row shapes mirror the backing store's tables. Only the consumed columns
// are declared; everything else the store keeps is ignored on decode.

// ContactRow is a row of the contacts table, usually embedded in a
// conversation fetch.
type ContactRow struct {
	ID                string `json:"id"`
	WaID              string `json:"wa_id"`
	ProfileName       string `json:"profile_name"`
	ProfilePictureURL string `json:"profile_picture_url"`
	PhoneNumber       string `json:"phone_number"`
}

// ConversationRow is a row of the conversations table with the contact
// joined in.
type ConversationRow struct {
	ID            string      `json:"id"`
	ContactID     string      `json:"contact_id"`
	Status        string      `json:"status"`
	UnreadCount   int         `json:"unread_count"`
	LastMessageAt *time.Time  `json:"last_message_at"`
	Contact       *ContactRow `json:"contacts"`
}

// MessageRow is a row of the messages table.
type MessageRow struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Direction      string    `json:"direction"`
	Message        string    `json:"message"`
	MessageType    string    `json:"message_type"`
	Caption        string    `json:"caption"`
	MediaURL       string    `json:"media_url"`
	FileName       string    `json:"file_name"`
	FileSize       int64     `json:"file_size"`
	MimeType       string    `json:"mime_type"`
	ThumbnailURL   string    `json:"thumbnail_url"`
	SentAt         time.Time `json:"sent_at"`
}

// OutboundSend is the durable record written for an agent-authored message.
// ClientID is the idempotency key: resubmitting the same send after a crash
// upserts onto the existing row instead of inserting a duplicate.
type OutboundSend struct {
	ClientID       string
	ConversationID string
	Kind           model.Kind
	Body           string
	MediaURL       string
	FileName       string
	FileSize       int64
	MimeType       string
}

// SendReceipt is returned by the durable send write: the stable row id and
// server timestamp that later feed events will carry.
type SendReceipt struct {
	ID     string    `json:"id"`
	SentAt time.Time `json:"sent_at"`
}

// ToConversation normalizes a row into the domain summary.
func (r *ConversationRow) ToConversation() *model.Conversation {
	c := &model.Conversation{
		ID:          r.ID,
		ContactID:   r.ContactID,
		Status:      r.Status,
		UnreadCount: r.UnreadCount,
	}
	if c.Status == "" {
		c.Status = "open"
	}
	if r.LastMessageAt != nil {
		c.LastMessageAt = *r.LastMessageAt
	}
	if r.Contact != nil {
		c.Contact = model.Contact{
			ID:          r.Contact.ID,
			ExternalID:  r.Contact.WaID,
			DisplayName: r.Contact.ProfileName,
			AvatarURL:   r.Contact.ProfilePictureURL,
			PhoneNumber: r.Contact.PhoneNumber,
		}
		if c.Contact.DisplayName == "" {
			c.Contact.DisplayName = r.Contact.WaID
		}
	}
	return c
}

// ToMessage normalizes a row into the domain message.
func (r *MessageRow) ToMessage() *model.Message {
	sender := model.SenderOther
	if r.Direction == "outgoing" {
		sender = model.SenderSelf
	}
	body := r.Message
	kind := model.ParseKind(r.MessageType)
	if kind != model.KindText && r.Caption != "" {
		body = r.Caption
	}
	return &model.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Sender:         sender,
		Kind:           kind,
		Body:           body,
		MediaURL:       r.MediaURL,
		FileName:       r.FileName,
		FileSize:       r.FileSize,
		MimeType:       r.MimeType,
		ThumbnailURL:   r.ThumbnailURL,
		SentAt:         r.SentAt,
		Status:         model.StatusReceived,
	}
}
