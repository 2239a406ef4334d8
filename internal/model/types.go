package model

import "time"

// Sender identifies which side of a conversation authored a message.
type Sender string

const (
	SenderSelf  Sender = "self"
	SenderOther Sender = "other"
)

// Message statuses along the outbound send path. Inbound messages are
// always "received".
const (
	StatusSending  = "sending"
	StatusSent     = "sent"
	StatusFailed   = "failed"
	StatusReceived = "received"
)

// Contact is the denormalized contact snapshot carried on a conversation.
type Contact struct {
	ID          string `json:"id"`
	ExternalID  string `json:"external_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
}

// Preview summarizes the most recent message of a conversation for the
// sidebar.
type Preview struct {
	Kind     Kind   `json:"kind"`
	Text     string `json:"text,omitempty"`
	Caption  string `json:"caption,omitempty"`
	FileName string `json:"file_name,omitempty"`
}

// Conversation is one agent-facing thread with a single external contact.
type Conversation struct {
	ID            string    `json:"id"`
	ContactID     string    `json:"contact_id"`
	Status        string    `json:"status"`
	UnreadCount   int       `json:"unread_count"`
	LastMessageAt time.Time `json:"last_message_at,omitzero"`
	Preview       Preview   `json:"preview"`
	Contact       Contact   `json:"contact"`
}

// onlineWindow is the recency window for the presence heuristic: a contact
// whose last message is newer than this counts as online.
const onlineWindow = 5 * time.Minute

// Online reports whether the contact looks online at the given instant.
func (c *Conversation) Online(now time.Time) bool {
	if c.LastMessageAt.IsZero() {
		return false
	}
	return now.Sub(c.LastMessageAt) < onlineWindow
}

// Message is one normalized entry in a conversation's message sequence.
// Optimistic entries have an empty ID and a non-empty ClientID until the
// send is acknowledged or the matching feed row arrives.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ClientID       string    `json:"client_id,omitempty"`
	ConversationID string    `json:"conversation_id"`
	Sender         Sender    `json:"sender"`
	Kind           Kind      `json:"kind"`
	Body           string    `json:"body"`
	MediaURL       string    `json:"media_url,omitempty"`
	FileName       string    `json:"file_name,omitempty"`
	FileSize       int64     `json:"file_size,omitempty"`
	MimeType       string    `json:"mime_type,omitempty"`
	ThumbnailURL   string    `json:"thumbnail_url,omitempty"`
	SentAt         time.Time `json:"sent_at"`
	Status         string    `json:"status,omitempty"`
}

// PreviewOf derives the sidebar preview for a message.
func PreviewOf(m *Message) Preview {
	p := Preview{Kind: m.Kind}
	switch m.Kind {
	case KindText:
		p.Text = m.Body
	default:
		p.Caption = m.Body
		p.FileName = m.FileName
	}
	return p
}

// PendingAttachment tracks an in-flight composer upload. It never leaves
// the composer: on submit its fields move onto the outgoing message, on
// cancel it is dropped.
type PendingAttachment struct {
	LocalPreviewURL string `json:"local_preview_url,omitempty"`
	RemoteMediaURL  string `json:"remote_media_url,omitempty"`
	Kind            Kind   `json:"kind,omitempty"`
	FileName        string `json:"file_name"`
	FileSize        int64  `json:"file_size"`
	MimeType        string `json:"mime_type"`
}
