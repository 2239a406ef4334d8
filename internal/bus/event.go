package bus

import "time"

// Event kinds are dot-separated and namespaced so subscribers can filter by
// prefix. The feed.* namespace carries raw change-feed rows, view.* signals
// that a reconciled view mutated, message.* tracks the outbound send path.
const (
	KindThreadMessageInserted  = "feed.thread.message_inserted"
	KindSidebarMessageInserted = "feed.sidebar.message_inserted"
	KindConversationUpdated    = "feed.conversation_updated"
	KindFeedStatusChanged      = "feed.status_changed"

	KindConversationsChanged = "view.conversations_changed"
	KindMessagesChanged      = "view.messages_changed"

	KindSendAck    = "message.send_ack"
	KindSendFailed = "message.send_failed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
