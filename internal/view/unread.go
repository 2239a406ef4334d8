package view

import "github.com/moverse/agentdesk/internal/model"

// UnreadAction is the unread-counter decision for one observed message.
type UnreadAction int

const (
	// UnreadNoop leaves the counter untouched.
	UnreadNoop UnreadAction = iota
	// UnreadIncrement bumps the counter by one.
	UnreadIncrement
	// UnreadZero resets the counter and requires a durable zero-write.
	UnreadZero
)

// ReconcileUnread decides what happens to a conversation's unread counter
// when a message for it is observed. The agent's own messages never touch
// the counter; an incoming message zeroes it when the conversation is the
// open one (the agent is looking at it) and increments it otherwise.
func ReconcileUnread(open bool, sender model.Sender) UnreadAction {
	if sender == model.SenderSelf {
		return UnreadNoop
	}
	if open {
		return UnreadZero
	}
	return UnreadIncrement
}
