package view

import (
	"context"
	"sync"

	"github.com/moverse/agentdesk/internal/backend"
)

// stubStore is the in-memory backend.Store the view tests run against.
// FetchMessages can be gated per conversation to simulate slow responses.
type stubStore struct {
	mu sync.Mutex

	conversations []backend.ConversationRow
	recent        []backend.MessageRow
	messages      map[string][]backend.MessageRow
	recentErr     error

	fetchGates map[string]chan struct{}

	conversationCalls []string
	unreadZeroCalls   chan string
}

func newStubStore() *stubStore {
	return &stubStore{
		messages:        make(map[string][]backend.MessageRow),
		fetchGates:      make(map[string]chan struct{}),
		unreadZeroCalls: make(chan string, 16),
	}
}

func (s *stubStore) FetchConversations(context.Context) ([]backend.ConversationRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.ConversationRow(nil), s.conversations...), nil
}

func (s *stubStore) FetchConversation(_ context.Context, id string) (*backend.ConversationRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationCalls = append(s.conversationCalls, id)
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			row := s.conversations[i]
			return &row, nil
		}
	}
	return nil, &backend.StatusError{Code: 404, Body: "not found"}
}

func (s *stubStore) FetchRecentMessages(context.Context, []string) ([]backend.MessageRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	return append([]backend.MessageRow(nil), s.recent...), nil
}

func (s *stubStore) FetchMessages(_ context.Context, conversationID string) ([]backend.MessageRow, error) {
	s.mu.Lock()
	gate := s.fetchGates[conversationID]
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]backend.MessageRow(nil), s.messages[conversationID]...), nil
}

func (s *stubStore) WriteUnreadZero(_ context.Context, conversationID string) error {
	s.unreadZeroCalls <- conversationID
	return nil
}

func (s *stubStore) WriteOutboundSend(context.Context, backend.OutboundSend) (*backend.SendReceipt, error) {
	return &backend.SendReceipt{ID: "srv-1"}, nil
}

func (s *stubStore) gateFetch(conversationID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	gate := make(chan struct{})
	s.fetchGates[conversationID] = gate
	return gate
}

func (s *stubStore) conversationFetches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.conversationCalls...)
}
