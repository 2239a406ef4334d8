package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const conversationSelect = "id,contact_id,status,unread_count,last_message_at," +
	"contacts:contact_id(id,wa_id,profile_name,profile_picture_url,phone_number)"

const messageSelect = "id,conversation_id,direction,message,message_type,caption," +
	"media_url,file_name,file_size,mime_type,thumbnail_url,sent_at"

// Store is the read/write surface of the backing relational store.
type Store interface {
	FetchConversations(ctx context.Context) ([]ConversationRow, error)
	FetchConversation(ctx context.Context, id string) (*ConversationRow, error)
	FetchRecentMessages(ctx context.Context, conversationIDs []string) ([]MessageRow, error)
	FetchMessages(ctx context.Context, conversationID string) ([]MessageRow, error)
	WriteUnreadZero(ctx context.Context, conversationID string) error
	WriteOutboundSend(ctx context.Context, send OutboundSend) (*SendReceipt, error)
}

// StatusError is a non-2xx response from the store's REST API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("store error (status %d): %s", e.Code, e.Body)
}

// Client talks to the store's PostgREST-style API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a store client for the given base URL and API key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// FetchConversations returns all conversations with contacts joined,
// newest activity first.
func (c *Client) FetchConversations(ctx context.Context) ([]ConversationRow, error) {
	q := url.Values{}
	q.Set("select", conversationSelect)
	q.Set("order", "last_message_at.desc.nullslast")

	var rows []ConversationRow
	if err := c.get(ctx, "/rest/v1/conversations", q, &rows); err != nil {
		return nil, fmt.Errorf("fetch conversations: %w", err)
	}
	return rows, nil
}

// FetchConversation returns a single conversation summary, or nil if the
// id does not exist.
func (c *Client) FetchConversation(ctx context.Context, id string) (*ConversationRow, error) {
	q := url.Values{}
	q.Set("select", conversationSelect)
	q.Set("id", "eq."+id)

	var rows []ConversationRow
	if err := c.get(ctx, "/rest/v1/conversations", q, &rows); err != nil {
		return nil, fmt.Errorf("fetch conversation %s: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FetchRecentMessages returns messages across the given conversations
// ordered by sent_at descending, so the first row per conversation id is
// its latest message.
func (c *Client) FetchRecentMessages(ctx context.Context, conversationIDs []string) ([]MessageRow, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	q := url.Values{}
	q.Set("select", messageSelect)
	q.Set("conversation_id", "in.("+strings.Join(conversationIDs, ",")+")")
	q.Set("order", "sent_at.desc")

	var rows []MessageRow
	if err := c.get(ctx, "/rest/v1/messages", q, &rows); err != nil {
		return nil, fmt.Errorf("fetch recent messages: %w", err)
	}
	return rows, nil
}

// FetchMessages returns the full message history of one conversation,
// oldest first.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]MessageRow, error) {
	q := url.Values{}
	q.Set("select", messageSelect)
	q.Set("conversation_id", "eq."+conversationID)
	q.Set("order", "sent_at.asc")

	var rows []MessageRow
	if err := c.get(ctx, "/rest/v1/messages", q, &rows); err != nil {
		return nil, fmt.Errorf("fetch messages for %s: %w", conversationID, err)
	}
	return rows, nil
}

// WriteUnreadZero durably resets a conversation's unread counter.
func (c *Client) WriteUnreadZero(ctx context.Context, conversationID string) error {
	q := url.Values{}
	q.Set("id", "eq."+conversationID)

	body := []byte(`{"unread_count":0}`)
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/conversations", q, body, nil, nil); err != nil {
		return fmt.Errorf("write unread zero for %s: %w", conversationID, err)
	}
	return nil
}

// WriteOutboundSend inserts the durable record of an agent-authored
// message and returns the row's id and server timestamp. The realtime
// feed will later echo the same row; the returned id is what keeps that
// echo from rendering twice. The write upserts on client_id, so a send
// replayed after a crash resolves to the already-written row.
func (c *Client) WriteOutboundSend(ctx context.Context, send OutboundSend) (*SendReceipt, error) {
	payload := map[string]any{
		"client_id":       send.ClientID,
		"conversation_id": send.ConversationID,
		"direction":       "outgoing",
		"message":         send.Body,
		"message_type":    string(send.Kind),
	}
	if send.MediaURL != "" {
		payload["media_url"] = send.MediaURL
		payload["caption"] = send.Body
		payload["file_name"] = send.FileName
		payload["file_size"] = send.FileSize
		payload["mime_type"] = send.MimeType
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("on_conflict", "client_id")

	var rows []SendReceipt
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=representation"}
	if err := c.do(ctx, http.MethodPost, "/rest/v1/messages", q, body, headers, &rows); err != nil {
		return nil, fmt.Errorf("write outbound send: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("write outbound send: empty representation")
	}
	return &rows[0], nil
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, headers map[string]string, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
