package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Change types delivered by the feed.
const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
)

// FeedEvent is one row change pushed by the backing store.
type FeedEvent struct {
	Table  string
	Type   string
	Record json.RawMessage
}

// Subscription is a cancelable stream of feed events. Events() is closed
// when the subscription ends, whether by Close or by a transport error.
type Subscription interface {
	Events() <-chan FeedEvent
	Close()
}

// Feed opens change-feed subscriptions against the backing store.
// filter is an optional column filter like "conversation_id=eq.<id>";
// empty means the whole table.
type Feed interface {
	SubscribeInserts(ctx context.Context, table, filter string) (Subscription, error)
	SubscribeUpdates(ctx context.Context, table, filter string) (Subscription, error)
}

// RealtimeFeed is the WebSocket implementation of Feed, speaking the
// store's phoenix-framed realtime protocol. Each subscription owns its own
// connection, which keeps teardown equal to closing the socket.
type RealtimeFeed struct {
	baseURL string
	apiKey  string
	dialer  *websocket.Dialer
}

// NewRealtimeFeed creates a feed client for the store at baseURL.
func NewRealtimeFeed(baseURL, apiKey string) *RealtimeFeed {
	return &RealtimeFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (f *RealtimeFeed) SubscribeInserts(ctx context.Context, table, filter string) (Subscription, error) {
	return f.subscribe(ctx, table, filter, ChangeInsert)
}

func (f *RealtimeFeed) SubscribeUpdates(ctx context.Context, table, filter string) (Subscription, error) {
	return f.subscribe(ctx, table, filter, ChangeUpdate)
}

// phxMessage is the frame envelope of the realtime protocol.
type phxMessage struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref"`
}

type changePayload struct {
	Data struct {
		Type   string          `json:"type"`
		Table  string          `json:"table"`
		Record json.RawMessage `json:"record"`
	} `json:"data"`
}

type replyPayload struct {
	Status string `json:"status"`
}

const (
	joinTimeout       = 10 * time.Second
	heartbeatInterval = 25 * time.Second
)

func (f *RealtimeFeed) subscribe(ctx context.Context, table, filter, changeType string) (Subscription, error) {
	wsURL, err := f.socketURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := f.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial realtime feed: %w", err)
	}

	topic := "realtime:public:" + table
	if filter != "" {
		topic += ":" + filter
	}

	join := map[string]any{
		"topic": topic,
		"event": "phx_join",
		"ref":   "1",
		"payload": map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]string{{
					"event":  changeType,
					"schema": "public",
					"table":  table,
					"filter": filter,
				}},
			},
		},
	}
	if err := conn.WriteJSON(join); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("join %s: %w", topic, err)
	}

	// The join is acknowledged with a phx_reply before any change event.
	if err := awaitJoinAck(conn, topic); err != nil {
		_ = conn.Close()
		return nil, err
	}

	sub := &realtimeSubscription{
		conn:   conn,
		topic:  topic,
		events: make(chan FeedEvent, 64),
		done:   make(chan struct{}),
	}
	go sub.readLoop()
	go sub.heartbeatLoop()
	return sub, nil
}

func (f *RealtimeFeed) socketURL() (string, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse feed url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", f.apiKey)
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func awaitJoinAck(conn *websocket.Conn, topic string) error {
	_ = conn.SetReadDeadline(time.Now().Add(joinTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for {
		var msg phxMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("await join ack for %s: %w", topic, err)
		}
		if msg.Topic != topic || msg.Event != "phx_reply" {
			continue
		}
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return fmt.Errorf("decode join reply: %w", err)
		}
		if reply.Status != "ok" {
			return fmt.Errorf("join %s rejected: %s", topic, reply.Status)
		}
		return nil
	}
}

type realtimeSubscription struct {
	conn   *websocket.Conn
	topic  string
	events chan FeedEvent

	// gorilla/websocket allows one writer at a time; Close and the
	// heartbeat loop both write, so every frame goes through writeJSON.
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func (s *realtimeSubscription) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *realtimeSubscription) Events() <-chan FeedEvent {
	return s.events
}

// Close leaves the topic and tears down the connection. The events channel
// is closed by the read loop once the socket unblocks.
func (s *realtimeSubscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.writeJSON(map[string]any{
			"topic": s.topic, "event": "phx_leave", "ref": "2",
			"payload": map[string]any{},
		})
		_ = s.conn.Close()
	})
}

func (s *realtimeSubscription) readLoop() {
	defer close(s.events)
	for {
		var msg phxMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			// Transport error or deliberate Close; either way the stream
			// just ends. Resubscription is the consumer's move.
			s.Close()
			return
		}
		if msg.Event != "postgres_changes" {
			continue
		}
		var change changePayload
		if err := json.Unmarshal(msg.Payload, &change); err != nil {
			continue
		}
		evt := FeedEvent{
			Table:  change.Data.Table,
			Type:   change.Data.Type,
			Record: change.Data.Record,
		}
		select {
		case s.events <- evt:
		case <-s.done:
			return
		}
	}
}

func (s *realtimeSubscription) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	ref := 10
	for {
		select {
		case <-ticker.C:
			ref++
			hb := map[string]any{
				"topic": "phoenix", "event": "heartbeat",
				"ref": fmt.Sprint(ref), "payload": map[string]any{},
			}
			if err := s.writeJSON(hb); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}
