package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/moverse/agentdesk/internal/model"
)

func TestFetchConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/conversations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("order"); got != "last_message_at.desc.nullslast" {
			t.Errorf("order = %q", got)
		}
		if r.Header.Get("apikey") == "" {
			t.Error("missing apikey header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"c1","contact_id":"ct1","status":"open","unread_count":3,
			 "last_message_at":"2026-03-01T10:00:00Z",
			 "contacts":{"id":"ct1","wa_id":"5511999","profile_name":"Ana","phone_number":"+5511999"}},
			{"id":"c2","contact_id":"ct2","status":"","unread_count":0,"last_message_at":null,
			 "contacts":{"id":"ct2","wa_id":"5511888","profile_name":""}}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	rows, err := c.FetchConversations(context.Background())
	if err != nil {
		t.Fatalf("FetchConversations() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	conv := rows[0].ToConversation()
	if conv.UnreadCount != 3 || conv.Contact.DisplayName != "Ana" {
		t.Errorf("conversation = %+v", conv)
	}
	if conv.LastMessageAt.IsZero() {
		t.Error("last_message_at should decode")
	}

	// Empty status defaults to open, empty profile name falls back to wa_id.
	conv2 := rows[1].ToConversation()
	if conv2.Status != "open" {
		t.Errorf("status = %q, want open default", conv2.Status)
	}
	if conv2.Contact.DisplayName != "5511888" {
		t.Errorf("display name = %q, want wa_id fallback", conv2.Contact.DisplayName)
	}
	if !conv2.LastMessageAt.IsZero() {
		t.Error("null last_message_at should stay zero")
	}
}

func TestFetchMessagesNormalization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("conversation_id"); got != "eq.c1" {
			t.Errorf("conversation_id = %q", got)
		}
		if got := r.URL.Query().Get("order"); got != "sent_at.asc" {
			t.Errorf("order = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"m1","conversation_id":"c1","direction":"incoming","message":"oi","message_type":"text","sent_at":"2026-03-01T10:00:00Z"},
			{"id":"m2","conversation_id":"c1","direction":"outgoing","message":"","caption":"the doc","message_type":"document","file_name":"a.pdf","media_url":"https://cdn/x.pdf","sent_at":"2026-03-01T10:01:00Z"}
		]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	rows, err := c.FetchMessages(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows", len(rows))
	}

	m1 := rows[0].ToMessage()
	if m1.Sender != model.SenderOther || m1.Kind != model.KindText || m1.Body != "oi" {
		t.Errorf("m1 = %+v", m1)
	}
	m2 := rows[1].ToMessage()
	if m2.Sender != model.SenderSelf || m2.Kind != model.KindDocument {
		t.Errorf("m2 = %+v", m2)
	}
	if m2.Body != "the doc" {
		t.Errorf("media body should take caption, got %q", m2.Body)
	}
}

func TestWriteUnreadZero(t *testing.T) {
	var gotMethod, gotFilter, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotFilter = r.URL.Query().Get("id")
		buf := make([]byte, 256)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	if err := c.WriteUnreadZero(context.Background(), "c9"); err != nil {
		t.Fatalf("WriteUnreadZero() error = %v", err)
	}
	if gotMethod != http.MethodPatch || gotFilter != "eq.c9" {
		t.Errorf("request = %s %s", gotMethod, gotFilter)
	}
	if gotBody != `{"unread_count":0}` {
		t.Errorf("body = %q", gotBody)
	}
}

func TestWriteOutboundSendReturnsReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Prefer") != "resolution=merge-duplicates,return=representation" {
			t.Errorf("Prefer = %q", r.Header.Get("Prefer"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"m77","sent_at":"2026-03-01T11:00:00Z"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	receipt, err := c.WriteOutboundSend(context.Background(), OutboundSend{
		ClientID: "cid-1", ConversationID: "c1", Kind: model.KindText, Body: "hello",
	})
	if err != nil {
		t.Fatalf("WriteOutboundSend() error = %v", err)
	}
	if receipt.ID != "m77" {
		t.Errorf("receipt id = %q", receipt.ID)
	}
	want := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	if !receipt.SentAt.Equal(want) {
		t.Errorf("receipt sent_at = %v", receipt.SentAt)
	}
}

func TestWriteOutboundSendUpsertsOnClientID(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("on_conflict"); got != "client_id" {
			t.Errorf("on_conflict = %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		bodies = append(bodies, payload)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id":"m42","sent_at":"2026-03-01T11:00:00Z"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	send := OutboundSend{ClientID: "cid-9", ConversationID: "c1", Kind: model.KindText, Body: "replayed"}

	// A crash between the durable write and the local sent-mark replays the
	// same outbox entry; both writes must carry the same idempotency key so
	// the store resolves them to one row.
	for i := 0; i < 2; i++ {
		receipt, err := c.WriteOutboundSend(context.Background(), send)
		if err != nil {
			t.Fatalf("WriteOutboundSend() #%d error = %v", i+1, err)
		}
		if receipt.ID != "m42" {
			t.Errorf("receipt id = %q", receipt.ID)
		}
	}

	if len(bodies) != 2 {
		t.Fatalf("got %d writes, want 2", len(bodies))
	}
	for i, b := range bodies {
		if b["client_id"] != "cid-9" {
			t.Errorf("write #%d client_id = %v", i+1, b["client_id"])
		}
	}
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"bad key"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "wrong")
	_, err := c.FetchConversations(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if se.Code != http.StatusUnauthorized {
		t.Errorf("code = %d", se.Code)
	}
}

func TestFetchRecentMessagesEmptyIDs(t *testing.T) {
	c := NewClient("http://unused.invalid", "k")
	rows, err := c.FetchRecentMessages(context.Background(), nil)
	if err != nil {
		t.Fatalf("error = %v, want nil for empty id list", err)
	}
	if rows != nil {
		t.Errorf("rows = %v, want nil", rows)
	}
}
