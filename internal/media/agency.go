// Package media talks to the two outward services the send path needs:
// the agency gateway that delivers messages to WhatsApp, and the object
// store that hosts uploaded attachments.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Agency delivers outbound messages through the agency gateway. The
// gateway owns the WhatsApp session; the console only hands it recipient
// and content.
type Agency struct {
	baseURL string
	http    *http.Client
}

// NewAgency creates an agency client for the given base URL.
func NewAgency(baseURL string) *Agency {
	return &Agency{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type agencyPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// SendText delivers a text message to the recipient's phone number.
func (a *Agency) SendText(ctx context.Context, to, message string) error {
	return a.post(ctx, "/api/sendMessage", agencyPayload{To: to, Message: message})
}

// SendMedia delivers a media message. The gateway takes the public media
// URL in the message body, prefixed by the caption when one is set.
func (a *Agency) SendMedia(ctx context.Context, to, mediaURL, caption string) error {
	message := mediaURL
	if caption != "" {
		message = caption + "\n" + mediaURL
	}
	return a.post(ctx, "/api/sendMediaMessage", agencyPayload{To: to, Message: message})
}

func (a *Agency) post(ctx context.Context, path string, payload agencyPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("agency %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("agency %s: status %d: %s", path, resp.StatusCode, detail)
	}
	return nil
}
