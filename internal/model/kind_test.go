package model

import (
	"testing"
	"time"
)

func TestKindForAttachment(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		mediaURL string
		want     Kind
	}{
		{"image mime", "image/jpeg", "", KindImage},
		{"mime with parameters", "image/png; charset=binary", "", KindImage},
		{"video mime", "video/mp4", "", KindVideo},
		{"audio mime", "audio/ogg", "", KindAudio},
		{"sticker webp mime", "image/webp", "", KindSticker},
		{"vcard mime", "text/vcard", "", KindContact},
		{"pdf mime falls through to extension", "application/pdf", "https://cdn.example/x.pdf", KindDocument},
		{"no mime, image extension", "", "https://cdn.example/uploads/photo.JPG", KindImage},
		{"no mime, extension with query", "", "https://cdn.example/clip.mp4?token=abc", KindVideo},
		{"no mime, unknown extension", "", "https://cdn.example/report.xlsx", KindDocument},
		{"nothing known", "", "https://cdn.example/blob", KindDocument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindForAttachment(tt.mimeType, tt.mediaURL); got != tt.want {
				t.Errorf("KindForAttachment(%q, %q) = %q, want %q", tt.mimeType, tt.mediaURL, got, tt.want)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	if got := ParseKind(""); got != KindText {
		t.Errorf("ParseKind(\"\") = %q, want text", got)
	}
	if got := ParseKind("image"); got != KindImage {
		t.Errorf("ParseKind(image) = %q, want image", got)
	}
	if got := ParseKind("poll"); got != KindDocument {
		t.Errorf("ParseKind(poll) = %q, want document fallback", got)
	}
}

func TestPreviewOf(t *testing.T) {
	text := &Message{Kind: KindText, Body: "hello"}
	if p := PreviewOf(text); p.Text != "hello" || p.Kind != KindText {
		t.Errorf("text preview = %+v", p)
	}

	doc := &Message{Kind: KindDocument, Body: "invoice attached", FileName: "invoice.pdf"}
	p := PreviewOf(doc)
	if p.Text != "" || p.Caption != "invoice attached" || p.FileName != "invoice.pdf" {
		t.Errorf("document preview = %+v", p)
	}
}

func TestOnline(t *testing.T) {
	now := time.Now()
	c := &Conversation{LastMessageAt: now.Add(-time.Minute)}
	if !c.Online(now) {
		t.Error("recent last message should count as online")
	}
	c.LastMessageAt = now.Add(-10 * time.Minute)
	if c.Online(now) {
		t.Error("stale last message should not count as online")
	}
	c.LastMessageAt = time.Time{}
	if c.Online(now) {
		t.Error("zero last message should not count as online")
	}
}
