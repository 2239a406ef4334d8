package model

import (
	"path"
	"strings"
)

// Kind classifies message content.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
	KindLocation Kind = "location"
	KindContact  Kind = "contact"
)

// ParseKind maps a raw message_type column value to a Kind, defaulting to
// text for empty and document for anything unrecognized.
func ParseKind(raw string) Kind {
	switch Kind(raw) {
	case KindText, KindImage, KindVideo, KindAudio, KindDocument, KindSticker, KindLocation, KindContact:
		return Kind(raw)
	case "":
		return KindText
	default:
		return KindDocument
	}
}

// KindForAttachment infers the message kind for an uploaded attachment.
// MIME type wins, the media URL's extension is the fallback, and document
// is the final fallback.
func KindForAttachment(mimeType, mediaURL string) Kind {
	if k, ok := kindFromMime(mimeType); ok {
		return k
	}
	if k, ok := kindFromExtension(mediaURL); ok {
		return k
	}
	return KindDocument
}

func kindFromMime(mimeType string) (Kind, bool) {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case mt == "":
		return "", false
	case mt == "image/webp":
		// WhatsApp delivers stickers as webp.
		return KindSticker, true
	case strings.HasPrefix(mt, "image/"):
		return KindImage, true
	case strings.HasPrefix(mt, "video/"):
		return KindVideo, true
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio, true
	case mt == "text/vcard" || mt == "text/x-vcard":
		return KindContact, true
	default:
		return "", false
	}
}

func kindFromExtension(mediaURL string) (Kind, bool) {
	ext := strings.ToLower(path.Ext(stripQuery(mediaURL)))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp":
		return KindImage, true
	case ".webp":
		return KindSticker, true
	case ".mp4", ".mov", ".avi", ".mkv", ".webm":
		return KindVideo, true
	case ".mp3", ".ogg", ".opus", ".wav", ".m4a", ".aac":
		return KindAudio, true
	case ".vcf":
		return KindContact, true
	case "":
		return "", false
	default:
		return KindDocument, true
	}
}

func stripQuery(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
