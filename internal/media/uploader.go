package media

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
)

// Upload is the result of a stored attachment.
type Upload struct {
	Bucket    string `json:"bucket"`
	Path      string `json:"path"`
	PublicURL string `json:"media_url"`
	MimeType  string `json:"mime_type"`
	Size      int64  `json:"size"`
}

// Uploader writes attachments into the remote object store's public
// bucket and hands back the URL the agency gateway will deliver.
type Uploader struct {
	baseURL string
	apiKey  string
	bucket  string
	http    *http.Client
}

// NewUploader creates an uploader against the store's storage API.
func NewUploader(baseURL, apiKey, bucket string) *Uploader {
	return &Uploader{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		bucket:  bucket,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Put stores the attachment under a collision-free generated name inside
// folder ("uploads" when empty) and returns its public URL. The original
// file name only contributes its extension; size must match the reader's
// length.
func (u *Uploader) Put(ctx context.Context, folder, fileName, mimeType string, size int64, r io.Reader) (*Upload, error) {
	folder = strings.Trim(folder, "/")
	if folder == "" {
		folder = "uploads"
	}
	objectPath := folder + "/" + objectName(fileName)
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", u.baseURL, u.bucket, objectPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, r)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Cache-Control", "max-age=3600")
	req.Header.Set("apikey", u.apiKey)
	req.Header.Set("Authorization", "Bearer "+u.apiKey)
	if size > 0 {
		req.ContentLength = size
	}

	resp, err := u.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload object: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("upload object: status %d: %s", resp.StatusCode, detail)
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	return &Upload{
		Bucket:    u.bucket,
		Path:      objectPath,
		PublicURL: fmt.Sprintf("%s/storage/v1/object/public/%s/%s", u.baseURL, u.bucket, objectPath),
		MimeType:  mimeType,
		Size:      size,
	}, nil
}

// objectName builds a timestamp-plus-random name keeping only the
// original extension, so uploads never collide and never leak the
// caller's file name into a public URL.
func objectName(fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if ext == "" {
		ext = ".bin"
	}
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), hex.EncodeToString(buf), ext)
}
