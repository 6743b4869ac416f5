package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrTooLarge        = errors.New("file too large")
	ErrNotConfigured   = errors.New("storage not configured")
)

// Object is a stored file. Ref is the storage id kept on records.
type Object struct {
	Ref         string `json:"storage_id"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// PresignedUpload lets a browser PUT a file directly into the bucket.
type PresignedUpload struct {
	Ref         string            `json:"storage_id"`
	URL         string            `json:"upload_url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	ContentType string            `json:"content_type"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// Store uploads files server-side and resolves refs to public URLs.
type Store interface {
	Put(ctx context.Context, contentType string, data []byte) (Object, error)
	URL(ref string) string
}

// Presigner hands out direct-upload URLs.
type Presigner interface {
	PresignPut(ctx context.Context, contentType string) (PresignedUpload, error)
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// CheckContentType normalizes ct and rejects anything that is not a photo.
func CheckContentType(ct string) (string, error) {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "image/jpg" {
		ct = "image/jpeg"
	}
	if _, ok := extensions[ct]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, ct)
	}
	return ct, nil
}

// NewKey builds a unique object key under prefix for a validated content type.
func NewKey(prefix, contentType string, now time.Time) string {
	prefix = strings.Trim(prefix, "/")
	key := fmt.Sprintf("%s/%s%s", now.UTC().Format("2006/01"), uuid.NewString(), extensions[contentType])
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}
