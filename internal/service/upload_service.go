package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/transflow/api/internal/apperr"
	"github.com/transflow/api/internal/client"
	"github.com/transflow/api/internal/model"
)

const uploadPrefix = "uploads/"

// ErrStorageDisabled is returned when no object storage is configured.
var ErrStorageDisabled = errors.New("object storage is not configured")

// UploadService hands out presigned URLs for source documents
type UploadService struct {
	storage client.StorageClient
	expiry  time.Duration
}

// NewUploadService creates a new upload service. storage may be nil.
func NewUploadService(storage client.StorageClient, expiry time.Duration) *UploadService {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &UploadService{storage: storage, expiry: expiry}
}

// UploadURL returns a presigned PUT URL under the caller's upload prefix.
// The returned key is what document registration takes as its url.
func (s *UploadService) UploadURL(ctx context.Context, userID string, req *model.UploadURLRequest) (*model.UploadURLResponse, error) {
	if s.storage == nil {
		return nil, ErrStorageDisabled
	}
	name := sanitizeFileName(req.FileName)
	if name == "" {
		return nil, apperr.Validation("invalid file name")
	}
	owner := sanitizeFileName(userID)
	if owner == "" {
		owner = "anonymous"
	}

	key := fmt.Sprintf("%s%s/%s/%s", uploadPrefix, owner, uuid.New().String(), name)
	url, err := s.storage.PresignPut(ctx, key, req.ContentType, s.expiry)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}
	return &model.UploadURLResponse{Key: key, UploadURL: url, ExpiresIn: int(s.expiry.Seconds())}, nil
}

// FileURL returns a presigned GET URL for an uploaded object.
func (s *UploadService) FileURL(ctx context.Context, key string) (*model.FileURLResponse, error) {
	if s.storage == nil {
		return nil, ErrStorageDisabled
	}
	clean := path.Clean("/" + key)[1:]
	if clean != key || !strings.HasPrefix(key, uploadPrefix) {
		return nil, apperr.Validation("invalid file key")
	}
	url, err := s.storage.PresignGet(ctx, key, s.expiry)
	if err != nil {
		return nil, fmt.Errorf("failed to presign download: %w", err)
	}
	return &model.FileURLResponse{Key: key, URL: url, ExpiresIn: int(s.expiry.Seconds())}, nil
}

// sanitizeFileName keeps the base name and replaces anything outside a
// conservative character set.
func sanitizeFileName(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if len(out) > 200 {
		out = out[len(out)-200:]
	}
	return out
}
