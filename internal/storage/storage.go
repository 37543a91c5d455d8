// Package storage keeps user profile photos in an object store (MinIO or
// Google Cloud Storage).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/eims-app/apiserver/config"
	"github.com/segmentio/ksuid"
)

// MaxPhotoSize is the largest accepted photo upload in bytes.
const MaxPhotoSize = 5 << 20

// photoCacheControl is stored with every object. Photos are served only to
// their authenticated owner and keys change on every upload.
const photoCacheControl = "private, max-age=86400, immutable"

var (
	// ErrObjectNotFound is returned when the requested key does not exist.
	ErrObjectNotFound = errors.New("object not found")
	// ErrUnsupportedType is returned for uploads that are not a known image type.
	ErrUnsupportedType = errors.New("unsupported image type")
	// ErrTooLarge is returned for uploads above MaxPhotoSize.
	ErrTooLarge = errors.New("photo too large")
)

var photoExtensions = map[string]string{
	"image/jpeg": "jpeg",
	"image/png":  "png",
	"image/webp": "webp",
}

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Open connects to the backend named in cfg and makes sure its bucket exists.
// It returns nil without error when no backend is configured.
func Open(ctx context.Context, cfg config.StorageConfig) (ObjectStorage, error) {
	var (
		backend ObjectStorage
		err     error
	)
	switch cfg.Backend {
	case "":
		return nil, nil
	case "minio":
		backend, err = NewMinioClient(cfg.Minio)
	case "gcs":
		backend, err = NewGCSClient(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if err := backend.EnsureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket %s: %w", backend.Bucket(), err)
	}
	return backend, nil
}

// PhotoStore stores profile photos under users/<id>/.
type PhotoStore struct {
	backend ObjectStorage
}

func NewPhotoStore(backend ObjectStorage) *PhotoStore {
	return &PhotoStore{backend: backend}
}

// Save uploads a photo for userID and returns its object key.
func (p *PhotoStore) Save(ctx context.Context, userID string, r io.Reader, size int64, contentType string) (string, error) {
	ext, ok := photoExtensions[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", ErrUnsupportedType
	}
	if size > MaxPhotoSize {
		return "", ErrTooLarge
	}
	key := fmt.Sprintf("users/%s/%s.%s", userID, ksuid.New().String(), ext)
	if err := p.backend.Put(ctx, key, r, size, contentType); err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	return key, nil
}

// Open returns a reader for the photo stored at key.
func (p *PhotoStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return p.backend.Get(ctx, key)
}

// Remove deletes the photo stored at key. Missing objects are ignored.
func (p *PhotoStore) Remove(ctx context.Context, key string) error {
	err := p.backend.Delete(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return nil
	}
	return err
}

// ContentType guesses the media type from a photo key.
func ContentType(key string) string {
	for ct, ext := range photoExtensions {
		if strings.HasSuffix(key, "."+ext) {
			return ct
		}
	}
	return "application/octet-stream"
}
