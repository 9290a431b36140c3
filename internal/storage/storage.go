package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/leasehold/apiserver/types"
)

// ImagesNamespace holds rental pictures.
const ImagesNamespace = "images"

// rasterImages are the picture formats accepted on upload and served back.
// Formats that can carry script, such as SVG, are left out.
var rasterImages = []string{
	"image/png",
	"image/jpeg",
	"image/gif",
	"image/webp",
	"image/bmp",
	"image/avif",
	"image/tiff",
}

var (
	// ErrObjectNotFound is returned by Get when the key does not exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrInvalidKey is returned for names that could escape their namespace.
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Bucket() string
}

// Storage is the append-only asset store. Every stored object gets a fresh
// random name, so concurrent uploads never collide and nothing is overwritten.
type Storage struct {
	backend ObjectStorage
}

// NewStorage constructs a Storage wrapper for the provided backend.
func NewStorage(backend ObjectStorage) *Storage {
	return &Storage{backend: backend}
}

// EnsureBucket ensures the configured bucket exists.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Store uploads data under namespace and returns the generated asset.
func (s *Storage) Store(ctx context.Context, namespace string, data []byte, contentType string) (types.Asset, error) {
	if !validName(namespace) {
		return types.Asset{}, ErrInvalidKey
	}

	asset := types.Asset{
		Namespace:   namespace,
		Filename:    uuid.NewString() + extensionFor(contentType),
		ContentType: contentType,
	}
	if err := s.backend.Put(ctx, asset.Key(), bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return types.Asset{}, fmt.Errorf("put %s: %w", asset.Key(), err)
	}
	return asset, nil
}

// Open returns a reader for a previously stored asset.
func (s *Storage) Open(ctx context.Context, namespace, filename string) (io.ReadCloser, error) {
	if !validName(namespace) || !validName(filename) {
		return nil, ErrInvalidKey
	}
	return s.backend.Get(ctx, namespace+"/"+filename)
}

// Bucket returns the configured bucket name.
func (s *Storage) Bucket() string {
	return s.backend.Bucket()
}

// DetectImage sniffs data and returns its media type when it is a raster
// image. The declared type of an upload plays no part.
func DetectImage(data []byte) (string, bool) {
	detected := mimetype.Detect(data).String()
	if !mimetype.EqualsAny(detected, rasterImages...) {
		return "", false
	}
	return detected, true
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

func extensionFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if m := mimetype.Lookup(mediaType); m != nil {
		return m.Extension()
	}
	return ""
}
