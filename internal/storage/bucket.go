package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

// BucketClient wraps a gocloud.dev bucket opened from a URL such as
// file:///var/lib/leasehold/uploads or mem://.
type BucketClient struct {
	bucket *blob.Bucket
	url    string
}

// NewBucketClient opens the bucket at rawURL. Local directories are created
// when missing.
func NewBucketClient(ctx context.Context, rawURL string) (*BucketClient, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("bucket url is required")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bucket url: %w", err)
	}
	if u.Scheme == "file" {
		if err := os.MkdirAll(u.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create bucket directory: %w", err)
		}
	}

	bucket, err := blob.OpenBucket(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	return &BucketClient{
		bucket: bucket,
		url:    u.Scheme + "://" + u.Host + u.Path,
	}, nil
}

// EnsureBucket checks the bucket is reachable.
func (b *BucketClient) EnsureBucket(ctx context.Context) error {
	ok, err := b.bucket.IsAccessible(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket %s is not accessible", b.url)
	}
	return nil
}

// Put uploads an object to the bucket.
func (b *BucketClient) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	writer, err := b.bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return err
	}
	if _, err := io.Copy(writer, r); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// Get opens a reader for an object in the bucket.
func (b *BucketClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := b.bucket.NewReader(ctx, key, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	return reader, nil
}

// Bucket returns the bucket URL without query parameters.
func (b *BucketClient) Bucket() string {
	return b.url
}

// Close releases the underlying bucket.
func (b *BucketClient) Close() error {
	return b.bucket.Close()
}
