package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ErrInvalidLocation is returned when a location reference cannot be parsed.
// This is a caller error, not a store fault.
var ErrInvalidLocation = errors.New("invalid blob location")

// Store is the blob access interface. Location references are opaque strings
// encoding store and key ("s3://bucket/key"); callers persist them as-is and
// hand them back for reads and signed URLs.
type Store interface {
	Location(key string) string
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Read(ctx context.Context, location string) ([]byte, error)
	SignedGetURL(ctx context.Context, location string, ttl time.Duration) (string, error)
	SignedPutURL(ctx context.Context, key, contentType string, ttl time.Duration) (string, error)
}

// ParseLocation splits an s3://bucket/key reference into bucket and key.
func ParseLocation(location string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}
	return bucket, key, nil
}

// FormatLocation builds the canonical s3://bucket/key reference.
func FormatLocation(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}
