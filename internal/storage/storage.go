package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// URIScheme prefixes stub contents that point into the configured bucket.
const URIScheme = "s3://"

// ProgressFunc receives the bytes read so far and the object size, 0 when unknown.
type ProgressFunc func(received, total int64)

// Client abstracts the subset of S3 operations the tool needs.
type Client interface {
	UploadFile(ctx context.Context, key, filePath string, contentType string) error
	DownloadToFile(ctx context.Context, key, destPath string, fn ProgressFunc) error
	Exists(ctx context.Context, key string) (bool, error)
}

var (
	defaultClient Client
)

// SetDefaultClient sets the global storage client used by the application.
func SetDefaultClient(c Client) {
	defaultClient = c
}

// DefaultClient returns the global storage client if one has been configured.
func DefaultClient() Client {
	return defaultClient
}

// MediaKey is the object key of a mirrored media file: <platform>/<images|videos>/<file>.
func MediaKey(platform, dir, file string) string {
	return path.Join(sanitizeSegment(platform), dir, path.Base(file))
}

func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "/", "-")
	if s == "" {
		return "unknown"
	}
	return s
}

// ParseURI splits "s3://bucket/key" into its parts.
func ParseURI(uri string) (bucket, key string, err error) {
	if !strings.HasPrefix(uri, URIScheme) {
		return "", "", fmt.Errorf("not an object store uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, URIScheme)
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || strings.Trim(key, "/") == "" {
		return "", "", fmt.Errorf("object store uri %q needs a bucket and a key", uri)
	}
	return bucket, strings.TrimPrefix(key, "/"), nil
}
