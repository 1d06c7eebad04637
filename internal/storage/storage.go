package storage

import (
	"context"
	"errors"
	"mime"
	"path"
	"strings"
	"time"
)

var (
	// ErrObjectNotFound is returned when a key does not exist in the bucket.
	ErrObjectNotFound = errors.New("object not found")
	// ErrAccessDenied covers rejected credentials, signatures and bucket permissions.
	ErrAccessDenied = errors.New("storage access denied")
	// ErrUnavailable covers connectivity failures talking to the storage endpoint.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrInvalidKey is returned for keys that are empty or escape the bucket namespace.
	ErrInvalidKey = errors.New("invalid object key")
)

// ObjectInfo represents metadata for a remote file/object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// ObjectStorage captures the minimal S3-compatible operations the pipeline needs.
type ObjectStorage interface {
	// UploadFile stores the content of localPath under key, replacing any existing object.
	UploadFile(ctx context.Context, key string, localPath string) error
	// GetObject reads the full object body.
	GetObject(ctx context.Context, key string) ([]byte, error)
	StatObject(ctx context.Context, key string) (ObjectInfo, error)
	ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error)
	DownloadObject(ctx context.Context, key string, destPath string) error
}

// Key joins a tier prefix and an object name into a bucket-relative key.
func Key(prefix, name string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// validateKey rejects keys that cannot be mapped onto a single object.
func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if strings.HasPrefix(key, "/") {
		return ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}

// contentTypeFor guesses the object content type from the key extension.
func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".parquet":
		return "application/vnd.apache.parquet"
	case ".csv":
		return "text/csv"
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
