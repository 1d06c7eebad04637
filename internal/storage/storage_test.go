package storage

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestKey(t *testing.T) {
	tests := []struct {
		prefix, name, want string
	}{
		{"raw", "customers.csv", "raw/customers.csv"},
		{"raw/", "customers.csv", "raw/customers.csv"},
		{"/gold/", "/customers_gold.parquet", "gold/customers_gold.parquet"},
		{"", "customers.csv", "customers.csv"},
	}
	for _, tt := range tests {
		if got := Key(tt.prefix, tt.name); got != tt.want {
			t.Errorf("Key(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}

func TestLocalStorage_UploadOverwrites(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(filepath.Join(t.TempDir(), "bucket"))
	if err != nil {
		t.Fatalf("NewLocalStorage() err = %v", err)
	}

	src := filepath.Join(t.TempDir(), "customers.csv")
	writeFile(t, src, "email,state\na@x.com,SP\n")

	for i := 0; i < 2; i++ {
		if err := store.UploadFile(ctx, "raw/customers.csv", src); err != nil {
			t.Fatalf("UploadFile() #%d err = %v", i, err)
		}
	}

	got, err := store.GetObject(ctx, "raw/customers.csv")
	if err != nil {
		t.Fatalf("GetObject() err = %v", err)
	}
	if !bytes.Equal(got, []byte("email,state\na@x.com,SP\n")) {
		t.Fatalf("GetObject() = %q", got)
	}

	objects, err := store.ListObjects(ctx, "raw/")
	if err != nil {
		t.Fatalf("ListObjects() err = %v", err)
	}
	if len(objects) != 1 || objects[0].Key != "raw/customers.csv" {
		t.Fatalf("ListObjects() = %+v, want exactly raw/customers.csv", objects)
	}

	info, err := store.StatObject(ctx, "raw/customers.csv")
	if err != nil {
		t.Fatalf("StatObject() err = %v", err)
	}
	if info.Size != int64(len(got)) {
		t.Fatalf("StatObject().Size = %d, want %d", info.Size, len(got))
	}
	if info.ETag == "" {
		t.Fatal("StatObject().ETag is empty")
	}
}

func TestLocalStorage_Errors(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() err = %v", err)
	}

	if _, err := store.GetObject(ctx, "gold/missing.parquet"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("GetObject(missing) err = %v, want ErrObjectNotFound", err)
	}

	if _, err := store.StatObject(ctx, "gold/missing.parquet"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("StatObject(missing) err = %v, want ErrObjectNotFound", err)
	}

	err = store.UploadFile(ctx, "raw/nope.csv", filepath.Join(t.TempDir(), "nope.csv"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("UploadFile(missing local) err = %v, want fs.ErrNotExist", err)
	}

	for _, key := range []string{"", "../escape.csv", "raw/../../escape.csv", "/abs.csv"} {
		if _, err := store.GetObject(ctx, key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("GetObject(%q) err = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestLocalStorage_DownloadObject(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStorage() err = %v", err)
	}

	src := filepath.Join(t.TempDir(), "a.csv")
	writeFile(t, src, "x\n1\n")
	if err := store.UploadFile(ctx, "raw/a.csv", src); err != nil {
		t.Fatalf("UploadFile() err = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "nested", "a.csv")
	if err := store.DownloadObject(ctx, "raw/a.csv", dest); err != nil {
		t.Fatalf("DownloadObject() err = %v", err)
	}
	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "x\n1\n" {
		t.Fatalf("downloaded content = %q", data)
	}
}

func TestNewS3Client(t *testing.T) {
	if _, err := NewS3Client(S3Config{Bucket: "lake"}); err == nil {
		t.Fatal("NewS3Client() without endpoint expected error")
	}
	if _, err := NewS3Client(S3Config{Endpoint: "s3.amazonaws.com"}); err == nil {
		t.Fatal("NewS3Client() without bucket expected error")
	}

	client, err := NewS3Client(S3Config{
		Endpoint:  "https://minio.local:9000/",
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "lake",
	})
	if err != nil {
		t.Fatalf("NewS3Client() err = %v", err)
	}
	if client.Bucket() != "lake" {
		t.Fatalf("Bucket() = %q, want lake", client.Bucket())
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
	}{
		{"s3.amazonaws.com", true, "s3.amazonaws.com", true},
		{"http://localhost:9000", true, "localhost:9000", false},
		{"https://minio.local/", false, "minio.local", true},
		{"//storage.example.com", false, "storage.example.com", false},
	}
	for _, tt := range tests {
		host, secure := normalizeEndpoint(tt.raw, tt.useSSL)
		if host != tt.wantHost || secure != tt.wantSecure {
			t.Errorf("normalizeEndpoint(%q, %v) = (%q, %v), want (%q, %v)",
				tt.raw, tt.useSSL, host, secure, tt.wantHost, tt.wantSecure)
		}
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}, ErrAccessDenied},
		{"bad key id", minio.ErrorResponse{Code: "InvalidAccessKeyId", StatusCode: 403}, ErrAccessDenied},
		{"missing bucket", minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: 404}, ErrAccessDenied},
		{"missing key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}, ErrObjectNotFound},
		{"connectivity", &url.Error{Op: "Put", URL: "https://s3", Err: errors.New("connection refused")}, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError("upload", "raw/a.csv", tt.err)
			if !errors.Is(got, tt.want) {
				t.Fatalf("classifyError() = %v, want %v in chain", got, tt.want)
			}
		})
	}

	if classifyError("upload", "k", nil) != nil {
		t.Fatal("classifyError(nil) != nil")
	}

	generic := classifyError("upload", "k", fs.ErrNotExist)
	if !errors.Is(generic, fs.ErrNotExist) {
		t.Fatalf("classifyError() lost the original error: %v", generic)
	}
	if errors.Is(generic, ErrAccessDenied) || errors.Is(generic, ErrUnavailable) {
		t.Fatalf("classifyError() misclassified a local error: %v", generic)
	}
}

func TestContentTypeFor(t *testing.T) {
	if got := contentTypeFor("silver/a.parquet"); got != "application/vnd.apache.parquet" {
		t.Errorf("contentTypeFor(parquet) = %q", got)
	}
	if got := contentTypeFor("raw/a.csv"); got != "text/csv" {
		t.Errorf("contentTypeFor(csv) = %q", got)
	}
	if got := contentTypeFor("raw/blob"); got != "application/octet-stream" {
		t.Errorf("contentTypeFor(no ext) = %q", got)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
