package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

func TestObjectName(t *testing.T) {
	tests := map[string]string{
		"pageComments":       "pageComments.json",
		"pageComments:essay": "pageComments/essay.json",
	}
	for in, want := range tests {
		if got := objectName(in); got != want {
			t.Errorf("objectName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestObjectStoreMapsMissingKey(t *testing.T) {
	store := &ObjectStore{bucket: "readingroom"}

	missing := minio.ErrorResponse{Code: "NoSuchKey", Message: "The specified key does not exist."}
	if err := store.mapErr("pageComments", missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mapErr(NoSuchKey) = %v, want ErrNotFound", err)
	}

	denied := minio.ErrorResponse{Code: "AccessDenied", Message: "Access Denied."}
	err := store.mapErr("pageComments", denied)
	if errors.Is(err, ErrNotFound) || err == nil {
		t.Fatalf("mapErr(AccessDenied) = %v", err)
	}
}

func openTestObjectStore(t *testing.T) (*ObjectStore, ObjectStoreConfig) {
	t.Helper()
	endpoint := strings.TrimSpace(os.Getenv("READINGROOM_TEST_S3_ENDPOINT"))
	if endpoint == "" {
		t.Skip("READINGROOM_TEST_S3_ENDPOINT is not set")
	}
	cfg := ObjectStoreConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("READINGROOM_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("READINGROOM_TEST_S3_SECRET_KEY"),
		Bucket:    fmt.Sprintf("readingroom-test-%d", time.Now().UnixNano()),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	store, err := NewObjectStore(ctx, cfg)
	if err != nil {
		t.Fatalf("NewObjectStore() error = %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		for obj := range store.client.ListObjects(ctx, cfg.Bucket, minio.ListObjectsOptions{Recursive: true}) {
			if obj.Err != nil {
				t.Logf("list %s: %v", cfg.Bucket, obj.Err)
				break
			}
			_ = store.client.RemoveObject(ctx, cfg.Bucket, obj.Key, minio.RemoveObjectOptions{})
		}
		if err := store.client.RemoveBucket(ctx, cfg.Bucket); err != nil {
			t.Logf("remove bucket %s: %v", cfg.Bucket, err)
		}
	})
	return store, cfg
}

func TestObjectStoreContract(t *testing.T) {
	store, _ := openTestObjectStore(t)
	exerciseBackend(t, store)
}

func TestObjectStoreConflictAcrossClients(t *testing.T) {
	ctx := context.Background()
	first, cfg := openTestObjectStore(t)
	second, err := NewObjectStore(ctx, cfg)
	if err != nil {
		t.Fatalf("NewObjectStore(second) error = %v", err)
	}

	version, err := first.Put(ctx, "pageComments:essay", []byte(`[]`), "")
	if err != nil {
		t.Fatalf("Put(first) error = %v", err)
	}
	if _, err := second.Put(ctx, "pageComments:essay", []byte(`[{"id":1}]`), ""); !errors.Is(err, ErrConflict) {
		t.Fatalf("Put(second, stale) error = %v, want ErrConflict", err)
	}

	value, got, err := second.Get(ctx, "pageComments:essay")
	if err != nil || string(value) != `[]` || got != version {
		t.Fatalf("Get(second) = %s, %q, %v", value, got, err)
	}
	if _, err := second.Put(ctx, "pageComments:essay", []byte(`[{"id":1}]`), got); err != nil {
		t.Fatalf("Put(second, current) error = %v", err)
	}
	if _, err := first.Put(ctx, "pageComments:essay", []byte(`[{"id":2}]`), version); !errors.Is(err, ErrConflict) {
		t.Fatalf("Put(first, stale) error = %v, want ErrConflict", err)
	}

	if _, err := second.client.StatObject(ctx, cfg.Bucket, objectName("pageComments:essay"), minio.StatObjectOptions{}); err != nil {
		t.Fatalf("expected %s in bucket: %v", objectName("pageComments:essay"), err)
	}
}
