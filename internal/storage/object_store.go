package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStoreConfig describes an S3-compatible bucket.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ObjectStore keeps each blob as <key>.json in one bucket. The object ETag is
// the version. The check and the upload are not atomic on the S3 side; they
// are serialized per key inside this process only.
type ObjectStore struct {
	client *minio.Client
	bucket string
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &ObjectStore{
		client: client,
		bucket: cfg.Bucket,
		locks:  make(map[string]*sync.Mutex),
	}, nil
}

func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, "", s.mapErr(key, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, "", s.mapErr(key, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", s.mapErr(key, err)
	}
	return data, info.ETag, nil
}

func (s *ObjectStore) Put(ctx context.Context, key string, value []byte, version string) (string, error) {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	current := ""
	info, err := s.client.StatObject(ctx, s.bucket, objectName(key), minio.StatObjectOptions{})
	if err == nil {
		current = info.ETag
	} else if mapped := s.mapErr(key, err); mapped != ErrNotFound {
		return "", mapped
	}
	if current != version {
		return "", ErrConflict
	}

	uploaded, err := s.client.PutObject(ctx, s.bucket, objectName(key), bytes.NewReader(value), int64(len(value)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	return uploaded.ETag, nil
}

func (s *ObjectStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *ObjectStore) Close() error { return nil }

func (s *ObjectStore) mapErr(key string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("read %s: %w", key, err)
}

func (s *ObjectStore) keyLock(key string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

func objectName(key string) string {
	return strings.ReplaceAll(key, ":", "/") + ".json"
}
