// Package storage provides key/value blob backends for the comment forest.
//
// Every backend stores whole values only and hands out an opaque version
// token with each read. A write carries the token it was based on and fails
// with ErrConflict when somebody else wrote in between.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key holds no value.
	ErrNotFound = errors.New("storage: key not found")
	// ErrConflict is returned by Put when the stored version moved on.
	ErrConflict = errors.New("storage: version conflict")
)

// Backend is a versioned key/value blob store.
type Backend interface {
	// Get returns the value and its version. Missing keys yield ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, string, error)
	// Put replaces the value if the stored version still equals version.
	// An empty version means the key is expected to be absent.
	Put(ctx context.Context, key string, value []byte, version string) (string, error)
	Ping(ctx context.Context) error
	Close() error
}

// Revision describes one historical write of a key.
type Revision struct {
	Version   string    `json:"version"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Historian is implemented by backends that keep every write.
type Historian interface {
	History(ctx context.Context, key string, limit int) ([]Revision, error)
}
