package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// PostgresStore keeps blobs in the comment_blobs table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	var (
		value   string
		version int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, version FROM comment_blobs WHERE key=$1`, key).Scan(&value, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	return []byte(value), strconv.FormatInt(version, 10), nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, version string) (string, error) {
	var next int64
	var err error
	if version == "" {
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO comment_blobs (key, value, version)
			VALUES ($1, $2, 1)
			ON CONFLICT (key) DO NOTHING
			RETURNING version
		`, key, string(value)).Scan(&next)
	} else {
		expected, parseErr := strconv.ParseInt(version, 10, 64)
		if parseErr != nil {
			return "", ErrConflict
		}
		err = s.db.QueryRowContext(ctx, `
			UPDATE comment_blobs
			SET value=$2, version=version+1, updated_at=NOW()
			WHERE key=$1 AND version=$3
			RETURNING version
		`, key, string(value), expected).Scan(&next)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrConflict
	}
	if err != nil {
		return "", fmt.Errorf("write %s: %w", key, err)
	}
	return strconv.FormatInt(next, 10), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
