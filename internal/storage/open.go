package storage

import (
	"context"
	"fmt"
	"strings"
)

// Kinds of backend accepted by Open.
const (
	KindMemory   = "memory"
	KindRedis    = "redis"
	KindPostgres = "postgres"
	KindGit      = "git"
	KindS3       = "s3"
)

// Options selects and configures a backend.
type Options struct {
	Kind          string
	RedisURL      string
	DatabaseURL   string
	MigrationsDir string // empty applies the migrations built into the binary
	ReposDir      string
	Object        ObjectStoreConfig
}

// Open builds the backend named by opts.Kind.
func Open(ctx context.Context, opts Options) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindRedis:
		return NewRedisStore(opts.RedisURL)
	case KindPostgres:
		db, err := OpenPostgres(ctx, opts.DatabaseURL)
		if err != nil {
			return nil, err
		}
		migrations, err := MigrationSource(opts.MigrationsDir)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := ApplyMigrations(ctx, db, migrations); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		return NewPostgresStore(db), nil
	case KindGit:
		return NewGitStore(opts.ReposDir)
	case KindS3:
		return NewObjectStore(ctx, opts.Object)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Kind)
	}
}
