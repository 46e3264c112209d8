package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestGitStoreContract(t *testing.T) {
	store, err := NewGitStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewGitStore() error = %v", err)
	}
	exerciseBackend(t, store)
}

func TestGitStoreHistory(t *testing.T) {
	ctx := context.Background()
	tempDir := t.TempDir()
	store, err := NewGitStore(tempDir)
	if err != nil {
		t.Fatalf("NewGitStore() error = %v", err)
	}

	history, err := store.History(ctx, "pageComments:essay", 10)
	if err != nil {
		t.Fatalf("History(empty) error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no history, got %d", len(history))
	}

	version := ""
	for _, value := range []string{`[]`, `[{"id":1}]`, `[{"id":2},{"id":1}]`} {
		version, err = store.Put(ctx, "pageComments:essay", []byte(value), version)
		if err != nil {
			t.Fatalf("Put(%s) error = %v", value, err)
		}
	}

	if _, err := os.Stat(filepath.Join(tempDir, "pageComments.essay", gitBlobFile)); err != nil {
		t.Fatalf("expected blob on disk: %v", err)
	}

	history, err = store.History(ctx, "pageComments:essay", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 revisions, got %d", len(history))
	}
	if history[0].Version != version {
		t.Fatalf("newest revision = %s, want %s", history[0].Version, version)
	}
	if history[2].Message != "Create pageComments:essay" {
		t.Fatalf("unexpected first message %q", history[2].Message)
	}

	limited, err := store.History(ctx, "pageComments:essay", 2)
	if err != nil {
		t.Fatalf("History(limit) error = %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(limited))
	}
}

func TestRepoDirName(t *testing.T) {
	tests := map[string]string{
		"pageComments":            "pageComments",
		"pageComments:my-essay_1": "pageComments.my-essay_1",
		"../escape":               "___escape",
		"":                        "default",
	}
	for in, want := range tests {
		if got := repoDirName(in); got != want {
			t.Errorf("repoDirName(%q) = %q, want %q", in, got, want)
		}
	}
}
