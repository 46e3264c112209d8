package app

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"readingroom/api/internal/comments"
	"readingroom/api/internal/config"
	"readingroom/api/internal/render"
	"readingroom/api/internal/storage"
)

func newTestService(t *testing.T, backend storage.Backend) *Service {
	t.Helper()
	if backend == nil {
		backend = storage.NewMemoryStore()
	}
	svc := New(config.Config{StorageKey: "pageComments"}, backend, nil, render.NewServiceWithPrinter(fakePDF))
	ts := time.Date(2024, time.March, 5, 14, 7, 0, 0, time.UTC)
	svc.now = func() time.Time { return ts }
	return svc
}

func fakePDF(_ context.Context, html, title string) (*render.Result, error) {
	return &render.Result{Data: []byte("%PDF-1.4 " + title), Filename: "comments.pdf", MimeType: "application/pdf"}, nil
}

func TestServiceStorageKeys(t *testing.T) {
	svc := newTestService(t, nil)
	if got := svc.StorageKey(""); got != "pageComments" {
		t.Fatalf("StorageKey(\"\") = %q", got)
	}
	if got := svc.StorageKey("essay-1"); got != "pageComments:essay-1" {
		t.Fatalf("StorageKey(essay-1) = %q", got)
	}
}

func TestServicePagesAreIsolated(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStore()
	svc := newTestService(t, backend)

	if _, err := svc.AddComment(ctx, "", CommentInput{Author: "Ann", Body: "site-wide"}, ""); err != nil {
		t.Fatalf("AddComment(root) error = %v", err)
	}
	view, err := svc.AddComment(ctx, "essay", CommentInput{Author: "Bob", Body: "on the essay"}, "")
	if err != nil {
		t.Fatalf("AddComment(essay) error = %v", err)
	}
	if view.Count != 1 || view.Comments[0].Author != "Bob" {
		t.Fatalf("unexpected essay view %+v", view)
	}

	root, err := svc.Comments(ctx, "")
	if err != nil || root.Count != 1 || root.Comments[0].Author != "Ann" {
		t.Fatalf("unexpected root view %+v, %v", root, err)
	}
	if _, _, err := backend.Get(ctx, "pageComments:essay"); err != nil {
		t.Fatalf("expected essay forest under its own key: %v", err)
	}
}

func TestServiceRejectsBadPageSlug(t *testing.T) {
	svc := newTestService(t, nil)
	for _, page := range []string{"Essay", "../etc", "a b", "-lead"} {
		_, err := svc.Comments(context.Background(), page)
		var domainErr *DomainError
		if !errors.As(err, &domainErr) || domainErr.Status != http.StatusBadRequest {
			t.Errorf("Comments(%q) error = %v, want 400", page, err)
		}
	}
}

func TestServiceAcceptsLegacyInputFields(t *testing.T) {
	svc := newTestService(t, nil)
	view, err := svc.AddComment(context.Background(), "", CommentInput{Name: " Ann ", Text: " Hi "}, "")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	got := view.Comments[0]
	if got.Author != "Ann" || got.Body != "Hi" || got.CreatedAt != "March 5, 2024 at 02:07 PM" {
		t.Fatalf("unexpected comment %+v", got)
	}
}

func TestServiceStaleIfMatchWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)

	first, err := svc.AddComment(ctx, "", CommentInput{Author: "Ann", Body: "Hi"}, "")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	second, err := svc.AddComment(ctx, "", CommentInput{Author: "Cara", Body: "First?"}, `"`+first.ETag+`"`)
	if err != nil {
		t.Fatalf("AddComment(fresh etag) error = %v", err)
	}

	_, err = svc.AddReply(ctx, "", first.Comments[0].ID, CommentInput{Author: "Bob", Body: "late"}, first.ETag)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "STALE_FORM" {
		t.Fatalf("AddReply(stale) error = %v, want STALE_FORM", err)
	}

	current, _ := svc.Comments(ctx, "")
	if current.ETag != second.ETag || current.Count != 2 {
		t.Fatalf("expected nothing written, got %+v", current)
	}

	if _, err := svc.DeleteComment(ctx, "", first.Comments[0].ID, "*"); err != nil {
		t.Fatalf("DeleteComment(*) error = %v", err)
	}
}

func TestServiceReplyToUnknownParent(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.AddReply(context.Background(), "", 99, CommentInput{Author: "Bob", Body: "lost"}, "")
	if !errors.Is(err, comments.ErrNotFound) {
		t.Fatalf("AddReply() error = %v, want ErrNotFound", err)
	}
}

func TestETagTracksContent(t *testing.T) {
	empty := ETag(comments.Forest{})
	if empty == "" || empty != ETag(nil) {
		t.Fatalf("expected nil and empty forests to share an etag, got %q", empty)
	}
	one := ETag(comments.Forest{{ID: 1, Author: "Ann", Body: "Hi"}})
	if one == empty || len(one) != 32 {
		t.Fatalf("unexpected etag %q", one)
	}
	if normalizeETag(` W/"abc" `) != "abc" {
		t.Fatal("expected weak quoted etag to normalize")
	}
}

func TestServiceExport(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	if _, err := svc.AddComment(ctx, "essay", CommentInput{Author: "Ann", Body: "<b>bold</b>"}, ""); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}

	result, err := svc.Export(ctx, "essay", render.FormatHTML)
	if err != nil {
		t.Fatalf("Export(html) error = %v", err)
	}
	if result.Filename != "Comments-on-essay.html" {
		t.Fatalf("Filename = %q", result.Filename)
	}

	pdf, err := svc.Export(ctx, "essay", render.FormatPDF)
	if err != nil || string(pdf.Data) != "%PDF-1.4 Comments on essay" {
		t.Fatalf("Export(pdf) = %+v, %v", pdf, err)
	}
}

func TestServiceHistory(t *testing.T) {
	ctx := context.Background()

	memory := newTestService(t, storage.FailOpen(storage.NewMemoryStore()))
	_, err := memory.History(ctx, "", 0)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusNotImplemented {
		t.Fatalf("History(memory) error = %v, want 501", err)
	}

	gitStore, err := storage.NewGitStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewGitStore() error = %v", err)
	}
	svc := newTestService(t, storage.FailOpen(gitStore))
	view, err := svc.AddComment(ctx, "essay", CommentInput{Author: "Ann", Body: "Hi"}, "")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if _, err := svc.DeleteComment(ctx, "essay", view.Comments[0].ID, ""); err != nil {
		t.Fatalf("DeleteComment() error = %v", err)
	}

	history, err := svc.History(ctx, "essay", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history.Revisions) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history.Revisions))
	}
}

func TestServiceSearchFallsBackToLoadedPages(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t, nil)
	if _, err := svc.AddComment(ctx, "", CommentInput{Author: "Ann", Body: "Lovely essay"}, ""); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if _, err := svc.AddComment(ctx, "poems", CommentInput{Author: "Bob", Body: "lovely rhymes"}, ""); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}

	all, err := svc.Search(ctx, "LOVELY", "", 0, 0)
	if err != nil || all.Total != 2 || all.Source != "scan" {
		t.Fatalf("Search(all) = %+v, %v", all, err)
	}
	poems, err := svc.Search(ctx, "lovely", "poems", 0, 0)
	if err != nil || poems.Total != 1 || poems.Results[0].Author != "Bob" {
		t.Fatalf("Search(poems) = %+v, %v", poems, err)
	}
	if _, err := svc.Search(ctx, "x", "Bad Page", 0, 0); err == nil {
		t.Fatal("expected error for invalid page filter")
	}
}

func TestServiceReadsDoNotGrowPageCache(t *testing.T) {
	ctx := context.Background()
	svc := New(config.Config{StorageKey: "pageComments", PageCacheSize: 2}, storage.NewMemoryStore(), nil, nil)

	for _, page := range []string{"a", "b", "c", "d"} {
		if _, err := svc.Comments(ctx, page); err != nil {
			t.Fatalf("Comments(%s) error = %v", page, err)
		}
		if _, err := svc.Search(ctx, "x", page, 0, 0); err != nil {
			t.Fatalf("Search(%s) error = %v", page, err)
		}
	}
	if n := svc.stores.Len(); n != 0 {
		t.Fatalf("expected reads to leave the page cache empty, got %d", n)
	}

	for _, page := range []string{"a", "b", "c"} {
		if _, err := svc.AddComment(ctx, page, CommentInput{Author: "Ann", Body: "on " + page}, ""); err != nil {
			t.Fatalf("AddComment(%s) error = %v", page, err)
		}
	}
	if n := svc.stores.Len(); n != 2 {
		t.Fatalf("expected the page cache capped at 2, got %d", n)
	}
	if _, ok := svc.stores.Peek("a"); ok {
		t.Fatal("expected the least recently written page to be evicted")
	}

	// Evicted pages still read and write through storage.
	view, err := svc.AddComment(ctx, "a", CommentInput{Author: "Bob", Body: "again"}, "")
	if err != nil || view.Count != 2 {
		t.Fatalf("AddComment(a) = %+v, %v", view, err)
	}
}

func TestServiceBootstrap(t *testing.T) {
	svc := newTestService(t, nil)
	if err := svc.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
}
