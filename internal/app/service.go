package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/crypto/blake2b"

	"readingroom/api/internal/comments"
	"readingroom/api/internal/config"
	"readingroom/api/internal/render"
	"readingroom/api/internal/search"
	"readingroom/api/internal/storage"
)

const (
	defaultHistoryLimit  = 50
	defaultPageCacheSize = 256
)

var pageSlugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// CommentInput is the body of a new comment or reply. name and text are the
// field names older clients send.
type CommentInput struct {
	Author string `json:"author"`
	Body   string `json:"body"`
	Name   string `json:"name,omitempty"`
	Text   string `json:"text,omitempty"`
}

func (in CommentInput) fields() (string, string) {
	author, body := in.Author, in.Body
	if strings.TrimSpace(author) == "" {
		author = in.Name
	}
	if strings.TrimSpace(body) == "" {
		body = in.Text
	}
	return author, body
}

// CommentsView is what every comment endpoint returns.
type CommentsView struct {
	Page     string          `json:"page"`
	Comments comments.Forest `json:"comments"`
	Count    int             `json:"count"`
	ETag     string          `json:"etag"`
}

type HistoryView struct {
	Page      string             `json:"page"`
	Revisions []storage.Revision `json:"revisions"`
}

type historyKeeper interface {
	KeepsHistory() bool
}

type Service struct {
	cfg      config.Config
	backend  storage.Backend
	ids      *comments.IDSource
	search   *search.Service
	exporter *render.Service
	now      func() time.Time

	// stores keeps the Store of recently written pages so writes to one page
	// in this process are serialised. Reads never add to it.
	mu     sync.Mutex
	stores *lru.Cache[string, *comments.Store]
}

func New(cfg config.Config, backend storage.Backend, searchService *search.Service, exporter *render.Service) *Service {
	if strings.TrimSpace(cfg.StorageKey) == "" {
		cfg.StorageKey = "pageComments"
	}
	if searchService == nil {
		searchService = search.NewService(nil)
	}
	if exporter == nil {
		exporter = render.NewService()
	}
	size := cfg.PageCacheSize
	if size <= 0 {
		size = defaultPageCacheSize
	}
	stores, err := lru.New[string, *comments.Store](size)
	if err != nil {
		panic(fmt.Sprintf("page cache: %v", err))
	}
	return &Service{
		cfg:      cfg,
		backend:  backend,
		ids:      comments.NewIDSource(time.Now),
		search:   searchService,
		exporter: exporter,
		now:      time.Now,
		stores:   stores,
	}
}

// Bootstrap loads the site-wide forest and pushes it into the search index.
func (s *Service) Bootstrap(ctx context.Context) error {
	store, err := s.readStore("")
	if err != nil {
		return err
	}
	s.search.Reindex(map[string]comments.Forest{"": store.Load(ctx)})
	return nil
}

// Ping checks the health of the storage backend.
func (s *Service) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// StorageKey maps a page slug to its storage key. The empty page is the
// site-wide forest under the bare key.
func (s *Service) StorageKey(page string) string {
	if page == "" {
		return s.cfg.StorageKey
	}
	return s.cfg.StorageKey + ":" + page
}

// store returns the cached Store for page, creating and caching it. Use it
// for writes.
func (s *Service) store(page string) (*comments.Store, error) {
	if page != "" && !pageSlugPattern.MatchString(page) {
		return nil, invalidPage(page)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if store, ok := s.stores.Get(page); ok {
		return store, nil
	}
	store := s.newStore(page)
	s.stores.Add(page, store)
	return store, nil
}

// readStore returns the cached Store for page if there is one, or an
// uncached Store otherwise.
func (s *Service) readStore(page string) (*comments.Store, error) {
	if page != "" && !pageSlugPattern.MatchString(page) {
		return nil, invalidPage(page)
	}
	if store, ok := s.stores.Peek(page); ok {
		return store, nil
	}
	return s.newStore(page), nil
}

func (s *Service) newStore(page string) *comments.Store {
	return comments.NewStore(s.backend, comments.Options{
		Key:             s.StorageKey(page),
		Now:             s.now,
		IDs:             s.ids,
		ConflictRetries: s.cfg.ConflictRetries,
		OnChange: func(change comments.Change) {
			s.index(page, change)
		},
	})
}

func (s *Service) Comments(ctx context.Context, page string) (CommentsView, error) {
	store, err := s.readStore(page)
	if err != nil {
		return CommentsView{}, err
	}
	return s.view(page, store.Load(ctx)), nil
}

func (s *Service) AddComment(ctx context.Context, page string, input CommentInput, ifMatch string) (CommentsView, error) {
	store, err := s.store(page)
	if err != nil {
		return CommentsView{}, err
	}
	author, body := input.fields()
	forest, err := store.AddTopLevel(s.guard(ctx, ifMatch), author, body)
	if err != nil {
		return CommentsView{}, err
	}
	return s.view(page, forest), nil
}

func (s *Service) AddReply(ctx context.Context, page string, parentID int64, input CommentInput, ifMatch string) (CommentsView, error) {
	store, err := s.store(page)
	if err != nil {
		return CommentsView{}, err
	}
	author, body := input.fields()
	forest, err := store.AddReply(s.guard(ctx, ifMatch), parentID, author, body)
	if err != nil {
		return CommentsView{}, err
	}
	return s.view(page, forest), nil
}

func (s *Service) DeleteComment(ctx context.Context, page string, id int64, ifMatch string) (CommentsView, error) {
	store, err := s.store(page)
	if err != nil {
		return CommentsView{}, err
	}
	forest, err := store.DeleteByID(s.guard(ctx, ifMatch), id)
	if err != nil {
		return CommentsView{}, err
	}
	return s.view(page, forest), nil
}

func (s *Service) Export(ctx context.Context, page string, format render.Format) (*render.Result, error) {
	store, err := s.readStore(page)
	if err != nil {
		return nil, err
	}
	title := "Comments"
	if page != "" {
		title = "Comments on " + page
	}
	return s.exporter.Export(ctx, render.Request{
		Title:    title,
		Page:     page,
		Comments: store.Load(ctx),
		Format:   format,
	})
}

func (s *Service) History(ctx context.Context, page string, limit int) (HistoryView, error) {
	if page != "" && !pageSlugPattern.MatchString(page) {
		return HistoryView{}, invalidPage(page)
	}
	historian, ok := s.backend.(storage.Historian)
	if !ok {
		return HistoryView{}, historyUnavailable()
	}
	if keeper, ok := s.backend.(historyKeeper); ok && !keeper.KeepsHistory() {
		return HistoryView{}, historyUnavailable()
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	revisions, err := historian.History(ctx, s.StorageKey(page), limit)
	if err != nil {
		return HistoryView{}, fmt.Errorf("history of %q: %w", page, err)
	}
	return HistoryView{Page: page, Revisions: revisions}, nil
}

func (s *Service) Search(ctx context.Context, query, page string, limit, offset int) (search.Response, error) {
	if page != "" && !pageSlugPattern.MatchString(page) {
		return search.Response{}, invalidPage(page)
	}
	q := search.Query{Text: query, Page: page, Limit: limit, Offset: offset}
	return s.search.Search(q, func() map[string]comments.Forest {
		return s.loadedForests(ctx, page)
	}), nil
}

// loadedForests returns the forests of the pages this process recently wrote,
// plus the site-wide forest. Only page is loaded when it is set.
func (s *Service) loadedForests(ctx context.Context, page string) map[string]comments.Forest {
	pages := make([]string, 0, s.stores.Len()+1)
	for _, slug := range s.stores.Keys() {
		if page == "" || slug == page {
			pages = append(pages, slug)
		}
	}
	if page == "" && !containsString(pages, "") {
		pages = append(pages, "")
	}
	if page != "" && len(pages) == 0 {
		pages = append(pages, page)
	}
	sort.Strings(pages)

	forests := make(map[string]comments.Forest, len(pages))
	for _, slug := range pages {
		store, err := s.readStore(slug)
		if err != nil {
			continue
		}
		forests[slug] = store.Load(ctx)
	}
	return forests
}

func (s *Service) index(page string, change comments.Change) {
	switch change.Kind {
	case comments.ChangeAdded:
		s.search.Index([]search.Record{search.NewRecord(page, 0, change.Comment)})
	case comments.ChangeReplied:
		s.search.Index([]search.Record{search.NewRecord(page, change.ParentID, change.Comment)})
	case comments.ChangeDeleted:
		s.search.Delete(search.SubtreeRecordIDs(page, change.Comment))
	default:
		log.Printf("app: unknown change kind %q on %s", change.Kind, change.Key)
	}
}

// guard attaches an If-Match check to ctx. Empty and "*" match anything.
func (s *Service) guard(ctx context.Context, ifMatch string) context.Context {
	want := normalizeETag(ifMatch)
	if want == "" || want == "*" {
		return ctx
	}
	return comments.WithPrecondition(ctx, func(forest comments.Forest) error {
		if current := ETag(forest); current != want {
			return staleForm(current)
		}
		return nil
	})
}

func (s *Service) view(page string, forest comments.Forest) CommentsView {
	forest = comments.Normalize(forest)
	return CommentsView{
		Page:     page,
		Comments: forest,
		Count:    comments.Count(forest),
		ETag:     ETag(forest),
	}
}

// ETag fingerprints a forest: the first 16 bytes of a BLAKE2b-256 sum of its
// serialized form, hex encoded.
func ETag(forest comments.Forest) string {
	data, err := comments.Encode(comments.Normalize(forest))
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

func normalizeETag(value string) string {
	value = strings.TrimSpace(value)
	value = strings.TrimPrefix(value, "W/")
	return strings.Trim(value, `"`)
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}
