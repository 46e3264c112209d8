package comments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"readingroom/api/internal/storage"
)

const defaultConflictRetries = 5

// ChangeKind says what a persisted mutation did.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeReplied ChangeKind = "replied"
	ChangeDeleted ChangeKind = "deleted"
)

// Change is reported to Options.OnChange after a mutation has been persisted.
type Change struct {
	Key      string
	Kind     ChangeKind
	ParentID int64
	// Comment is the new comment, or the removed subtree for ChangeDeleted.
	Comment Comment
}

// Options configures a Store.
type Options struct {
	// Key is the storage key holding the serialized forest.
	Key string
	// Now stamps new comments; nil means time.Now.
	Now func() time.Time
	// IDs issues comment ids; nil means a fresh source driven by Now.
	IDs *IDSource
	// ConflictRetries bounds how often a mutation is replayed after a
	// concurrent writer moved the stored version on.
	ConflictRetries int
	OnChange        func(Change)
}

// Store reads and writes one comment forest. Each operation loads the whole
// forest, changes it in memory and writes the whole forest back. Operations
// on one Store never interleave.
type Store struct {
	backend  storage.Backend
	key      string
	now      func() time.Time
	ids      *IDSource
	retries  int
	onChange func(Change)
	mu       sync.Mutex
}

func NewStore(backend storage.Backend, opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ids := opts.IDs
	if ids == nil {
		ids = NewIDSource(now)
	}
	retries := opts.ConflictRetries
	if retries <= 0 {
		retries = defaultConflictRetries
	}
	return &Store{
		backend:  backend,
		key:      opts.Key,
		now:      now,
		ids:      ids,
		retries:  retries,
		onChange: opts.OnChange,
	}
}

// Key returns the storage key of this forest.
func (s *Store) Key() string {
	return s.key
}

// Load returns the stored forest. Missing, unreadable or malformed data all
// yield an empty forest.
func (s *Store) Load(ctx context.Context) Forest {
	s.mu.Lock()
	defer s.mu.Unlock()
	forest, _ := s.read(ctx)
	return forest
}

// Count returns the number of stored comments at every depth.
func (s *Store) Count(ctx context.Context) int {
	return Count(s.Load(ctx))
}

// AddTopLevel stores a new root comment in front of the others.
func (s *Store) AddTopLevel(ctx context.Context, author, body string) (Forest, error) {
	author, body, err := clean(author, body)
	if err != nil {
		return nil, err
	}
	var added Comment
	forest, err := s.mutate(ctx, func(forest Forest) (Forest, bool, error) {
		added = s.newComment(forest, author, body)
		return Prepend(forest, added), true, nil
	})
	if err != nil {
		return forest, err
	}
	s.notify(Change{Key: s.key, Kind: ChangeAdded, Comment: added})
	return forest, nil
}

// AddReply appends a reply to the comment with parentID, at any depth.
// An unknown parent yields ErrNotFound and writes nothing.
func (s *Store) AddReply(ctx context.Context, parentID int64, author, body string) (Forest, error) {
	author, body, err := clean(author, body)
	if err != nil {
		return nil, err
	}
	var added Comment
	forest, err := s.mutate(ctx, func(forest Forest) (Forest, bool, error) {
		if _, ok := Find(forest, parentID); !ok {
			return forest, false, fmt.Errorf("reply to %d: %w", parentID, ErrNotFound)
		}
		added = s.newComment(forest, author, body)
		next, _ := AppendReply(forest, parentID, added)
		return next, true, nil
	})
	if err != nil {
		return forest, err
	}
	s.notify(Change{Key: s.key, Kind: ChangeReplied, ParentID: parentID, Comment: added})
	return forest, nil
}

// DeleteByID removes the comment with id and all of its replies. Deleting an
// unknown id leaves the forest as it is.
func (s *Store) DeleteByID(ctx context.Context, id int64) (Forest, error) {
	var removed *Comment
	forest, err := s.mutate(ctx, func(forest Forest) (Forest, bool, error) {
		var next Forest
		next, removed = Remove(forest, id)
		return next, removed != nil, nil
	})
	if err != nil {
		return forest, err
	}
	if removed != nil {
		s.notify(Change{Key: s.key, Kind: ChangeDeleted, Comment: *removed})
	}
	return forest, nil
}

type preconditionKey struct{}

// WithPrecondition returns a context under which every mutation first runs
// check against the freshly loaded forest. A non-nil result aborts the
// mutation before anything is written and is returned to the caller.
func WithPrecondition(ctx context.Context, check func(Forest) error) context.Context {
	return context.WithValue(ctx, preconditionKey{}, check)
}

// mutate runs fn against the freshly loaded forest and persists the result
// when fn reports a change. A version conflict reloads and replays fn.
func (s *Store) mutate(ctx context.Context, fn func(Forest) (Forest, bool, error)) (Forest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; ; attempt++ {
		forest, version := s.read(ctx)
		if check, ok := ctx.Value(preconditionKey{}).(func(Forest) error); ok && check != nil {
			if err := check(forest); err != nil {
				return forest, err
			}
		}
		next, changed, err := fn(forest)
		if err != nil {
			return forest, err
		}
		if !changed {
			return next, nil
		}

		data, err := Encode(next)
		if err != nil {
			return forest, fmt.Errorf("encode comments: %w", err)
		}
		_, err = s.backend.Put(ctx, s.key, data, version)
		if err == nil {
			return next, nil
		}
		if errors.Is(err, storage.ErrConflict) && attempt < s.retries {
			log.Printf("comments: %s changed underneath us, retrying (attempt %d)", s.key, attempt+1)
			continue
		}
		return forest, fmt.Errorf("save comments: %w", err)
	}
}

func (s *Store) read(ctx context.Context) (Forest, string) {
	data, version, err := s.backend.Get(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		return Forest{}, ""
	}
	if err != nil {
		log.Printf("comments: load %s: %v", s.key, err)
		return Forest{}, version
	}
	forest, err := Decode(data)
	if err != nil {
		log.Printf("comments: discarding malformed data under %s: %v", s.key, err)
		return Forest{}, version
	}
	return forest, version
}

func (s *Store) newComment(forest Forest, author, body string) Comment {
	return Comment{
		ID:        s.ids.Next(forest),
		Author:    author,
		Body:      body,
		CreatedAt: FormatCreatedAt(s.now()),
		Replies:   []Comment{},
	}
}

func (s *Store) notify(change Change) {
	if s.onChange != nil {
		s.onChange(change)
	}
}

func clean(author, body string) (string, string, error) {
	author = strings.TrimSpace(author)
	body = strings.TrimSpace(body)
	if author == "" {
		return "", "", fmt.Errorf("%w: author is empty", ErrValidation)
	}
	if body == "" {
		return "", "", fmt.Errorf("%w: body is empty", ErrValidation)
	}
	return author, body, nil
}
