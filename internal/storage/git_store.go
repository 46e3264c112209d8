package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	gitBlobFile   = "comments.json"
	gitBranch     = "main"
	gitAuthorName = "readingroom"
)

// GitStore keeps each key in its own repository under baseDir. Every Put is a
// commit on main and the head commit hash is the version.
type GitStore struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewGitStore(baseDir string) (*GitStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create repos dir: %w", err)
	}
	return &GitStore{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func (s *GitStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(key)
	if err != nil {
		return nil, "", err
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return nil, "", err
	}
	data, err := readBlobFromCommit(commitObj)
	if err != nil {
		return nil, "", err
	}
	return data, commitObj.Hash.String(), nil
}

func (s *GitStore) Put(ctx context.Context, key string, value []byte, version string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(key)
	if errors.Is(err, ErrNotFound) {
		if version != "" {
			return "", ErrConflict
		}
		return s.initRepo(key, value)
	}
	if err != nil {
		return "", err
	}

	current := ""
	if commitObj, err := headCommit(repo); err == nil {
		current = commitObj.Hash.String()
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if current != version {
		return "", ErrConflict
	}

	if err := checkoutBranch(repo, gitBranch); err != nil {
		return "", err
	}
	hash, err := commitBlob(repo, value, "Update "+key)
	if err != nil {
		return "", err
	}
	return hash.String(), nil
}

// History lists the commits of key, newest first.
func (s *GitStore) History(ctx context.Context, key string, limit int) ([]Revision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(key)
	if errors.Is(err, ErrNotFound) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, err
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(gitBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", gitBranch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Revision, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, Revision{
			Version:   commitObj.Hash.String(),
			Message:   strings.TrimSpace(commitObj.Message),
			Author:    commitObj.Author.Name,
			CreatedAt: commitObj.Author.When,
		})
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *GitStore) Ping(context.Context) error {
	info, err := os.Stat(s.baseDir)
	if err != nil {
		return fmt.Errorf("stat repos dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("repos dir %s is not a directory", s.baseDir)
	}
	return nil
}

func (s *GitStore) Close() error { return nil }

func (s *GitStore) initRepo(key string, value []byte) (string, error) {
	path := s.repoPath(key)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return "", fmt.Errorf("init repo: %w", err)
	}
	hash, err := commitBlob(repo, value, "Create "+key)
	if err != nil {
		return "", err
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(gitBranch), hash)); err != nil {
		return "", fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(gitBranch))); err != nil {
		return "", fmt.Errorf("set HEAD to main: %w", err)
	}
	return hash.String(), nil
}

func (s *GitStore) open(key string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(key))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *GitStore) repoPath(key string) string {
	return filepath.Join(s.baseDir, repoDirName(key))
}

func (s *GitStore) keyLock(key string) *sync.Mutex {
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

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(gitBranch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", gitBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func commitBlob(repo *git.Repository, value []byte, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, gitBlobFile), value, 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", gitBlobFile, err)
	}
	if _, err := worktree.Add(gitBlobFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add %s: %w", gitBlobFile, err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  gitAuthorName,
			Email: gitAuthorName + "@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit %s: %w", gitBlobFile, err)
	}
	return hash, nil
}

func checkoutBranch(repo *git.Repository, branchName string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	head, err := repo.Head()
	if err == nil && head.Name() == plumbing.NewBranchReferenceName(branchName) {
		return nil
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(branchName), Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", branchName, err)
	}
	return nil
}

func readBlobFromCommit(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(gitBlobFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", gitBlobFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open blob reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read blob bytes: %w", err)
	}
	return data, nil
}

// repoDirName maps a storage key to a directory name. ':' separates the key
// prefix from the page slug and becomes '.'.
func repoDirName(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'), r == '-', r == '_':
			out = append(out, r)
		case r == ':':
			out = append(out, '.')
		default:
			out = append(out, '_')
		}
	}
	if len(out) == 0 {
		return "default"
	}
	return string(out)
}
