// Package gitrepo keeps the version history of every document in its own
// git repository. Each version is a commit of content.json.
package gitrepo

import (
	"bytes"
	"encoding/json"
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
	contentFile = "content.json"
	mainBranch  = "main"
)

var ErrNotFound = errors.New("document repository not found")

// Content is the versioned payload of a document.
type Content struct {
	Title string          `json:"title"`
	Doc   json.RawMessage `json:"doc"`
}

// Version describes one commit in a document's history.
type Version struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Exists reports whether a repository has been created for documentID.
func (s *Service) Exists(documentID string) bool {
	_, err := os.Stat(filepath.Join(s.repoPath(documentID), ".git"))
	return err == nil
}

// Create initialises the repository for documentID with initial as its first
// version. Creating an existing repository is a no-op.
func (s *Service) Create(documentID string, initial Content, author string) (Version, error) {
	unlock := s.lock(documentID)
	defer unlock()

	path := s.repoPath(documentID)
	if repo, err := git.PlainOpen(path); err == nil {
		commit, err := headCommit(repo)
		if err != nil {
			return Version{}, err
		}
		return toVersion(commit), nil
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return Version{}, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return Version{}, fmt.Errorf("init repo: %w", err)
	}
	// Point HEAD at main before the first commit so the branch is born there.
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))
	if err := repo.Storer.SetReference(head); err != nil {
		return Version{}, fmt.Errorf("set HEAD to %s: %w", mainBranch, err)
	}
	hash, err := s.writeAndCommit(repo, initial, author, "Create document")
	if err != nil {
		return Version{}, err
	}
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return Version{}, fmt.Errorf("read commit object: %w", err)
	}
	return toVersion(commit), nil
}

// Commit records content as a new version authored by author. When content
// matches the head version nothing is committed and committed is false.
func (s *Service) Commit(documentID string, content Content, author, message string) (version Version, committed bool, err error) {
	unlock := s.lock(documentID)
	defer unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return Version{}, false, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return Version{}, false, err
	}
	current, err := readContent(head)
	if err != nil {
		return Version{}, false, err
	}
	if !HasChanges(current, content) {
		return toVersion(head), false, nil
	}

	hash, err := s.writeAndCommit(repo, content, author, message)
	if err != nil {
		return Version{}, false, err
	}
	commit, err := repo.CommitObject(hash)
	if err != nil {
		return Version{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toVersion(commit), true, nil
}

// Head returns the latest version and its content.
func (s *Service) Head(documentID string) (Content, Version, error) {
	unlock := s.lock(documentID)
	defer unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return Content{}, Version{}, err
	}
	commit, err := headCommit(repo)
	if err != nil {
		return Content{}, Version{}, err
	}
	content, err := readContent(commit)
	if err != nil {
		return Content{}, Version{}, err
	}
	return content, toVersion(commit), nil
}

// ContentAt returns the content recorded by the commit hash, which may be
// abbreviated.
func (s *Service) ContentAt(documentID, hash string) (Content, Version, error) {
	unlock := s.lock(documentID)
	defer unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return Content{}, Version{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Content{}, Version{}, err
	}
	commit, err := repo.CommitObject(resolved)
	if err != nil {
		return Content{}, Version{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	content, err := readContent(commit)
	if err != nil {
		return Content{}, Version{}, err
	}
	return content, toVersion(commit), nil
}

// History lists versions newest first. A limit of zero lists everything.
func (s *Service) History(documentID string, limit int) ([]Version, error) {
	unlock := s.lock(documentID)
	defer unlock()

	repo, err := s.open(documentID)
	if err != nil {
		return nil, err
	}
	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	versions := make([]Version, 0)
	err = iter.ForEach(func(c *object.Commit) error {
		versions = append(versions, toVersion(c))
		if limit > 0 && len(versions) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return versions, nil
}

// HasChanges compares two contents, ignoring JSON formatting of the doc.
func HasChanges(from, to Content) bool {
	if from.Title != to.Title {
		return true
	}
	return !bytes.Equal(canonicalJSON(from.Doc), canonicalJSON(to.Doc))
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) open(documentID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) lock(documentID string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[documentID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[documentID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Service) writeAndCommit(repo *git.Repository, content Content, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	target := filepath.Join(worktree.Filesystem.Root(), contentFile)
	if err := os.WriteFile(target, append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add %s: %w", contentFile, err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: authorEmail(author),
			When:  s.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", mainBranch, err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commit, nil
}

func readContent(commit *object.Commit) (Content, error) {
	file, err := commit.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from %s: %w", contentFile, commit.Hash, err)
	}
	raw, err := file.Contents()
	if err != nil {
		return Content{}, fmt.Errorf("read %s: %w", contentFile, err)
	}
	var content Content
	if err := json.Unmarshal([]byte(raw), &content); err != nil {
		return Content{}, fmt.Errorf("decode %s: %w", contentFile, err)
	}
	return content, nil
}

func toVersion(commit *object.Commit) Version {
	return Version{
		Hash:      commit.Hash.String()[:7],
		Message:   strings.TrimSpace(commit.Message),
		Author:    commit.Author.Name,
		CreatedAt: commit.Author.When,
	}
}

func authorEmail(author string) string {
	local := make([]rune, 0, len(author))
	for _, r := range strings.ToLower(author) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			local = append(local, r)
		case r == ' ' || r == '-' || r == '_' || r == '.':
			local = append(local, '.')
		}
	}
	if len(local) == 0 {
		return "anonymous@users.redline.local"
	}
	return string(local) + "@users.redline.local"
}

func canonicalJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return raw
	}
	out, err := json.Marshal(parsed)
	if err != nil {
		return raw
	}
	return out
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
