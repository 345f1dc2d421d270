// Package revisions keeps a git history of every document body and tags
// the revision each review cycle was submitted with.
package revisions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
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

// Content is the versioned part of a document.
type Content struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// CommitInfo describes one revision.
type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

// Service manages one git repository per document under baseDir.
type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureDocumentRepo creates the repository with a baseline commit unless it exists.
func (s *Service) EnsureDocumentRepo(documentID string, initial Content, author string, when time.Time) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()
	return s.ensureRepo(documentID, initial, author, when)
}

func (s *Service) ensureRepo(documentID string, initial Content, author string, when time.Time) error {
	path := s.repoPath(documentID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	if err := writeContent(path, initial); err != nil {
		return err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return fmt.Errorf("git add initial content: %w", err)
	}
	hash, err := worktree.Commit("Create document", &git.CommitOptions{Author: signature(author, when)})
	if err != nil {
		return fmt.Errorf("commit initial content: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(mainBranch), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(mainBranch))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitContent records content on main. Unchanged content returns the head commit.
func (s *Service) CommitContent(documentID string, content Content, author, message string, when time.Time) (CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.ensureRepo(documentID, content, author, when); err != nil {
		return CommitInfo{}, err
	}
	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}

	head, err := headCommit(repo)
	if err != nil {
		return CommitInfo{}, err
	}
	current, err := readContentFromCommit(head)
	if err != nil {
		return CommitInfo{}, err
	}
	if current == content {
		return toCommitInfo(head), nil
	}

	if err := checkoutMain(repo); err != nil {
		return CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := writeContent(worktree.Filesystem.Root(), content); err != nil {
		return CommitInfo{}, err
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add content: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{Author: signature(author, when)})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit content: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// TagCycle tags the current head with cycle-<index>. Existing tags are kept.
func (s *Service) TagCycle(documentID string, cycleIndex int, tagger string, when time.Time) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}
	head, err := headCommit(repo)
	if err != nil {
		return err
	}

	name := CycleTag(cycleIndex)
	_, err = repo.CreateTag(name, head.Hash, &git.CreateTagOptions{
		Tagger:  signature(tagger, when),
		Message: fmt.Sprintf("Submitted for review cycle %d", cycleIndex),
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag %s: %w", name, err)
	}
	return nil
}

// CycleTag is the tag name of a review cycle.
func CycleTag(cycleIndex int) string {
	return fmt.Sprintf("cycle-%d", cycleIndex)
}

// ContentAtCycle returns the content a review cycle was submitted with.
func (s *Service) ContentAtCycle(documentID string, cycleIndex int) (Content, CommitInfo, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if err != nil {
		return Content{}, CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Tag(CycleTag(cycleIndex))
	if err != nil {
		return Content{}, CommitInfo{}, fmt.Errorf("resolve tag %s: %w", CycleTag(cycleIndex), err)
	}

	var commitObj *object.Commit
	if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
		commitObj, err = tagObj.Commit()
		if err != nil {
			return Content{}, CommitInfo{}, fmt.Errorf("peel tag %s: %w", CycleTag(cycleIndex), err)
		}
	} else {
		commitObj, err = repo.CommitObject(ref.Hash())
		if err != nil {
			return Content{}, CommitInfo{}, fmt.Errorf("load tagged commit: %w", err)
		}
	}
	content, err := readContentFromCommit(commitObj)
	if err != nil {
		return Content{}, CommitInfo{}, err
	}
	return content, toCommitInfo(commitObj), nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, documentID)
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(mainBranch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", mainBranch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func checkoutMain(repo *git.Repository) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: plumbing.NewBranchReferenceName(mainBranch), Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", mainBranch, err)
	}
	return nil
}

func writeContent(root string, content Content) error {
	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal content: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, contentFile), append(payload, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", contentFile, err)
	}
	return nil
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}

	var content Content
	if err := json.Unmarshal(data, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func signature(name string, when time.Time) *object.Signature {
	return &object.Signature{
		Name:  name,
		Email: fmt.Sprintf("%s@approvals.local", sanitizeEmail(name)),
		When:  when,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
