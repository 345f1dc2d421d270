package revisions

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/SpecLeft/specleft-delta-demo/internal/store"
	"github.com/SpecLeft/specleft-delta-demo/internal/workflow"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func openRepo(t *testing.T, svc *Service, documentID string) *git.Repository {
	t.Helper()
	repo, err := git.PlainOpen(svc.repoPath(documentID))
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	return repo
}

// commitLog lists the commits on main, newest first.
func commitLog(t *testing.T, svc *Service, documentID string) []*object.Commit {
	t.Helper()
	repo := openRepo(t, svc, documentID)
	head, err := headCommit(repo)
	if err != nil {
		t.Fatalf("head commit: %v", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	defer iter.Close()

	var commits []*object.Commit
	if err := iter.ForEach(func(c *object.Commit) error {
		commits = append(commits, c)
		return nil
	}); err != nil {
		t.Fatalf("iterate log: %v", err)
	}
	return commits
}

func headContent(t *testing.T, svc *Service, documentID string) Content {
	t.Helper()
	head, err := headCommit(openRepo(t, svc, documentID))
	if err != nil {
		t.Fatalf("head commit: %v", err)
	}
	content, err := readContentFromCommit(head)
	if err != nil {
		t.Fatalf("read head content: %v", err)
	}
	return content
}

func TestDocumentRepoLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Content{Title: "Doc", Body: "First draft"}
	if err := svc.EnsureDocumentRepo("doc-1", initial, "Avery", t0); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	updated := Content{Title: "Doc", Body: "Second draft"}
	commit, err := svc.CommitContent("doc-1", updated, "Avery", "Update body", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	same, err := svc.CommitContent("doc-1", updated, "Avery", "No-op", t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("CommitContent() unchanged error = %v", err)
	}
	if same.Hash != commit.Hash {
		t.Fatalf("unchanged content created a commit: %s != %s", same.Hash, commit.Hash)
	}

	history := commitLog(t, svc, "doc-1")
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if !history[0].Author.When.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected commit time %s", history[0].Author.When)
	}
	if head := headContent(t, svc, "doc-1"); head != updated {
		t.Fatalf("unexpected head content: %+v", head)
	}
}

func TestTagCyclePinsSubmittedContent(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureDocumentRepo("doc-1", Content{Title: "Doc", Body: "v1"}, "Avery", t0); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}
	if err := svc.TagCycle("doc-1", 1, "Avery", t0); err != nil {
		t.Fatalf("TagCycle() error = %v", err)
	}
	if err := svc.TagCycle("doc-1", 1, "Avery", t0); err != nil {
		t.Fatalf("TagCycle() repeat error = %v", err)
	}
	if _, err := svc.CommitContent("doc-1", Content{Title: "Doc", Body: "v2"}, "Avery", "Update", t0.Add(time.Hour)); err != nil {
		t.Fatalf("CommitContent() error = %v", err)
	}

	content, _, err := svc.ContentAtCycle("doc-1", 1)
	if err != nil {
		t.Fatalf("ContentAtCycle() error = %v", err)
	}
	if content.Body != "v1" {
		t.Fatalf("expected cycle-1 body v1, got %q", content.Body)
	}
	if _, _, err := svc.ContentAtCycle("doc-1", 2); err == nil {
		t.Fatal("expected error for missing cycle tag")
	}
}

func TestConcurrentCommitContent(t *testing.T) {
	svc := New(t.TempDir())
	if err := svc.EnsureDocumentRepo("doc-1", Content{Title: "Doc"}, "Avery", t0); err != nil {
		t.Fatalf("EnsureDocumentRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := Content{Title: "Doc", Body: fmt.Sprintf("body-%02d", idx)}
			if _, err := svc.CommitContent("doc-1", next, "Avery", fmt.Sprintf("Commit %02d", idx), t0); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("CommitContent() concurrent error = %v", err)
	}

	if history := commitLog(t, svc, "doc-1"); len(history) != writers+1 {
		t.Fatalf("expected %d commits in history, got %d", writers+1, len(history))
	}
	if head := headContent(t, svc, "doc-1"); !strings.HasPrefix(head.Body, "body-") {
		t.Fatalf("unexpected head content after concurrent commits: %+v", head)
	}
}

func TestRecorderFollowsWorkflow(t *testing.T) {
	ctx := context.Background()
	svc := New(t.TempDir())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := workflow.New(store.NewMemoryStore(), workflow.Options{
		Logger:    logger,
		Observers: []workflow.Observer{NewRecorder(svc, logger)},
	})

	doc, err := engine.CreateDocument(ctx, workflow.CreateDocumentInput{Title: "Policy", Body: "v1", AuthorID: "alice", Now: t0})
	if err != nil {
		t.Fatalf("CreateDocument() error = %v", err)
	}
	body := "v2"
	if _, err := engine.UpdateDocument(ctx, workflow.UpdateDocumentInput{DocumentID: doc.ID, EditorID: "alice", Body: &body, Now: t0.Add(time.Minute)}); err != nil {
		t.Fatalf("UpdateDocument() error = %v", err)
	}
	if _, err := engine.Submit(ctx, workflow.SubmitInput{DocumentID: doc.ID, AuthorID: "alice", ReviewerIDs: []string{"bob"}, Now: t0.Add(2 * time.Minute)}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if history := commitLog(t, svc, doc.ID); len(history) != 2 {
		t.Fatalf("expected create and update commits, got %d", len(history))
	}
	content, _, err := svc.ContentAtCycle(doc.ID, 1)
	if err != nil {
		t.Fatalf("ContentAtCycle() error = %v", err)
	}
	if content.Body != "v2" {
		t.Fatalf("expected submitted body v2, got %q", content.Body)
	}
}
