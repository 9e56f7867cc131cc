package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("CODEHAVEN_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CODEHAVEN_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}
	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	if err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db, ctx
}

func TestCommitAndFileChangeRoundTrip(t *testing.T) {
	db, ctx := openTestDB(t)
	s := NewPostgresStore(db)

	owner, err := s.EnsureUserByName(ctx, "alice")
	if err != nil {
		t.Fatalf("EnsureUserByName() error = %v", err)
	}
	// Second call must return the same row.
	again, err := s.EnsureUserByName(ctx, "alice")
	if err != nil || again.ID != owner.ID {
		t.Fatalf("EnsureUserByName() not idempotent: %v %v", again, err)
	}

	var projectID string
	if err := db.QueryRowContext(ctx,
		`INSERT INTO projects (name, owner_id) VALUES ('myrepo', $1) RETURNING id`, owner.ID,
	).Scan(&projectID); err != nil {
		t.Fatalf("insert project: %v", err)
	}

	project, err := s.GetProject(ctx, "alice", "myrepo")
	if err != nil {
		t.Fatalf("GetProject() error = %v", err)
	}
	if project.ID != projectID || project.OwnerName != "alice" {
		t.Fatalf("unexpected project: %+v", project)
	}

	if head, err := s.HeadCommit(ctx, projectID); err != nil || head != nil {
		t.Fatalf("HeadCommit() on empty project = %v, %v", head, err)
	}

	ok, err := s.CanWrite(ctx, owner.ID, projectID)
	if err != nil || !ok {
		t.Fatalf("CanWrite() for owner = %v, %v", ok, err)
	}
	stranger, err := s.EnsureUserByName(ctx, "mallory")
	if err != nil {
		t.Fatalf("EnsureUserByName() error = %v", err)
	}
	ok, err = s.CanWrite(ctx, stranger.ID, projectID)
	if err != nil || ok {
		t.Fatalf("CanWrite() for stranger = %v, %v", ok, err)
	}

	commitID, err := s.InsertCommit(ctx, CommitRecord{
		ProjectID:   projectID,
		Message:     "fix",
		CommitterID: owner.ID,
		GitHash:     "abc123",
	})
	if err != nil {
		t.Fatalf("InsertCommit() error = %v", err)
	}

	fileID, err := s.UpsertFileTreeEntry(ctx, FileTreeEntry{
		ProjectID: projectID,
		CommitID:  commitID,
		Path:      "src/index.js",
		Name:      "index.js",
		Type:      "file",
		Content:   "console.log(1)",
		Size:      len("console.log(1)"),
		Extension: "js",
	})
	if err != nil {
		t.Fatalf("UpsertFileTreeEntry() error = %v", err)
	}
	// Upserting the same (path, commit) must not create a second row.
	dupID, err := s.UpsertFileTreeEntry(ctx, FileTreeEntry{
		ProjectID: projectID,
		CommitID:  commitID,
		Path:      "src/index.js",
		Name:      "index.js",
		Type:      "file",
		Content:   "console.log(2)",
		Size:      len("console.log(2)"),
		Extension: "js",
	})
	if err != nil || dupID != fileID {
		t.Fatalf("upsert returned %q, %v, want %q", dupID, err, fileID)
	}

	if err := s.InsertFileChange(ctx, FileChange{
		CommitID:   commitID,
		FileID:     fileID,
		ChangeType: ChangeAdded,
		NewPath:    "src/index.js",
		NewContent: "console.log(2)",
		Additions:  CountLines("console.log(2)"),
	}); err != nil {
		t.Fatalf("InsertFileChange() error = %v", err)
	}

	seen, err := s.FileSeenBefore(ctx, projectID, "src/index.js")
	if err != nil || !seen {
		t.Fatalf("FileSeenBefore() = %v, %v", seen, err)
	}

	secondID, err := s.InsertCommit(ctx, CommitRecord{
		ProjectID:      projectID,
		Message:        "second",
		CommitterID:    owner.ID,
		ParentCommitID: commitID,
	})
	if err != nil {
		t.Fatalf("InsertCommit() second error = %v", err)
	}

	head, err := s.HeadCommit(ctx, projectID)
	if err != nil || head == nil {
		t.Fatalf("HeadCommit() error = %v", err)
	}
	if head.ID != secondID || head.ParentCommitID != commitID {
		t.Fatalf("head = %+v, want id %s parent %s", head, secondID, commitID)
	}

	commits, err := s.ListCommits(ctx, projectID, 10)
	if err != nil {
		t.Fatalf("ListCommits() error = %v", err)
	}
	if len(commits) != 2 || commits[0].ID != secondID || commits[0].CommitterName != "alice" {
		t.Fatalf("unexpected commits: %+v", commits)
	}

	content, atCommit, err := s.LatestFileContent(ctx, projectID, "src/index.js")
	if err != nil {
		t.Fatalf("LatestFileContent() error = %v", err)
	}
	if content != "console.log(2)" || atCommit != commitID {
		t.Fatalf("LatestFileContent() = %q at %q", content, atCommit)
	}
}

func TestCountLines(t *testing.T) {
	if got := CountLines(""); got != 1 {
		t.Fatalf("CountLines(\"\") = %d", got)
	}
	if got := CountLines("a\nb\nc"); got != 3 {
		t.Fatalf("CountLines(three lines) = %d", got)
	}
}
