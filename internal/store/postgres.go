package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, name, created_at FROM users WHERE name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.Name, &user.CreatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	insertUser := `
		INSERT INTO users (name, email)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.codehaven.dev'))
		RETURNING id, name, created_at
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.Name, &user.CreatedAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(email, ''), COALESCE(avatar_url, ''), created_at FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.Name, &user.Email, &user.AvatarURL, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, ownerName, projectName string) (Project, error) {
	const query = `
		SELECT p.id, p.name, p.owner_id, u.name, p.is_public, p.created_at
		FROM projects p
		JOIN users u ON u.id = p.owner_id
		WHERE u.name = $1 AND p.name = $2
	`
	var project Project
	err := s.db.QueryRowContext(ctx, query, ownerName, projectName).Scan(
		&project.ID, &project.Name, &project.OwnerID, &project.OwnerName, &project.IsPublic, &project.CreatedAt,
	)
	if err != nil {
		return Project{}, fmt.Errorf("get project %s/%s: %w", ownerName, projectName, err)
	}
	return project, nil
}

// CanWrite implements the permission check consulted before a client joins a
// room in write mode: the owner or any member with write/admin access.
func (s *PostgresStore) CanWrite(ctx context.Context, userID, projectID string) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM projects WHERE id = $2 AND owner_id = $1
			UNION
			SELECT 1 FROM project_members
			WHERE project_id = $2 AND user_id = $1 AND access_level IN ('write', 'admin')
		)
	`
	var allowed bool
	if err := s.db.QueryRowContext(ctx, query, userID, projectID).Scan(&allowed); err != nil {
		return false, fmt.Errorf("check write access: %w", err)
	}
	return allowed, nil
}

// HeadCommit returns the most recent commit of a project, or nil when the
// project has no commits yet.
func (s *PostgresStore) HeadCommit(ctx context.Context, projectID string) (*CommitRecord, error) {
	const query = `
		SELECT id, project_id, message, committer_id, COALESCE(parent_commit_id::text, ''), COALESCE(git_hash, ''), created_at
		FROM commits
		WHERE project_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	var commit CommitRecord
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&commit.ID, &commit.ProjectID, &commit.Message, &commit.CommitterID,
		&commit.ParentCommitID, &commit.GitHash, &commit.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("head commit: %w", err)
	}
	return &commit, nil
}

func (s *PostgresStore) InsertCommit(ctx context.Context, commit CommitRecord) (string, error) {
	const query = `
		INSERT INTO commits (project_id, message, committer_id, parent_commit_id, git_hash)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, NULLIF($5, ''))
		RETURNING id
	`
	var id string
	err := s.db.QueryRowContext(ctx, query,
		commit.ProjectID, commit.Message, commit.CommitterID, commit.ParentCommitID, commit.GitHash,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert commit: %w", err)
	}
	return id, nil
}

// UpsertFileTreeEntry writes the per-commit file snapshot; (path, commit_id)
// is unique, matching the original schema's upsert.
func (s *PostgresStore) UpsertFileTreeEntry(ctx context.Context, entry FileTreeEntry) (string, error) {
	const query = `
		INSERT INTO file_tree (project_id, commit_id, path, name, type, content, size, extension)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (path, commit_id) DO UPDATE
		SET content = EXCLUDED.content, size = EXCLUDED.size, extension = EXCLUDED.extension
		RETURNING id
	`
	var id string
	err := s.db.QueryRowContext(ctx, query,
		entry.ProjectID, entry.CommitID, entry.Path, entry.Name, entry.Type,
		entry.Content, entry.Size, entry.Extension,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert file tree entry: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) InsertFileChange(ctx context.Context, change FileChange) error {
	const query = `
		INSERT INTO file_changes (commit_id, file_id, change_type, new_path, new_content, additions, deletions)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		change.CommitID, change.FileID, change.ChangeType, change.NewPath,
		change.NewContent, change.Additions, change.Deletions,
	)
	if err != nil {
		return fmt.Errorf("insert file change: %w", err)
	}
	return nil
}

// FileSeenBefore reports whether any commit of the project already recorded
// this path; drives the added vs modified change type.
func (s *PostgresStore) FileSeenBefore(ctx context.Context, projectID, path string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM file_tree WHERE project_id = $1 AND path = $2)`,
		projectID, path,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check file history: %w", err)
	}
	return exists, nil
}

// LatestFileContent returns the newest committed snapshot of a path.
func (s *PostgresStore) LatestFileContent(ctx context.Context, projectID, path string) (string, string, error) {
	const query = `
		SELECT f.content, f.commit_id
		FROM file_tree f
		JOIN commits c ON c.id = f.commit_id
		WHERE f.project_id = $1 AND f.path = $2
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT 1
	`
	var content, commitID string
	err := s.db.QueryRowContext(ctx, query, projectID, path).Scan(&content, &commitID)
	if err != nil {
		return "", "", fmt.Errorf("latest file content: %w", err)
	}
	return content, commitID, nil
}

func (s *PostgresStore) FileContentAtCommit(ctx context.Context, commitID, path string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM file_tree WHERE commit_id = $1 AND path = $2`,
		commitID, path,
	).Scan(&content)
	if err != nil {
		return "", fmt.Errorf("file content at commit: %w", err)
	}
	return content, nil
}

func (s *PostgresStore) ListCommits(ctx context.Context, projectID string, limit int) ([]CommitRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `
		SELECT c.id, c.project_id, c.message, c.committer_id, u.name,
		       COALESCE(c.parent_commit_id::text, ''), COALESCE(c.git_hash, ''), c.created_at
		FROM commits c
		JOIN users u ON u.id = c.committer_id
		WHERE c.project_id = $1
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list commits: %w", err)
	}
	defer rows.Close()

	commits := make([]CommitRecord, 0, limit)
	for rows.Next() {
		var commit CommitRecord
		if err := rows.Scan(
			&commit.ID, &commit.ProjectID, &commit.Message, &commit.CommitterID, &commit.CommitterName,
			&commit.ParentCommitID, &commit.GitHash, &commit.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan commit: %w", err)
		}
		commits = append(commits, commit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commits: %w", err)
	}
	return commits, nil
}

// CountLines mirrors the original implementation's additions metric: the
// line count of the new content (deletions are always recorded as 0).
func CountLines(content string) int {
	return len(strings.Split(content, "\n"))
}
