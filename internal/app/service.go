// Package app wires the collaboration core to its collaborators: the
// Postgres store, the git content repositories, search, and the presence
// mirror. It owns the Commit Bridge.
package app

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"codehaven/api/internal/auth"
	"codehaven/api/internal/collab"
	"codehaven/api/internal/config"
	"codehaven/api/internal/gitrepo"
	"codehaven/api/internal/search"
	"codehaven/api/internal/session"
	"codehaven/api/internal/store"
	"codehaven/api/internal/util"
)

// Store is the slice of repository storage the service needs.
type Store interface {
	Ping(ctx context.Context) error
	EnsureUserByName(ctx context.Context, name string) (store.User, error)
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetProject(ctx context.Context, ownerName, projectName string) (store.Project, error)
	CanWrite(ctx context.Context, userID, projectID string) (bool, error)
	HeadCommit(ctx context.Context, projectID string) (*store.CommitRecord, error)
	InsertCommit(ctx context.Context, commit store.CommitRecord) (string, error)
	UpsertFileTreeEntry(ctx context.Context, entry store.FileTreeEntry) (string, error)
	InsertFileChange(ctx context.Context, change store.FileChange) error
	FileSeenBefore(ctx context.Context, projectID, filePath string) (bool, error)
	LatestFileContent(ctx context.Context, projectID, filePath string) (string, string, error)
	FileContentAtCommit(ctx context.Context, commitID, filePath string) (string, error)
	ListCommits(ctx context.Context, projectID string, limit int) ([]store.CommitRecord, error)
}

// GitRepo is the git side of repository storage.
type GitRepo interface {
	EnsureProjectRepo(projectID, author string) error
	CommitFile(projectID, filePath, content, author, message string) (gitrepo.CommitInfo, error)
}

// Identity is what a collaboration connection resolves to.
type Identity struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"name"`
}

// SaveResult is returned by the Commit Bridge on a successful save.
type SaveResult struct {
	CommitID string `json:"commitId"`
	GitHash  string `json:"gitHash"`
	Content  string `json:"content"`
}

type Service struct {
	cfg      config.Config
	store    Store
	git      GitRepo
	search   *search.Service
	mirror   *session.PresenceMirror
	registry *collab.Registry
}

func New(cfg config.Config, st Store, git GitRepo, searchService *search.Service, registry *collab.Registry) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		git:      git,
		search:   searchService,
		registry: registry,
	}
}

// NewWithPresenceMirror additionally mirrors room membership into Redis.
func NewWithPresenceMirror(cfg config.Config, st Store, git GitRepo, searchService *search.Service, registry *collab.Registry, mirror *session.PresenceMirror) *Service {
	s := New(cfg, st, git, searchService, registry)
	s.mirror = mirror
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Registry() *collab.Registry {
	return s.registry
}

// Identify resolves a connection to an identity. A valid token wins; missing
// tokens fall back to the client-supplied name and user id, matching the
// original client which sends both itself.
func (s *Service) Identify(ctx context.Context, token, fallbackName, fallbackID string) (Identity, error) {
	if token != "" {
		claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
		if err != nil {
			return Identity{}, err
		}
		return Identity{UserID: claims.Sub, DisplayName: claims.Name}, nil
	}
	name := strings.TrimSpace(fallbackName)
	if name == "" {
		name = "Anonymous"
	}
	id := strings.TrimSpace(fallbackID)
	if id == "" {
		id = uuid.NewString()
	}
	return Identity{UserID: id, DisplayName: name}, nil
}

// IssueCollabToken ensures the named user exists, checks write access to the
// room's project, and issues a connection token. The permission check runs
// here, before the join, so the channel can assume callers are pre-authorized.
func (s *Service) IssueCollabToken(ctx context.Context, name, roomID string) (string, Identity, bool, error) {
	key, err := collab.ParseRoomKey(roomID)
	if err != nil {
		return "", Identity{}, false, domainError(400, "BAD_ROOM", err.Error())
	}
	user, err := s.store.EnsureUserByName(ctx, strings.TrimSpace(name))
	if err != nil {
		return "", Identity{}, false, fmt.Errorf("resolve user: %w", err)
	}
	project, err := s.store.GetProject(ctx, key.Owner, key.Repo)
	if err != nil {
		return "", Identity{}, false, domainError(404, "PROJECT_NOT_FOUND", fmt.Sprintf("%s/%s", key.Owner, key.Repo))
	}
	canWrite, err := s.store.CanWrite(ctx, user.ID, project.ID)
	if err != nil {
		return "", Identity{}, false, fmt.Errorf("check write access: %w", err)
	}
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Name,
		JTI:  util.NewID("jti"),
		Exp:  time.Now().Add(s.cfg.TokenTTL).Unix(),
	})
	if err != nil {
		return "", Identity{}, false, fmt.Errorf("issue token: %w", err)
	}
	return token, Identity{UserID: user.ID, DisplayName: user.Name}, canWrite, nil
}

// SaveFile is the Commit Bridge: it packages a room's buffer as a commit plus
// file-change record and returns the new commit id. The buffer itself is not
// touched; callers broadcast the result so clients can reconcile drift.
func (s *Service) SaveFile(ctx context.Context, key collab.RoomKey, author Identity, message, content string) (SaveResult, error) {
	project, err := s.store.GetProject(ctx, key.Owner, key.Repo)
	if err != nil {
		return SaveResult{}, &PersistenceError{Op: "resolve project", Err: err}
	}

	committer, err := s.store.GetUserByID(ctx, author.UserID)
	if err != nil {
		// Anonymous connections carry ids unknown to the store; materialize
		// them by display name so the commit has a valid committer.
		committer, err = s.store.EnsureUserByName(ctx, author.DisplayName)
		if err != nil {
			return SaveResult{}, &PersistenceError{Op: "resolve committer", Err: err}
		}
	}

	canWrite, err := s.store.CanWrite(ctx, committer.ID, project.ID)
	if err != nil {
		return SaveResult{}, &PersistenceError{Op: "check access", Err: err}
	}
	if !canWrite {
		return SaveResult{}, ErrWriteForbidden
	}

	if message == "" {
		message = "Update " + key.Path
	}

	if err := s.git.EnsureProjectRepo(project.ID, committer.Name); err != nil {
		return SaveResult{}, &PersistenceError{Op: "ensure repo", Err: err}
	}
	gitCommit, err := s.git.CommitFile(project.ID, key.Path, content, committer.Name, message)
	if err != nil {
		return SaveResult{}, &PersistenceError{Op: "git commit", Err: err}
	}

	head, err := s.store.HeadCommit(ctx, project.ID)
	if err != nil {
		return SaveResult{}, &PersistenceError{Op: "read head", Err: err}
	}
	parentID := ""
	if head != nil {
		parentID = head.ID
	}

	commitID, err := s.store.InsertCommit(ctx, store.CommitRecord{
		ProjectID:      project.ID,
		Message:        message,
		CommitterID:    committer.ID,
		ParentCommitID: parentID,
		GitHash:        gitCommit.Hash,
	})
	if err != nil {
		return SaveResult{}, &PersistenceError{Op: "insert commit", Err: err}
	}

	seen, err := s.store.FileSeenBefore(ctx, project.ID, key.Path)
	if err != nil {
		return SaveResult{}, &PersistenceError{Op: "check file history", Err: err}
	}
	changeType := store.ChangeAdded
	if seen {
		changeType = store.ChangeModified
	}

	fileID, err := s.store.UpsertFileTreeEntry(ctx, store.FileTreeEntry{
		ProjectID: project.ID,
		CommitID:  commitID,
		Path:      key.Path,
		Name:      path.Base(key.Path),
		Type:      "file",
		Content:   content,
		Size:      len(content),
		Extension: strings.TrimPrefix(path.Ext(key.Path), "."),
	})
	if err != nil {
		return SaveResult{}, &PersistenceError{Op: "upsert file", Err: err}
	}

	if err := s.store.InsertFileChange(ctx, store.FileChange{
		CommitID:   commitID,
		FileID:     fileID,
		ChangeType: changeType,
		NewPath:    key.Path,
		NewContent: content,
		Additions:  store.CountLines(content),
		Deletions:  0,
	}); err != nil {
		return SaveResult{}, &PersistenceError{Op: "insert file change", Err: err}
	}

	if s.search != nil {
		s.search.IndexFile(search.FileRecord{
			ID:        fileID,
			ProjectID: project.ID,
			Owner:     key.Owner,
			Repo:      key.Repo,
			Path:      key.Path,
			Content:   content,
		})
	}

	return SaveResult{CommitID: commitID, GitHash: gitCommit.Hash, Content: content}, nil
}

// LoadFileContent reads the latest committed content of a file, used to seed
// a room created for a file that already has history.
func (s *Service) LoadFileContent(ctx context.Context, key collab.RoomKey) (string, error) {
	project, err := s.store.GetProject(ctx, key.Owner, key.Repo)
	if err != nil {
		return "", err
	}
	content, _, err := s.store.LatestFileContent(ctx, project.ID, key.Path)
	if err != nil {
		return "", err
	}
	return content, nil
}

// ActiveRooms reports rooms with live participants: the Redis mirror when
// configured (visible across processes), the in-process registry otherwise.
func (s *Service) ActiveRooms(ctx context.Context) ([]collab.RoomInfo, error) {
	if s.mirror == nil {
		return s.registry.Snapshot(), nil
	}
	roomIDs, err := s.mirror.ActiveRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("mirror rooms: %w", err)
	}
	out := make([]collab.RoomInfo, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		records, err := s.mirror.RoomParticipants(ctx, roomID)
		if err != nil {
			return nil, fmt.Errorf("mirror participants: %w", err)
		}
		out = append(out, collab.RoomInfo{RoomID: roomID, Participants: len(records)})
	}
	return out, nil
}

// Mirror returns the presence mirror, or nil when Redis is not configured.
func (s *Service) Mirror() *session.PresenceMirror {
	return s.mirror
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

func (s *Service) ListCommits(ctx context.Context, owner, repo string, limit int) ([]store.CommitRecord, error) {
	project, err := s.store.GetProject(ctx, owner, repo)
	if err != nil {
		return nil, domainError(404, "PROJECT_NOT_FOUND", fmt.Sprintf("%s/%s", owner, repo))
	}
	return s.store.ListCommits(ctx, project.ID, limit)
}

// FileContent serves a file at head or at a specific commit.
func (s *Service) FileContent(ctx context.Context, owner, repo, filePath, commitID string) (string, error) {
	project, err := s.store.GetProject(ctx, owner, repo)
	if err != nil {
		return "", domainError(404, "PROJECT_NOT_FOUND", fmt.Sprintf("%s/%s", owner, repo))
	}
	if commitID != "" {
		content, err := s.store.FileContentAtCommit(ctx, commitID, filePath)
		if err != nil {
			return "", domainError(404, "FILE_NOT_FOUND", filePath)
		}
		return content, nil
	}
	content, _, err := s.store.LatestFileContent(ctx, project.ID, filePath)
	if err != nil {
		return "", domainError(404, "FILE_NOT_FOUND", filePath)
	}
	return content, nil
}
