package store

import "time"

type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"ownerId"`
	OwnerName string    `json:"ownerName"`
	IsPublic  bool      `json:"isPublic"`
	CreatedAt time.Time `json:"createdAt"`
}

type CommitRecord struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"projectId"`
	Message        string    `json:"message"`
	CommitterID    string    `json:"committerId"`
	CommitterName  string    `json:"committerName,omitempty"`
	ParentCommitID string    `json:"parentCommitId,omitempty"`
	GitHash        string    `json:"gitHash,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type FileTreeEntry struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId"`
	CommitID  string `json:"commitId"`
	Path      string `json:"path"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Size      int    `json:"size"`
	Extension string `json:"extension"`
}

// Change types recorded in file_changes.
const (
	ChangeAdded    = "added"
	ChangeModified = "modified"
	ChangeDeleted  = "deleted"
	ChangeRenamed  = "renamed"
)

type FileChange struct {
	ID         string `json:"id"`
	CommitID   string `json:"commitId"`
	FileID     string `json:"fileId"`
	ChangeType string `json:"changeType"`
	NewPath    string `json:"newPath"`
	NewContent string `json:"newContent"`
	Additions  int    `json:"additions"`
	Deletions  int    `json:"deletions"`
}
