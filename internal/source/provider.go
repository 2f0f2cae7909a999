// internal/source/provider.go

// Package source defines the narrow contract the pipeline consumes from a
// source-hosting platform, and its GitHub implementation.
package source

import (
	"context"
	"time"

	"kb-syncer/internal/model"
)

// FileChange is one changed file reported by a diff.
type FileChange struct {
	Path       string
	OldPath    string // set for renames
	ChangeType model.ChangeType
	Additions  int
	Deletions  int
	Size       int
}

// Commit is the metadata of the head commit of a diff.
type Commit struct {
	ExternalID   string
	SHA          string
	AuthorName   string
	AuthorEmail  string
	Message      string
	CommittedAt  time.Time
	Additions    int
	Deletions    int
	FilesChanged int
}

// Diff is the change list between a baseline and a head commit.
type Diff struct {
	Commit Commit
	Files  []FileChange
}

// Provider is the capability contract against the hosting platform. The
// diff for a given commit pair is deterministic.
type Provider interface {
	// Head resolves the current tip sha of a branch.
	Head(ctx context.Context, owner, name, branch string) (string, error)
	// Diff returns the head commit plus the files changed since fromSHA.
	// An empty fromSHA means a full sync: every file in the head tree.
	Diff(ctx context.Context, owner, name, fromSHA, headSHA string) (*Diff, error)
	// FileContent downloads one file's content at a given ref.
	FileContent(ctx context.Context, owner, name, ref, path string) ([]byte, error)
}
