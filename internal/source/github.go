// internal/source/github.go
package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"kb-syncer/internal/model"
)

const (
	// Total attempts per API call before giving up on server errors.
	maxRetries = 3
	retryDelay = 500 * time.Millisecond
)

// GitHubProvider implements Provider on top of the go-github client.
type GitHubProvider struct {
	gh     *github.Client
	logger *slog.Logger
}

var _ Provider = (*GitHubProvider)(nil)

// NewGitHubProvider creates and configures a new GitHubProvider.
// The provided token is used to create an authenticated http.Client.
func NewGitHubProvider(token string, logger *slog.Logger) *GitHubProvider {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &GitHubProvider{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// withRetry runs one API call, retrying on 5xx responses and waiting out
// rate-limit resets.
func (p *GitHubProvider) withRetry(ctx context.Context, call func() (*github.Response, error)) error {
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		var resp *github.Response
		resp, err = call()
		if err == nil {
			return nil
		}

		var rateErr *github.RateLimitError
		if errors.As(err, &rateErr) {
			wait := time.Until(rateErr.Rate.Reset.Time)
			if wait < 0 {
				wait = 0
			}
			p.logger.Warn("GitHub rate limit hit, waiting for reset", "wait", wait.String())
			select {
			case <-time.After(wait):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if resp != nil && resp.StatusCode >= 500 && attempt < maxRetries {
			p.logger.Debug("GitHub server error, retrying", "status", resp.StatusCode, "attempt", attempt)
			select {
			case <-time.After(retryDelay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		return err
	}
	return err
}

// Head resolves the tip sha of a branch.
func (p *GitHubProvider) Head(ctx context.Context, owner, name, branch string) (string, error) {
	var sha string
	err := p.withRetry(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		sha, resp, err = p.gh.Repositories.GetCommitSHA1(ctx, owner, name, branch, "")
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return sha, nil
}

// Diff returns the head commit metadata plus the changed files since
// fromSHA. With an empty fromSHA it lists the entire head tree, every
// file reported as added.
func (p *GitHubProvider) Diff(ctx context.Context, owner, name, fromSHA, headSHA string) (*Diff, error) {
	commit, err := p.headCommit(ctx, owner, name, headSHA)
	if err != nil {
		return nil, err
	}

	var files []FileChange
	if fromSHA == "" {
		files, err = p.fullTree(ctx, owner, name, headSHA)
	} else {
		files, err = p.compare(ctx, owner, name, fromSHA, headSHA)
	}
	if err != nil {
		return nil, err
	}

	commit.FilesChanged = len(files)
	return &Diff{Commit: *commit, Files: files}, nil
}

// FileContent downloads one file at a ref.
func (p *GitHubProvider) FileContent(ctx context.Context, owner, name, ref, path string) ([]byte, error) {
	var content []byte
	err := p.withRetry(ctx, func() (*github.Response, error) {
		rc, resp, err := p.gh.Repositories.DownloadContents(ctx, owner, name, path, &github.RepositoryContentGetOptions{Ref: ref})
		if err != nil {
			return resp, err
		}
		defer rc.Close()
		content, err = io.ReadAll(rc)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

func (p *GitHubProvider) headCommit(ctx context.Context, owner, name, sha string) (*Commit, error) {
	var rc *github.RepositoryCommit
	err := p.withRetry(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		rc, resp, err = p.gh.Repositories.GetCommit(ctx, owner, name, sha, &github.ListOptions{PerPage: 1})
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	return toCommit(rc), nil
}

// compare fetches the changed-file list between two shas, following
// pagination transparently.
func (p *GitHubProvider) compare(ctx context.Context, owner, name, base, head string) ([]FileChange, error) {
	var files []FileChange
	opts := &github.ListOptions{PerPage: 100}

	for {
		p.logger.Debug("Fetching comparison page", "owner", owner, "repo", name, "page", opts.Page)

		var cmp *github.CommitsComparison
		var resp *github.Response
		err := p.withRetry(ctx, func() (*github.Response, error) {
			var err error
			cmp, resp, err = p.gh.Repositories.CompareCommits(ctx, owner, name, base, head, opts)
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, f := range cmp.Files {
			fc, ok := toFileChange(f)
			if ok {
				files = append(files, fc)
			}
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return files, nil
}

// fullTree lists every blob in the head tree as an added file.
func (p *GitHubProvider) fullTree(ctx context.Context, owner, name, sha string) ([]FileChange, error) {
	var tree *github.Tree
	err := p.withRetry(ctx, func() (*github.Response, error) {
		var resp *github.Response
		var err error
		tree, resp, err = p.gh.Git.GetTree(ctx, owner, name, sha, true)
		return resp, err
	})
	if err != nil {
		return nil, err
	}

	var files []FileChange
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		files = append(files, FileChange{
			Path:       entry.GetPath(),
			ChangeType: model.ChangeAdded,
			Size:       entry.GetSize(),
		})
	}
	return files, nil
}

// toCommit translates a github.RepositoryCommit to the provider model.
func toCommit(c *github.RepositoryCommit) *Commit {
	return &Commit{
		ExternalID:  c.GetNodeID(),
		SHA:         c.GetSHA(),
		AuthorName:  c.GetCommit().GetAuthor().GetName(),
		AuthorEmail: c.GetCommit().GetAuthor().GetEmail(),
		Message:     c.GetCommit().GetMessage(),
		CommittedAt: c.GetCommit().GetAuthor().GetDate().Time,
		Additions:   c.GetStats().GetAdditions(),
		Deletions:   c.GetStats().GetDeletions(),
	}
}

// toFileChange translates a github.CommitFile, dropping statuses the
// pipeline does not act on.
func toFileChange(f *github.CommitFile) (FileChange, bool) {
	fc := FileChange{
		Path:      f.GetFilename(),
		Additions: f.GetAdditions(),
		Deletions: f.GetDeletions(),
	}
	switch f.GetStatus() {
	case "added", "copied":
		fc.ChangeType = model.ChangeAdded
	case "modified", "changed":
		fc.ChangeType = model.ChangeModified
	case "removed":
		fc.ChangeType = model.ChangeDeleted
	case "renamed":
		fc.ChangeType = model.ChangeRenamed
		fc.OldPath = f.GetPreviousFilename()
	default:
		return FileChange{}, false
	}
	return fc, true
}
