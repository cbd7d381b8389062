package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/DeafMist/form8k-radar/internal/apperr"
)

// Snapshot is the ledger content together with the revision it was read at.
type Snapshot struct {
	Content  string
	Revision string
	Exists   bool
}

// WriteRequest is a conditional replace of the ledger document.
type WriteRequest struct {
	Content string
	Message string
	// Revision is the blob sha the write is conditioned on; empty creates the file.
	Revision string
	Create   bool
}

// Store is the hosting collaborator: read the ledger with its revision and
// write it back guarded by that revision.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Commit(ctx context.Context, req WriteRequest) (string, error)
}

// GitHubOptions locates the ledger file in a GitHub repository.
type GitHubOptions struct {
	Owner   string
	Repo    string
	Path    string
	Branch  string
	Token   string
	BaseURL string
	Timeout time.Duration

	HTTPClient *http.Client
}

// GitHubStore keeps the ledger as a file in a GitHub repository and uses the
// contents API blob sha as the revision token.
type GitHubStore struct {
	client  *github.Client
	owner   string
	repo    string
	path    string
	branch  string
	timeout time.Duration
}

// NewGitHubStore builds a store. The token is only handed to the client.
func NewGitHubStore(opts GitHubOptions) (*GitHubStore, error) {
	if opts.Owner == "" || opts.Repo == "" || opts.Path == "" {
		return nil, fmt.Errorf("ledger owner, repo and path are required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	client := github.NewClient(httpClient)
	if opts.Token != "" {
		client = client.WithAuthToken(opts.Token)
	}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse github api url: %w", err)
		}
		client.BaseURL = u
	}

	return &GitHubStore{
		client:  client,
		owner:   opts.Owner,
		repo:    opts.Repo,
		path:    opts.Path,
		branch:  opts.Branch,
		timeout: opts.Timeout,
	}, nil
}

// Location returns owner/repo/path for logs.
func (s *GitHubStore) Location() string {
	return s.owner + "/" + s.repo + "/" + s.path
}

// Load reads the ledger. A missing file is an empty ledger, not an error.
func (s *GitHubStore) Load(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var opts *github.RepositoryContentGetOptions
	if s.branch != "" {
		opts = &github.RepositoryContentGetOptions{Ref: s.branch}
	}

	file, dir, resp, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, s.path, opts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("%w: get %s: %v", apperr.ErrLedgerUnavailable, s.Location(), err)
	}
	if file == nil || dir != nil {
		return Snapshot{}, fmt.Errorf("%w: %s is not a file", apperr.ErrLedgerUnavailable, s.Location())
	}

	content, err := s.fileContent(ctx, file)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Content:  content,
		Revision: file.GetSHA(),
		Exists:   true,
	}, nil
}

// fileContent decodes inline content, falling back to the blob API for files
// too large to be inlined by the contents endpoint.
func (s *GitHubStore) fileContent(ctx context.Context, file *github.RepositoryContent) (string, error) {
	if file.GetEncoding() != "none" {
		content, err := file.GetContent()
		if err != nil {
			return "", fmt.Errorf("%w: decode %s: %v", apperr.ErrLedgerUnavailable, s.Location(), err)
		}
		return content, nil
	}

	raw, _, err := s.client.Git.GetBlobRaw(ctx, s.owner, s.repo, file.GetSHA())
	if err != nil {
		return "", fmt.Errorf("%w: get blob %s: %v", apperr.ErrLedgerUnavailable, file.GetSHA(), err)
	}
	return string(raw), nil
}

// Commit writes req.Content in a single PUT guarded by req.Revision. It
// returns the new revision.
func (s *GitHubStore) Commit(ctx context.Context, req WriteRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(req.Message),
		Content: []byte(req.Content),
	}
	if s.branch != "" {
		opts.Branch = github.String(s.branch)
	}

	var (
		res  *github.RepositoryContentResponse
		resp *github.Response
		err  error
	)
	if req.Create {
		res, resp, err = s.client.Repositories.CreateFile(ctx, s.owner, s.repo, s.path, opts)
	} else {
		opts.SHA = github.String(req.Revision)
		res, resp, err = s.client.Repositories.UpdateFile(ctx, s.owner, s.repo, s.path, opts)
	}
	if err != nil {
		if isConflict(resp, err) {
			return "", fmt.Errorf("%w: %s moved since revision %q: %v", apperr.ErrLedgerConflict, s.Location(), req.Revision, err)
		}
		return "", fmt.Errorf("%w: put %s: %v", apperr.ErrLedgerUnavailable, s.Location(), err)
	}

	if res == nil || res.Content == nil {
		return "", nil
	}
	return res.Content.GetSHA(), nil
}

// isConflict matches a stale sha (409) and a create racing an existing file,
// which GitHub rejects as 422 because no sha was supplied.
func isConflict(resp *github.Response, err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		code := ghErr.Response.StatusCode
		return code == http.StatusConflict || code == http.StatusUnprocessableEntity
	}
	if resp != nil {
		return resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity
	}
	return false
}
