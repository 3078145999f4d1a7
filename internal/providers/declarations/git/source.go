package git

import (
	"context"
	"errors"
	"strings"

	"github.com/go-git/go-billy/v5/memfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	httpauth "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/convergekit/converge/faults"
	"github.com/convergekit/converge/internal/providers/declarations/fs"
)

// Options configure the read-only clone. The declaration layout inside
// the repository is the same one the filesystem source reads.
type Options struct {
	URL string

	// Branch selects a branch; empty follows the remote HEAD.
	Branch string

	// Token authenticates HTTPS remotes as a bearer-style access key.
	Token string
}

// NewSource clones the repository into memory and exposes its worktree
// as a declaration source. Nothing is written back: the clone is a
// snapshot of the declared state at the remote tip.
func NewSource(ctx context.Context, opts Options) (*fs.Source, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		return nil, faults.NewTypedError(faults.InternalError, "git declaration source requires a URL", nil)
	}

	cloneOptions := &gogit.CloneOptions{
		URL:   url,
		Depth: 1,
	}
	if branch := strings.TrimSpace(opts.Branch); branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(branch)
		cloneOptions.SingleBranch = true
	}
	if token := strings.TrimSpace(opts.Token); token != "" {
		cloneOptions.Auth = &httpauth.BasicAuth{Username: "token", Password: token}
	}

	worktree := memfs.New()
	if _, err := gogit.CloneContext(ctx, memory.NewStorage(), worktree, cloneOptions); err != nil {
		return nil, classifyCloneError(err)
	}
	return fs.NewSourceFrom(worktree), nil
}

func classifyCloneError(err error) error {
	lower := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired) ||
		errors.Is(err, transport.ErrAuthorizationFailed) ||
		strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "permission denied"):
		return faults.NewTypedError(faults.AuthorizationGap, "git remote rejected the credentials", err)
	case strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "connection") ||
		strings.Contains(lower, "network"):
		return faults.NewTypedError(faults.BackendUnavailable, "git remote is unreachable", err)
	default:
		return faults.NewTypedError(faults.InternalError, "cloning declaration repository", err)
	}
}
