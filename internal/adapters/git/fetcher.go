package git

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"
)

// Fetcher materializes one branch of one repository into a local directory.
// The credential is passed as transport auth, never embedded in the URL, so
// it cannot leak into logs or error messages.
type Fetcher struct {
	url    string
	branch string
	token  string
	log    *zap.Logger
}

func NewFetcher(url, branch, token string, log *zap.Logger) *Fetcher {
	return &Fetcher{url: url, branch: branch, token: token, log: log}
}

// Sync clones the pinned branch into dir, or updates an existing checkout by
// fetching, checking out, and pulling. A failed pull propagates as fatal;
// there is no merge-conflict handling.
func (f *Fetcher) Sync(ctx context.Context, dir string) error {
	repo, err := gogit.PlainOpen(dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return f.clone(ctx, dir)
	}
	if err != nil {
		return fmt.Errorf("open checkout: %w", err)
	}
	return f.update(ctx, repo)
}

func (f *Fetcher) clone(ctx context.Context, dir string) error {
	f.log.Info("cloning repository", zap.String("branch", f.branch))
	_, err := gogit.PlainCloneContext(ctx, dir, false, &gogit.CloneOptions{
		URL:           f.url,
		Auth:          f.auth(),
		ReferenceName: plumbing.NewBranchReferenceName(f.branch),
		SingleBranch:  true,
	})
	if err != nil {
		return fmt.Errorf("clone branch %s: %w", f.branch, err)
	}
	return nil
}

func (f *Fetcher) update(ctx context.Context, repo *gogit.Repository) error {
	f.log.Info("updating existing checkout", zap.String("branch", f.branch))
	err := repo.FetchContext(ctx, &gogit.FetchOptions{
		Auth: f.auth(),
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("worktree: %w", err)
	}
	branch := plumbing.NewBranchReferenceName(f.branch)
	if err := worktree.Checkout(&gogit.CheckoutOptions{Branch: branch}); err != nil {
		return fmt.Errorf("checkout %s: %w", f.branch, err)
	}
	err = worktree.PullContext(ctx, &gogit.PullOptions{
		Auth:          f.auth(),
		ReferenceName: branch,
		SingleBranch:  true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("pull %s: %w", f.branch, err)
	}
	return nil
}

func (f *Fetcher) auth() transport.AuthMethod {
	if f.token == "" {
		return nil
	}
	// Token auth over HTTPS; the username is ignored by the major forges.
	return &githttp.BasicAuth{Username: "x-access-token", Password: f.token}
}
