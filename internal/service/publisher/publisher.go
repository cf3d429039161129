package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/oshokin/extbuild/internal/logger"
	"github.com/oshokin/extbuild/internal/service/common"
)

// DefaultRemote is the remote pushed to.
const DefaultRemote = "origin"

// ErrNotRepository is returned when the working directory is not inside a git repository.
var ErrNotRepository = errors.New("not a git repository")

// Publisher commits and pushes the working tree of a repository.
type Publisher struct {
	// repo is the repository enclosing the build directory.
	repo *git.Repository
	// remote is the remote name pushed to.
	remote string
	// now returns the commit time.
	now func() time.Time
}

// Open finds the repository enclosing dir.
func Open(dir string) (*Publisher, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, dir)
		}

		return nil, fmt.Errorf("open repository: %w", err)
	}

	return &Publisher{
		repo:   repo,
		remote: DefaultRemote,
		now:    time.Now,
	}, nil
}

// Publish stages every change, commits it with message and pushes to the remote.
// A clean worktree skips the commit but still pushes earlier commits.
func (p *Publisher) Publish(ctx context.Context, message string) error {
	worktree, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	if err = worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}

	if status.IsClean() {
		logger.Info(ctx, "Nothing to commit")
	} else {
		author, err := p.signature()
		if err != nil {
			return err
		}

		hash, err := worktree.Commit(message, &git.CommitOptions{Author: author})
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}

		logger.InfoKV(ctx, "Committed changes", "commit", hash.String(), "message", message)
	}

	err = p.repo.PushContext(ctx, &git.PushOptions{RemoteName: p.remote})

	switch {
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		logger.InfoKV(ctx, "Remote is already up to date", "remote", p.remote)
	case err != nil:
		return fmt.Errorf("push to %s: %w", p.remote, err)
	default:
		logger.InfoKV(ctx, "Pushed changes", "remote", p.remote)
	}

	return nil
}

// signature uses the repository git identity, then the global one, and
// falls back to the current user.
func (p *Publisher) signature() (*object.Signature, error) {
	signature := &object.Signature{When: p.now()}

	for _, scope := range []gitconfig.Scope{gitconfig.LocalScope, gitconfig.GlobalScope} {
		cfg, err := p.repo.ConfigScoped(scope)
		if err != nil {
			continue
		}

		if signature.Name == "" {
			signature.Name = cfg.User.Name
		}

		if signature.Email == "" {
			signature.Email = cfg.User.Email
		}
	}

	if signature.Name != "" && signature.Email != "" {
		return signature, nil
	}

	actor, err := common.DetectActor()
	if err != nil {
		return nil, fmt.Errorf("detect commit author: %w", err)
	}

	if signature.Name == "" {
		signature.Name = actor.Username
	}

	if signature.Email == "" {
		signature.Email = actor.Email()
	}

	return signature, nil
}
