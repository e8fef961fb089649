package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// GitDestination writes the backup to a file in a local clone, commits it
// and pushes.
type GitDestination struct {
	repo   string
	file   string // relative to repo
	branch string
	logger *slog.Logger
}

// NewGitDestination creates a git destination. repo is the path to an
// existing local clone with an "origin" remote. A nil logger uses
// slog.Default.
func NewGitDestination(repo, file, branch string, logger *slog.Logger) *GitDestination {
	if logger == nil {
		logger = slog.Default()
	}
	return &GitDestination{repo: repo, file: file, branch: branch, logger: logger}
}

func (d *GitDestination) String() string { return "git:" + d.repo + ":" + d.file }

// Write replaces the file with data and pushes a commit when it changed.
func (d *GitDestination) Write(ctx context.Context, data []byte) error {
	if err := d.git(ctx, "checkout", d.branch); err != nil {
		return fmt.Errorf("git checkout: %w", err)
	}
	// The remote branch may not exist yet.
	_ = d.git(ctx, "pull", "--ff-only", "origin", d.branch)

	path := filepath.Join(d.repo, d.file)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	if err := d.git(ctx, "add", d.file); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	if err := d.git(ctx, "diff", "--cached", "--quiet"); err == nil {
		return nil
	}
	if err := d.git(ctx, "commit", "-m", "backup: update saved searches"); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	if err := d.git(ctx, "push", "origin", d.branch); err != nil {
		return fmt.Errorf("git push: %w", err)
	}
	return nil
}

// Read pulls and returns the file's content. When the pull fails the local
// copy is returned if there is one.
func (d *GitDestination) Read(ctx context.Context) ([]byte, error) {
	pullErr := d.git(ctx, "pull", "--ff-only", "origin", d.branch)
	if pullErr != nil {
		pullErr = fmt.Errorf("git pull: %w", pullErr)
	}
	data, err := os.ReadFile(filepath.Join(d.repo, d.file))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d, errors.Join(pullErr, err))
	}
	if pullErr != nil {
		d.logger.Warn("reading local copy of backup", "dest", d.String(), "err", pullErr)
	}
	return data, nil
}

func (d *GitDestination) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = d.repo
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
