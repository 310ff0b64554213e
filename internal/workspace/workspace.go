// Package workspace derives a stable project name for a working directory.
package workspace

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GitRunner runs git with args in dir and returns trimmed stdout
type GitRunner func(ctx context.Context, dir string, args ...string) (string, error)

// execGit runs the git binary
func execGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Resolver resolves project names using Git, which defaults to the git binary
type Resolver struct {
	Git GitRunner
}

// ProjectName resolves dir with the git binary
func ProjectName(ctx context.Context, dir string) (string, error) {
	return Resolver{}.ProjectName(ctx, dir)
}

// ProjectName prefers org/repo from the git remote, then the name of the git
// root, then the absolute directory path
func (r Resolver) ProjectName(ctx context.Context, dir string) (string, error) {
	git := r.Git
	if git == nil {
		git = execGit
	}

	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	if remote := remoteURL(ctx, git, abs); remote != "" {
		if name := RepoFromRemote(remote); name != "" {
			return name, nil
		}
	}
	if root, err := git(ctx, abs, "rev-parse", "--show-toplevel"); err == nil && root != "" {
		return filepath.Base(filepath.Clean(root)), nil
	}
	return abs, nil
}

// remoteURL returns the origin URL, or the first configured remote's URL
func remoteURL(ctx context.Context, git GitRunner, dir string) string {
	if u, err := git(ctx, dir, "remote", "get-url", "origin"); err == nil && u != "" {
		return u
	}
	remotes, err := git(ctx, dir, "remote")
	if err != nil || remotes == "" {
		return ""
	}
	first := strings.Fields(remotes)[0]
	u, err := git(ctx, dir, "remote", "get-url", first)
	if err != nil {
		return ""
	}
	return u
}

// RepoFromRemote extracts "org/repo" from a remote URL in https, ssh or
// scp-like form. It returns "" when the URL has fewer than two path segments.
func RepoFromRemote(remote string) string {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return ""
	}

	var path string
	if strings.Contains(remote, "://") {
		u, err := url.Parse(remote)
		if err != nil {
			return ""
		}
		path = u.Path
	} else if i := strings.Index(remote, ":"); i > 0 && !strings.HasPrefix(remote, "/") {
		// git@host:org/repo.git
		path = remote[i+1:]
	} else {
		path = remote
	}

	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	parts := strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' })
	if len(parts) < 2 {
		return ""
	}
	org, repo := parts[len(parts)-2], parts[len(parts)-1]
	if org == "" || repo == "" {
		return ""
	}
	return org + "/" + repo
}
