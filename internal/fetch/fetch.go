// Package fetch retrieves third-party sources referenced by a manifest.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/qobs-build/ccbuild/internal/msg"
)

var shortcuts = map[string]string{
	"gh:": "https://github.com/",
	"gl:": "https://gitlab.com/",
	"bb:": "https://bitbucket.org/",
	"sr:": "https://sr.ht/",
	"cb:": "https://codeberg.org/",
}

const gitPrefix = "git:"

var (
	ErrIllegalSource = errors.New("empty or illegal source string")
	ErrArchive       = errors.New("archive sources are not supported, use a git remote")
)

// Source fetches src into dir and returns the directory holding the
// sources. A plain path is returned as is; dir is left untouched if it
// already has content.
//
//	git:https://example.com/foo.git
//	gh:owner/repo@branch#tag
//	../vendor/foo
func Source(ctx context.Context, src, dir string, progress io.Writer) (string, error) {
	if src == "" {
		return "", ErrIllegalSource
	}

	remote, ok := remoteURL(src)
	if !ok {
		if isURL(src) {
			return "", ErrArchive
		}
		return src, nil
	}

	if populated(dir) {
		msg.Debug("using existing checkout %s", dir)
		return dir, nil
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", err
	}
	if err := clone(ctx, remote, dir, progress); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("failed to fetch %s: %w", src, err)
	}
	return dir, nil
}

func remoteURL(src string) (string, bool) {
	if rest, ok := strings.CutPrefix(src, gitPrefix); ok {
		return rest, true
	}
	for shortcut, base := range shortcuts {
		if rest, ok := strings.CutPrefix(src, shortcut); ok {
			return base + rest, true
		}
	}
	return "", false
}

func populated(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func isURL(maybeURL string) bool {
	u, err := url.Parse(maybeURL)
	return err == nil && u.Scheme != "" && u.Host != ""
}

type gitURL struct {
	cleanURL    string
	branch      string
	commitOrTag string
}

// someone/something@master#0.1.0
// someone/something@feature-branch#12345abc
// someone/something#12345abc
func parseGitURL(rawURL string) (res gitURL) {
	base, rev, found := strings.Cut(rawURL, "#")
	if found {
		res.commitOrTag = rev
	}

	// an @ before the path is userinfo, not a branch
	hostStart := 0
	if i := strings.Index(base, "://"); i >= 0 {
		hostStart = i + 3
		if slash := strings.IndexByte(base[hostStart:], '/'); slash >= 0 {
			hostStart += slash
		}
	} else if i := strings.IndexByte(base, ':'); i >= 0 {
		hostStart = i // git@host:owner/repo
	}
	if i := strings.LastIndexByte(base[hostStart:], '@'); i >= 0 {
		res.branch = base[hostStart+i+1:]
		base = base[:hostStart+i]
	}
	res.cleanURL = base

	if !strings.HasSuffix(res.cleanURL, ".git") {
		res.cleanURL += ".git"
	}
	return
}

func clone(ctx context.Context, url, dir string, progress io.Writer) error {
	parsed := parseGitURL(url)

	opts := &git.CloneOptions{
		URL:               parsed.cleanURL,
		Progress:          progress,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	}
	if parsed.commitOrTag == "" {
		opts.Depth = 1 // we can do a shallow clone of the latest commit
	}
	if parsed.branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(parsed.branch)
		opts.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, dir, opts)
	if err != nil {
		return err
	}
	if parsed.commitOrTag == "" {
		return nil
	}

	w, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("could not get worktree: %w", err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(parsed.commitOrTag))
	if err != nil {
		return fmt.Errorf("could not resolve revision `%s`: %w", parsed.commitOrTag, err)
	}
	if err := w.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return fmt.Errorf("failed to checkout `%s`: %w", parsed.commitOrTag, err)
	}
	return nil
}
