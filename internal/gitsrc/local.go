package gitsrc

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
)

// localPath reports whether url names a directory on this machine.
func localPath(url string) (string, bool) {
	if strings.HasPrefix(url, "file://") {
		return strings.TrimPrefix(url, "file://"), true
	}
	if strings.Contains(url, "://") || strings.HasPrefix(url, "git@") {
		return "", false
	}
	if info, err := os.Stat(url); err == nil && info.IsDir() {
		return url, true
	}
	return "", false
}

// copyWorktree mirrors src into dest, leaving .git behind. Uncommitted
// changes come along, which is the point for CLI runs.
func copyWorktree(src, dest string) (*Result, error) {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}

	err = filepath.WalkDir(absSrc, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(absSrc, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		target := filepath.Join(dest, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o750)
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("copy worktree: %w", err)
	}
	return &Result{Path: dest, SHA: localHead(absSrc)}, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src) // #nosec G304 - walking an operator-named tree
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm()) // #nosec G304
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// localHead resolves the source repository's HEAD commit; empty when src is
// not a git repository or has no commits yet.
func localHead(src string) string {
	repo, err := gogit.PlainOpen(src)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}
