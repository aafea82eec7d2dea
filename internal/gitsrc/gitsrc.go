// Package gitsrc materializes a specific ref of a specific repository subtree
// into an ephemeral workspace. All git access goes through the git CLI with
// explicit working directories; nothing here depends on ambient state.
package gitsrc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/upmirror/upmirror/api"
)

var commitHashRe = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ResolveRef resolves a branch, tag, or commit hash against the remote to an
// immutable commit hash, without cloning. A full hex hash passes through
// unchanged.
func ResolveRef(ctx context.Context, url, ref string) (string, error) {
	if commitHashRe.MatchString(strings.ToLower(ref)) {
		return strings.ToLower(ref), nil
	}

	// Ask for the ref and its peeled form so annotated tags resolve to the
	// commit, not the tag object.
	out, stderr, err := runGit(ctx, "", "ls-remote", url, ref, ref+"^{}")
	if err != nil {
		return "", classify(ctx, "resolve "+ref, stderr, err)
	}

	var plain, peeled string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		hash, name, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		if strings.HasSuffix(name, "^{}") {
			peeled = hash
		} else if plain == "" {
			plain = hash
		}
	}
	if peeled != "" {
		return peeled, nil
	}
	if plain != "" {
		return plain, nil
	}
	return "", fmt.Errorf("resolve %s at %s: %w", ref, url, api.ErrRefNotFound)
}

// Workspace is the ephemeral checkout produced by Materialize. It exists for
// the duration of one sync and must be released on every exit path.
type Workspace struct {
	// Root is the repository checkout root (holds LICENSE, README, .git).
	Root string
	// SubtreePath is the absolute path of the extracted subtree within Root.
	SubtreePath string
}

// Release deletes the workspace. Safe to call more than once.
func (w *Workspace) Release() {
	if w.Root != "" {
		_ = os.RemoveAll(w.Root)
	}
	w.Root = ""
}

// Materialize fetches exactly the given commit into a fresh temporary
// directory and verifies the subtree exists there. The checkout is pristine:
// no working-tree edits, no unrelated refs.
func Materialize(ctx context.Context, url, commit, subtree string) (*Workspace, error) {
	dir, err := os.MkdirTemp("", "upmirror-src-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w: %v", api.ErrStagingIO, err)
	}
	ok := false
	defer func() {
		if !ok {
			_ = os.RemoveAll(dir)
		}
	}()

	for _, args := range [][]string{
		{"init", "-q"},
		{"remote", "add", "origin", url},
	} {
		if _, stderr, err := runGit(ctx, dir, args...); err != nil {
			return nil, classify(ctx, "prepare workspace", stderr, err)
		}
	}

	// Prefer a shallow fetch of the exact commit. Servers that refuse
	// requests for unadvertised objects get a full ref fetch instead; the
	// commit is then reachable from one of the fetched refs.
	if _, _, err := runGit(ctx, dir, "fetch", "-q", "--depth", "1", "origin", commit); err != nil {
		if _, stderr, err := runGit(ctx, dir, "fetch", "-q", "--tags", "origin"); err != nil {
			return nil, classify(ctx, "fetch "+commit, stderr, err)
		}
	}
	if _, stderr, err := runGit(ctx, dir, "checkout", "-q", "--detach", commit); err != nil {
		if ctx.Err() == nil {
			return nil, fmt.Errorf("checkout %s: %w: %s", commit, api.ErrRefNotFound, firstLine(stderr))
		}
		return nil, classify(ctx, "checkout "+commit, stderr, err)
	}

	sub := dir
	if subtree != "" && subtree != "." {
		sub = filepath.Join(dir, filepath.FromSlash(subtree))
		fi, err := os.Stat(sub)
		if err != nil || !fi.IsDir() {
			if variant := caseVariant(dir, subtree); variant != "" {
				return nil, fmt.Errorf("subtree %q exists only as %q at %s: %w",
					subtree, variant, commit, api.ErrConfigInvalid)
			}
			return nil, fmt.Errorf("subtree %q at %s: %w", subtree, commit, api.ErrSubtreeMissing)
		}
	}

	ok = true
	return &Workspace{Root: dir, SubtreePath: sub}, nil
}

// caseVariant walks the configured subtree path element by element and
// returns the on-disk spelling when it differs only by case. Case-only
// drift is ambiguous on case-insensitive filesystems, so the caller rejects
// it as a configuration error instead of guessing.
func caseVariant(root, subtree string) string {
	cur := root
	var found []string
	for _, elem := range strings.Split(strings.Trim(subtree, "/"), "/") {
		entries, err := os.ReadDir(cur)
		if err != nil {
			return ""
		}
		match := ""
		for _, e := range entries {
			if strings.EqualFold(e.Name(), elem) {
				match = e.Name()
				break
			}
		}
		if match == "" {
			return ""
		}
		found = append(found, match)
		cur = filepath.Join(cur, match)
	}
	variant := strings.Join(found, "/")
	if variant == strings.Trim(subtree, "/") {
		return ""
	}
	return variant
}

func runGit(ctx context.Context, dir string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	err := cmd.Run()
	return out.String(), stderr.String(), err
}

// classify maps a git CLI failure onto the error taxonomy. Timeouts are
// reported as source-unavailable, not distinguished from connectivity faults.
func classify(ctx context.Context, op, stderr string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%s: timed out: %w", op, api.ErrSourceUnavailable)
		}
		return fmt.Errorf("%s: %w", op, ctxErr)
	}

	msg := strings.ToLower(stderr)
	detail := firstLine(stderr)
	refMissing := []string{
		"not our ref",
		"couldn't find remote ref",
		"unknown revision",
		"bad object",
		"upload-pack: not our ref",
	}
	for _, needle := range refMissing {
		if strings.Contains(msg, needle) {
			return fmt.Errorf("%s: %w: %s", op, api.ErrRefNotFound, detail)
		}
	}
	if detail == "" {
		detail = err.Error()
	}
	return fmt.Errorf("%s: %w: %s", op, api.ErrSourceUnavailable, detail)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
