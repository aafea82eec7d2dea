// Package transform stages the output-shaped package tree from an extracted
// source subtree: it mirrors the files, applies the relocation and stripping
// policies, and attaches an identity sidecar to every staged file and
// directory. Staging is all-or-nothing; any I/O fault aborts the whole tree.
//
// Trees are billy filesystems so the reconciliation logic runs identically
// against the real output directory (osfs) and in-memory fixtures (memfs).
package transform

import (
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"

	"github.com/upmirror/upmirror/api"
	"github.com/upmirror/upmirror/internal/identity"
)

const (
	// RuntimeDir is the fixed subdirectory mirrored content is nested under
	// when Policy.NestRuntime is set.
	RuntimeDir = "Runtime"
	// MetaSuffix names a path's identity sidecar: <path> + MetaSuffix.
	MetaSuffix = ".meta"
	// RootMeta is the package root's own sidecar, stored inside the root so
	// the atomic swap carries it along.
	RootMeta = ".meta"
)

// Policy toggles optional staging behavior. Each knob is independent.
type Policy struct {
	// StripProjectFiles suppresses copying of C#/SCM project files that have
	// no place in a generated package.
	StripProjectFiles bool
	// NestRuntime places all mirrored content under RuntimeDir.
	NestRuntime bool
	// SkipMeta disables identity sidecar generation entirely. Escape hatch
	// for consumers that do not understand identity records.
	SkipMeta bool
}

// DefaultPolicy mirrors content under Runtime/ with project files stripped.
func DefaultPolicy() Policy {
	return Policy{StripProjectFiles: true, NestRuntime: true}
}

// Transformer stages one package tree. Root keys every derived identity
// token, so it must be the package's stable root token.
type Transformer struct {
	Root   uuid.UUID
	Policy Policy
}

// Directories never mirrored into a package, independent of policy.
var alwaysSkipDirs = map[string]bool{
	".git": true,
}

// Project directories and files dropped under Policy.StripProjectFiles.
var projectDirs = map[string]bool{
	".vs":     true,
	".vscode": true,
	".idea":   true,
	".github": true,
}

var projectFiles = map[string]bool{
	"packages.config":         true,
	"app.config":              true,
	"web.config":              true,
	"AssemblyInfo.cs":         true,
	"GlobalAssemblyInfo.cs":   true,
	"Directory.Build.props":   true,
	"Directory.Build.targets": true,
	".editorconfig":           true,
	".gitignore":              true,
	".gitattributes":          true,
}

var projectExts = map[string]bool{
	".csproj": true,
	".sln":    true,
	".suo":    true,
	".user":   true,
}

// Stage mirrors the extracted subtree into the staged output tree, applying
// the relocation and stripping policies. Upstream ".meta" files are never
// copied: every identity record in the output is generated here.
func (t *Transformer) Stage(src, staged billy.Filesystem) error {
	base := "."
	if t.Policy.NestRuntime {
		base = RuntimeDir
		if err := staged.MkdirAll(base, 0o755); err != nil {
			return stagingErr("create "+base, err)
		}
	}
	return t.copyTree(src, staged, ".", base)
}

func (t *Transformer) copyTree(src, staged billy.Filesystem, from, to string) error {
	infos, err := src.ReadDir(from)
	if err != nil {
		return stagingErr("read "+from, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })

	for _, fi := range infos {
		name := fi.Name()
		srcPath := join(from, name)
		dstPath := join(to, name)

		if fi.IsDir() {
			if alwaysSkipDirs[name] || (t.Policy.StripProjectFiles && projectDirs[name]) {
				continue
			}
			if err := staged.MkdirAll(dstPath, 0o755); err != nil {
				return stagingErr("create "+dstPath, err)
			}
			if err := t.copyTree(src, staged, srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if strings.HasSuffix(name, MetaSuffix) {
			continue
		}
		if t.Policy.StripProjectFiles &&
			(projectFiles[name] || projectExts[path.Ext(name)]) {
			continue
		}
		if err := copyFile(src, staged, srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, staged billy.Filesystem, from, to string) error {
	in, err := src.Open(from)
	if err != nil {
		return stagingErr("open "+from, err)
	}
	defer func() { _ = in.Close() }()

	out, err := staged.Create(to)
	if err != nil {
		return stagingErr("create "+to, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return stagingErr("copy "+to, err)
	}
	if err := out.Close(); err != nil {
		return stagingErr("close "+to, err)
	}
	return nil
}

// WriteSidecars attaches an identity record to every file and directory in
// the staged tree, the root included. Tokens come from the deriver keyed by
// the package root token, so a path keeps its token across regenerations.
func (t *Transformer) WriteSidecars(staged billy.Filesystem) error {
	if t.Policy.SkipMeta {
		return nil
	}

	type entry struct {
		path  string
		isDir bool
	}
	var all []entry
	err := walk(staged, ".", func(p string, fi os.FileInfo) error {
		if !fi.IsDir() && strings.HasSuffix(fi.Name(), MetaSuffix) {
			return nil
		}
		all = append(all, entry{path: p, isDir: fi.IsDir()})
		return nil
	})
	if err != nil {
		return stagingErr("enumerate staged tree", err)
	}

	root := metaContent(identity.Derive(t.Root, "."), true, ".")
	if err := util.WriteFile(staged, RootMeta, []byte(root), 0o644); err != nil {
		return stagingErr("write "+RootMeta, err)
	}
	for _, e := range all {
		content := metaContent(identity.Derive(t.Root, e.path), e.isDir, path.Base(e.path))
		if err := util.WriteFile(staged, e.path+MetaSuffix, []byte(content), 0o644); err != nil {
			return stagingErr("write "+e.path+MetaSuffix, err)
		}
	}
	return nil
}

// metaContent renders the sidecar body. The guid line is the contract; the
// importer block matches what Unity writes for the asset class.
func metaContent(token string, isDir bool, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "fileFormatVersion: 2\nguid: %s\n", token)
	switch {
	case isDir:
		b.WriteString("folderAsset: yes\nDefaultImporter:\n")
	case strings.HasSuffix(name, ".cs"):
		b.WriteString("MonoImporter:\n  serializedVersion: 2\n  defaultReferences: []\n  executionOrder: 0\n")
	case strings.HasSuffix(name, ".asmdef"):
		b.WriteString("AssemblyDefinitionImporter:\n")
	default:
		b.WriteString("DefaultImporter:\n")
	}
	b.WriteString("  externalObjects: {}\n  userData: \n  assetBundleName: \n  assetBundleVariant: \n")
	return b.String()
}

// Diff lists entries of the previous output tree with no counterpart in the
// staged tree. Sidecars are implied by their subject and not listed
// separately. A nil previous tree (first generation) diffs empty.
func Diff(prev, staged billy.Filesystem) ([]string, error) {
	if prev == nil {
		return nil, nil
	}
	prevSet, err := treeEntries(prev)
	if err != nil {
		return nil, err
	}
	stagedSet, err := treeEntries(staged)
	if err != nil {
		return nil, err
	}

	var deleted []string
	for p := range prevSet {
		if !stagedSet[p] {
			deleted = append(deleted, p)
		}
	}
	sort.Strings(deleted)
	return deleted, nil
}

func treeEntries(fsys billy.Filesystem) (map[string]bool, error) {
	set := map[string]bool{}
	err := walk(fsys, ".", func(p string, fi os.FileInfo) error {
		if !fi.IsDir() && strings.HasSuffix(fi.Name(), MetaSuffix) {
			return nil
		}
		set[p] = true
		return nil
	})
	if err != nil {
		return nil, stagingErr("enumerate tree", err)
	}
	return set, nil
}

func walk(fsys billy.Filesystem, dir string, fn func(p string, fi os.FileInfo) error) error {
	infos, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	for _, fi := range infos {
		p := join(dir, fi.Name())
		if err := fn(p, fi); err != nil {
			return err
		}
		if fi.IsDir() {
			if err := walk(fsys, p, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func join(dir, name string) string {
	if dir == "." {
		return name
	}
	return dir + "/" + name
}

func stagingErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, api.ErrStagingIO, err)
}
