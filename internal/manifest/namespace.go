package manifest

import (
	"context"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"
)

// DiscoverNamespace scans the staged tree's C# sources in path order and
// returns the first declared namespace. Files that fail to parse are
// skipped. No discoverable namespace is not an error: the caller simply
// omits the field.
func DiscoverNamespace(fsys billy.Filesystem) (string, error) {
	var files []string
	err := walkCS(fsys, ".", &files)
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	parser := sitter.NewParser()
	parser.SetLanguage(csharp.GetLanguage())

	for _, p := range files {
		content, err := util.ReadFile(fsys, p)
		if err != nil {
			return "", err
		}
		tree, err := parser.ParseCtx(context.Background(), nil, content)
		if err != nil {
			continue
		}
		if ns := firstNamespace(tree.RootNode(), content); ns != "" {
			return ns, nil
		}
	}
	return "", nil
}

func walkCS(fsys billy.Filesystem, dir string, out *[]string) error {
	infos, err := fsys.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, fi := range infos {
		p := fi.Name()
		if dir != "." {
			p = dir + "/" + fi.Name()
		}
		if fi.IsDir() {
			if err := walkCS(fsys, p, out); err != nil {
				return err
			}
			continue
		}
		if strings.HasSuffix(fi.Name(), ".cs") {
			*out = append(*out, p)
		}
	}
	return nil
}

// firstNamespace finds the first namespace declaration (block-scoped or
// file-scoped) in document order.
func firstNamespace(n *sitter.Node, src []byte) string {
	switch n.Type() {
	case "namespace_declaration", "file_scoped_namespace_declaration":
		if name := n.ChildByFieldName("name"); name != nil {
			return name.Content(src)
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if ns := firstNamespace(n.NamedChild(i), src); ns != "" {
			return ns
		}
	}
	return ""
}
