// Package publish pushes a committed package tree to an npm-compatible
// registry via the npm CLI. It only ever reads the durable output tree; the
// scoped-name rewrite happens on a throwaway copy.
package publish

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"
	"go.uber.org/zap"
)

// Registry is one publishing target profile.
type Registry struct {
	Name         string
	URL          string
	RequiresAuth bool
	// Scoped registries (github, npmjs) expect names under @owner/.
	Scoped bool
}

var registries = map[string]Registry{
	"github":  {Name: "github", URL: "https://npm.pkg.github.com", RequiresAuth: true, Scoped: true},
	"npmjs":   {Name: "npmjs", URL: "https://registry.npmjs.org", RequiresAuth: true, Scoped: true},
	"openupm": {Name: "openupm", URL: "https://package.openupm.com", RequiresAuth: false},
}

// Registries lists the supported registry names.
func Registries() []string {
	return []string{"github", "npmjs", "openupm"}
}

// Publisher publishes packages to one registry.
type Publisher struct {
	Registry Registry
	Token    string
	Owner    string
	Log      *zap.Logger
}

// New builds a Publisher for the named registry. Token falls back to
// GITHUB_TOKEN or NPM_TOKEN depending on the registry.
func New(registry, token, owner string, log *zap.Logger) (*Publisher, error) {
	reg, ok := registries[registry]
	if !ok {
		return nil, fmt.Errorf("unsupported registry %q (supported: %s)",
			registry, strings.Join(Registries(), ", "))
	}
	if token == "" {
		switch registry {
		case "github":
			token = os.Getenv("GITHUB_TOKEN")
		case "npmjs":
			token = os.Getenv("NPM_TOKEN")
		}
	}
	if reg.RequiresAuth && token == "" {
		return nil, fmt.Errorf("registry %q requires an authentication token", registry)
	}
	return &Publisher{Registry: reg, Token: token, Owner: owner, Log: log}, nil
}

// Publish pushes one committed package directory. The directory must hold a
// manifest; the durable tree is never modified.
func (p *Publisher) Publish(ctx context.Context, packageDir string) error {
	manifestPath := filepath.Join(packageDir, "package.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	parsed, err := oj.Parse(data)
	if err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	m, ok := parsed.(map[string]any)
	if !ok {
		return fmt.Errorf("manifest is not an object: %s", manifestPath)
	}
	name, _ := m["name"].(string)
	version, _ := m["version"].(string)
	if name == "" || version == "" {
		return fmt.Errorf("manifest missing name or version: %s", manifestPath)
	}

	// Work on a copy so the scope rewrite never touches the durable tree.
	work, err := os.MkdirTemp("", "upmirror-publish-")
	if err != nil {
		return fmt.Errorf("create publish workspace: %w", err)
	}
	defer func() { _ = os.RemoveAll(work) }()
	if err := os.CopyFS(work, os.DirFS(packageDir)); err != nil {
		return fmt.Errorf("copy package: %w", err)
	}

	if p.Registry.Scoped && p.Owner != "" && !strings.HasPrefix(name, "@") {
		m["name"] = "@" + p.Owner + "/" + name
		opts := ojg.Options{Sort: true, Indent: 2}
		if err := os.WriteFile(filepath.Join(work, "package.json"),
			[]byte(oj.JSON(m, &opts)+"\n"), 0o644); err != nil {
			return fmt.Errorf("rewrite scoped manifest: %w", err)
		}
	}

	if err := p.writeNpmrc(work); err != nil {
		return err
	}

	p.Log.Info("Publishing package",
		zap.String("package", name),
		zap.String("version", version),
		zap.String("registry", p.Registry.Name))

	cmd := exec.CommandContext(ctx, "npm", "publish", "--registry", p.Registry.URL)
	cmd.Dir = work
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("npm publish %s@%s: %w: %s", name, version, err, firstLine(string(out)))
	}
	return nil
}

func (p *Publisher) writeNpmrc(dir string) error {
	if p.Token == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.TrimPrefix(p.Registry.URL, "https://"), "http://")
	content := fmt.Sprintf("//%s/:_authToken=%s\n", host, p.Token)
	if err := os.WriteFile(filepath.Join(dir, ".npmrc"), []byte(content), 0o600); err != nil {
		return fmt.Errorf("write .npmrc: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
