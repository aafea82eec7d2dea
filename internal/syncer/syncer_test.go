package syncer

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upmirror/upmirror/api"
	"github.com/upmirror/upmirror/internal/state"
)

func mustGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

// upstreamRepo builds a repository with a src/ subtree, a LICENSE and a
// README at the root.
func upstreamRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustGit(t, dir, "init", "-q", "-b", "main")
	mustGit(t, dir, "config", "user.name", "Tester")
	mustGit(t, dir, "config", "user.email", "test@example.com")

	writeFile(t, dir, "LICENSE", "MIT\n")
	writeFile(t, dir, "README.md", "# upstream\n")
	writeFile(t, dir, "src/Parser.cs", "namespace Acme.Json { class Parser {} }\n")
	writeFile(t, dir, "src/Util/Hash.cs", "namespace Acme.Json { class Hash {} }\n")

	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "commit", "-q", "-m", "initial")
	return dir
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func newEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	output := t.TempDir()
	return New(output, store, zap.NewNop()), output
}

func jsonSpec(repo string) *api.PackageSpec {
	return &api.PackageSpec{
		Name:        "com.acme.json",
		Version:     "1.0.0",
		Source:      api.SourceSpec{URL: repo, Ref: "main"},
		ExtractPath: "src",
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestSyncBuildsPackage(t *testing.T) {
	repo := upstreamRepo(t)
	eng, output := newEngine(t)

	res := eng.Sync(context.Background(), jsonSpec(repo))
	require.Equal(t, Built, res.Outcome, "err: %v", res.Err)
	assert.Len(t, res.Ref, 40)

	pkg := filepath.Join(output, "com.acme.json")
	for _, p := range []string{
		"package.json",
		"package.json.meta",
		"README.md",
		"README.md.meta",
		"LICENSE",
		"LICENSE.meta",
		".meta",
		"Runtime/Parser.cs",
		"Runtime/Parser.cs.meta",
		"Runtime/Util/Hash.cs",
		"Runtime/Util/Hash.cs.meta",
		"Runtime/com_acme_json.asmdef",
		"Runtime/com_acme_json.asmdef.meta",
	} {
		assert.FileExists(t, filepath.Join(pkg, filepath.FromSlash(p)))
	}

	// Namespace was discovered from the staged sources.
	manifest := readFile(t, filepath.Join(pkg, "package.json"))
	assert.Contains(t, manifest, `"namespace": "Acme.Json"`)

	st, err := eng.Store.Get("com.acme.json")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, res.Ref, st.LastRef)
	assert.Equal(t, api.OutcomeBuilt, st.Outcome)
}

func TestSyncSkipsWhenRefUnchanged(t *testing.T) {
	repo := upstreamRepo(t)
	eng, output := newEngine(t)

	first := eng.Sync(context.Background(), jsonSpec(repo))
	require.Equal(t, Built, first.Outcome, "err: %v", first.Err)

	stBefore, err := eng.Store.Get("com.acme.json")
	require.NoError(t, err)
	manifestBefore := readFile(t, filepath.Join(output, "com.acme.json", "package.json"))

	second := eng.Sync(context.Background(), jsonSpec(repo))
	assert.Equal(t, Skipped, second.Outcome)
	assert.Equal(t, first.Ref, second.Ref)

	// No filesystem writes on skip: tree and state are untouched.
	assert.Equal(t, manifestBefore, readFile(t, filepath.Join(output, "com.acme.json", "package.json")))
	stAfter, err := eng.Store.Get("com.acme.json")
	require.NoError(t, err)
	assert.Equal(t, stBefore, stAfter)
}

func TestSyncForceRebuilds(t *testing.T) {
	repo := upstreamRepo(t)
	eng, _ := newEngine(t)

	require.Equal(t, Built, eng.Sync(context.Background(), jsonSpec(repo)).Outcome)

	eng.Force = true
	res := eng.Sync(context.Background(), jsonSpec(repo))
	assert.Equal(t, Built, res.Outcome)
}

func TestSyncUpstreamDeletion(t *testing.T) {
	repo := upstreamRepo(t)
	eng, output := newEngine(t)

	first := eng.Sync(context.Background(), jsonSpec(repo))
	require.Equal(t, Built, first.Outcome, "err: %v", first.Err)

	pkg := filepath.Join(output, "com.acme.json")
	parserMetaBefore := readFile(t, filepath.Join(pkg, "Runtime", "Parser.cs.meta"))
	rootMetaBefore := readFile(t, filepath.Join(pkg, ".meta"))

	// Upstream deletes Util/Hash.cs and advances the branch.
	mustGit(t, repo, "rm", "-q", "src/Util/Hash.cs")
	mustGit(t, repo, "commit", "-q", "-m", "drop hash util")

	second := eng.Sync(context.Background(), jsonSpec(repo))
	require.Equal(t, Built, second.Outcome, "err: %v", second.Err)
	assert.NotEqual(t, first.Ref, second.Ref)
	assert.Contains(t, second.Deleted, "Runtime/Util/Hash.cs")

	// The deleted file and its identity record are both gone.
	assert.NoFileExists(t, filepath.Join(pkg, "Runtime", "Util", "Hash.cs"))
	assert.NoFileExists(t, filepath.Join(pkg, "Runtime", "Util", "Hash.cs.meta"))

	// Untouched paths keep their prior tokens.
	assert.Equal(t, parserMetaBefore, readFile(t, filepath.Join(pkg, "Runtime", "Parser.cs.meta")))
	assert.Equal(t, rootMetaBefore, readFile(t, filepath.Join(pkg, ".meta")))
}

func TestSyncUnreachableSource(t *testing.T) {
	eng, output := newEngine(t)
	spec := jsonSpec(filepath.Join(t.TempDir(), "missing"))

	res := eng.Sync(context.Background(), spec)
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, "source-unavailable", res.Kind())

	// Nothing recorded, nothing written.
	st, err := eng.Store.Get("com.acme.json")
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.NoDirExists(t, filepath.Join(output, "com.acme.json"))
}

func TestSyncFailureKeepsPreviousTree(t *testing.T) {
	repo := upstreamRepo(t)
	eng, output := newEngine(t)

	first := eng.Sync(context.Background(), jsonSpec(repo))
	require.Equal(t, Built, first.Outcome, "err: %v", first.Err)
	manifestBefore := readFile(t, filepath.Join(output, "com.acme.json", "package.json"))

	// Same package, now pointing at a dead source.
	broken := jsonSpec(filepath.Join(t.TempDir(), "gone"))
	res := eng.Sync(context.Background(), broken)
	assert.Equal(t, Failed, res.Outcome)

	// Previous durable tree is byte-identical; the ref never advanced.
	assert.Equal(t, manifestBefore, readFile(t, filepath.Join(output, "com.acme.json", "package.json")))
	st, err := eng.Store.Get("com.acme.json")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, first.Ref, st.LastRef)
	assert.Equal(t, api.OutcomeFailed, st.Outcome)
}

func TestSyncUnknownRef(t *testing.T) {
	repo := upstreamRepo(t)
	eng, _ := newEngine(t)

	spec := jsonSpec(repo)
	spec.Source.Ref = "no-such-branch"

	res := eng.Sync(context.Background(), spec)
	assert.Equal(t, Failed, res.Outcome)
	assert.Equal(t, "ref-not-found", res.Kind())
}

func TestSyncAllPartialFailure(t *testing.T) {
	repo := upstreamRepo(t)
	eng, output := newEngine(t)

	good := jsonSpec(repo)
	bad := &api.PackageSpec{
		Name:   "com.acme.broken",
		Source: api.SourceSpec{URL: filepath.Join(t.TempDir(), "gone"), Ref: "main"},
	}

	results := eng.SyncAll(context.Background(), []*api.PackageSpec{good, bad})
	require.Len(t, results, 2)
	assert.Equal(t, Built, results[0].Outcome)
	assert.Equal(t, Failed, results[1].Outcome)
	assert.Equal(t, 1, FailedCount(results))

	// The sibling failure did not stop the good package.
	assert.FileExists(t, filepath.Join(output, "com.acme.json", "package.json"))
}

func TestCheck(t *testing.T) {
	repo := upstreamRepo(t)
	eng, _ := newEngine(t)
	spec := jsonSpec(repo)

	needs, ref, err := eng.Check(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, needs)
	assert.Len(t, ref, 40)

	require.Equal(t, Built, eng.Sync(context.Background(), spec).Outcome)

	needs, _, err = eng.Check(context.Background(), spec)
	require.NoError(t, err)
	assert.False(t, needs)
}

func TestSyncSkipMetaPolicy(t *testing.T) {
	repo := upstreamRepo(t)
	eng, output := newEngine(t)
	eng.Policy.SkipMeta = true

	res := eng.Sync(context.Background(), jsonSpec(repo))
	require.Equal(t, Built, res.Outcome, "err: %v", res.Err)

	pkg := filepath.Join(output, "com.acme.json")
	assert.FileExists(t, filepath.Join(pkg, "Runtime", "Parser.cs"))
	assert.NoFileExists(t, filepath.Join(pkg, "Runtime", "Parser.cs.meta"))
	assert.NoFileExists(t, filepath.Join(pkg, ".meta"))
}
