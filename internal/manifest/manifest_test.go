package manifest

import (
	"encoding/json"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/upmirror/upmirror/api"
)

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestSynthesizeDefaults(t *testing.T) {
	spec := &api.PackageSpec{Name: "com.acme.json"}

	art, err := Synthesize(spec, "")
	require.NoError(t, err)

	m := decode(t, art.Manifest)
	assert.Equal(t, "com.acme.json", m["name"])
	assert.Equal(t, "com.acme.json", m["displayName"])
	assert.Equal(t, "1.0.0", m["version"])
	assert.Equal(t, "library", m["type"])
	assert.Equal(t, "2019.4", m["unity"])
	assert.NotContains(t, m, "namespace")
	assert.Nil(t, art.ModuleDefinition)
}

func TestSynthesizeExtraFieldsWin(t *testing.T) {
	spec := &api.PackageSpec{
		Name:    "com.acme.json",
		Version: "2.0.0",
		Extra: map[string]any{
			"version": "9.9.9",
			"license": "MIT",
		},
	}

	art, err := Synthesize(spec, "Acme.Json")
	require.NoError(t, err)

	m := decode(t, art.Manifest)
	assert.Equal(t, "9.9.9", m["version"], "explicit extra field must override the computed default")
	assert.Equal(t, "MIT", m["license"])
	assert.Equal(t, "Acme.Json", m["namespace"])
}

func TestSynthesizeDeterministicBytes(t *testing.T) {
	spec := &api.PackageSpec{
		Name:         "com.acme.json",
		Dependencies: map[string]string{"com.acme.core": "1.0.0", "com.acme.base": "2.0.0"},
		Keywords:     []string{"json", "parser"},
		Extra:        map[string]any{"license": "MIT", "homepage": "https://example.com"},
	}

	a, err := Synthesize(spec, "Acme.Json")
	require.NoError(t, err)
	b, err := Synthesize(spec, "Acme.Json")
	require.NoError(t, err)

	assert.Equal(t, a.Manifest, b.Manifest)
	assert.Equal(t, a.ModuleDefinition, b.ModuleDefinition)
}

func TestSynthesizeAssemblyDefinition(t *testing.T) {
	spec := &api.PackageSpec{
		Name:               "com.acme.json",
		AssemblyReferences: []string{"Unity.Mathematics"},
		DefineConstraints:  []string{"UNITY_2019_4_OR_NEWER"},
		Platforms:          []string{"Editor"},
		VersionDefines: []api.VersionDefine{
			{Name: "com.unity.mathematics", Expression: "1.0.0", Define: "HAS_MATH"},
		},
		AsmdefExtra: map[string]any{"allowUnsafeCode": true},
	}

	art, err := Synthesize(spec, "Acme.Json")
	require.NoError(t, err)
	require.NotNil(t, art.ModuleDefinition)
	assert.Equal(t, "com_acme_json", art.AsmdefName)

	a := decode(t, art.ModuleDefinition)
	assert.Equal(t, "com_acme_json", a["name"])
	assert.Equal(t, "Acme.Json", a["rootNamespace"])
	assert.Equal(t, []any{"Unity.Mathematics"}, a["references"])
	assert.Equal(t, []any{"Editor"}, a["includePlatforms"])
	assert.Equal(t, []any{}, a["excludePlatforms"])
	assert.Equal(t, true, a["allowUnsafeCode"], "asmdef extra must override the default")
	assert.Equal(t, true, a["autoReferenced"])

	defines, ok := a["versionDefines"].([]any)
	require.True(t, ok)
	require.Len(t, defines, 1)
	assert.Equal(t, "HAS_MATH", defines[0].(map[string]any)["define"])
}

func TestAsmdefNameOverride(t *testing.T) {
	spec := &api.PackageSpec{Name: "com.acme.json", AsmdefName: "Acme.Json"}
	art, err := Synthesize(spec, "Acme.Json")
	require.NoError(t, err)
	assert.Equal(t, "Acme.Json", art.AsmdefName)
}

func TestWritePlacesArtifacts(t *testing.T) {
	spec := &api.PackageSpec{Name: "com.acme.json"}
	art, err := Synthesize(spec, "Acme.Json")
	require.NoError(t, err)

	staged := memfs.New()
	require.NoError(t, art.Write(staged, "Runtime"))

	_, err = staged.Stat(ManifestFile)
	assert.NoError(t, err)
	_, err = staged.Stat("Runtime/com_acme_json" + AsmdefSuffix)
	assert.NoError(t, err)
}

func TestWriteFlat(t *testing.T) {
	spec := &api.PackageSpec{Name: "com.acme.json"}
	art, err := Synthesize(spec, "Acme.Json")
	require.NoError(t, err)

	staged := memfs.New()
	require.NoError(t, art.Write(staged, ""))

	_, err = staged.Stat("com_acme_json" + AsmdefSuffix)
	assert.NoError(t, err)
}

func TestDiscoverNamespaceBlockScoped(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "Runtime/Parser.cs", []byte(
		"using System;\n\nnamespace Acme.Json.Internal\n{\n    public class Parser {}\n}\n"), 0o644))

	ns, err := DiscoverNamespace(fs)
	require.NoError(t, err)
	assert.Equal(t, "Acme.Json.Internal", ns)
}

func TestDiscoverNamespaceFileScoped(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "Runtime/Hash.cs", []byte(
		"namespace Acme.Json;\n\npublic class Hash {}\n"), 0o644))

	ns, err := DiscoverNamespace(fs)
	require.NoError(t, err)
	assert.Equal(t, "Acme.Json", ns)
}

func TestDiscoverNamespaceFirstInPathOrder(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "Runtime/B.cs", []byte(
		"namespace Second {}\n"), 0o644))
	require.NoError(t, util.WriteFile(fs, "Runtime/A.cs", []byte(
		"namespace First {}\n"), 0o644))

	ns, err := DiscoverNamespace(fs)
	require.NoError(t, err)
	assert.Equal(t, "First", ns)
}

func TestDiscoverNamespaceNone(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "Runtime/data.json", []byte("{}\n"), 0o644))
	require.NoError(t, util.WriteFile(fs, "Runtime/Empty.cs", []byte(
		"// no namespace here\nclass Free {}\n"), 0o644))

	ns, err := DiscoverNamespace(fs)
	require.NoError(t, err)
	assert.Empty(t, ns)
}
