// Package manifest synthesizes the package manifest and the assembly
// definition artifact from a package spec plus discovered facts. Both
// artifacts are fully regenerated on every sync; nothing is diffed against a
// prior version.
package manifest

import (
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/ohler55/ojg"
	"github.com/ohler55/ojg/oj"

	"github.com/upmirror/upmirror/api"
)

// ManifestFile is the manifest's fixed name at the package root.
const ManifestFile = "package.json"

// AsmdefSuffix is the module-definition artifact's file suffix.
const AsmdefSuffix = ".asmdef"

// Artifacts holds the rendered manifest and module definition for one
// package. ModuleDefinition is nil when no namespace applies.
type Artifacts struct {
	Manifest         []byte
	ModuleDefinition []byte
	AsmdefName       string
}

// Keys are sorted and indentation fixed so artifact bytes are identical for
// identical inputs.
var encOpts = ojg.Options{Sort: true, Indent: 2}

// Synthesize builds both artifacts. Pure given its inputs: spec fields,
// overlaid with spec.Extra (explicit fields always win over computed
// defaults), plus the namespace discovered or configured by the caller. An
// empty namespace omits the manifest field and suppresses the module
// definition.
func Synthesize(spec *api.PackageSpec, namespace string) (*Artifacts, error) {
	display := spec.DisplayName
	if display == "" {
		display = spec.Name
	}
	version := spec.Version
	if version == "" {
		version = "1.0.0"
	}

	m := map[string]any{
		"name":         spec.Name,
		"displayName":  display,
		"version":      version,
		"description":  spec.Description,
		"author":       spec.Author,
		"unity":        "2019.4",
		"unityRelease": "0f1",
		"keywords":     orEmpty(spec.Keywords),
		"dependencies": orEmptyMap(spec.Dependencies),
		"type":         "library",
	}
	if namespace != "" {
		m["namespace"] = namespace
	}
	for k, v := range spec.Extra {
		m[k] = v
	}

	art := &Artifacts{
		Manifest:   render(m),
		AsmdefName: asmdefName(spec),
	}
	if namespace != "" {
		art.ModuleDefinition = render(assemblyDefinition(spec, namespace, art.AsmdefName))
	}
	return art, nil
}

func assemblyDefinition(spec *api.PackageSpec, namespace, name string) map[string]any {
	defines := make([]any, 0, len(spec.VersionDefines))
	for _, d := range spec.VersionDefines {
		defines = append(defines, map[string]any{
			"name":       d.Name,
			"expression": d.Expression,
			"define":     d.Define,
		})
	}

	a := map[string]any{
		"name":                  name,
		"rootNamespace":         namespace,
		"references":            orEmpty(spec.AssemblyReferences),
		"includePlatforms":      orEmpty(spec.Platforms),
		"excludePlatforms":      []string{},
		"allowUnsafeCode":       false,
		"overrideReferences":    false,
		"precompiledReferences": []string{},
		"autoReferenced":        true,
		"defineConstraints":     orEmpty(spec.DefineConstraints),
		"versionDefines":        defines,
		"noEngineReferences":    false,
	}
	for k, v := range spec.AsmdefExtra {
		a[k] = v
	}
	return a
}

func asmdefName(spec *api.PackageSpec) string {
	if spec.AsmdefName != "" {
		return spec.AsmdefName
	}
	return strings.ReplaceAll(spec.Name, ".", "_")
}

// Write places the artifacts in the staged tree: the manifest at the package
// root, the module definition inside runtimeDir (or the root when
// runtimeDir is empty).
func (a *Artifacts) Write(staged billy.Filesystem, runtimeDir string) error {
	if err := util.WriteFile(staged, ManifestFile, a.Manifest, 0o644); err != nil {
		return fmt.Errorf("write %s: %w: %v", ManifestFile, api.ErrStagingIO, err)
	}
	if a.ModuleDefinition == nil {
		return nil
	}
	name := a.AsmdefName + AsmdefSuffix
	if runtimeDir != "" {
		if err := staged.MkdirAll(runtimeDir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w: %v", runtimeDir, api.ErrStagingIO, err)
		}
		name = runtimeDir + "/" + name
	}
	if err := util.WriteFile(staged, name, a.ModuleDefinition, 0o644); err != nil {
		return fmt.Errorf("write %s: %w: %v", name, api.ErrStagingIO, err)
	}
	return nil
}

func render(v map[string]any) []byte {
	return []byte(oj.JSON(v, &encOpts) + "\n")
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
