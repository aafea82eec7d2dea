package api

import "time"

// PackageSpec describes one mirrored package. It is immutable once loaded:
// the sync engine reads it but never mutates it.
type PackageSpec struct {
	// Name is the reverse-domain package identifier (e.g. "com.acme.json").
	// Unique within one configuration set.
	Name string `yaml:"name"`
	// DisplayName is the human-readable name shown by package managers.
	DisplayName string `yaml:"display_name,omitempty"`
	// Version of the generated package. Defaults to "1.0.0".
	Version     string `yaml:"version,omitempty"`
	Description string `yaml:"description,omitempty"`
	Author      string `yaml:"author,omitempty"`
	// Source locates the upstream repository and ref to mirror.
	Source SourceSpec `yaml:"source"`
	// ExtractPath is the repository subtree to mirror. "." mirrors the root.
	ExtractPath string `yaml:"extract_path,omitempty"`
	// Namespace is the root C# namespace. When empty it is discovered by
	// scanning the mirrored sources.
	Namespace string `yaml:"namespace,omitempty"`
	// AsmdefName overrides the assembly definition name. Defaults to the
	// package name with dots replaced by underscores.
	AsmdefName string `yaml:"asmdef_name,omitempty"`
	// Dependencies maps package names to version constraints.
	Dependencies map[string]string `yaml:"dependencies,omitempty"`
	Keywords     []string          `yaml:"keywords,omitempty"`
	// AssemblyReferences, DefineConstraints, VersionDefines and Platforms are
	// copied verbatim into the assembly definition artifact.
	AssemblyReferences []string         `yaml:"assembly_references,omitempty"`
	DefineConstraints  []string         `yaml:"define_constraints,omitempty"`
	VersionDefines     []VersionDefine  `yaml:"version_defines,omitempty"`
	Platforms          []string         `yaml:"platforms,omitempty"`
	// Extra is merged on top of the computed manifest; explicit fields win.
	Extra map[string]any `yaml:"package_json_extra,omitempty"`
	// AsmdefExtra is merged on top of the computed assembly definition.
	AsmdefExtra map[string]any `yaml:"asmdef_extra,omitempty"`
}

// SourceSpec locates a version-controlled source.
type SourceSpec struct {
	URL string `yaml:"url"`
	// Ref is a branch, tag, or commit hash.
	Ref string `yaml:"ref"`
}

// VersionDefine mirrors Unity's versionDefines asmdef entry.
type VersionDefine struct {
	Name       string `yaml:"name" json:"name"`
	Expression string `yaml:"expression" json:"expression"`
	Define     string `yaml:"define" json:"define"`
}

// Outcome of the last build attempt recorded in SyncState.
const (
	OutcomeBuilt  = "built"
	OutcomeFailed = "failed"
)

// SyncState records the last synchronization of one package. LastRef is
// always a resolved commit hash, never a mutable branch name.
type SyncState struct {
	LastRef  string
	SyncedAt time.Time
	Outcome  string
}
