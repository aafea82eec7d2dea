// Package identity derives the stable per-path tokens attached to every
// generated file and directory. Downstream consumers bind references by these
// tokens, not by path or content, so a given package-relative path must map to
// the same token on every regeneration. Tokens are therefore pure digests:
// UUIDv5 of the normalized path under the package's root token. No counters,
// no randomness, no persisted allocation table.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

// appNamespace anchors all root tokens. Changing it changes every token of
// every package, so it is fixed for the lifetime of the tool.
var appNamespace = uuid.NewSHA1(uuid.NameSpaceDNS, []byte("upmirror.dev"))

// RootToken returns the identity namespace for one package. Stable for a
// given package name.
func RootToken(packageName string) uuid.UUID {
	return uuid.NewSHA1(appNamespace, []byte(packageName))
}

// Derive maps a package-relative path to its identity token, formatted as a
// lowercase hyphenated UUID. Deterministic and total: the same root and path
// yield the same token on any platform.
func Derive(root uuid.UUID, relPath string) string {
	return uuid.NewSHA1(root, []byte(Normalize(relPath))).String()
}

// Normalize canonicalizes a package-relative path: forward slashes, no "./"
// prefix, no trailing slash, case preserved. The package root normalizes
// to ".".
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	p = strings.TrimSuffix(p, "/")
	if p == "" || p == "." {
		return "."
	}
	return p
}
