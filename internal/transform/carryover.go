package transform

import (
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/upmirror/upmirror/api"
)

// licenseNames, in lookup order, at the repository root.
var licenseNames = []string{
	"LICENSE", "LICENSE.txt", "LICENSE.md",
	"License", "License.txt", "License.md",
	"license", "license.txt", "license.md",
	"COPYING", "COPYING.txt",
	"COPYRIGHT", "COPYRIGHT.txt",
}

var readmeNames = []string{
	"README.md", "README.MD", "Readme.md", "readme.md",
	"README.txt", "README.rst", "README", "readme",
}

// CopyLicense copies the upstream license from the repository root into the
// staged package as "LICENSE". Returns the source name found, or "" when the
// repository ships none (not an error).
func CopyLicense(repo, staged billy.Filesystem) (string, error) {
	for _, name := range licenseNames {
		fi, err := repo.Stat(name)
		if err != nil || fi.IsDir() {
			continue
		}
		data, err := util.ReadFile(repo, name)
		if err != nil {
			return "", stagingErr("read "+name, err)
		}
		if err := util.WriteFile(staged, "LICENSE", data, 0o644); err != nil {
			return "", stagingErr("write LICENSE", err)
		}
		return name, nil
	}
	return "", nil
}

// WriteReadme generates the package README: a provenance disclaimer, the
// upstream README when one exists at the repository root, and the package
// coordinates. Fully regenerated each sync.
func WriteReadme(repo, staged billy.Filesystem, spec *api.PackageSpec) error {
	display := spec.DisplayName
	if display == "" {
		display = spec.Name
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", display)
	b.WriteString("> This package is a community-generated mirror and is not affiliated with,\n")
	b.WriteString("> endorsed by, or supported by the upstream authors. For official support,\n")
	b.WriteString("> refer to the original repository.\n\n---\n\n")

	if upstream := readUpstreamReadme(repo); upstream != "" {
		b.WriteString("## Original Documentation\n\n")
		b.WriteString(upstream)
		if !strings.HasSuffix(upstream, "\n") {
			b.WriteByte('\n')
		}
	} else {
		fmt.Fprintf(&b, "This package mirrors content from: %s\n", spec.Source.URL)
	}

	b.WriteString("\n---\n\n## Package Information\n\n")
	fmt.Fprintf(&b, "- **Package Name**: `%s`\n", spec.Name)
	if spec.Version != "" {
		fmt.Fprintf(&b, "- **Version**: %s\n", spec.Version)
	}
	if spec.Namespace != "" {
		fmt.Fprintf(&b, "- **Namespace**: `%s`\n", spec.Namespace)
	}
	fmt.Fprintf(&b, "- **Original Source**: %s\n", spec.Source.URL)

	if err := util.WriteFile(staged, "README.md", []byte(b.String()), 0o644); err != nil {
		return stagingErr("write README.md", err)
	}
	return nil
}

func readUpstreamReadme(repo billy.Filesystem) string {
	for _, name := range readmeNames {
		fi, err := repo.Stat(name)
		if err != nil || fi.IsDir() {
			continue
		}
		data, err := util.ReadFile(repo, name)
		if err != nil {
			continue
		}
		return string(data)
	}
	return ""
}
