package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/upmirror/upmirror/api"
)

var (
	addName        string
	addDisplayName string
	addURL         string
	addRef         string
	addExtractPath string
	addNamespace   string
	addVersion     string
)

func init() {
	packagesAddCmd.Flags().StringVar(&addName, "name", "", "Package name (e.g. com.acme.json)")
	packagesAddCmd.Flags().StringVar(&addDisplayName, "display-name", "", "Human-readable package name")
	packagesAddCmd.Flags().StringVar(&addURL, "url", "", "Upstream git repository URL")
	packagesAddCmd.Flags().StringVar(&addRef, "ref", "", "Branch, tag, or commit to track (default main)")
	packagesAddCmd.Flags().StringVar(&addExtractPath, "extract-path", "", "Repository-relative subtree to mirror (default whole repo)")
	packagesAddCmd.Flags().StringVar(&addNamespace, "namespace", "", "Root C# namespace (default: discovered from sources)")
	packagesAddCmd.Flags().StringVar(&addVersion, "version", "", "Package version (default 1.0.0)")
	_ = packagesAddCmd.MarkFlagRequired("name")
	_ = packagesAddCmd.MarkFlagRequired("url")

	packagesCmd.AddCommand(packagesAddCmd, packagesRemoveCmd, packagesListCmd)
	rootCmd.AddCommand(packagesCmd)
}

var packagesCmd = &cobra.Command{
	Use:   "packages",
	Short: "Manage the configured package list",
}

var packagesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a package to packages.yaml",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		spec := &api.PackageSpec{
			Name:        addName,
			DisplayName: addDisplayName,
			Version:     addVersion,
			Source:      api.SourceSpec{URL: addURL, Ref: addRef},
			ExtractPath: addExtractPath,
			Namespace:   addNamespace,
		}
		if err := cfg.Add(spec); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("added %s (%s @ %s)\n", spec.Name, spec.Source.URL, spec.Source.Ref)
		return nil
	},
}

var packagesRemoveCmd = &cobra.Command{
	Use:   "remove <package>",
	Short: "Remove a package from packages.yaml",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if !cfg.Remove(args[0]) {
			return fmt.Errorf("package %q is not configured: %w", args[0], api.ErrConfigInvalid)
		}
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Printf("removed %s\n", args[0])
		return nil
	},
}

var packagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured packages and their recorded sync state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(cfg.Packages) == 0 {
			fmt.Println("No packages configured.")
			return nil
		}
		_, store, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		for _, spec := range cfg.Packages {
			line := fmt.Sprintf("%s  %s @ %s", spec.Name, spec.Source.URL, spec.Source.Ref)
			if st, err := store.Get(spec.Name); err == nil && st != nil {
				line += fmt.Sprintf("  [%s %s at %s]", st.Outcome, shortRef(st.LastRef),
					st.SyncedAt.Format("2006-01-02 15:04:05"))
			} else {
				line += "  [never synced]"
			}
			fmt.Println(line)
		}
		return nil
	},
}
