package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/upmirror/upmirror/internal/publish"
)

var (
	publishRegistry string
	publishToken    string
	publishOwner    string
)

func init() {
	publishCmd.Flags().StringVarP(&publishRegistry, "registry", "r", "", "Target registry: github, npmjs, or openupm (defaults to settings)")
	publishCmd.Flags().StringVarP(&publishToken, "token", "t", "", "Registry auth token (defaults to GITHUB_TOKEN / NPM_TOKEN)")
	publishCmd.Flags().StringVar(&publishOwner, "owner", "", "Scope owner for scoped registries (defaults to settings)")
	rootCmd.AddCommand(publishCmd)
}

var publishCmd = &cobra.Command{
	Use:   "publish [package...]",
	Short: "Publish built packages to an npm-compatible registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry := publishRegistry
		if registry == "" {
			registry = cfg.Settings.Registry.Name
		}
		if registry == "" {
			return fmt.Errorf("no registry selected; pass --registry or set registry.name in settings.yaml")
		}
		owner := publishOwner
		if owner == "" {
			owner = cfg.Settings.Registry.Owner
		}

		pub, err := publish.New(registry, publishToken, owner, logger)
		if err != nil {
			return err
		}

		specs, err := selectSpecs(cfg, args)
		if err != nil {
			return err
		}

		output := cfg.OutputDir(outputDir)
		failed := 0
		for _, spec := range specs {
			dir := filepath.Join(output, spec.Name)
			if _, err := os.Stat(filepath.Join(dir, "package.json")); err != nil {
				fmt.Printf("missing  %s (not built)\n", spec.Name)
				failed++
				continue
			}
			if err := pub.Publish(cmd.Context(), dir); err != nil {
				fmt.Printf("FAILED   %s: %v\n", spec.Name, err)
				failed++
				continue
			}
			fmt.Printf("published %s\n", spec.Name)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d packages not published", failed, len(specs))
		}
		return nil
	},
}
