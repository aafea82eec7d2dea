package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/upmirror/upmirror/api"
	"github.com/upmirror/upmirror/internal/config"
	"github.com/upmirror/upmirror/internal/syncer"
)

var buildForce bool

func init() {
	buildCmd.Flags().BoolVarP(&buildForce, "force", "f", false, "Rebuild even when the upstream ref is unchanged")
	rootCmd.AddCommand(buildCmd)
}

var buildCmd = &cobra.Command{
	Use:   "build [package...]",
	Short: "Synchronize configured packages into the output directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		specs, err := selectSpecs(cfg, args)
		if err != nil {
			return err
		}
		if len(specs) == 0 {
			fmt.Println("No packages configured.")
			return nil
		}

		eng, store, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		eng.Force = buildForce

		results := eng.SyncAll(cmd.Context(), specs)
		for _, r := range results {
			switch r.Outcome {
			case syncer.Built:
				fmt.Printf("built    %s @ %s\n", r.Package, shortRef(r.Ref))
			case syncer.Skipped:
				fmt.Printf("skipped  %s @ %s\n", r.Package, shortRef(r.Ref))
			case syncer.Failed:
				fmt.Printf("FAILED   %s (%s): %v\n", r.Package, r.Kind(), r.Err)
			}
		}
		if n := syncer.FailedCount(results); n > 0 {
			return fmt.Errorf("%d of %d packages failed", n, len(results))
		}
		return nil
	},
}

// selectSpecs resolves positional package names against the configuration,
// or returns every configured spec when none are named.
func selectSpecs(cfg *config.Config, names []string) ([]*api.PackageSpec, error) {
	if len(names) == 0 {
		return cfg.Packages, nil
	}
	specs := make([]*api.PackageSpec, 0, len(names))
	for _, name := range names {
		spec := cfg.Spec(name)
		if spec == nil {
			return nil, fmt.Errorf("package %q is not configured: %w", name, api.ErrConfigInvalid)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func shortRef(ref string) string {
	if len(ref) > 12 {
		return ref[:12]
	}
	return ref
}
