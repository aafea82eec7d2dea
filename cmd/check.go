package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkCmd)
}

var checkCmd = &cobra.Command{
	Use:   "check [package...]",
	Short: "Report which packages are stale without building anything",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		specs, err := selectSpecs(cfg, args)
		if err != nil {
			return err
		}

		eng, store, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		stale := 0
		for _, spec := range specs {
			needs, ref, err := eng.Check(cmd.Context(), spec)
			switch {
			case err != nil:
				fmt.Printf("error    %s: %v\n", spec.Name, err)
				stale++
			case needs:
				fmt.Printf("stale    %s @ %s\n", spec.Name, shortRef(ref))
				stale++
			default:
				fmt.Printf("current  %s @ %s\n", spec.Name, shortRef(ref))
			}
		}
		if stale > 0 {
			return fmt.Errorf("%d of %d packages need a rebuild", stale, len(specs))
		}
		return nil
	},
}
