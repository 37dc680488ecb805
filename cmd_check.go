package main

import (
	"github.com/spf13/cobra"

	"sdstudio/core"
	"sdstudio/core/validation"
	"sdstudio/sdruntime"
	"sdstudio/styles"
)

func newCheckCmd(c *cli) *cobra.Command {
	var verify, failFast bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check credentials, catalogue, model files and history database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := styles.LoadOrDefault(c.cfg.StylesFile)
			if err != nil {
				// Reported by the catalogue check; artifacts are checked
				// against the built-in styles instead.
				reg = styles.Default()
			}
			store := sdruntime.NewArtifactStore(c.cfg.ModelsDir, c.cfg.HuggingFaceToken)

			res := validation.NewSuite(validation.StartupChecks(c.cfg, store, reg, verify)...).
				WithOutput(cmd.OutOrStdout()).
				WithFailFast(failFast).
				Run(cmd.Context())
			if !res.Success() {
				return &core.ExitError{Code: core.ExitCodeError, Err: res.FirstError()}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "Hash every artifact instead of only checking it exists")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop at the first failed check")
	return cmd
}
