package main

import (
	"github.com/spf13/cobra"

	"sdstudio/styles"
)

func newStylesCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "styles",
		Short: "List the style catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := styles.LoadOrDefault(c.cfg.StylesFile)
			if err != nil {
				return c.fatal(err)
			}
			reg.WriteTable(cmd.OutOrStdout())
			return nil
		},
	}
}
