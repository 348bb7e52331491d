package cli

import (
	"github.com/spf13/cobra"
)

var thresholdSet float64

var thresholdCmd = &cobra.Command{
	Use:   "threshold",
	Short: "Print the effective drop threshold and volatility band",
	RunE: func(cmd *cobra.Command, args []string) error {
		var override *float64
		if cmd.Flags().Changed("set") {
			override = &thresholdSet
		}
		return getApp().Threshold(override)
	},
}

func init() {
	thresholdCmd.Flags().Float64Var(&thresholdSet, "set", 0, "Preview a threshold; negative values fall back to the default")
}
