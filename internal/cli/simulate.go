package cli

import (
	"github.com/spf13/cobra"

	"gold-price-alerts/internal/app"
)

var simulateNotify bool

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert [PRODUCT=]PRICE...",
	Short: "用给定价格模拟一次评估，不写入历史",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{Prices: args, Notify: simulateNotify})
	},
}

func init() {
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "触发时通过已配置的渠道发送告警")
}
