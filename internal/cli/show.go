package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"gold-price-alerts/internal/app"
)

var (
	showProduct string
	showLimit   int
	showAlerts  int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the persisted price window",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			ProductID: showProduct,
			Limit:     showLimit,
			Alerts:    showAlerts,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showProduct, "product", "", "Product id (defaults to app.product_id)")
	showCmd.Flags().IntVar(&showLimit, "limit", 48, "Number of samples to display")
	showCmd.Flags().IntVar(&showAlerts, "alerts", 10, "Recent alert records to display (sqlite/postgres backends)")
}
