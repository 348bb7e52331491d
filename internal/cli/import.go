package cli

import (
	"github.com/spf13/cobra"

	"gold-price-alerts/internal/app"
)

var (
	importProduct string
	importFile    string
	importFormat  string
	importDryRun  bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "从 CSV 或旧版 JSON 文件导入历史价格窗口",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Import(cmd.Context(), app.ImportOptions{
			ProductID: importProduct,
			Path:      importFile,
			Format:    importFormat,
			DryRun:    importDryRun,
		})
	},
}

func init() {
	importCmd.Flags().StringVar(&importProduct, "product", "", "Product id (defaults to app.product_id)")
	importCmd.Flags().StringVar(&importFile, "file", "", "CSV (timestamp,price[,source]) or price_history.json to import")
	importCmd.Flags().StringVar(&importFormat, "format", "", "csv or json (defaults to the file extension)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "只解析不写入")
}
