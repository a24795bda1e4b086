package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/diecast-crawler/internal/catalog"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl in the
// foreground and prints its result as JSON.
func newCrawlCmd() *cobra.Command {
	var req catalog.RunRequest

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl for a brand",
		Long: `Crawls the given product pages of one brand, plus links found on its
catalog page while the page budget allows, archives their images and
reconciles the resulting items at the given crawl version.`,
		Example: `  diecast-crawler crawl --brand minigt --version 3 --product-url https://minigt.example.com/products/mgt00512
  diecast-crawler crawl --brand hotwheels --version 2 --catalog https://hotwheels.example.com/case/2024-a --max-pages 50`,
		RunE: withApp(func(cmd *cobra.Command, appInstance App) error {
			res, err := appInstance.Crawl(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}
			appInstance.Logger().Info("crawl command finished",
				zap.String("job_id", res.JobID),
				zap.Int("count", res.Count),
				zap.Int("failed_urls", len(res.FailedURLs)),
			)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}),
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Brand, "brand", "", "brand to crawl (minigt, hotwheels)")
	flags.IntVar(&req.Version, "version", 0, "crawl version stamped on every item, must be > 0")
	flags.IntVar(&req.MaxPages, "max-pages", 0, "page budget, 0 uses crawler.max_pages_default")
	flags.StringArrayVar(&req.ProductURLs, "product-url", nil, "product page to crawl, repeatable")
	flags.StringVar(&req.CatalogURL, "catalog", "", "catalog page to discover product links from")
	flags.BoolVar(&req.Recrawl, "recrawl", false, "also crawl stored pages of the brand below --version")
	flags.StringVar(&req.JobID, "job-id", "", "job id for the log, generated when empty")
	_ = cmd.MarkFlagRequired("brand")
	_ = cmd.MarkFlagRequired("version")

	return cmd
}
