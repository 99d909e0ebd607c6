package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-rag/internal/crawler"
)

// newCrawlCmd runs one crawl in the foreground and prints the finished job.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured site once and index what it finds",
		Long: `Runs a single crawl job from the configured seed URL without starting the
HTTP server. The job record is printed as JSON when the crawl ends.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job, err := appInstance.CrawlOnce(ctx)
	if err != nil && job.ID == "" {
		return fmt.Errorf("crawl: %w", err)
	}
	appInstance.Logger().Info("crawl command finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
	)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(job); encErr != nil {
		return fmt.Errorf("encode job: %w", encErr)
	}
	if job.Status == crawler.JobStatusFailed {
		return fmt.Errorf("crawl job %s failed", job.ID)
	}
	return err
}
