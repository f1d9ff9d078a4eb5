// 归档下载工具：按月份或范围下载 Police.uk 历史归档，可选校验与解压
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"crime-etl/internal/archive"
	"crime-etl/internal/config"
	"crime-etl/internal/ingest"
	"crime-etl/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	logger.Setup()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cmd() *cobra.Command {
	var (
		cfgPath  string
		latest   bool
		month    string
		span     string
		noVerify bool
		force    bool
		extract  bool
	)
	c := &cobra.Command{
		Use:   "archive-download",
		Short: "Download Police.uk crime archives",
		Long: `Downloads monthly Police.uk archives with resume support.

Examples:
  archive-download --latest --extract
  archive-download --month 2024-06
  archive-download --range 2018-01:2022-10 --no-verify`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			d := &archive.Downloader{
				Client:  logger.NewClient(0),
				BaseURL: cfg.Archive.BaseURL,
				Dir:     cfg.ArchiveDir(),
				Verify:  cfg.Archive.Verify && !noVerify,
				Force:   force,
			}
			ctx := cmd.Context()
			var months []string
			switch {
			case latest:
				m, err := d.Latest(ctx)
				if err != nil {
					return err
				}
				months = []string{m}
			case month != "":
				if _, err := ingest.ParseMonth(month); err != nil {
					return err
				}
				months = []string{month}
			case span != "":
				from, to, ok := strings.Cut(span, ":")
				if !ok {
					return fmt.Errorf("range must be FROM:TO, got %q", span)
				}
				if months, err = ingest.Months(from, to); err != nil {
					return err
				}
			default:
				if months, err = ingest.Months(cfg.Archive.From, cfg.Archive.To); err != nil {
					return err
				}
			}
			ok, dlErr := d.DownloadRange(ctx, months)
			fmt.Fprintf(cmd.OutOrStdout(), "Downloaded %d/%d archive(s) to %s\n", ok, len(months), d.Dir)
			if extract {
				for _, m := range months {
					zp := d.ZipPath(m)
					if _, err := os.Stat(zp); err != nil {
						continue
					}
					n, err := archive.Extract(zp, d.Dir, ingest.ArchiveForce, force)
					if err != nil {
						dlErr = errors.Join(dlErr, err)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Extracted %d file(s) from %s\n", n, filepath.Base(zp))
				}
			}
			return dlErr
		},
	}
	f := c.Flags()
	f.StringVar(&cfgPath, "config", "", "pipeline YAML config")
	f.BoolVar(&latest, "latest", false, "download the latest available archive")
	f.StringVar(&month, "month", "", "download a single month (YYYY-MM)")
	f.StringVar(&span, "range", "", "download a month range (FROM:TO)")
	f.BoolVar(&noVerify, "no-verify", false, "skip MD5 verification")
	f.BoolVar(&force, "force", false, "re-download and overwrite existing files")
	f.BoolVar(&extract, "extract", false, "extract west-yorkshire CSVs after download")
	c.MarkFlagsMutuallyExclusive("latest", "month", "range")
	return c
}
