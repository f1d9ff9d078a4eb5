// 程序入口：读取配置并按步骤执行流水线；步骤定义在 internal/pipeline 以便扩展
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"crime-etl/internal/config"
	"crime-etl/internal/ingest"
	"crime-etl/internal/logger"
	"crime-etl/internal/pipeline"
	"crime-etl/internal/quality"
	"crime-etl/internal/record"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	l := logger.Setup()
	l.Debug("log_init_ok")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// execute：加载配置、分配运行标识并执行选定步骤
func execute(cmd *cobra.Command, cfgPath string, sel []pipeline.Step) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	logger.WithRun(runID).Info("pipeline_begin", "steps", len(sel), "data_dir", cfg.DataDir)
	env := pipeline.NewEnv(cfg, runID)
	defer env.Close()
	r := &pipeline.Runner{Out: cmd.OutOrStdout(), Env: env}
	return r.Run(cmd.Context(), sel)
}

// selectRange：--from 单独给出时执行到最后一步
func selectRange(cmd *cobra.Command, from, to int) ([]pipeline.Step, error) {
	steps := pipeline.Steps()
	if cmd.Flags().Changed("from") && !cmd.Flags().Changed("to") {
		to = pipeline.Last(steps)
	}
	sel := pipeline.Select(steps, from, to)
	if len(sel) == 0 {
		return nil, fmt.Errorf("%w: range %d..%d", pipeline.ErrStepNotFound, from, to)
	}
	return sel, nil
}

func rootCmd() *cobra.Command {
	var (
		cfgPath  string
		list     bool
		step     int
		from, to int
	)
	root := &cobra.Command{
		Use:   "crime-etl",
		Short: "Leeds crime data pipeline",
		Long: `Collects, processes and enriches street-level crime data for Leeds.

Examples:
  crime-etl                 Run steps 1-6
  crime-etl --step 3        Run only step 3
  crime-etl --from 4        Start from step 4
  crime-etl run --from 7 --to 9
  crime-etl list            Show all steps`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				pipeline.PrintList(cmd.OutOrStdout(), pipeline.Steps())
				return nil
			}
			flags := cmd.Flags()
			if flags.Changed("step") {
				if flags.Changed("from") || flags.Changed("to") {
					return errors.New("cannot use --step together with --from/--to")
				}
				s, err := pipeline.Lookup(pipeline.Steps(), step)
				if err != nil {
					return err
				}
				return execute(cmd, cfgPath, []pipeline.Step{s})
			}
			sel, err := selectRange(cmd, from, to)
			if err != nil {
				return err
			}
			return execute(cmd, cfgPath, sel)
		},
	}
	f := root.Flags()
	f.BoolVar(&list, "list", false, "list all pipeline steps")
	f.IntVar(&step, "step", 0, "run only step `N`")
	f.IntVar(&from, "from", pipeline.DefaultFrom, "start from step `N`")
	f.IntVar(&to, "to", pipeline.DefaultTo, "end at step `N`")
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "pipeline YAML config (default $PIPELINE_CONFIG or pipeline.yaml)")
	root.AddCommand(listCmd(), runCmd(&cfgPath), stepCmd(&cfgPath), qualityCmd(&cfgPath))
	return root
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all pipeline steps",
		Run: func(cmd *cobra.Command, _ []string) {
			pipeline.PrintList(cmd.OutOrStdout(), pipeline.Steps())
		},
	}
}

func runCmd(cfgPath *string) *cobra.Command {
	var from, to int
	cmd := &cobra.Command{
		Use:          "run",
		Short:        "Run a range of pipeline steps (default 1-6)",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sel, err := selectRange(cmd, from, to)
			if err != nil {
				return err
			}
			return execute(cmd, *cfgPath, sel)
		},
	}
	cmd.Flags().IntVar(&from, "from", pipeline.DefaultFrom, "start from step `N`")
	cmd.Flags().IntVar(&to, "to", pipeline.DefaultTo, "end at step `N`")
	return cmd
}

func stepCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:          "step N",
		Short:        "Run a single pipeline step",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("step number: %w", err)
			}
			s, err := pipeline.Lookup(pipeline.Steps(), n)
			if err != nil {
				return err
			}
			return execute(cmd, *cfgPath, []pipeline.Step{s})
		},
	}
}

func qualityCmd(cfgPath *string) *cobra.Command {
	var maxUnknown, minInside float64
	cmd := &cobra.Command{
		Use:          "quality",
		Short:        "Check unknown ward/postcode rates and bbox coverage of the combined dataset",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			th := quality.Thresholds{MaxUnknownRate: cfg.Quality.MaxUnknownRate, MinInsideRate: cfg.Quality.MinInsideRate}
			if cmd.Flags().Changed("max-unknown") {
				th.MaxUnknownRate = maxUnknown
			}
			if cmd.Flags().Changed("min-inside") {
				th.MinInsideRate = minInside
			}
			rs, err := record.ReadFile(cfg.CombinedPath())
			if err != nil {
				return err
			}
			g := cfg.Police.Grid
			rep := quality.Check(rs, ingest.Grid{MinLat: g.MinLat, MaxLat: g.MaxLat, MinLon: g.MinLon, MaxLon: g.MaxLon, Step: g.Step}, th)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Records:           %d\n", rep.Total)
			fmt.Fprintf(out, "Unknown ward:      %d (%.2f%%)\n", rep.UnknownWard, rep.WardUnknownRate()*100)
			fmt.Fprintf(out, "Unknown postcode:  %d (%.2f%%)\n", rep.UnknownPostcode, rep.PostcodeUnknownRate()*100)
			fmt.Fprintf(out, "Inside bbox:       %d/%d (%.2f%%)\n", rep.Inside, rep.WithCoord, rep.InsideRate()*100)
			if rep.OK() {
				fmt.Fprintln(out, "PASS")
				return nil
			}
			for _, b := range rep.Breaches {
				fmt.Fprintf(out, "FAIL: %s\n", b)
			}
			return fmt.Errorf("quality check failed: %d threshold(s) breached", len(rep.Breaches))
		},
	}
	cmd.Flags().Float64Var(&maxUnknown, "max-unknown", 0.05, "maximum unknown ward/postcode rate")
	cmd.Flags().Float64Var(&minInside, "min-inside", 0.95, "minimum fraction of coordinates inside the grid bbox")
	return cmd
}
