// 包 pipeline：流水线步骤定义与顺序执行器
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"crime-etl/internal/logger"
	"crime-etl/internal/metrics"

	"github.com/fatih/color"
)

// 默认执行范围：步骤 0（下载归档）与 7..10 需显式选择
const (
	DefaultFrom = 1
	DefaultTo   = 6
)

var ErrStepNotFound = errors.New("step not found")

// Step：流水线步骤
type Step struct {
	Num  int
	Name string
	Desc string
	Run  func(ctx context.Context, env *Env) error
}

// StepError：步骤失败（携带步骤号）
type StepError struct {
	Num  int
	Name string
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %d (%s): %v", e.Num, e.Name, e.Err) }
func (e *StepError) Unwrap() error { return e.Err }

// Select：按闭区间 [from, to] 选择步骤，保持定义顺序
func Select(steps []Step, from, to int) []Step {
	var out []Step
	for _, s := range steps {
		if s.Num >= from && s.Num <= to {
			out = append(out, s)
		}
	}
	return out
}

// Lookup：按步骤号查找单个步骤
func Lookup(steps []Step, n int) (Step, error) {
	for _, s := range steps {
		if s.Num == n {
			return s, nil
		}
	}
	return Step{}, fmt.Errorf("%w: %d", ErrStepNotFound, n)
}

// Last：最大步骤号
func Last(steps []Step) int {
	n := 0
	for _, s := range steps {
		n = max(n, s.Num)
	}
	return n
}

var (
	rule  = strings.Repeat("=", 60)
	thin  = strings.Repeat("-", 60)
	okC   = color.New(color.FgGreen, color.Bold)
	failC = color.New(color.FgRed, color.Bold)
	headC = color.New(color.FgCyan, color.Bold)
)

// Banner：标题
func Banner(w io.Writer) {
	fmt.Fprintln(w, rule)
	headC.Fprintln(w, "  Leeds Crime Data Pipeline")
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w)
}

// PrintList：列出全部步骤
func PrintList(w io.Writer, steps []Step) {
	Banner(w)
	fmt.Fprintln(w, "Pipeline Steps:")
	fmt.Fprintln(w, thin)
	for _, s := range steps {
		fmt.Fprintf(w, "  %d. %s\n", s.Num, s.Name)
		fmt.Fprintf(w, "     %s\n", s.Desc)
	}
	fmt.Fprintln(w)
}

// Runner：顺序执行步骤并输出进度
type Runner struct {
	Out io.Writer
	Env *Env
	now func() time.Time
}

func (r *Runner) clock() time.Time {
	if r.now != nil {
		return r.now()
	}
	return time.Now()
}

// 文档注释：执行选定步骤
// 背景：各步骤以文件衔接，任一步失败时后续步骤的输入不可信，立即停止。
// 约束：返回首个失败步骤的 *StepError；每步耗时写入指标；结束时（无论成败）落盘指标文本文件。
func (r *Runner) Run(ctx context.Context, steps []Step) error {
	w := r.Out
	Banner(w)
	start := r.clock()
	fmt.Fprintf(w, "Started at: %s\n", start.Format("2006-01-02 15:04:05"))
	nums := make([]string, len(steps))
	for i, s := range steps {
		nums[i] = fmt.Sprint(s.Num)
	}
	fmt.Fprintf(w, "Running %d step(s): %s\n", len(steps), strings.Join(nums, ", "))

	var failed *StepError
	for _, s := range steps {
		if err := r.runStep(ctx, s); err != nil {
			failed = &StepError{Num: s.Num, Name: s.Name, Err: err}
			break
		}
	}
	total := r.clock().Sub(start).Seconds()
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	if failed != nil {
		failC.Fprintf(w, "  Pipeline FAILED at step %d\n", failed.Num)
	} else {
		okC.Fprintln(w, "  Pipeline COMPLETE")
	}
	fmt.Fprintf(w, "  Total time: %.1fs\n", total)
	fmt.Fprintln(w, rule)

	if r.Env != nil {
		if err := metrics.WriteTextfile(r.Env.Cfg.MetricsTextfile); err != nil {
			logger.L().Warn("metrics_textfile_error", "path", r.Env.Cfg.MetricsTextfile, "err", err)
		}
	}
	if failed != nil {
		return failed
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, s Step) error {
	w := r.Out
	fmt.Fprintln(w)
	fmt.Fprintln(w, rule)
	headC.Fprintf(w, "  Step %d: %s\n", s.Num, s.Name)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "  %s\n", s.Desc)
	fmt.Fprintln(w, thin)

	logger.L().Info("step_begin", "step", s.Num, "name", s.Name)
	start := r.clock()
	err := ctx.Err()
	if err == nil {
		err = s.Run(ctx, r.Env)
	}
	elapsed := r.clock().Sub(start).Seconds()
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.StepDurationSeconds.WithLabelValues(s.Name, result).Set(elapsed)
	fmt.Fprintln(w)
	if err != nil {
		logger.L().Error("step_error", "step", s.Num, "name", s.Name, "seconds", elapsed, "err", err)
		failC.Fprintf(w, "[✗] Step %d failed after %.1fs\n", s.Num, elapsed)
		fmt.Fprintf(w, "    Error: %v\n", err)
		return err
	}
	logger.L().Info("step_done", "step", s.Num, "name", s.Name, "seconds", elapsed)
	okC.Fprintf(w, "[✓] Step %d completed in %.1fs\n", s.Num, elapsed)
	return nil
}
