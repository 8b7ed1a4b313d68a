// Command calmmind runs the scoring pipeline offline against fixture files
// and drives the tuning endpoint of a running service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/calmmind/internal/config"
	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/internal/domain/scoring"
	"github.com/okian/calmmind/internal/domain/tuning"
	"github.com/okian/calmmind/internal/domain/weekly"
	"github.com/okian/calmmind/internal/fixtures"
	"github.com/okian/calmmind/internal/replay"
	"github.com/okian/calmmind/internal/tuningclient"
	"github.com/okian/calmmind/pkg/logger"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cli carries flag values and the state loaded before each command.
type cli struct {
	verbose    bool
	configPath string
	paths      fixtures.Paths

	cfg *config.Config
	set fixtures.Set
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "calmmind",
		Short:         "Screen-time wellbeing insights",
		Long:          "calmmind scores daily wellbeing metrics, builds weekly recaps and submits cohort tuning payloads.",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}

	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "Path to config file (default $CALMMIND_CONFIG)")
	root.PersistentFlags().StringVar(&c.paths.Wellbeing, "wellbeing", "", "Wellbeing fixture (default bundled sample)")
	root.PersistentFlags().StringVar(&c.paths.Weather, "weather", "", "Weather fixture (default bundled sample)")
	root.PersistentFlags().StringVar(&c.paths.Risk, "risk", "", "Risk config fixture (default from config)")

	root.AddCommand(c.simulateCmd(), c.weeklyCmd(), c.tuneCmd(), c.replayCmd())
	return root
}

func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Context(), config.WithFile(c.configPath))
	if err != nil {
		return err
	}
	c.cfg = cfg

	// Logs go to stderr so command output stays parseable.
	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithOutput(cmd.ErrOrStderr())); err != nil {
		return err
	}
	level := cfg.LogLevel
	if c.verbose {
		level = "debug"
	}
	if err := logger.SetLevelString(level); err != nil {
		_ = logger.SetLevelString("info")
	}

	set, err := fixtures.Load(c.paths)
	if err != nil {
		return err
	}
	if c.paths.Risk == "" {
		set.Risk = cfg.Risk.Clone()
	}
	c.set = set
	return nil
}

func (c *cli) engine() *scoring.Engine {
	return scoring.NewEngine(c.set.Risk, c.set.Weather)
}

func (c *cli) simulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate",
		Short: "Score every day and print the chosen action",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			engine := c.engine()
			threshold := c.set.Risk.RiskThreshold

			fmt.Fprintln(out, "CalmMind agent simulation")
			fmt.Fprintln(out)
			for _, day := range c.set.Wellbeing {
				insight := engine.Evaluate(day)
				fmt.Fprintln(out, scoring.FormatInsight(insight))
				if insight.Score >= threshold {
					fmt.Fprintf(out, "→ ACTION: %s\n\n", insight.Action)
				} else {
					fmt.Fprint(out, "→ No action (safe range)\n\n")
				}
			}
			return nil
		},
	}
}

func (c *cli) weeklyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "weekly",
		Short: "Print the weekly recap as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary := weekly.Build(c.set.Wellbeing, c.set.Weather, c.set.Risk, c.engine())
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
}

func (c *cli) tuneCmd() *cobra.Command {
	var (
		date string
		url  string
		key  string
	)
	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Submit one day's cohort payload to the tuning endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			day, err := c.pickDay(date)
			if err != nil {
				return err
			}
			_, drop := c.engine().Features(day)
			payload := tuning.BuildPayload(day, drop)

			if url == "" {
				url = c.cfg.TuningURL
			}
			client := tuningclient.New(url, tuningclient.WithTimeout(c.cfg.TuningTimeout()))

			res := client.SubmitWithKey(cmd.Context(), key, payload)
			return writeJSON(cmd.OutOrStdout(), tuneOutput{Date: day.Date, Payload: payload, Result: res})
		},
	}
	cmd.Flags().StringVar(&date, "day", "", "Day to submit, YYYY-MM-DD (default last day)")
	cmd.Flags().StringVar(&url, "url", "", "Tuning endpoint (default from config)")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "Idempotency key to send")
	return cmd
}

type tuneOutput struct {
	Date    string              `json:"date"`
	Payload model.CohortPayload `json:"payload"`
	tuningclient.Result
}

func (c *cli) pickDay(date string) (model.DailyMetrics, error) {
	if len(c.set.Wellbeing) == 0 {
		return model.DailyMetrics{}, fmt.Errorf("%w: no wellbeing days", fixtures.ErrInvalidFixture)
	}
	if date == "" {
		return c.set.Wellbeing[len(c.set.Wellbeing)-1], nil
	}
	day, ok := c.set.Day(date)
	if !ok {
		return model.DailyMetrics{}, fmt.Errorf("no wellbeing data for %s", date)
	}
	return day, nil
}

func (c *cli) replayCmd() *cobra.Command {
	var cfg replay.Config
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Submit every day's payload concurrently and verify cohort counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.Verbose = c.verbose
			stats, err := replay.Run(cmd.Context(), cfg, c.set)
			if stats != nil {
				if werr := writeJSON(cmd.OutOrStdout(), stats); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&cfg.BaseURL, "url", replay.DefaultBaseURL, "Base URL of the service")
	cmd.Flags().IntVar(&cfg.Count, "count", replay.DefaultCount, "Rounds over the series")
	cmd.Flags().IntVar(&cfg.Concurrency, "concurrency", 0, "Parallel submissions (default 2x CPUs)")
	cmd.Flags().DurationVar(&cfg.Timeout, "timeout", replay.DefaultTimeout, "Per-request timeout")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
