package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/audit"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/ops"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/sim"
)

type simulateOptions struct {
	cfg   sim.Config
	start string
	ticks int
	noLLM bool
}

type simulateResult struct {
	Stats   sim.Stats `json:"stats"`
	LastSeq uint64    `json:"last_seq"`
	Dir     string    `json:"dir"`
	Elapsed string    `json:"elapsed"`
}

func newSimulateCmd(root *rootOptions) *cobra.Command {
	opts := &simulateOptions{cfg: sim.DefaultConfig(time.Time{})}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Record a synthetic trading session into the audit trail",
		Example: `  auditd simulate --ticks 86400 --start 2024-03-15
  auditd simulate --instruments BTC/USD --signal-every 5 --seed 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			res, err := runSimulate(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.ticks, "ticks", 1000, "number of market data ticks")
	f.StringVar(&opts.start, "start", "", "session start (RFC 3339 or YYYY-MM-DD, default: today UTC)")
	f.Int64Var(&opts.cfg.Seed, "seed", opts.cfg.Seed, "RNG seed")
	f.StringSliceVar(&opts.cfg.Instruments, "instruments", opts.cfg.Instruments, "instruments to trade")
	f.DurationVar(&opts.cfg.Step, "step", opts.cfg.Step, "time between ticks")
	f.IntVar(&opts.cfg.SignalEvery, "signal-every", opts.cfg.SignalEvery, "emit one signal every n ticks")
	f.Float64Var(&opts.cfg.RejectRate, "reject-rate", opts.cfg.RejectRate, "risk rejection probability [0-1]")
	f.Float64Var(&opts.cfg.Volatility, "volatility", opts.cfg.Volatility, "per-tick return standard deviation")
	f.BoolVar(&opts.noLLM, "no-llm", false, "skip LLM decision events")
	return cmd
}

func runSimulate(ctx context.Context, cfg ops.Config, opts *simulateOptions) (simulateResult, error) {
	if opts.ticks <= 0 {
		return simulateResult{}, errors.New("ticks must be > 0")
	}
	simCfg := opts.cfg
	simCfg.LLM = !opts.noLLM
	start, err := audit.ParseBound(opts.start, false)
	if err != nil {
		return simulateResult{}, err
	}
	if start.IsZero() {
		start = time.Now().UTC().Truncate(24 * time.Hour)
	}
	simCfg.Start = start.UTC()

	gen, err := sim.NewGenerator(simCfg)
	if err != nil {
		return simulateResult{}, err
	}
	store, err := audit.Open(ctx, cfg.Audit)
	if err != nil {
		return simulateResult{}, errors.Wrap(err, "open audit store")
	}

	begin := time.Now()
	stats, runErr := gen.Run(ctx, opts.ticks, func(p schema.Payload) error {
		env, err := schema.NewEnvelope(p)
		if err != nil {
			return err
		}
		store.Record(env)
		return nil
	})
	if err := store.Close(); err != nil && runErr == nil {
		runErr = errors.Wrap(err, "close audit store")
	}
	if runErr != nil {
		return simulateResult{}, runErr
	}

	logs.Infof("simulated %d ticks, %d events into %s", stats.Ticks, stats.Events, cfg.Audit.Recorder.Dir)
	return simulateResult{
		Stats:   stats,
		LastSeq: store.LastSeq(),
		Dir:     cfg.Audit.Recorder.Dir,
		Elapsed: time.Since(begin).String(),
	}, nil
}
