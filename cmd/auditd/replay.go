package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/aggregator"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/audit"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/bus"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/chaos"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/ops"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/recorder"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/state"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

type replayOptions struct {
	rng          rangeFlags
	speed        float64
	queueSize    int
	chaos        chaos.Config
	outputDir    string
	outputPrefix string
	snapshotOut  string
	verify       string
}

type replayResult struct {
	Read      uint64                `json:"read"`
	Applied   uint64                `json:"applied"`
	Malformed uint64                `json:"malformed"`
	Chaos     chaos.Stats           `json:"chaos"`
	Elapsed   string                `json:"elapsed"`
	Dashboard aggregator.Snapshot   `json:"dashboard"`
	Verified  *bool                 `json:"verified,omitempty"`
	Output    *recorderOutputResult `json:"output,omitempty"`
}

type recorderOutputResult struct {
	Dir      string `json:"dir"`
	Prefix   string `json:"prefix"`
	Written  uint64 `json:"written"`
	Failures uint64 `json:"failures"`
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild dashboard metrics from the audit trail",
		Long: `Replay streams the audit partitions through a fresh aggregator and prints
the resulting snapshot. Drop, duplicate and reorder rates perturb the stream
to check how the dashboard reacts to lossy input; --output-dir records the
perturbed stream as new partitions.`,
		Example: `  auditd replay --start 2024-03-15 --verify data/dashboard.json
  auditd replay --drop-rate 0.01 --reorder-window 8 --seed 7`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			res, err := runReplay(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Verified != nil && !*res.Verified {
				return errors.New("replayed snapshot does not match")
			}
			return nil
		},
	}
	opts.rng.bind(cmd)
	f := cmd.Flags()
	f.Float64Var(&opts.speed, "speed", 0, "playback speed (1=real-time, 0=no pacing)")
	f.IntVar(&opts.queueSize, "queue-size", 1024, "buffer between playback and the aggregator")
	f.Int64Var(&opts.chaos.Seed, "seed", 0, "chaos RNG seed (0=now)")
	f.Float64Var(&opts.chaos.DropRate, "drop-rate", 0, "drop probability [0-1]")
	f.Float64Var(&opts.chaos.DuplicateRate, "dup-rate", 0, "duplicate probability [0-1]")
	f.IntVar(&opts.chaos.ReorderWindow, "reorder-window", 1, "reorder window (>=1)")
	f.StringVar(&opts.outputDir, "output-dir", "", "record the replayed stream into this directory")
	f.StringVar(&opts.outputPrefix, "output-prefix", "replay", "partition prefix for --output-dir")
	f.StringVar(&opts.snapshotOut, "snapshot-out", "", "write the replayed dashboard snapshot to this file")
	f.StringVar(&opts.verify, "verify", "", "compare the replayed dashboard with this snapshot file")
	return cmd
}

func runReplay(ctx context.Context, cfg ops.Config, opts *replayOptions) (replayResult, error) {
	var f audit.Filter
	if err := opts.rng.apply(&f); err != nil {
		return replayResult{}, err
	}

	engine, err := chaos.NewEngine(opts.chaos)
	if err != nil {
		return replayResult{}, err
	}
	agg, err := aggregator.New(cfg.Aggregator)
	if err != nil {
		return replayResult{}, err
	}

	var res replayResult
	pb, err := recorder.NewPlayback(recorder.PlaybackConfig{
		Dir:        cfg.Audit.Recorder.Dir,
		FilePrefix: cfg.Audit.Recorder.FilePrefix,
		From:       f.Start,
		To:         f.End,
		Speed:      opts.speed,
		OnParseError: func(err *exception.QueryParseError) {
			res.Malformed++
			logs.Warnf("replay: skip %v", err)
		},
	})
	if err != nil {
		return replayResult{}, err
	}

	var writer *recorder.Writer
	if opts.outputDir != "" {
		outCfg := recorder.DefaultConfig(opts.outputDir)
		outCfg.FilePrefix = opts.outputPrefix
		outCfg.Overflow = recorder.OverflowBlock
		if writer, err = recorder.NewWriter(outCfg); err != nil {
			return replayResult{}, err
		}
		if err := writer.Start(ctx); err != nil {
			return replayResult{}, err
		}
		res.Output = &recorderOutputResult{Dir: opts.outputDir, Prefix: opts.outputPrefix}
	}

	queue := bus.NewQueue(opts.queueSize)
	done := make(chan struct{})
	var seq uint64
	go func() {
		defer close(done)
		queue.Run(context.Background(), func(env schema.Envelope) {
			agg.Apply(env)
			res.Applied++
			if writer == nil {
				return
			}
			seq++
			if err := writer.Append(env.WithSequence(seq, env.ID())); err != nil {
				logs.Warnf("replay output append, err: %+v", err)
				return
			}
			res.Output.Written++
		})
	}()

	publish := func(envs []schema.Envelope) error {
		for _, env := range envs {
			if err := queue.PublishWait(ctx, env); err != nil {
				return err
			}
		}
		return nil
	}
	start := time.Now()
	runErr := pb.Run(ctx, func(env schema.Envelope) error {
		if !f.Match(env) {
			return nil
		}
		res.Read++
		return publish(engine.Process(env))
	})
	if runErr == nil {
		runErr = publish(engine.Flush())
	}
	queue.Close()
	<-done
	res.Elapsed = time.Since(start).String()

	if writer != nil {
		if err := writer.Close(); err != nil {
			logs.Errorf("close replay output, err: %+v", err)
		}
		res.Output.Failures = writer.Failures()
	}
	if runErr != nil {
		return replayResult{}, errors.Wrap(runErr, "replay")
	}

	res.Chaos = engine.Stats()
	res.Dashboard = agg.Snapshot()

	if opts.snapshotOut != "" {
		if err := state.WriteSnapshot(opts.snapshotOut, state.Snapshot{LastSeq: seq, Dashboard: res.Dashboard}); err != nil {
			return replayResult{}, err
		}
	}
	if opts.verify != "" {
		want, err := state.ReadSnapshot(opts.verify)
		if err != nil {
			return replayResult{}, err
		}
		ok := true
		if err := state.CompareSnapshots(want.Dashboard, res.Dashboard); err != nil {
			logs.Warnf("replay verification failed: %v", err)
			ok = false
		}
		res.Verified = &ok
	}
	return res, nil
}
