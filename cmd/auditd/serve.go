package main

import (
	"context"
	"sync"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"golang.org/x/sync/errgroup"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/aggregator"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/audit"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/index"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/obs"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/ops"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/state"
	apihttp "github.com/CrisisCore-Systems/Autotrader-sub001/internal/transport/http/api"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/conn"
)

type serveOptions struct {
	addr        string
	noRecover   bool
	recoverFrom string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the audit trail, dashboard aggregator and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if opts.addr != "" {
				cfg.HTTP.Addr = opts.addr
			}
			return runServe(cmd.Context(), root.configPath, cfg, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "override http.addr")
	cmd.Flags().BoolVar(&opts.noRecover, "no-recover", false, "start with empty dashboard metrics instead of replaying the trail")
	cmd.Flags().StringVar(&opts.recoverFrom, "recover-from", "", "only replay partitions from this UTC date (YYYY-MM-DD)")
	return cmd
}

func runServe(parent context.Context, configPath string, cfg ops.Config, opts *serveOptions) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-sys.Shutdown():
			logs.Info("shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	if cfg.Profiling.Enabled {
		profiler, err := startProfiler(cfg.Profiling)
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	metrics := obs.NewMetrics()
	agg, err := aggregator.New(cfg.Aggregator)
	if err != nil {
		return err
	}

	var lastSeq uint64
	if !opts.noRecover {
		from, err := audit.ParseBound(opts.recoverFrom, false)
		if err != nil {
			return err
		}
		res, err := state.RecoverAggregator(ctx, state.RecoverConfig{
			Dir:        cfg.Audit.Recorder.Dir,
			FilePrefix: cfg.Audit.Recorder.FilePrefix,
			From:       from,
		}, agg)
		if err != nil {
			return errors.Wrap(err, "recover aggregator")
		}
		lastSeq = res.LastSeq
	}

	storeOpts := []audit.Option{audit.WithMetrics(metrics), audit.WithSequenceStart(lastSeq)}

	var idx *index.Index
	if cfg.Index.Enabled {
		rt, err := startIndex(cfg.Index, metrics)
		if err != nil {
			return err
		}
		defer rt.stop()
		idx = rt.index
		storeOpts = append(storeOpts, audit.WithMirror(rt.sink))
	}

	// The writer outlives ctx so shutdown can drain it after the server stops.
	store, err := audit.Open(context.Background(), cfg.Audit, storeOpts...)
	if err != nil {
		return err
	}

	srv, err := apihttp.NewServer(apihttp.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		Store:           store,
		Aggregator:      agg,
		Index:           idx,
		Metrics:         metrics,
	})
	if err != nil {
		_ = store.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error {
		ops.Watch(gctx, configPath, cfg.ReloadInterval, func(next ops.Config) {
			if err := agg.SetLimits(next.Risk); err != nil {
				logs.Errorf("apply reloaded risk limits, err: %+v", err)
				return
			}
			logs.Infof("risk limits updated: %+v", next.Risk)
		})
		return nil
	})
	if cfg.Snapshot.Path != "" {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Snapshot.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					writeDashboardSnapshot(cfg.Snapshot.Path, store, agg)
				}
			}
		})
	}

	err = g.Wait()

	if cerr := store.Close(); cerr != nil {
		logs.Errorf("close audit store, err: %+v", cerr)
	}
	if cfg.Snapshot.Path != "" {
		writeDashboardSnapshot(cfg.Snapshot.Path, store, agg)
	}
	logs.Infof("auditd stopped, last seq: %d", store.LastSeq())
	return err
}

// indexRuntime owns the SQL index connection and the goroutine feeding it.
type indexRuntime struct {
	client *conn.Client
	index  *index.Index
	sink   *index.Sink
	done   chan struct{}
	once   sync.Once
}

func startIndex(cfg ops.IndexConfig, metrics *obs.Metrics) (*indexRuntime, error) {
	client, err := conn.New(cfg.DB)
	if err != nil {
		return nil, err
	}
	idx, err := index.New(client.DB())
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	rt := &indexRuntime{
		client: client,
		index:  idx,
		sink:   index.NewSink(idx, cfg.QueueSize, metrics),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(rt.done)
		rt.sink.Run(context.Background())
	}()
	logs.Infof("sql index enabled, driver: %s", client.Driver())
	return rt, nil
}

// stop drains the sink and closes the connection. It is safe to call more
// than once.
func (rt *indexRuntime) stop() {
	rt.once.Do(func() {
		rt.sink.Close()
		<-rt.done
		if err := rt.client.Close(); err != nil {
			logs.Errorf("close sql index, err: %+v", err)
		}
	})
}

func writeDashboardSnapshot(path string, store *audit.Store, agg *aggregator.Aggregator) {
	snap := state.Snapshot{LastSeq: store.LastSeq(), Dashboard: agg.Snapshot()}
	if err := state.WriteSnapshot(path, snap); err != nil {
		logs.Errorf("write dashboard snapshot, err: %+v", err)
	}
}

func startProfiler(cfg ops.ProfilingConfig) (*pyroscope.Profiler, error) {
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            cfg.Tags,
		Logger:          profilerLogger{},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "start pyroscope")
	}
	return profiler, nil
}

type profilerLogger struct{}

func (profilerLogger) Infof(format string, args ...any)  { logs.Debugf(format, args...) }
func (profilerLogger) Debugf(format string, args ...any) { logs.Debugf(format, args...) }
func (profilerLogger) Errorf(format string, args ...any) { logs.Errorf(format, args...) }
