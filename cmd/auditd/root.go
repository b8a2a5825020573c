package main

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/ops"
)

type rootOptions struct {
	configPath string
	auditDir   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "auditd",
		Short: "Trading audit trail and real-time dashboard metrics",
		Long: `auditd records every trading decision to a daily-partitioned audit trail
and keeps a live view of PnL, risk and execution quality.

It provides:
  - serve: the dashboard API with ingestion, queries and Prometheus metrics
  - query, history, report, export: offline reads of the audit partitions
  - replay: rebuild dashboard metrics from the trail, optionally perturbed
  - simulate: record a synthetic trading session`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML or JSON config (default: built-in defaults)")
	root.PersistentFlags().StringVar(&opts.auditDir, "audit-dir", "", "override audit.recorder.dir")

	root.AddCommand(
		newServeCmd(opts),
		newQueryCmd(opts),
		newHistoryCmd(opts),
		newReportCmd(opts),
		newExportCmd(opts),
		newReplayCmd(opts),
		newSimulateCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

func (o *rootOptions) load() (ops.Config, error) {
	cfg, err := ops.Load(o.configPath)
	if err != nil {
		return ops.Config{}, err
	}
	if o.auditDir != "" {
		cfg.Audit.Recorder.Dir = o.auditDir
	}
	return cfg, nil
}

func writeJSON(w io.Writer, v any) error {
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
