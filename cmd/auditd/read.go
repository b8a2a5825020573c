package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/audit"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/codec"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
)

type rangeFlags struct {
	start string
	end   string
}

func (r *rangeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.start, "start", "", "inclusive start (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&r.end, "end", "", "inclusive end (RFC 3339 or YYYY-MM-DD, whole day)")
}

func (r *rangeFlags) apply(f *audit.Filter) error {
	var err error
	if f.Start, err = audit.ParseBound(r.start, false); err != nil {
		return err
	}
	f.End, err = audit.ParseBound(r.end, true)
	return err
}

func withStore(ctx context.Context, root *rootOptions, fn func(*audit.Store) error) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	store, err := audit.Open(ctx, cfg.Audit)
	if err != nil {
		return errors.Wrap(err, "open audit store")
	}
	defer store.Close()
	return fn(store)
}

func newQueryCmd(root *rootOptions) *cobra.Command {
	var (
		eventType string
		rng       rangeFlags
		filter    audit.Filter
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Print matching audit events as JSON lines",
		Example: `  auditd query --type fill --start 2024-03-15 --end 2024-03-15
  auditd query --signal sig-42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if eventType != "" {
				t, ok := schema.ParseEventType(eventType)
				if !ok {
					return errors.Errorf("unknown event type %q", eventType)
				}
				filter.EventType = t
			}
			if err := rng.apply(&filter); err != nil {
				return err
			}
			return withStore(cmd.Context(), root, func(store *audit.Store) error {
				events, err := store.QueryEvents(cmd.Context(), filter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, env := range events {
					line, err := codec.EncodeLine(env)
					if err != nil {
						return err
					}
					if _, err := out.Write(line); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&eventType, "type", "t", "", "event type")
	cmd.Flags().StringVarP(&filter.Instrument, "instrument", "i", "", "instrument")
	cmd.Flags().StringVar(&filter.SignalID, "signal", "", "signal id")
	cmd.Flags().StringVar(&filter.OrderID, "order", "", "order id")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 0, "stop after n matches (0 = all)")
	rng.bind(cmd)
	return cmd
}

func newHistoryCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <signal_id>",
		Short: "Reconstruct the lifecycle of one signal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), root, func(store *audit.Store) error {
				history, err := store.ReconstructTradeHistory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), history)
			})
		},
	}
}

func newReportCmd(root *rootOptions) *cobra.Command {
	var rng rangeFlags
	cmd := &cobra.Command{
		Use:     "report",
		Short:   "Build a compliance report over a closed time range",
		Example: `  auditd report --start 2024-03-01 --end 2024-03-31`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var f audit.Filter
			if err := rng.apply(&f); err != nil {
				return err
			}
			return withStore(cmd.Context(), root, func(store *audit.Store) error {
				report, err := store.ComplianceReport(cmd.Context(), f.Start, f.End)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	rng.bind(cmd)
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newExportCmd(root *rootOptions) *cobra.Command {
	var (
		rng    rangeFlags
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <event_type>",
		Short: "Export one event type as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, ok := schema.ParseEventType(args[0])
			if !ok {
				return errors.Errorf("unknown event type %q", args[0])
			}
			var f audit.Filter
			if err := rng.apply(&f); err != nil {
				return err
			}
			return withStore(cmd.Context(), root, func(store *audit.Store) error {
				table, err := store.ExportTable(cmd.Context(), t, f.Start, f.End)
				if err != nil {
					return err
				}
				if output == "" || output == "-" {
					return table.WriteCSV(cmd.OutOrStdout())
				}
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				if err := table.WriteCSV(file); err != nil {
					_ = file.Close()
					return err
				}
				return file.Close()
			})
		},
	}
	rng.bind(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}
