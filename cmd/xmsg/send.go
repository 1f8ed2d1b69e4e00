package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/glimte/xmsg"
	"github.com/glimte/xmsg/config"
	"github.com/glimte/xmsg/monitor"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// sendFlags are shared by the commands that send requests
type sendFlags struct {
	contextName string
	data        string
	timeout     time.Duration
}

func (f *sendFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.contextName, "context", "", "Context to send as (default from config)")
	cmd.Flags().StringVarP(&f.data, "data", "d", "", "Request payload as JSON")
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", 0, "Request timeout (default from config)")
}

func (f *sendFlags) payload() (any, error) {
	if f.data == "" {
		return nil, nil
	}
	var data any
	if err := json.Unmarshal([]byte(f.data), &data); err != nil {
		return nil, fmt.Errorf("invalid --data: %w", err)
	}
	return data, nil
}

func (f *sendFlags) apply(cfg *config.Config) {
	if f.contextName != "" {
		cfg.Context = f.contextName
	}
}

func newSendCmd(g *globals) *cobra.Command {
	flags := &sendFlags{}

	cmd := &cobra.Command{
		Use:   "send ACTION",
		Short: "Send one request and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), g, flags, args[0], cmd.OutOrStdout())
		},
	}

	flags.register(cmd)
	return cmd
}

func newPingCmd(g *globals) *cobra.Command {
	flags := &sendFlags{}

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Ping the background context",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), g, flags, "ping", cmd.OutOrStdout())
		},
	}

	flags.register(cmd)
	return cmd
}

func runSend(ctx context.Context, g *globals, flags *sendFlags, action string, out io.Writer) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	flags.apply(cfg)

	data, err := flags.payload()
	if err != nil {
		return err
	}

	client, err := xmsg.NewClientFromConfig(ctx, cfg, xmsg.WithLogger(logger))
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Messenger().Send(ctx, action, data, flags.timeout)
	if err != nil {
		return err
	}
	return printJSON(out, resp)
}

func newStatsCmd(g *globals) *cobra.Command {
	flags := &sendFlags{}
	var count, concurrency int

	cmd := &cobra.Command{
		Use:   "stats ACTION",
		Short: "Send a burst of requests and print outcome and latency statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			flags.apply(cfg)

			data, err := flags.payload()
			if err != nil {
				return err
			}

			metrics := monitor.NewSimpleMetricsCollector()
			client, err := xmsg.NewClientFromConfig(cmd.Context(), cfg, xmsg.WithLogger(logger), xmsg.WithMetrics(metrics))
			if err != nil {
				return err
			}
			defer client.Close()

			summary, err := burst(cmd.Context(), client, metrics, args[0], data, flags.timeout, count, concurrency)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVarP(&count, "count", "n", 100, "Number of requests")
	cmd.Flags().IntVar(&concurrency, "concurrency", 10, "Requests in flight at once")
	return cmd
}

// burst sends count requests; failures show up in the summary rather than
// stopping the run
func burst(ctx context.Context, client *xmsg.Client, metrics *monitor.SimpleMetricsCollector, action string, data any, timeout time.Duration, count, concurrency int) (monitor.MetricsSummary, error) {
	if count <= 0 || concurrency <= 0 {
		return monitor.MetricsSummary{}, fmt.Errorf("count and concurrency must be positive")
	}

	var group errgroup.Group
	group.SetLimit(concurrency)

	for range count {
		group.Go(func() error {
			_, _ = client.Messenger().Send(ctx, action, data, timeout)
			return nil
		})
	}
	_ = group.Wait()

	return metrics.GetMetricsSummary(), nil
}

func printJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
