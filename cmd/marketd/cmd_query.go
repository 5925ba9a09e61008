package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var (
	queryTimeout time.Duration
	historyDays  int
)

var quoteCmd = &cobra.Command{
	Use:   "quote SYMBOL",
	Short: "Fetch one quote through the provider chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, rt *app) error {
			q, err := rt.market.GetQuote(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(q)
		})
	},
}

var batchCmd = &cobra.Command{
	Use:   "batch SYMBOL...",
	Short: "Fetch several quotes; unavailable symbols are marked, not fatal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, rt *app) error {
			quotes, err := rt.market.GetBatchQuotes(ctx, args)
			if err != nil {
				return err
			}
			return printJSON(quotes)
		})
	},
}

var historyCmd = &cobra.Command{
	Use:   "history SYMBOL",
	Short: "Fetch daily bars, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, rt *app) error {
			bars, err := rt.market.GetHistoricalData(ctx, args[0], historyDays)
			if err != nil {
				return err
			}
			return printJSON(bars)
		})
	},
}

var fundamentalsCmd = &cobra.Command{
	Use:   "fundamentals SYMBOL",
	Short: "Fetch company fundamentals with tiered fallback",
	Long: `Fetch company fundamentals. The primary provider is tried first, then the
AI tier; the result always carries a reliability tag and never fails.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, rt *app) error {
			return printJSON(rt.market.GetFundamentals(ctx, args[0]))
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{quoteCmd, batchCmd, historyCmd, fundamentalsCmd} {
		c.Flags().DurationVar(&queryTimeout, "timeout", 30*time.Second, "Overall deadline")
		rootCmd.AddCommand(c)
	}
	historyCmd.Flags().IntVar(&historyDays, "days", 30, "Number of daily bars")
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, rt *app) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), queryTimeout)
	defer cancel()
	rt, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}
