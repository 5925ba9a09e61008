package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/adapters"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/httpapi"
	"github.com/BrunoGandolfo/bloomberg-terminal-ai-sub000/internal/observ"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API",
	Long: `Run the REST API until SIGINT or SIGTERM.

Examples:
  marketd serve
  marketd serve --addr :9090 --config config/marketd.yaml
  QUOTES=mock marketd serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if serveAddr != "" {
		rt.cfg.Server.Addr = serveAddr
	}

	if rc := rt.cfg.Refresher; rc.Enabled && len(rc.Watchlist) > 0 {
		refresher := adapters.NewRefresher(rt.market, rc.Watchlist, time.Duration(rc.IntervalSeconds)*time.Second)
		refresher.Start(ctx)
		defer refresher.Stop()
	}

	srv := httpapi.NewServer(rt.cfg.Server, rt.market, rt.caches)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	observ.Log("shutdown_requested", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
