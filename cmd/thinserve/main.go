// Command thinserve runs a standalone thinserve API server, optionally
// alongside a directory of static assets and a separate metrics listener.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/yinfei8/thinserve"
	"github.com/yinfei8/thinserve/metrics"
)

const shutdownGrace = 10 * time.Second

var (
	addr        string
	staticDir   string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "thinserve",
	Short: "Bidirectional JSON-RPC-over-HTTP server core",
	Long: `thinserve serves a long-lived, bidirectional RPC channel to a
browser-style client: session creation, inbound call/reply delivery, and
long-poll gather, optionally alongside a directory of static assets.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "address to serve the API (and static assets, if configured) on")
	serveCmd.Flags().StringVar(&staticDir, "static-dir", "", "directory of static assets to serve alongside the API")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if unset)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "thinserve: ", log.LstdFlags)

	opts := &thinserve.ServerOptions{
		Logger:  logger,
		Metrics: metrics.New(),
	}
	server := thinserve.NewServer(opts)

	site, err := thinserve.NewSite(server, staticDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	apiSrv := &http.Server{Addr: addr, Handler: site}
	g.Go(func() error { return serveAndShutdown(gctx, apiSrv, logger) })

	if metricsAddr != "" {
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: opts.Metrics.Handler()}
		g.Go(func() error { return serveAndShutdown(gctx, metricsSrv, logger) })
	}

	return g.Wait()
}

// serveAndShutdown runs srv until ctx is cancelled, then shuts it down
// gracefully. It never returns http.ErrServerClosed as an error.
func serveAndShutdown(ctx context.Context, srv *http.Server, logger *log.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
