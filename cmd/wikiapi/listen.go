package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	wikiapi "cgt.name/pkg/go-wikiapi"
)

// newMetricsRouter serves the Prometheus metrics of the process.
func newMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// serveMetrics runs the metrics server until ctx is done.
func (a *app) serveMetrics(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newMetricsRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		a.logger.Info("serving metrics", "addr", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (a *app) listenCmd() *cobra.Command {
	var (
		opts        wikiapi.ListenOptions
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print recent changes as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			s, err := a.wiki(ctx)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				go func() {
					if err := a.serveMetrics(ctx, metricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.logger.Error("metrics server failed", "error", err)
						cancel()
					}
				}()
			}
			err = s.Listen(ctx, func(item wikiapi.ListItem) error {
				_, err := fmt.Fprintln(a.out, changeLine(item))
				return err
			}, opts)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	f := cmd.Flags()
	f.DurationVar(&opts.Interval, "interval", 10*time.Second, "time between two polls")
	f.IntSliceVar(&opts.Namespace, "namespace", nil, "namespaces to report")
	f.StringSliceVar(&opts.Types, "type", nil, "change types to report (edit, new, log, categorize)")
	f.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}
