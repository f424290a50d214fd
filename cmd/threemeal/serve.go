package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/threemeal/backend/internal/app"
	"github.com/kimhsiao/threemeal/backend/internal/logging"
	"github.com/kimhsiao/threemeal/backend/internal/realtime"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local REST and WebSocket server",
		Long: `Serves the REST API under /api and change events under /ws on a loopback
address, and runs scheduled backups when export.interval is not manual.
The backup password is read from THREEMEAL_EXPORT_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.Config.Server.Addr
			}
			return serve(cmd.Context(), a, addr, os.Getenv("THREEMEAL_EXPORT_PASSWORD"), nil)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return cmd
}

// serve runs the HTTP server, the event hub, the change relay and the backup
// scheduler until ctx ends or one of them fails. ready, if set, receives the
// bound address once the listener is open.
func serve(ctx context.Context, a *app.App, addr, password string, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	hub := realtime.NewHub()
	srv := &http.Server{
		Handler:           a.APIServer(hub),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	sched := a.Scheduler(realtime.NotifyingExporter{Exporter: a.Export, Hub: hub}, password)

	g, ctx := errgroup.WithContext(ctx)
	if err := sched.Start(ctx); err != nil {
		ln.Close()
		return err
	}

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		realtime.Relay(ctx, a.Bus, hub)
		return nil
	})
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sched.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logging.Info("server listening", map[string]interface{}{"addr": ln.Addr().String()})
	if ready != nil {
		ready <- ln.Addr().String()
	}

	err = g.Wait()
	logging.Info("server stopped")
	return err
}
