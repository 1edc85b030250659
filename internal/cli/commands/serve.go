package commands

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conduit-lang/compcache/internal/cli/config"
	"github.com/conduit-lang/compcache/internal/server"
)

var errServeHTTPBackend = errors.New("cannot serve an http store backend; configure a local backend")

func newServeCommand(opts *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured store over HTTP",
		Long: `Expose the configured store to other processes. Clients set
store.backend: http and store.http.url to this server's address.

Serving an http-backed store would forward to another server, so the http
backend is rejected here.`,
		Example: `  compcache serve --addr :9090
  COMPCACHE_STORE_BACKEND=redis compcache serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Store.Backend == config.BackendHTTP {
				return errServeHTTPBackend
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, closeStore, err := cfg.OpenStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			sc := server.DefaultConfig()
			sc.Address = cfg.Server.Address
			if addr != "" {
				sc.Address = addr
			}
			sc.MaxBlobSize = cfg.Server.MaxBlobSize

			srv, err := server.New(s, sc, logger)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.address)")

	return cmd
}
