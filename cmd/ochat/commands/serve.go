package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ochat/internal/api"
	"ochat/internal/app"
	"ochat/internal/domain"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the onion service and the local API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			w, err := openWire(ctx)
			if err != nil {
				return err
			}
			a, err := app.New(w)
			if err != nil {
				_ = w.Close()
				return err
			}
			defer a.Close()

			states, cancel := a.ServerStates()
			defer cancel()
			go reportProgress(cmd, states)

			if err := a.Start(ctx); err != nil {
				return err
			}
			onion, err := a.OnionAddress()
			if err != nil {
				return err
			}
			pub := a.Identity()
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s\nPublic key: %s\n", onion, pub.PublicKey.Hex())

			ln, err := net.Listen("tcp", cfg.API.Listen)
			if err != nil {
				return fmt.Errorf("api listen: %w", err)
			}
			srv := api.NewServer(a, log)
			errc := make(chan error, 1)
			go func() { errc <- srv.Serve(ln) }()

			select {
			case <-ctx.Done():
			case err := <-errc:
				return err
			}
			log.Info("shutting down")
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancelShutdown()
			return errors.Join(srv.Shutdown(shutdownCtx), a.Stop())
		},
	}
	cmd.Flags().String("tor-mode", "", "embedded, external or memory")
	cmd.Flags().Int("tor-port", 0, "onion service port (default 11009)")
	cmd.Flags().String("tor-socks-addr", "", "system tor SOCKS address in external mode")
	cmd.Flags().String("tor-hidden-service-dir", "", "HiddenServiceDir of the system tor in external mode")
	cmd.Flags().Bool("tor-verbose", false, "copy tor control output to stderr")
	cmd.Flags().String("storage-driver", "", "sqlite, file or memory")
	cmd.Flags().String("display-name", "", "name offered to peers with requests")
	return cmd
}

// reportProgress prints tor bootstrap progress until the service runs or fails.
func reportProgress(cmd *cobra.Command, states <-chan domain.ServerState) {
	for st := range states {
		switch st.Kind {
		case domain.ServerBootstrapping:
			fmt.Fprintf(cmd.ErrOrStderr(), "bootstrapping tor: %d%%\n", st.Progress)
		case domain.ServerStartFailed:
			fmt.Fprintf(cmd.ErrOrStderr(), "start failed: %s\n", st.Reason)
			return
		case domain.ServerRunning:
			return
		}
	}
}
