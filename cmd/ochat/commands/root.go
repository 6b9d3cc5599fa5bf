package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"ochat/internal/api"
	"ochat/internal/app"
	"ochat/internal/logging"
)

// requestTimeout bounds API calls made by the client commands.
const requestTimeout = 2 * time.Minute

var (
	cfg app.Config
	log *zap.Logger
)

// Execute runs the CLI.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ochat",
		Short:        "Peer-to-peer encrypted chat over Tor onion services",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = app.LoadConfig(viper.New(), cmd.Flags()); err != nil {
				return err
			}
			log, err = logging.New(cfg.Log)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.String("home", "", "data dir (default ~/.ochat)")
	pf.StringP("passphrase", "p", "", "passphrase protecting the identity")
	pf.String("api-listen", "", "local API address (default 127.0.0.1:7657)")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.Bool("log-development", false, "human-readable logs")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		exportKeysCmd(),
		serveCmd(),
		requestCmd(),
		confirmCmd(),
		cancelCmd(),
		blockCmd(),
		sendCmd(),
		sendFileCmd(),
		retryCmd(),
		rmCmd(),
		contactsCmd(),
		historyCmd(),
		watchCmd(),
	)
	return root
}

// openWire opens local storage for commands that do not need the network.
func openWire(ctx context.Context) (*app.Wire, error) {
	if cfg.Passphrase == "" {
		return nil, fmt.Errorf("passphrase required (-p or OCHAT_PASSPHRASE)")
	}
	return app.NewWire(ctx, cfg, log)
}

func client() *api.Client { return api.NewClient(cfg.API.Listen) }

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), requestTimeout)
}
