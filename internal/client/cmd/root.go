package cmd

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"recordsync/internal/client/config"
	"recordsync/internal/client/session"
	"recordsync/internal/client/transport"
)

// env is what every subcommand works with once flags and configuration
// are resolved.
type env struct {
	cfg   config.Config
	store *session.Store
}

func NewRootCmd(version, buildDate string) *cobra.Command {
	var (
		serverURL  string
		configFile string
		e          env
	)
	root := &cobra.Command{
		Use:           "recordsync",
		Short:         "recordsync CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("server") {
				cfg.ServerURL = serverURL
			}
			e.cfg = cfg
			e.store = session.New(cfg.SessionPath)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server base URL")
	root.PersistentFlags().StringVar(&configFile, "config", "", "Config file")

	root.AddCommand(newVersionCmd(version, buildDate))
	root.AddCommand(newAuthCmd(&e))
	root.AddCommand(newRecordsCmd(&e))
	return root
}

func (e *env) transport() *transport.REST {
	return transport.New(e.cfg.ServerURL, transport.WithBearer(e.store))
}

// notifyLogger is where write notifications go; nil when they are off.
func (e *env) notifyLogger(cmd *cobra.Command) *log.Logger {
	if !e.cfg.Notify {
		return nil
	}
	return log.New(cmd.ErrOrStderr(), "", 0)
}

func (e *env) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if e.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.Timeout)
}
