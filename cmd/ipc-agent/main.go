// ipc-agent answers ipc requests on stdin/stdout with the drivers it was
// built with. It keeps no settings or stores of its own.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dbconnector/internal/ipc"
	"dbconnector/internal/logger"
	"dbconnector/internal/session"
	"dbconnector/internal/settings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ipc-agent: %v\n", err)
		os.Exit(2)
	}
}

func newCommand() *cobra.Command {
	args := settings.DefaultArgs()
	cmd := &cobra.Command{
		Use:           "ipc-agent",
		Short:         "Database connector stdio agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := args.Validate(); err != nil {
				return err
			}
			log, err := stderrLogger(args)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			sessions := session.NewManager(session.Options{
				Logger:     log,
				Headless:   args.Headless,
				ConfigPath: args.ConfigPath,
			})
			defer sessions.CloseAll()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return ipc.Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), ipc.NewHandler(sessions, log), log)
		},
	}
	cmd.Flags().IntVar(&args.LogDetail, "logdetail", args.LogDetail, "log detail: 0 errors, 1 warnings, 2 info")
	cmd.Flags().BoolVar(&args.Headless, "headless", false, "read connections from --configpath")
	cmd.Flags().StringVar(&args.ConfigPath, "configpath", args.ConfigPath, "headless connection file")
	return cmd
}

// stdout carries responses, so zap writes to stderr.
func stderrLogger(args settings.Args) (*logger.Logger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}
	z, err := config.Build(zap.Fields(zap.String("name", "ipc-agent")))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.Wrap(z, args.LogDetail, args.Headless), nil
}
