package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dbconnector/internal/app"
	"dbconnector/internal/connection"
	"dbconnector/internal/settings"

	"github.com/spf13/cobra"
)

// bindArgs registers the process flags shared by every command.
func bindArgs(cmd *cobra.Command, args *settings.Args) {
	flags := cmd.PersistentFlags()
	flags.IntVar(&args.LogDetail, "logdetail", args.LogDetail, "log detail: 0 errors, 1 warnings, 2 info")
	flags.BoolVar(&args.ClearLog, "clear-log", args.ClearLog, "truncate the log file on start")
	flags.BoolVar(&args.Headless, "headless", args.Headless, "read connections from --configpath instead of the UI")
	flags.StringVar(&args.ConfigPath, "configpath", args.ConfigPath, "headless connection file")
	flags.IntVar(&args.Port, "port", args.Port, "http port (overrides the PORT setting)")
}

func newRootCommand() *cobra.Command {
	args := settings.DefaultArgs()
	root := &cobra.Command{
		Use:           "dbconnector",
		Short:         "Plotly Database Connector",
		Long:          `Connects Plotly to SQL, NoSQL and object stores and keeps Plotly grids up to date.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	bindArgs(root, &args)
	root.AddCommand(
		newServeCommand(&args),
		newIPCCommand(&args),
		newQueryCommand(&args),
		newVersionCommand(),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand(args *settings.Args) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST server and scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.NewApp(app.Options{Args: *args})
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return a.Serve(ctx)
		},
	}
}

func newIPCCommand(args *settings.Args) *cobra.Command {
	return &cobra.Command{
		Use:   "ipc",
		Short: "Answer JSON requests on stdin, one per line",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.NewApp(app.Options{Args: *args, Stdio: true})
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return a.ServeIPC(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newQueryCommand(args *settings.Args) *cobra.Command {
	var connectionID, statement, out, agent string
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Run one statement on a saved connection",
		Example: `  dbconnector query --connection postgres-1f2e... --statement "SELECT * FROM sales" --out sales.xlsx
  dbconnector query --connection mysql-9a8b... --statement "SELECT 1" --agent ./ipc-agent`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.NewApp(app.Options{Args: *args})
			if err != nil {
				return err
			}
			defer a.Shutdown()

			var result connection.QueryResult
			if agent != "" {
				result = a.AgentQuery(agent, connectionID, statement, out)
			} else {
				result = a.QueryToFile(connectionID, statement, out)
			}
			if !result.Success {
				return fmt.Errorf("query failed: %s", result.Message)
			}
			if out != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s written to %s\n", result.Message, out)
				return nil
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result.Data)
		},
	}
	cmd.Flags().StringVar(&connectionID, "connection", "", "saved connection id")
	cmd.Flags().StringVar(&statement, "statement", "", "statement to run")
	cmd.Flags().StringVar(&out, "out", "", "export file (.csv, .xlsx, .json or .md); prints JSON when empty")
	cmd.Flags().StringVar(&agent, "agent", "", "run through this ipc agent binary")
	_ = cmd.MarkFlagRequired("connection")
	_ = cmd.MarkFlagRequired("statement")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			if app.AppBuildTime != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "dbconnector v%s (built: %s)\n", app.Version(), app.AppBuildTime)
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dbconnector v%s\n", app.Version())
		},
	}
}
