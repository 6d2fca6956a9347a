package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags address a running daemon.
type APIFlags struct {
	URL      string
	Token    string
	Timeout  time.Duration
	CACert   string
	Insecure bool
}

type RunFlags struct {
	StartFrom string
}

type ReportFlags struct {
	Hours int
	Send  bool
}

type HistoryFlags struct {
	Limit int
}

type TypesFlags struct {
	Level string
}

type InitFlags struct {
	Kind   string
	Domain string
	Output string
	Force  bool
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{}

	root := createRootCommand(globalFlags)
	c := command{global: globalFlags}

	root.AddCommand(
		createRunCommand(c, &RunFlags{}),
		createServeCommand(c),
		createTriggerCommand(apiFlags),
		createStatusCommand(apiFlags),
		createReportCommand(c, &ReportFlags{}),
		createHistoryCommand(c, &HistoryFlags{}),
		createCheckpointCommand(c),
		createTypesCommand(&TypesFlags{}),
		createInitCommand(&InitFlags{}),
		createAuthCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "logdrain",
		Short: "Incremental tenant log puller",
		Long: `logdrain pulls tenant log records from the Management API in time boxed
runs, forwards them to the configured sinks and keeps a resumable checkpoint.

Examples:
  logdrain init --kind=clickhouse --domain=tenant.auth0.com
  logdrain run --config=logdrain.toml        # one run, then exit
  logdrain serve --config=logdrain.toml      # scheduled runs plus HTTP API
  logdrain trigger --api-url=http://127.0.0.1:8080/api
  logdrain checkpoint show --config=logdrain.toml`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional, LOGDRAIN_* env always applies)")
	return root
}

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.URL, "api-url", "http://127.0.0.1:8080/api", "daemon API base URL")
	cmd.Flags().StringVar(&f.Token, "token", os.Getenv("LOGDRAIN_API_TOKEN"), "bearer token (default $LOGDRAIN_API_TOKEN)")
	cmd.Flags().DurationVar(&f.Timeout, "timeout", 2*time.Minute, "request timeout")
	cmd.Flags().StringVar(&f.CACert, "ca-cert", "", "CA certificate for an HTTPS daemon")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification")
}

func createRunCommand(c command, f *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Pull once and exit",
		Long: `Run one time boxed pass: fetch from the stored checkpoint, hand batches to
the sinks and persist the new checkpoint. Records written to stdout:// go to
stdout; the run summary goes to stderr. The exit code is non-zero when the
run recorded an error.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd, *f)
		},
	}
	cmd.Flags().StringVar(&f.StartFrom, "start-from", "", "override the stored checkpoint with this log id")
	return cmd
}

func createServeCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled pulls and the HTTP API",
		Long: `Start the daemon: runs are scheduled by [schedule].cron, never overlap,
and can also be triggered over HTTP when [server].enabled is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Serve(cmd)
		},
	}
}

func createTriggerCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask a running daemon to pull now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return triggerViaAPI(cmd, *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createStatusCommand(f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusViaAPI(cmd, *f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createReportCommand(c command, f *ReportFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise stored runs",
		Long: `Aggregate the runs stored in the checkpoint document over the last hours.
With --send the summary is also posted to report.slack_webhook.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Report(cmd, *f)
		},
	}
	cmd.Flags().IntVar(&f.Hours, "hours", 24, "window size in hours")
	cmd.Flags().BoolVar(&f.Send, "send", false, "post the report to Slack")
	return cmd
}

func createHistoryCommand(c command, f *HistoryFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print stored runs, oldest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.History(cmd, *f)
		},
	}
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "only the newest N runs")
	return cmd
}

func createCheckpointCommand(c command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or move the stored checkpoint",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the checkpoint document without the cached token",
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.CheckpointShow(cmd)
			},
		},
		&cobra.Command{
			Use:   "reset [log-id]",
			Short: "Resume after log-id, or from the oldest log when omitted",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cursor := ""
				if len(args) == 1 {
					cursor = args[0]
				}
				return c.CheckpointReset(cmd, cursor)
			},
		},
	)
	return cmd
}

func createTypesCommand(f *TypesFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List log type codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listTypes(cmd, *f)
		},
	}
	cmd.Flags().StringVar(&f.Level, "level", "", "only types at or above this level (debug, info, warning, error, critical)")
	return cmd
}

func createInitCommand(f *InitFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd, *f)
		},
	}
	cmd.Flags().StringVar(&f.Kind, "kind", "stdout", "sink kind: stdout, file, sqlite, postgres, clickhouse, opensearch")
	cmd.Flags().StringVar(&f.Domain, "domain", "", "tenant domain")
	cmd.Flags().StringVarP(&f.Output, "output", "o", "logdrain.toml", "output file, - for stdout")
	cmd.Flags().BoolVar(&f.Force, "force", false, "overwrite an existing file")
	return cmd
}

func createAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "API authentication helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash-token [token]",
		Short: "Print a bcrypt hash for server.auth.token_hash",
		Long:  "Hash the given token, or the first line of stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return hashToken(cmd, args)
		},
	})
	return cmd
}
