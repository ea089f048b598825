package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fluxorio/callcenter/internal/settings"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the call center",
	Long: `Run the call center engine and its HTTP API.

The engine configuration file is watched and applied without a restart:
the queue and the operator pool are swapped while calls keep flowing.
Metrics and the live record feed are served on the admin address.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringP("engine-config", "e", "config.yaml", "engine configuration file (YAML or JSON)")
	f.Bool("watch", true, "reload the engine configuration when the file changes")
	f.String("addr", ":8080", "HTTP listen address")
	f.String("admin-addr", ":9090", "metrics and record feed listen address (empty to disable)")
	f.Duration("call-timeout", 150*time.Second, "how long a request waits for its call")
	f.Float64("rate-limit", 0, "requests per second per client (0 disables)")
	f.String("jwt-secret", "", "HMAC secret guarding /update")
	f.String("cdr-file", "cdr.txt", "CDR text file (empty to disable)")
	f.String("sql-driver", "", "record calls to a database: sqlite3, postgres or pgx")
	f.String("sql-dsn", "", "database connection string")
	f.String("nats-url", "", "publish records to this NATS server")
	f.String("trace-exporter", "none", "tracing exporter: none, stdout, zipkin or jaeger")
	f.String("trace-endpoint", "", "zipkin or jaeger collector URL")
}

// serveBindings maps settings keys to serve flags. Keys shared with other
// commands are bound when the command runs.
var serveBindings = map[string]string{
	"engine_config":      "engine-config",
	"watch":              "watch",
	"http.addr":          "addr",
	"admin.addr":         "admin-addr",
	"http.call_timeout":  "call-timeout",
	"http.rate_limit":    "rate-limit",
	"auth.jwt_secret":    "jwt-secret",
	"records.file":       "cdr-file",
	"records.sql_driver": "sql-driver",
	"records.sql_dsn":    "sql-dsn",
	"records.nats_url":   "nats-url",
	"tracing.exporter":   "trace-exporter",
	"tracing.endpoint":   "trace-endpoint",
}

func runServe(cmd *cobra.Command, args []string) error {
	for key, flag := range serveBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}
	s, err := settings.Load()
	if err != nil {
		return err
	}
	logger := newLogger(s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, s, logger)
	if err != nil {
		return err
	}
	logger.Info("callcenter starting", "version", Version, "engine_config", s.EngineConfig)

	if err := svc.run(ctx, nil, nil); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
