package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/nvsq"
	logAdapter "github.com/bft-labs/nvsq/internal/adapters/log"
	"github.com/bft-labs/nvsq/internal/adapters/metrics"
	"github.com/bft-labs/nvsq/internal/cliconfig"
)

const longHelp = `Durable record queue over a bounded flash-style key-value partition.

Records are fixed-size blobs stored under record%05d keys next to a
lastrecordid counter. Every write is checked against the free entries left in
the partition; once they fall to the safety margin, enqueue is refused instead
of risking a stalled flash write.

Configuration is read from $HOME/.nvsq/config.toml, then NVSQ_* environment
variables, then flags. The memory store keeps nothing between runs and is
meant for dry runs of fill.`

var exampleUsage = strings.TrimSpace(`
  nvsq provision
  head -c 860 /dev/urandom | nvsq enqueue --file -
  nvsq read 1 --hex
  nvsq fill --count 550 --store memory
  nvsq stats --watch --store sqlite --data-dir /var/lib/nvsq
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

// cli carries the resolved configuration and shared resources of one run.
type cli struct {
	cfg     cliconfig.Config
	cfgPath string

	log     zerolog.Logger
	metrics *metrics.Prometheus
}

func newLogger(level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func main() {
	c := &cli{
		cfg: cliconfig.DefaultConfig(),
		log: newLogger(zerolog.InfoLevel),
	}

	root := c.rootCommand()
	if err := root.Execute(); err != nil {
		c.log.Error().Err(err).Msg("nvsq")
		os.Exit(1)
	}
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:                "nvsq",
		Short:              "Durable record queue over a bounded key-value partition",
		Long:               longHelp,
		Example:            exampleUsage,
		Version:            fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  c.loadConfig,
		PersistentPostRunE: c.writeMetrics,
	}

	cfg := &c.cfg
	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgPath, "config", "", "path to config file (default: $HOME/.nvsq/config.toml)")
	flags.StringVar(&cfg.Store, "store", cfg.Store, "partition backend: memory, pebble or sqlite")
	flags.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding partitions (default: $HOME/.nvsq/data)")
	flags.StringVar(&cfg.Partition, "partition", cfg.Partition, "partition name")
	flags.StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "queue namespace inside the partition")
	flags.IntVar(&cfg.RecordSize, "record-size", cfg.RecordSize, "record size in bytes")
	flags.IntVar(&cfg.EntrySize, "entry-size", cfg.EntrySize, "partition entry size in bytes")
	flags.IntVar(&cfg.TotalEntries, "total-entries", cfg.TotalEntries, "partition capacity in entries")
	flags.IntVar(&cfg.Margin, "margin", cfg.Margin, "free entries kept in reserve (default: one record plus the counter)")
	flags.BoolVar(&cfg.VerifyOnRecover, "verify-on-recover", cfg.VerifyOnRecover, "read back the newest record during recovery")
	flags.BoolVar(&cfg.NoSync, "no-sync", cfg.NoSync, "skip fsync on commit (pebble only)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn or error")
	flags.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "write Prometheus metrics to this file on exit")
	if err := flags.MarkHidden("no-sync"); err != nil {
		c.log.Info().Err(err).Msg("failed to hide no-sync flag")
	}

	root.AddCommand(
		c.provisionCommand(),
		c.recoverCommand(),
		c.enqueueCommand(),
		c.readCommand(),
		c.fillCommand(),
		c.statsCommand(),
	)
	return root
}

// loadConfig resolves the configuration: file first, then NVSQ_* environment
// variables, then flags.
func (c *cli) loadConfig(cmd *cobra.Command, args []string) error {
	cfgFile := c.cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	// Build set of changed flags
	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(&c.cfg, fc, changed); err != nil {
			return err
		}
	} else if c.cfgPath != "" {
		return fmt.Errorf("config file %s not found", c.cfgPath)
	}

	if err := cliconfig.ApplyEnvConfig(&c.cfg, changed); err != nil {
		return err
	}

	if err := c.cfg.Validate(); err != nil {
		return err
	}

	level, err := logAdapter.ParseLevel(c.cfg.LogLevel)
	if err != nil {
		return err
	}
	c.log = newLogger(level)
	c.log.Debug().Interface("config", c.cfg).Msg("configuration")

	if c.cfg.MetricsFile != "" {
		m, err := metrics.NewPrometheus()
		if err != nil {
			return fmt.Errorf("create metrics: %w", err)
		}
		c.metrics = m
	}
	return nil
}

func (c *cli) writeMetrics(cmd *cobra.Command, args []string) error {
	if c.metrics == nil {
		return nil
	}
	if err := c.metrics.WriteTextfile(c.cfg.MetricsFile); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func (c *cli) logger() *logAdapter.ZerologAdapter {
	return logAdapter.NewZerologAdapterWithLogger(c.log)
}

// openQueue opens and recovers the configured queue. It never erases the
// partition; that is left to the provision command.
func (c *cli) openQueue(ctx context.Context) (*nvsq.Queue, error) {
	opts := []nvsq.Option{nvsq.WithLogger(c.logger())}
	if c.metrics != nil {
		opts = append(opts, nvsq.WithMetrics(c.metrics))
	}

	q, err := nvsq.Open(ctx, c.cfg, opts...)
	if errors.Is(err, nvsq.ErrNeedsProvision) {
		return nil, fmt.Errorf("open queue: %w (run nvsq provision to erase it)", err)
	}
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	if _, err := q.Recover(ctx); err != nil {
		q.Close()
		return nil, fmt.Errorf("recover queue: %w", err)
	}
	return q, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
