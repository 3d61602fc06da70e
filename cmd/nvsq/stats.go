package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/bft-labs/nvsq/internal/adapters/sqlitestore"
	"github.com/bft-labs/nvsq/internal/cliconfig"
)

const watchDebounce = 200 * time.Millisecond

const statsLong = `Show partition usage, the capacity margin and the newest record.

With --watch the table is rendered again after every change on disk. The
partition is opened for each render, so a sqlite partition cannot be read while
another process (such as a running fill) holds its lock; those renders are
skipped with a warning and the table catches up once the writer exits.`

func (c *cli) statsCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show partition usage, the capacity margin and the newest record",
		Long:  statsLong,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !watch {
				return c.printStats(cmd)
			}
			if c.cfg.Store == cliconfig.StoreMemory {
				return errors.New("--watch needs a disk-backed store")
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return c.watchStats(ctx, cmd)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "re-render whenever the partition changes on disk")
	return cmd
}

func (c *cli) loadStats(ctx context.Context) (statsView, error) {
	q, err := c.openQueue(ctx)
	if err != nil {
		return statsView{}, err
	}
	defer q.Close()

	stats, err := q.StatsSnapshot(ctx)
	if err != nil {
		return statsView{}, err
	}
	return statsView{
		Partition: c.cfg.Partition,
		Namespace: c.cfg.Namespace,
		Stats:     stats,
		EntrySize: c.cfg.EntrySize,
		Margin:    q.Config().Margin,
		LastID:    q.LastID(),
		HasLastID: true,
	}, nil
}

func (c *cli) printStats(cmd *cobra.Command) error {
	v, err := c.loadStats(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderStats(v, c.cfg.RecordSize))
	return nil
}

// watchPath is the file or directory whose changes mean new partition data.
func (c *cli) watchPath() string {
	if c.cfg.Store == cliconfig.StorePebble {
		return c.cfg.PartitionPath()
	}
	return filepath.Dir(c.cfg.PartitionPath())
}

// partitionFile reports whether name belongs to the configured partition.
func (c *cli) partitionFile(name string) bool {
	base := filepath.Base(name)
	if base == "LOCK" || filepath.Ext(base) == ".lock" {
		return false
	}
	if c.cfg.Store == cliconfig.StoreSQLite {
		return strings.HasPrefix(base, filepath.Base(c.cfg.PartitionPath()))
	}
	return true
}

// renderWatched prints one timestamped stats frame, or warns when the
// partition cannot be opened.
func (c *cli) renderWatched(ctx context.Context, out io.Writer) {
	v, err := c.loadStats(ctx)
	if errors.Is(err, sqlitestore.ErrLocked) {
		c.log.Warn().Err(err).Msg("stats skipped: another process holds the partition")
		return
	}
	if err != nil {
		c.log.Warn().Err(err).Msg("stats unavailable")
		return
	}
	fmt.Fprintf(out, "%s\n%s\n", time.Now().Format(time.RFC3339), renderStats(v, c.cfg.RecordSize))
}

// watchStats renders stats once, then again after every burst of writes.
// The partition is only held open while rendering so writers can proceed.
func (c *cli) watchStats(ctx context.Context, cmd *cobra.Command) error {
	// Opening the partition to render touches its files too.
	var quietUntil time.Time
	render := func() {
		defer func() { quietUntil = time.Now().Add(watchDebounce) }()
		c.renderWatched(ctx, cmd.OutOrStdout())
	}
	render()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	path := c.watchPath()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	c.log.Info().Str("path", path).Msg("watching partition")

	debounce := time.NewTimer(watchDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if time.Now().Before(quietUntil) || !c.partitionFile(event.Name) {
				continue
			}
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			render()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.log.Warn().Err(err).Msg("watcher error")
		}
	}
}
