package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/bft-labs/nvsq"
	"github.com/bft-labs/nvsq/internal/app"
)

func (c *cli) provisionCommand() *cobra.Command {
	var erase bool

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Initialize the partition, erasing it if it is full or from a newer layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			p, err := nvsq.OpenPartition(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			if err := app.Provision(ctx, p, erase, c.logger()); err != nil {
				return err
			}
			stats, err := p.Stats(ctx)
			if err != nil {
				return err
			}
			c.log.Info().
				Str("partition", c.cfg.Partition).
				Int("used_entries", stats.UsedEntries).
				Int("free_entries", stats.FreeEntries).
				Int("total_entries", stats.TotalEntries).
				Msg("partition ready")
			return nil
		},
	}
	cmd.Flags().BoolVar(&erase, "erase", false, "erase every namespace before initializing")
	return cmd
}

func (c *cli) recoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Print the id of the newest committed record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := c.openQueue(cmd.Context())
			if err != nil {
				return err
			}
			defer q.Close()

			id := q.LastID()
			if id == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "0 (empty)")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", id, nvsq.FormatKey(id))
			return nil
		},
	}
}

func (c *cli) enqueueCommand() *cobra.Command {
	var (
		file string
		pad  bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue one record read from a file or stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				b   []byte
				err error
			)
			if file == "-" {
				b, err = io.ReadAll(io.LimitReader(cmd.InOrStdin(), int64(c.cfg.RecordSize)+1))
			} else {
				b, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read record: %w", err)
			}

			rec, err := fitRecord(b, c.cfg.RecordSize, pad)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			q, err := c.openQueue(ctx)
			if err != nil {
				return err
			}
			defer q.Close()

			id, err := q.Enqueue(ctx, rec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", id, nvsq.FormatKey(id))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "record file, or - for stdin")
	cmd.Flags().BoolVar(&pad, "pad", false, "zero-pad records shorter than record-size")
	return cmd
}

// fitRecord checks b against the record size, padding it when allowed.
func fitRecord(b []byte, size int, pad bool) (nvsq.Record, error) {
	switch {
	case len(b) == size:
		return nvsq.Record(b), nil
	case len(b) < size && pad:
		rec := make(nvsq.Record, size)
		copy(rec, b)
		return rec, nil
	case len(b) < size:
		return nil, fmt.Errorf("record is %d bytes, want %d (use --pad to zero-pad)", len(b), size)
	default:
		return nil, fmt.Errorf("record is longer than %d bytes", size)
	}
}

func (c *cli) readCommand() *cobra.Command {
	var dump bool

	cmd := &cobra.Command{
		Use:   "read ID",
		Short: "Write a committed record to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("parse id %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			q, err := c.openQueue(ctx)
			if err != nil {
				return err
			}
			defer q.Close()

			rec, err := q.Read(ctx, nvsq.RecordID(n))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if dump {
				_, err = io.WriteString(out, hex.Dump(rec))
				return err
			}
			_, err = out.Write(rec)
			return err
		},
	}
	cmd.Flags().BoolVar(&dump, "hex", false, "print a hex dump instead of raw bytes")
	return cmd
}

const fillLong = `Enqueue copies of a constant record. With --count 0 the run continues until
the capacity guard refuses a write. Store errors stop the run unless
--on-error continue is given; --retries retries each record with backoff first.
A continuing run backs off between failed records and gives up after
--max-errors of them in a row.`

func (c *cli) fillCommand() *cobra.Command {
	var (
		count    int
		fillByte uint8
		logStats bool
	)

	cmd := &cobra.Command{
		Use:   "fill",
		Short: "Enqueue records until a count is reached or the partition is full",
		Long:  fillLong,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := app.ParseErrorPolicy(c.cfg.OnError)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			q, err := c.openQueue(ctx)
			if err != nil {
				return err
			}
			defer q.Close()

			template := make(nvsq.Record, c.cfg.RecordSize)
			for i := range template {
				template[i] = fillByte
			}
			source := func(int) nvsq.Record { return template }

			start := time.Now()
			rep, err := q.Fill(ctx, source, nvsq.ProducerConfig{
				Count:                count,
				OnStoreError:         policy,
				MaxConsecutiveErrors: c.cfg.MaxErrors,
				Retries:              c.cfg.Retries,
				BackoffInitial:       c.cfg.RetryBackoff,
				LogStats:             logStats,
			})
			c.printReport(rep, time.Since(start))
			if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				c.log.Warn().Msg("fill interrupted")
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "records to enqueue (0: until the partition is full)")
	cmd.Flags().Uint8Var(&fillByte, "byte", 0, "value of every record byte")
	cmd.Flags().BoolVar(&logStats, "log-stats", false, "log partition usage after every record")
	cmd.Flags().StringVar(&c.cfg.OnError, "on-error", c.cfg.OnError, "on store error: stop or continue")
	cmd.Flags().IntVar(&c.cfg.Retries, "retries", c.cfg.Retries, "retries per record after a store error")
	cmd.Flags().DurationVar(&c.cfg.RetryBackoff, "retry-backoff", c.cfg.RetryBackoff, "initial retry backoff")
	cmd.Flags().IntVar(&c.cfg.MaxErrors, "max-errors", c.cfg.MaxErrors, "consecutive failed records before --on-error continue gives up")
	return cmd
}

func (c *cli) printReport(rep nvsq.Report, elapsed time.Duration) {
	written := uint64(rep.Enqueued) * uint64(c.cfg.RecordSize)

	ev := c.log.Info().
		Int("enqueued", rep.Enqueued).
		Int("attempted", rep.Attempted).
		Int("store_errors", rep.StoreErrors).
		Int("retries", rep.Retries).
		Str("written", humanize.IBytes(written)).
		Dur("elapsed", elapsed)
	if rep.Enqueued > 0 {
		ev = ev.Str("first", nvsq.FormatKey(rep.FirstID)).Str("last", nvsq.FormatKey(rep.LastID))
	}
	if rep.Capacity != nil {
		ev = ev.Int("free_entries", rep.Capacity.Stats.FreeEntries).Int("margin", rep.Capacity.Margin)
		ev.Msg("fill stopped: capacity exhausted")
		return
	}
	ev.Msg("fill finished")
}
