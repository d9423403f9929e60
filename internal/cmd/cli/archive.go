package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/fmq/internal/archive"
	archiverun "github.com/rzbill/fmq/internal/cmd/archiver"
	"github.com/rzbill/fmq/internal/filter"
	pebblestore "github.com/rzbill/fmq/internal/storage/pebble"
	"github.com/rzbill/fmq/pkg/fmq"
)

// newArchiveCommand constructs the `archive` command group.
func newArchiveCommand() *cobra.Command {
	archiveCmd := &cobra.Command{Use: "archive", Short: "Copy queue messages into the durable archive"}
	archiveCmd.AddCommand(
		newArchiveDrainCommand(),
		newArchiveReadCommand(),
		newArchiveTrimCommand(),
		newArchiveRunCommand(),
	)
	return archiveCmd
}

func newArchiveDrainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drain <path>",
		Short: "Archive the messages a checkpointed reader has not seen yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			follow, _ := cmd.Flags().GetBool("follow")
			batch, _ := cmd.Flags().GetInt("batch")
			from, _ := cmd.Flags().GetString("from")
			types, _ := cmd.Flags().GetInt32Slice("type")
			expr, _ := cmd.Flags().GetString("filter")
			f, err := filter.Compile(expr)
			if err != nil {
				return err
			}

			rt, err := e.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			ropts := e.cfg.ReaderOptions(e.logger)
			if ropts.Start, err = fmq.ParsePosition(from); err != nil {
				return err
			}
			ropts.Name, ropts.Cursors = name, rt.Cursors(args[0])
			r, err := fmq.OpenReader(args[0], ropts)
			if err != nil {
				return err
			}
			defer r.Close()
			l, err := rt.OpenArchive(args[0])
			if err != nil {
				return err
			}
			stats, err := archive.Drain(cmd.Context(), r, l, archive.DrainOptions{
				BatchSize: batch,
				Follow:    follow,
				Commit:    true,
				Read:      fmq.ReadOptions{Types: types, Filter: f},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %d messages in %d batches (missed %d, last seq %d)\n",
				stats.Archived, stats.Batches, stats.Missed, stats.LastSeq)
			return nil
		},
	}
	cmd.Flags().String("name", "archiver", "Checkpointed reader name")
	cmd.Flags().Bool("follow", false, "Keep archiving new messages until interrupted")
	cmd.Flags().Int("batch", 256, "Messages per archive batch")
	cmd.Flags().String("from", "start", "Start position for a reader without a checkpoint: start|end|last")
	cmd.Flags().Int32Slice("type", nil, "Only archive these message types")
	cmd.Flags().String("filter", "", "Only archive messages matching this CEL filter")
	return cmd
}

func newArchiveReadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <path>",
		Short: "Read archived messages of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			start, _ := cmd.Flags().GetUint64("start")
			limit, _ := cmd.Flags().GetInt("limit")
			reverse, _ := cmd.Flags().GetBool("reverse")
			asJSON, _ := cmd.Flags().GetBool("json")

			rt, err := e.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			l, err := rt.OpenArchive(args[0])
			if err != nil {
				return err
			}
			items, next, err := l.Read(archive.ReadOptions{Start: archive.TokenFromSeq(start), Limit: limit, Reverse: reverse})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, it := range items {
				if asJSON {
					m := map[string]any{
						"seq":        it.Seq,
						"id":         it.QueueID,
						"type":       it.Type,
						"subtype":    it.Subtype,
						"store_time": it.StoreTime.Format(time.RFC3339Nano),
					}
					addPayload(m, it.Payload)
					if err := writeJSON(out, m); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "%d\t%d\t%d\t%d\t%s\t%s\n", it.Seq, it.QueueID, it.Type, it.Subtype, it.StoreTime.Format(time.RFC3339Nano), printable(it.Payload))
			}
			if !next.IsZero() {
				fmt.Fprintf(cmd.ErrOrStderr(), "next: %d\n", next.Seq())
			}
			return nil
		},
	}
	cmd.Flags().Uint64("start", 0, "First sequence to read (0 = oldest, or newest with --reverse)")
	cmd.Flags().Int("limit", 100, "Maximum entries (0 = all)")
	cmd.Flags().Bool("reverse", false, "Read newest first")
	cmd.Flags().Bool("json", false, "Print one JSON object per entry")
	return cmd
}

func newArchiveTrimCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trim <path>",
		Short: "Delete the oldest archived messages by age or total size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			maxBytes, _ := cmd.Flags().GetInt64("max-bytes")
			if olderThan <= 0 && maxBytes <= 0 {
				return fmt.Errorf("%w: set --older-than or --max-bytes", fmq.ErrInvalidConfig)
			}
			rt, err := e.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			l, err := rt.OpenArchive(args[0])
			if err != nil {
				return err
			}
			before, err := l.Size()
			if err != nil {
				return err
			}
			if err := archiverun.Trim(cmd.Context(), l, olderThan, maxBytes); err != nil {
				return err
			}
			after, err := l.Size()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archive size %d -> %d bytes\n", before, after)
			return nil
		},
	}
	cmd.Flags().Duration("older-than", 0, "Delete messages stored longer ago than this")
	cmd.Flags().Int64("max-bytes", 0, "Delete the oldest messages until the archive fits")
	return cmd
}

func newArchiveRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <path>",
		Short: "Follow a queue, archive every message and apply retention until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			from, _ := cmd.Flags().GetString("from")
			batch, _ := cmd.Flags().GetInt("batch")
			retainAge, _ := cmd.Flags().GetDuration("retain-age")
			retainBytes, _ := cmd.Flags().GetInt64("retain-bytes")
			trimEvery, _ := cmd.Flags().GetDuration("trim-interval")
			fsyncMode, _ := cmd.Flags().GetString("fsync")

			start, err := fmq.ParsePosition(from)
			if err != nil {
				return err
			}
			mode := pebblestore.FsyncModeAlways
			switch fsyncMode {
			case "never":
				mode = pebblestore.FsyncModeNever
			case "interval":
				mode = pebblestore.FsyncModeInterval
			case "always":
				mode = pebblestore.FsyncModeAlways
			default:
				return fmt.Errorf("invalid --fsync; use always|interval|never")
			}
			return archiverun.Run(cmd.Context(), archiverun.Options{
				QueuePath:    args[0],
				Name:         name,
				DataDir:      e.cfg.DataDir(),
				Fsync:        mode,
				Config:       e.cfg,
				Start:        start,
				BatchSize:    batch,
				RetainAge:    retainAge,
				RetainBytes:  retainBytes,
				TrimInterval: trimEvery,
				Logger:       e.logger,
			})
		},
	}
	cmd.Flags().String("name", "archiver", "Checkpointed reader name")
	cmd.Flags().String("from", "start", "Start position for a reader without a checkpoint: start|end|last")
	cmd.Flags().Int("batch", 256, "Messages per archive batch")
	cmd.Flags().Duration("retain-age", 0, "Trim archived messages older than this (0 = keep)")
	cmd.Flags().Int64("retain-bytes", 0, "Trim the archive to this many bytes (0 = unbounded)")
	cmd.Flags().Duration("trim-interval", time.Minute, "How often retention is applied")
	cmd.Flags().String("fsync", "always", "State store fsync mode: always|interval|never")
	return cmd
}
