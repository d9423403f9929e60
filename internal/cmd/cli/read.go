package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/fmq/internal/filter"
	"github.com/rzbill/fmq/pkg/fmq"
)

// newReadCommand constructs the `read` subcommand.
func newReadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read <path>",
		Short: "Read messages from a queue",
		Long: "Read messages from a queue without modifying it. --from takes start, end, last or a message id.\n" +
			"With --name the reader resumes from its checkpoint and --commit saves the position on exit.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			from, _ := cmd.Flags().GetString("from")
			follow, _ := cmd.Flags().GetBool("follow")
			types, _ := cmd.Flags().GetInt32Slice("type")
			expr, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")
			name, _ := cmd.Flags().GetString("name")
			commit, _ := cmd.Flags().GetBool("commit")
			timeout := e.cfg.ReadTimeout()
			if cmd.Flags().Changed("timeout") {
				timeout, _ = cmd.Flags().GetDuration("timeout")
			}

			f, err := filter.Compile(expr)
			if err != nil {
				return err
			}
			ropts := e.cfg.ReaderOptions(e.logger)
			fromID := int64(fmq.NoID)
			if id, err := strconv.ParseInt(from, 10, 64); err == nil {
				fromID = id
			} else if ropts.Start, err = fmq.ParsePosition(from); err != nil {
				return err
			}
			if name != "" {
				rt, err := e.openRuntime()
				if err != nil {
					return err
				}
				defer rt.Close()
				ropts.Name, ropts.Cursors = name, rt.Cursors(args[0])
			} else if commit {
				return fmt.Errorf("%w: --commit needs --name", fmq.ErrInvalidConfig)
			}

			r, err := fmq.OpenReader(args[0], ropts)
			if err != nil {
				return err
			}
			defer r.Close()
			if cmd.Flags().Changed("from") {
				if err := seekFrom(r, ropts.Start, fromID); err != nil {
					return err
				}
			}

			readOpts := fmq.ReadOptions{Types: types, Filter: f}
			if follow {
				readOpts.Block = true
				readOpts.Timeout = timeout
				if readOpts.Timeout == 0 {
					readOpts.Timeout = -1
				}
			}

			out := cmd.OutOrStdout()
			n := 0
			for limit == 0 || n < limit {
				res, err := r.ReadNext(cmd.Context(), readOpts)
				if errors.Is(err, fmq.ErrTimedOut) || errors.Is(err, context.Canceled) {
					break
				}
				if err != nil {
					return err
				}
				if res.Status == fmq.ReadEndOfData {
					break
				}
				if res.Status == fmq.ReadMissed {
					fmt.Fprintf(cmd.ErrOrStderr(), "missed %d messages\n", res.Missed)
					continue
				}
				m := res.Message
				if asJSON {
					if err := writeJSON(out, decodedMessage(m)); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(out, "%d\t%d\t%d\t%s\t%s\n", m.ID, m.Type, m.Subtype, m.StoreTime.Format(time.RFC3339Nano), printable(m.Payload))
				}
				n++
			}
			if commit {
				return r.Commit()
			}
			return nil
		},
	}
	cmd.Flags().String("from", "start", "Start position: start|end|last|<id>")
	cmd.Flags().Bool("follow", false, "Wait for new messages")
	cmd.Flags().Duration("timeout", 0, "With --follow, stop after waiting this long for a message (default from config; 0 waits forever)")
	cmd.Flags().Int32Slice("type", nil, "Only read these message types")
	cmd.Flags().String("filter", "", "CEL filter over id, msg_type, msg_subtype, size, store_time_ms, text, json, now_ms")
	cmd.Flags().Int("limit", 0, "Stop after N messages (0 = no limit)")
	cmd.Flags().Bool("json", false, "Print one JSON object per message")
	cmd.Flags().String("name", "", "Checkpointed reader name")
	cmd.Flags().Bool("commit", false, "Commit the reader position on exit (needs --name)")
	return cmd
}

// seekFrom positions r at a named position, or so that the next read returns
// message id.
func seekFrom(r *fmq.Reader, pos fmq.Position, id int64) error {
	if id == fmq.NoID {
		return r.Seek(pos)
	}
	if err := r.SeekToID(id); err != nil {
		return err
	}
	return r.SeekBack()
}
