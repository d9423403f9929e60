package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rzbill/fmq/pkg/fmq"
	logpkg "github.com/rzbill/fmq/pkg/log"
)

// newCreateCommand constructs the `create` subcommand.
func newCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <path>",
		Short: "Create an empty queue file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			opts := e.cfg.CreateOptions(e.logger)
			if cmd.Flags().Changed("slots") {
				opts.SlotCount, _ = cmd.Flags().GetInt("slots")
			}
			if cmd.Flags().Changed("buffer-size") {
				opts.BufferSize, _ = cmd.Flags().GetInt64("buffer-size")
			}
			opts.Overwrite, _ = cmd.Flags().GetBool("overwrite")
			q, err := fmq.Create(args[0], opts)
			if err != nil {
				return err
			}
			h := q.Header()
			if err := q.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s: slots=%d buffer=%d\n", args[0], h.SlotCount, h.BufferSize)
			return nil
		},
	}
	cmd.Flags().Int("slots", 0, "Number of message slots (default from config)")
	cmd.Flags().Int64("buffer-size", 0, "Data buffer size in bytes (default from config)")
	cmd.Flags().Bool("overwrite", false, "Replace an existing file")
	return cmd
}

// newWriteCommand constructs the `write` subcommand.
func newWriteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <path>",
		Short: "Append messages to a queue",
		Long:  "Append one message from --data, --file or stdin. With --lines every stdin line is a message.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			typ, _ := cmd.Flags().GetInt32("type")
			subtype, _ := cmd.Flags().GetInt32("subtype")
			data, _ := cmd.Flags().GetString("data")
			file, _ := cmd.Flags().GetString("file")
			lines, _ := cmd.Flags().GetBool("lines")
			wait, _ := cmd.Flags().GetDuration("lock-wait")

			opts := e.cfg.WriterOptions(e.logger)
			opts.LockWait = wait
			if cmd.Flags().Changed("compression") {
				name, _ := cmd.Flags().GetString("compression")
				if opts.Compression, err = fmq.ParseCompression(name); err != nil {
					return err
				}
			}
			opts.OnEvict = func(r fmq.EvictedRange) {
				e.logger.Debug("evicted", logpkg.Int64("from_id", r.FromID), logpkg.Int64("to_id", r.ToID), logpkg.Int("count", r.Count))
			}

			var payloads [][]byte
			switch {
			case cmd.Flags().Changed("data"):
				payloads = [][]byte{[]byte(data)}
			case file != "":
				b, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				payloads = [][]byte{b}
			case lines:
				sc := bufio.NewScanner(cmd.InOrStdin())
				sc.Buffer(make([]byte, 64<<10), 64<<20)
				for sc.Scan() {
					payloads = append(payloads, bytes.Clone(sc.Bytes()))
				}
				if err := sc.Err(); err != nil {
					return err
				}
			default:
				b, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return err
				}
				payloads = [][]byte{b}
			}

			w, err := fmq.OpenWriter(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			defer w.Close()
			for _, p := range payloads {
				id, err := w.Append(typ, subtype, p)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "id: %d\n", id)
			}
			return w.Close()
		},
	}
	cmd.Flags().Int32("type", 0, "Message type")
	cmd.Flags().Int32("subtype", 0, "Message subtype")
	cmd.Flags().String("data", "", "Message payload")
	cmd.Flags().String("file", "", "Read the payload from a file")
	cmd.Flags().Bool("lines", false, "Write each stdin line as a message")
	cmd.Flags().String("compression", "", "Compression: none|zstd|s2|snappy (default from config)")
	cmd.Flags().Duration("lock-wait", 0, "Wait this long for another writer to release the queue")
	return cmd
}

// newStatCommand constructs the `stat` subcommand.
func newStatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Show queue status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			showSlots, _ := cmd.Flags().GetBool("slots")
			asJSON, _ := cmd.Flags().GetBool("json")

			q, err := fmq.Open(args[0], fmq.ReadOnly, fmq.Options{Logger: e.logger})
			if err != nil {
				return err
			}
			defer q.Close()
			st, err := q.Status()
			if err != nil {
				return err
			}
			var slots []slotView
			if showSlots {
				sb, table, err := q.Slots()
				if err != nil {
					return err
				}
				slots = activeSlots(q.Header(), sb, table)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), statView{Path: args[0], Status: st, Slots: slots})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "path:        %s\n", args[0])
			fmt.Fprintf(out, "slots:       %d/%d (%.1f%%)\n", st.ActiveSlots, st.SlotCount, st.SlotFraction*100)
			fmt.Fprintf(out, "buffer:      %d/%d bytes (%.1f%%)\n", st.BytesUsed, st.BufferSize, st.BufferFraction*100)
			fmt.Fprintf(out, "oldest id:   %d (slot %d)\n", st.OldestID, st.OldestSlot)
			fmt.Fprintf(out, "youngest id: %d (slot %d)\n", st.YoungestID, st.YoungestSlot)
			fmt.Fprintf(out, "write at:    %d\n", st.WriteOffset)
			fmt.Fprintf(out, "generation:  %d\n", st.Generation)
			if !st.TimeWritten.IsZero() {
				fmt.Fprintf(out, "written:     %s\n", st.TimeWritten.Format(time.RFC3339Nano))
			}
			if showSlots {
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "SLOT\tID\tOFFSET\tLEN\tSTORED\tTYPE\tSUBTYPE\tCOMP\tTIME")
				for _, s := range slots {
					fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
						s.Slot, s.ID, s.Offset, s.Length, s.StoredLen, s.Type, s.Subtype, s.Compression, s.StoreTime.Format(time.RFC3339Nano))
				}
				return tw.Flush()
			}
			return nil
		},
	}
	cmd.Flags().Bool("slots", false, "List the active slot entries")
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

type statView struct {
	Path   string     `json:"path"`
	Status fmq.Status `json:"status"`
	Slots  []slotView `json:"slots,omitempty"`
}

type slotView struct {
	Slot        int32     `json:"slot"`
	ID          int64     `json:"id"`
	Offset      int64     `json:"offset"`
	Length      int32     `json:"length"`
	StoredLen   int32     `json:"storedLen"`
	Type        int32     `json:"type"`
	Subtype     int32     `json:"subtype"`
	Compression string    `json:"compression"`
	StoreTime   time.Time `json:"storeTime"`
}

// activeSlots lists the slot entries of the active region from oldest to
// youngest.
func activeSlots(h fmq.Header, st fmq.StatusBlock, table []fmq.SlotEntry) []slotView {
	g := fmq.Geometry{SlotCount: h.SlotCount, OldestSlot: st.OldestSlot, YoungestSlot: st.YoungestSlot}
	if g.Empty() {
		return nil
	}
	var out []slotView
	for s := g.OldestSlot; ; s = g.NextSlot(s) {
		e := table[s]
		out = append(out, slotView{
			Slot: s, ID: e.ID, Offset: e.Offset, Length: e.Length, StoredLen: e.StoredLen,
			Type: e.Type, Subtype: e.Subtype, Compression: e.Compression.String(), StoreTime: e.StoreTime,
		})
		if s == g.YoungestSlot {
			return out
		}
	}
}

// newCheckCommand constructs the `check` subcommand.
func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <path>",
		Short: "Verify the header, status, slot table and every frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			rep, err := fmq.Check(args[0], fmq.Options{Logger: e.logger})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: active=%d bytes=%d", rep.ActiveSlots, rep.BytesUsed)
			if len(rep.StaleSlots) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), " stale_slots=%v", rep.StaleSlots)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}

// newRecoverCommand constructs the `recover` subcommand.
func newRecoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover <path>",
		Short: "Rebuild the status block from the slot table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			rep, err := fmq.Recover(cmd.Context(), args[0], fmq.Options{Logger: e.logger})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rep.String())
			return nil
		},
	}
	return cmd
}

// newClearCommand constructs the `clear` subcommand.
func newClearCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear <path>",
		Short: "Discard every message, keeping the geometry and id sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			w, err := fmq.OpenWriter(cmd.Context(), args[0], e.cfg.WriterOptions(e.logger))
			if err != nil {
				return err
			}
			defer w.Close()
			if err := w.Clear(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", args[0])
			return w.Close()
		},
	}
	return cmd
}
