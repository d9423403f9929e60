package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newCursorCommand constructs the `cursor` command group.
func newCursorCommand() *cobra.Command {
	cursorCmd := &cobra.Command{Use: "cursor", Short: "Reader checkpoint operations"}
	cursorCmd.AddCommand(newCursorListCommand(), newCursorResetCommand())
	return cursorCmd
}

func newCursorListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <path>",
		Short: "List the checkpointed readers of a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			asJSON, _ := cmd.Flags().GetBool("json")
			rt, err := e.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			list, err := rt.Cursors(args[0]).List()
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "READER\tLAST ID\tCOMMITTED")
			for _, cp := range list {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", cp.Reader, cp.LastID, cp.CommittedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().Bool("json", false, "Print JSON")
	return cmd
}

func newCursorResetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <path> <reader>",
		Short: "Delete a reader checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			rt, err := e.openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Cursors(args[0]).Reset(args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", args[1])
			return nil
		},
	}
	return cmd
}
