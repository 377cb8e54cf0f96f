package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List registered tasks and their parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := validateOutput(); err != nil {
			return err
		}
		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		tasks, err := b.ListTasks(cmd.Context())
		if err != nil {
			return err
		}
		if outputMode == "json" {
			return printJSON(cmd.OutOrStdout(), tasks)
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tREQUIRED\tOPTIONAL\tIDEMPOTENT")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", t.Name, strings.Join(t.Required, ","), strings.Join(t.Optional, ","), t.Idempotent)
		}
		return w.Flush()
	},
}

var readCmd = &cobra.Command{
	Use:   "read <path>",
	Short: "Print a file from the engine's data root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := openBackend(cmd.Context())
		if err != nil {
			return err
		}
		defer b.Close()

		data, err := b.ReadFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(tasksCmd, readCmd)
}
