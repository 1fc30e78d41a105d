package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd groups the run subcommands.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunCreateCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunUpdateCmd(clientFn, outputFn),
		newRunDeleteCmd(clientFn, outputFn),
		newRunTasksCmd(clientFn, outputFn),
	)

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListRunsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(cmd.Context(), opts)
			if err != nil {
				return err
			}

			headers := []string{"ID", "NAME", "OWNER", "STATUS", "CREATION"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{strconv.FormatInt(r.ID, 10), r.Name, r.Owner, r.Status, r.Creation}
			}
			outputFn().Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Owner, "owner", "", "Filter by owner")
	cmd.Flags().IntVar(&opts.Last, "last", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Skip, "skip", 0, "Number of results to skip")
	cmd.Flags().StringVar(&opts.Before, "before", "", "Runs created before this date (MM-DD-YYYY)")
	cmd.Flags().StringVar(&opts.After, "after", "", "Runs created on or after this date (MM-DD-YYYY)")

	return cmd
}

func newRunCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var owner string
	var settings string
	var details string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := CreateRunRequest{Name: args[0], Owner: owner}
			if settings != "" {
				if !json.Valid([]byte(settings)) {
					return fmt.Errorf("--settings is not valid JSON")
				}
				req.Settings = json.RawMessage(settings)
			}
			req.Details = clientMarkerDetails(details)

			run, err := clientFn().CreateRun(cmd.Context(), req)
			if err != nil {
				return err
			}
			printRun(outputFn(), run)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Run owner (defaults to the creator)")
	cmd.Flags().StringVar(&settings, "settings", "", "Run settings as a JSON object")
	cmd.Flags().StringVar(&details, "details", "", "Extra details as a JSON object")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			run, err := clientFn().GetRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			printRun(outputFn(), run)
			return nil
		},
	}
}

func newRunUpdateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var name string
	var owner string
	var status string

	cmd := &cobra.Command{
		Use:   "update RUN_ID",
		Short: "Update a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			var req UpdateRunRequest
			if cmd.Flags().Changed("name") {
				req.Name = &name
			}
			if cmd.Flags().Changed("owner") {
				req.Owner = &owner
			}
			if cmd.Flags().Changed("status") {
				req.Status = &status
			}

			run, err := clientFn().UpdateRun(cmd.Context(), id, req)
			if err != nil {
				return err
			}
			printRun(outputFn(), run)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New name")
	cmd.Flags().StringVar(&owner, "owner", "", "New owner")
	cmd.Flags().StringVar(&status, "status", "", "New status (Initialized, Scheduling, Running, Completed)")

	return cmd
}

func newRunDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete RUN_ID",
		Short: "Delete a run and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			status, err := clientFn().DeleteRun(cmd.Context(), id)
			if err != nil {
				return err
			}
			outputFn().Message("%s", status)
			return nil
		},
	}
}

func newRunTasksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks RUN_ID",
		Short: "List the tasks of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			tasks, err := clientFn().ListTasks(cmd.Context(), id)
			if err != nil {
				return err
			}
			printTasks(outputFn(), tasks)
			return nil
		},
	}
}

func printRun(out *Output, run *RunResponse) {
	headers := []string{"ID", "NAME", "OWNER", "STATUS", "CREATION"}
	rows := [][]string{{strconv.FormatInt(run.ID, 10), run.Name, run.Owner, run.Status, run.Creation}}
	out.Print(headers, rows, run)
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id: %s", raw)
	}
	return id, nil
}
