package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTaskCmd groups the task subcommands.
func NewTaskCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}

	cmd.AddCommand(
		newTaskCreateCmd(clientFn, outputFn),
		newTaskShowCmd(clientFn, outputFn),
		newTaskPatchCmd(clientFn, outputFn),
	)

	return cmd
}

func newTaskCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var runID int64
	var annotation string
	var settings string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Add a task to a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID <= 0 {
				return fmt.Errorf("--run is required")
			}
			req := CreateTaskRequest{Name: args[0], Annotation: annotation}
			if settings != "" {
				if !json.Valid([]byte(settings)) {
					return fmt.Errorf("--settings is not valid JSON")
				}
				req.Settings = json.RawMessage(settings)
			}

			task, err := clientFn().CreateTask(cmd.Context(), runID, req)
			if err != nil {
				return err
			}
			printTask(outputFn(), task)
			return nil
		},
	}

	cmd.Flags().Int64Var(&runID, "run", 0, "Run the task belongs to")
	cmd.Flags().StringVar(&annotation, "annotation", "", "Free-form task annotation")
	cmd.Flags().StringVar(&settings, "settings", "", "Task settings as a JSON object")

	return cmd
}

func newTaskShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show TASK_ID",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			task, err := clientFn().GetTask(cmd.Context(), id)
			if err != nil {
				return err
			}
			printTask(outputFn(), task)
			return nil
		},
	}
}

func newTaskPatchCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var status string
	var result string
	var resultDetails string
	var duration int64

	cmd := &cobra.Command{
		Use:   "patch TASK_ID",
		Short: "Update the mutable fields of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			fields := map[string]any{}
			if cmd.Flags().Changed("status") {
				fields["status"] = status
			}
			if cmd.Flags().Changed("result") {
				fields["result"] = result
			}
			if cmd.Flags().Changed("result-details") {
				if !json.Valid([]byte(resultDetails)) {
					return fmt.Errorf("--result-details is not valid JSON")
				}
				fields["result_details"] = json.RawMessage(resultDetails)
			}
			if cmd.Flags().Changed("duration") {
				fields["duration"] = duration
			}
			if len(fields) == 0 {
				return fmt.Errorf("nothing to patch")
			}

			task, err := clientFn().PatchTask(cmd.Context(), id, fields)
			if err != nil {
				return err
			}
			printTask(outputFn(), task)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "New status (initialized, scheduled, completed, ignored)")
	cmd.Flags().StringVar(&result, "result", "", "Task result (passed, failed, error)")
	cmd.Flags().StringVar(&resultDetails, "result-details", "", "Result details as JSON")
	cmd.Flags().Int64Var(&duration, "duration", 0, "Task duration in milliseconds")

	return cmd
}

func printTask(out *Output, task *TaskResponse) {
	printTasks(out, []TaskResponse{*task})
}

func printTasks(out *Output, tasks []TaskResponse) {
	headers := []string{"ID", "RUN", "NAME", "STATUS", "RESULT", "DURATION"}
	rows := make([][]string, len(tasks))
	for i, t := range tasks {
		duration := ""
		if t.Duration != nil {
			duration = strconv.FormatInt(*t.Duration, 10)
		}
		rows[i] = []string{
			strconv.FormatInt(t.ID, 10),
			strconv.FormatInt(t.RunID, 10),
			t.Name,
			t.Status,
			t.Result,
			duration,
		}
	}
	if len(tasks) == 1 {
		out.Print(headers, rows, tasks[0])
		return
	}
	out.Print(headers, rows, tasks)
}
