package cli

import (
	"context"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewWorkCmd builds the agent loop: claim tasks from a run one at a time
// until the run is exhausted. With --exec each claimed task is handed to a
// shell command and reported back as completed.
func NewWorkCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var execCmd string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "work RUN_ID",
		Short: "Claim and execute tasks of a run until none are left",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := parseID(args[0])
			if err != nil {
				return err
			}

			client := clientFn()
			out := outputFn()

			for {
				task, err := client.Checkout(cmd.Context(), runID)
				if err != nil {
					return err
				}
				if task == nil {
					out.Message("run %d exhausted", runID)
					return nil
				}
				out.Message("claimed task %d: %s", task.ID, task.Name)

				if execCmd != "" {
					if err := executeTask(cmd.Context(), client, out, execCmd, task); err != nil {
						return err
					}
				}

				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-time.After(interval):
				}
			}
		},
	}

	cmd.Flags().StringVar(&execCmd, "exec", "", "Shell command to run per task (task fields in DROIDHUB_TASK_* env vars)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Pause between checkouts")

	return cmd
}

func executeTask(ctx context.Context, client *Client, out *Output, command string, task *TaskResponse) error {
	start := time.Now()
	proc := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	proc.Stdout = os.Stdout
	proc.Stderr = os.Stderr
	proc.Env = append(os.Environ(),
		"DROIDHUB_TASK_ID="+strconv.FormatInt(task.ID, 10),
		"DROIDHUB_TASK_NAME="+task.Name,
		"DROIDHUB_TASK_SETTINGS="+string(task.Settings),
		"DROIDHUB_RUN_ID="+strconv.FormatInt(task.RunID, 10),
	)

	runErr := proc.Run()
	duration := time.Since(start).Milliseconds()

	result := "passed"
	if runErr != nil {
		result = "failed"
	}

	patched, err := client.PatchTask(ctx, task.ID, map[string]any{
		"status":   "completed",
		"result":   result,
		"duration": duration,
	})
	if err != nil {
		return err
	}
	out.Message("task %d completed: %s (%d ms)", patched.ID, patched.Result, duration)
	return nil
}
