package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/mq"
)

// NewStartCmd создаёт команду запуска цикла допуска.
func NewStartCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "start PIPELINE_RUN_ID",
		Short: "Trigger admission for a pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			backend, err := backendFn(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			if err := backend.Publisher.PublishPipelineStart(cmd.Context(), id, delay); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Start requested: %s", id))
			return nil
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", 0, "Deliver the trigger after this delay")

	return cmd
}

// NewStopCmd создаёт команду остановки pipeline run.
func NewStopCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return newPropagationCmd("stop", "Stop all pending operation runs of a pipeline run", backendFn, outputFn,
		func(ctx context.Context, p Publisher, id uuid.UUID, msg string) error {
			return p.PublishStopOperations(ctx, id, msg)
		},
	)
}

// NewSkipCmd создаёт команду пропуска оставшихся операций pipeline run.
func NewSkipCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return newPropagationCmd("skip", "Stop running and skip remaining operation runs of a pipeline run", backendFn, outputFn,
		func(ctx context.Context, p Publisher, id uuid.UUID, msg string) error {
			return p.PublishSkipOperations(ctx, id, msg)
		},
	)
}

type propagateFunc func(ctx context.Context, p Publisher, id uuid.UUID, msg string) error

func newPropagationCmd(use, short string, backendFn BackendFunc, outputFn func() *Output, publish propagateFunc) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   use + " PIPELINE_RUN_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			backend, err := backendFn(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			if err := publish(cmd.Context(), backend.Publisher, id, message); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("%s requested: %s", strings.ToUpper(use[:1])+use[1:], id))
			return nil
		},
	}

	cmd.Flags().StringVar(&message, "message", "", "Reason recorded in status history")

	return cmd
}

// NewCheckCmd создаёт команду пересчёта статуса pipeline run.
func NewCheckCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	var status string
	var message string

	cmd := &cobra.Command{
		Use:   "check PIPELINE_RUN_ID",
		Short: "Recompute the status of a pipeline run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			if status != "" {
				if _, err := domain.ParseOperationStatus(status); err != nil {
					return err
				}
			}

			backend, err := backendFn(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			if err := backend.Publisher.PublishCheckStatuses(cmd.Context(), id, status, message); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Status check requested: %s", id))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Operation status that caused the check")
	cmd.Flags().StringVar(&message, "message", "", "Message recorded with the pipeline status")

	return cmd
}

// NewReportCmd создаёт команду отчёта о статусе operation run.
func NewReportCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "report OPERATION_RUN_ID STATUS",
		Short: "Report the status of an operation run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			status, err := domain.ParseOperationStatus(args[1])
			if err != nil {
				return err
			}

			backend, err := backendFn(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			err = backend.Publisher.PublishOperationStatus(cmd.Context(), mq.OperationStatusPayload{
				OperationRunID: id,
				Status:         string(status),
				Message:        message,
			})
			if err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Status %s reported for %s", status, id))
			return nil
		},
	}

	cmd.Flags().StringVar(&message, "message", "", "Message recorded in status history")

	return cmd
}

// RunView — pipeline run вместе с его operation runs.
type RunView struct {
	Run        *domain.PipelineRun   `json:"run"`
	Operations []domain.OperationRun `json:"operations"`
}

// NewShowCmd создаёт команду просмотра pipeline run.
func NewShowCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show PIPELINE_RUN_ID",
		Short: "Show a pipeline run and its operation runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			backend, err := backendFn(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			view, err := loadRunView(cmd.Context(), backend.Store, id)
			if err != nil {
				return err
			}

			printRunView(outputFn(), view)
			return nil
		},
	}
}

func loadRunView(ctx context.Context, store Store, id uuid.UUID) (*RunView, error) {
	run, err := store.GetPipelineRun(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get pipeline run: %w", err)
	}
	ops, err := store.ListOperationRuns(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list operation runs: %w", err)
	}
	return &RunView{Run: run, Operations: ops}, nil
}

func printRunView(out *Output, view *RunView) {
	if out.jsonMode {
		out.JSON(view)
		return
	}

	run := view.Run
	fields := [][2]string{
		{"Pipeline run", run.ID.String()},
		{"Status", string(run.Status)},
		{"Concurrency", strconv.Itoa(run.Concurrency)},
		{"Updated", run.UpdatedAt.Format(time.RFC3339)},
	}
	if n := len(run.History); n > 0 && run.History[n-1].Message != "" {
		fields = append(fields, [2]string{"Message", run.History[n-1].Message})
	}
	out.Fields(fields)
	fmt.Fprintln(out.w)

	rows := make([][]string, len(view.Operations))
	for i, op := range view.Operations {
		rows[i] = []string{
			op.ID.String(),
			op.Name(),
			op.Operation.Kind,
			op.Operation.Class(),
			string(op.Status),
			strconv.Itoa(op.RetryCount),
		}
	}
	out.Table([]string{"OPERATION_RUN_ID", "NAME", "KIND", "CLASS", "STATUS", "RETRIES"}, rows)
}
