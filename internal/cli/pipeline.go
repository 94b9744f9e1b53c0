package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Pipelines/internal/domain"
	"github.com/shaiso/Pipelines/internal/engine"
)

// NewValidateCmd создаёт команду проверки файла определения.
func NewValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a pipeline definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}

			order, err := engine.SortTopologically(def.DAG())
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Definition %q is valid: %d operations", def.Name, len(def.Operations)))
			rows := make([][]string, len(order))
			for i, name := range order {
				rows[i] = []string{strconv.Itoa(i + 1), name}
			}
			out.Print([]string{"ORDER", "OPERATION"}, rows, order)
			return nil
		},
	}
}

// NewCreateCmd создаёт команду создания pipeline run из файла определения.
func NewCreateCmd(backendFn BackendFunc, outputFn func() *Output) *cobra.Command {
	var noStart bool

	cmd := &cobra.Command{
		Use:   "create FILE",
		Short: "Create a pipeline and a run from a definition file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}

			backend, err := backendFn(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			p := def.Pipeline(time.Now().UTC())
			if err := backend.Store.CreatePipeline(cmd.Context(), p); err != nil {
				return fmt.Errorf("create pipeline: %w", err)
			}

			run, opRuns, err := backend.Store.CreatePipelineRun(cmd.Context(), p)
			if err != nil {
				return fmt.Errorf("create pipeline run: %w", err)
			}

			if !noStart {
				if err := backend.Publisher.PublishPipelineStart(cmd.Context(), run.ID, 0); err != nil {
					return fmt.Errorf("trigger start: %w", err)
				}
			}

			out.Success(fmt.Sprintf("Pipeline run created: %s", run.ID))
			names := make([]string, len(opRuns))
			for i := range opRuns {
				names[i] = opRuns[i].Name()
			}
			out.Print(
				[]string{"ID", "PIPELINE", "STATUS", "OPERATIONS"},
				[][]string{{run.ID.String(), p.Name, string(run.Status), strings.Join(names, ",")}},
				run,
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noStart, "no-start", false, "Create the run without triggering admission")

	return cmd
}

// NewSimulateCmd создаёт команду прогона определения в памяти.
func NewSimulateCmd(outputFn func() *Output) *cobra.Command {
	var opts SimulateOptions

	cmd := &cobra.Command{
		Use:   "simulate FILE",
		Short: "Dry-run a pipeline definition against an in-memory store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}

			sim, err := Simulate(cmd.Context(), def, opts)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline run finished with status %s after %d waves", sim.Status, len(sim.Waves)))
			for name, status := range sim.Operations {
				if status == domain.OperationStatusFailed {
					out.Warn(fmt.Sprintf("operation %s failed", name))
				}
			}
			rows := make([][]string, len(sim.Waves))
			for i, w := range sim.Waves {
				rows[i] = []string{
					strconv.Itoa(i + 1),
					strings.Join(w.Scheduled, ","),
					strings.Join(w.Blocked, ","),
					string(w.Status),
				}
			}
			out.Print([]string{"WAVE", "SCHEDULED", "SKIPPED", "PIPELINE"}, rows, sim)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&opts.Fail, "fail", nil, "Operations that report FAILED")
	cmd.Flags().IntVar(&opts.DefaultConcurrency, "concurrency", 0, "Budget when the definition sets none")
	cmd.Flags().BoolVar(&opts.SkippedBlocks, "skipped-blocks", false, "Treat SKIPPED upstream as not satisfied")

	return cmd
}
