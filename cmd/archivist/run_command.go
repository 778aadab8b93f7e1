package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"archivist/internal/catalog"
	"archivist/internal/config"
	"archivist/internal/consensus"
	"archivist/internal/export"
	"archivist/internal/store"
	"archivist/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var input, output, exportPath, metricsFile string
	var overwrite, forceConsensus bool
	var workers int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Catalogue every item under the input directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := overridePaths(cfg, input, output); err != nil {
				return err
			}
			if overwrite {
				cfg.Workflow.Overwrite = true
			}
			if forceConsensus {
				cfg.Consensus.ForceRecompute = true
			}
			if cmd.Flags().Changed("workers") {
				if workers <= 0 {
					return fmt.Errorf("%w: --workers must be positive", config.ErrInvalid)
				}
				cfg.Workflow.Workers = workers
			}
			if strings.TrimSpace(metricsFile) != "" {
				if cfg.Metrics.TextfilePath, err = config.ExpandPath(strings.TrimSpace(metricsFile)); err != nil {
					return fmt.Errorf("resolve metrics file: %w", err)
				}
			}

			logger, err := ctx.logger(cfg)
			if err != nil {
				return err
			}
			opts := append([]workflow.Option{workflow.WithLogger(logger)}, ctx.managerOpts...)
			manager := workflow.NewManager(cfg, opts...)

			summary, runErr := manager.Run(cmd.Context())
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}

			out := cmd.OutOrStdout()
			printRunSummary(out, summary)

			if cmd.Flags().Changed("export") {
				target := strings.TrimSpace(exportPath)
				if target == "" {
					target = cfg.Export.Path
				}
				if err := exportCatalog(out, cfg, target, export.OptionsFromConfig(cfg.Export)); err != nil {
					fmt.Fprintf(out, "Export failed: %v\n", err)
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Input directory (overrides paths.input_dir)")
	cmd.Flags().StringVar(&output, "output", "", "Output directory (overrides paths.output_dir)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Recompute every item even when a record exists")
	cmd.Flags().BoolVar(&forceConsensus, "force-consensus", false, "Recompute group consensus even when a sidecar exists")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent items (overrides workflow.workers)")
	cmd.Flags().StringVar(&exportPath, "export", "", "Export the catalogue after the run; --export=FILE overrides export.path")
	cmd.Flags().Lookup("export").NoOptDefVal = " "
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write a Prometheus textfile snapshot after the run")
	return cmd
}

func printRunSummary(out io.Writer, summary workflow.Summary) {
	status := "completed"
	if summary.Interrupted {
		status = "interrupted"
	}
	fmt.Fprintf(out, "Run %s %s in %s\n", summary.RunID, status, summary.Duration.Round(time.Millisecond))

	overview := [][]string{
		{"Groups", fmt.Sprintf("A=%d B=%d C=%d", summary.Groups[catalog.GroupTypeA], summary.Groups[catalog.GroupTypeB], summary.Groups[catalog.GroupTypeC])},
		{"Items", strconv.Itoa(summary.Items)},
		{"Series samples", strconv.Itoa(summary.Samples)},
		{"Finalized", strconv.Itoa(summary.Finalized)},
		{"Pending", strconv.Itoa(summary.Pending)},
		{"Consensus", fmt.Sprintf("computed=%d reused=%d in-memory=%d failed=%d",
			summary.Consensus[consensus.SourceComputed],
			summary.Consensus[consensus.SourceReused],
			summary.Consensus[consensus.SourceMemory],
			summary.ConsensusFailed)},
		{"Finalize failures", strconv.Itoa(summary.FinalizeFailures)},
		{"Model calls", formatCalls(summary)},
		{"Unresolved", strconv.Itoa(len(summary.Unresolved))},
	}
	fmt.Fprintln(out, renderTable([]string{"Metric", "Value"}, overview, []columnAlignment{alignLeft, alignLeft}))

	stageRows := make([][]string, 0, len(catalog.ItemStages))
	for _, stage := range catalog.ItemStages {
		counts := summary.Stages[stage]
		stageRows = append(stageRows, []string{
			string(stage),
			strconv.Itoa(counts.OK),
			strconv.Itoa(counts.Error),
			strconv.Itoa(counts.Skipped),
			strconv.Itoa(counts.Pending),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Stage", "OK", "Error", "Skipped", "Pending"},
		stageRows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	))

	if len(summary.ItemErrors) > 0 {
		fmt.Fprintln(out, "Item errors:")
		for _, itemErr := range summary.ItemErrors {
			fmt.Fprintf(out, "  %s: %s\n", itemErr.ItemID, itemErr.Err)
		}
	}
	printUnresolved(out, summary.Unresolved)
}

func formatCalls(summary workflow.Summary) string {
	if len(summary.CallOutcomes) == 0 {
		return strconv.Itoa(summary.ModelCalls)
	}
	outcomes := make([]string, 0, len(summary.CallOutcomes))
	for outcome, n := range summary.CallOutcomes {
		outcomes = append(outcomes, fmt.Sprintf("%s=%d", outcome, n))
	}
	sort.Strings(outcomes)
	return fmt.Sprintf("%d (%s)", summary.ModelCalls, strings.Join(outcomes, " "))
}

func exportCatalog(out io.Writer, cfg *config.Config, target string, opts export.Options) error {
	st, err := store.Open(cfg.ItemsDir())
	if err != nil {
		return err
	}
	rows, skipped, err := export.LoadRecords(st, nil)
	if err != nil {
		return err
	}
	summary, err := export.WriteFile(target, rows, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Exported %d rows (%d columns) to %s\n", summary.Rows, len(summary.Columns), target)
	if len(skipped) > 0 {
		fmt.Fprintf(out, "Skipped unreadable records: %s\n", strings.Join(skipped, ", "))
	}
	return nil
}
