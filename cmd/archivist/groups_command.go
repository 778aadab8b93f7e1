package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"archivist/internal/grouping"
)

func newGroupsCommand(ctx *commandContext) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Show how the input directory would be grouped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := overridePaths(cfg, input, ""); err != nil {
				return err
			}
			result, err := grouping.Discover(cfg.Paths.InputDir, grouping.OptionsFromConfig(cfg.Grouping))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(result.Groups) == 0 {
				fmt.Fprintln(out, "No groups found")
			} else {
				rows := make([][]string, 0, len(result.Groups))
				for _, group := range result.Groups {
					source, err := filepath.Rel(cfg.Paths.InputDir, group.SourceDir)
					if err != nil {
						source = group.SourceDir
					}
					images := 0
					for _, item := range group.Items {
						images += len(item.Images)
					}
					rows = append(rows, []string{
						group.ID,
						string(group.Type),
						strconv.Itoa(len(group.SampleIDs)),
						strconv.Itoa(len(group.MemberIDs)),
						strconv.Itoa(images),
						source,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Group", "Type", "Samples", "Members", "Images", "Source"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
				))
			}
			printUnresolved(out, result.Unresolved)
			return nil
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "Input directory (overrides paths.input_dir)")
	return cmd
}

func printUnresolved(out io.Writer, unresolved []*grouping.AmbiguityError) {
	if len(unresolved) == 0 {
		return
	}
	fmt.Fprintf(out, "Unresolved entries (%d):\n", len(unresolved))
	for _, entry := range unresolved {
		fmt.Fprintf(out, "  %s: %s\n", entry.Path, entry.Reason)
	}
}
