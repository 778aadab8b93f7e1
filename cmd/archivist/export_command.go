package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"archivist/internal/config"
	"archivist/internal/export"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var output, file, delimiter string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the catalogue as a delimited table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := overridePaths(cfg, "", output); err != nil {
				return err
			}
			opts := export.OptionsFromConfig(cfg.Export)
			if cmd.Flags().Changed("delimiter") {
				r, err := parseDelimiter(delimiter)
				if err != nil {
					return err
				}
				opts.Delimiter = r
			}
			target := cfg.Export.Path
			if v := strings.TrimSpace(file); v != "" {
				if target, err = config.ExpandPath(v); err != nil {
					return fmt.Errorf("resolve export file: %w", err)
				}
			}
			return exportCatalog(cmd.OutOrStdout(), cfg, target, opts)
		},
	}

	cmd.Flags().StringVar(&output, "output", "", "Output directory holding item records (overrides paths.output_dir)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Destination file (default export.path)")
	cmd.Flags().StringVar(&delimiter, "delimiter", "", `Field delimiter, a single character or "tab"`)
	return cmd
}

func parseDelimiter(value string) (rune, error) {
	switch strings.ToLower(value) {
	case "tab", `\t`:
		return '\t', nil
	}
	if utf8.RuneCountInString(value) != 1 {
		return 0, fmt.Errorf("%w: --delimiter must be a single character", config.ErrInvalid)
	}
	r, _ := utf8.DecodeRuneInString(value)
	if r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("%w: --delimiter %q is not allowed", config.ErrInvalid, value)
	}
	return r, nil
}
