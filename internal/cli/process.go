package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newProcessCommand() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "process input.docx",
		Short: "Detect variables in a DOCX and produce a tagged template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(false)
			if err != nil {
				return err
			}
			defer app.close()

			inputPath := args[0]
			data, err := os.ReadFile(inputPath)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", inputPath, err)
			}

			res, err := app.pipeline.CreateTemplate(cmd.Context(), data)
			if err != nil {
				return err
			}

			if outputPath == "" {
				ext := filepath.Ext(inputPath)
				outputPath = inputPath[:len(inputPath)-len(ext)] + ".template" + ext
			}
			if err := os.WriteFile(outputPath, res.Docx, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outputPath, err)
			}
			app.log.Info("template written",
				zap.String("output", outputPath),
				zap.Int("variables", len(res.Variables)))

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Tag", "Original value"})
			for _, v := range res.Variables {
				t.AppendRow(table.Row{v.FieldTag, v.FieldValue})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output template path")
	return cmd
}
