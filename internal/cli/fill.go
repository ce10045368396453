package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fieldmark/fieldmark/internal/fill"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newFillCommand() *cobra.Command {
	var (
		fieldsPath string
		outputPath string
	)

	cmd := &cobra.Command{
		Use:   "fill template.docx",
		Short: "Fill a tagged template from an OCR field list",
		Long: `Fill substitutes the {{tag}} placeholders of a template with values from a
JSON field list ({"fields": [{"tag": ..., "label": ..., "value": ...}]}).
Unmatched tags are reported and left in place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(false)
			if err != nil {
				return err
			}
			defer app.close()

			templatePath := args[0]
			data, err := os.ReadFile(templatePath)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", templatePath, err)
			}

			raw, err := os.ReadFile(fieldsPath)
			if err != nil {
				return fmt.Errorf("failed to read fields file: %w", err)
			}
			var payload struct {
				Fields []fill.OCRField `json:"fields"`
			}
			if err := json.Unmarshal(raw, &payload); err != nil {
				return fmt.Errorf("failed to parse fields file: %w", err)
			}

			res, err := app.pipeline.FillTemplate(cmd.Context(), data, nil, payload.Fields)
			if err != nil {
				return err
			}

			if outputPath == "" {
				ext := filepath.Ext(templatePath)
				outputPath = strings.TrimSuffix(templatePath, ext) + ".filled" + ext
			}
			if err := os.WriteFile(outputPath, res.Docx, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outputPath, err)
			}
			app.log.Info("filled document written", zap.String("output", outputPath))

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Tag", "Value", "Method"})
			for _, m := range res.Matches {
				t.AppendRow(table.Row{m.Tag, m.Field.Value, m.Method})
			}
			for _, tag := range res.Stats.UnmatchedTags {
				t.AppendRow(table.Row{tag, "", "unmatched"})
			}
			t.AppendFooter(table.Row{
				fmt.Sprintf("%d tags", res.Stats.TotalTemplateTags),
				fmt.Sprintf("%d replaced", res.Stats.ReplacementsMade),
				fmt.Sprintf("ai=%v", res.Stats.AIMatchingUsed),
			})
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&fieldsPath, "fields", "f", "", "JSON file with OCR fields (required)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output document path")
	_ = cmd.MarkFlagRequired("fields")
	return cmd
}
