package cli

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recent processing jobs and stored templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(true)
			if err != nil {
				return err
			}
			defer app.close()

			jobs, err := app.store.ListJobs(limit)
			if err != nil {
				return err
			}
			jt := table.NewWriter()
			jt.SetOutputMirror(os.Stdout)
			jt.SetTitle("Recent jobs")
			jt.AppendHeader(table.Row{"ID", "Kind", "Status", "Error", "Updated"})
			for _, j := range jobs {
				jt.AppendRow(table.Row{j.ID, j.Kind, j.Status, j.Error, j.UpdatedAt.Format("2006-01-02 15:04:05")})
			}
			jt.Render()

			templates, err := app.store.ListTemplates()
			if err != nil {
				return err
			}
			tt := table.NewWriter()
			tt.SetOutputMirror(os.Stdout)
			tt.SetTitle("Templates")
			tt.AppendHeader(table.Row{"ID", "Name", "Tags"})
			for _, t := range templates {
				tt.AppendRow(table.Row{t.ID, t.Name, len(t.TagMetadata)})
			}
			tt.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs to list")
	return cmd
}
