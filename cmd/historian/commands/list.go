package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/historian/pkg/config"
	"github.com/Sumatoshi-tech/historian/pkg/driver"
)

// NewListProjectsCommand creates the list-projects command.
func NewListProjectsCommand() *cobra.Command {
	f := &commonFlags{}

	cmd := &cobra.Command{
		Use:           "list-projects",
		Short:         "List every project discoverable in the zip directory",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runListProjects(cmd, f)
		},
	}

	f.register(cmd)

	return cmd
}

func runListProjects(cmd *cobra.Command, f *commonFlags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	if cfg.ZipDirectory == "" {
		return config.ErrNoZipDirectory
	}

	projects, err := driver.ListProjects(cfg.ZipDirectory)
	if err != nil {
		return err
	}

	tbl := table.NewWriter()
	tbl.SetOutputMirror(cmd.OutOrStdout())
	tbl.SetStyle(table.StyleLight)
	tbl.AppendHeader(table.Row{"Project", "Snapshots"})

	for _, p := range projects {
		tbl.AppendRow(table.Row{p.Name, p.Snapshots})
	}

	tbl.AppendFooter(table.Row{"Total", fmt.Sprintf("%d projects", len(projects))})
	tbl.Render()

	return nil
}
