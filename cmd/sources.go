package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List desktop audio sources",
	Long: `List the PipeWire nodes that produce audio. Any of them can be used as
the system source, e.g. 'mixcapture record --source system --system Firefox'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newService()
		defer svc.Close()

		sources, err := svc.ListDesktopSources(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Desktop audio sources (%d found):\n", len(sources))
		for i, src := range sources {
			marker := " "
			if src.ID == cfg.Capture.System {
				marker = "*"
			}
			fmt.Printf(" %s %d. %s\n", marker, i+1, src.Name)
		}
		return nil
	},
}
