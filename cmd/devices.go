package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List microphones",
	Long:  `List capture devices. The id or name can be used with 'record --mic'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newService()
		defer svc.Close()

		devices, err := svc.ListInputDevices(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Input devices (%d found):\n", len(devices))
		for i, d := range devices {
			def := ""
			if d.IsDefault {
				def = " (default)"
			}
			fmt.Printf("  %d. %s%s\n     id: %s\n", i+1, d.Label, def, d.ID)
		}
		return nil
	},
}
