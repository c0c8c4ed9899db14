package cmd

import (
	"fmt"
	"strings"

	"github.com/audiolibrelab/mixcapture/internal/config"
	"github.com/audiolibrelab/mixcapture/internal/platform"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the resolved capture settings and saved recordings",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := cfg.EncoderFormat()

		fmt.Printf("=== RESOLVED CONFIGURATION (profile %s) ===\n", cfg.Profile)

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("backend: %s (uses %s)\n", cfg.Audio.Backend, platform.New(cfg).Backend())
		fmt.Printf("available backends: %s\n", backendList())
		fmt.Printf("format: wav %d Hz, %d channels, %d bit\n", format.SampleRate, format.Channels, format.BitDepth)

		fmt.Printf("\n[Capture]\n")
		fmt.Printf("source: %s\n", cfg.Capture.Source)
		fmt.Printf("microphone: %s\n", orDefault(cfg.Capture.Microphone))
		fmt.Printf("system: %s\n", orDefault(cfg.Capture.System))
		fmt.Printf("gains: microphone=%.2f system=%.2f\n",
			config.GainValue(cfg.Gains.Microphone), config.GainValue(cfg.Gains.System))

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s\n", cfg.Output.Directory)

		svc := newService()
		defer svc.Close()

		recordings, err := svc.ListRecordings()
		if err != nil {
			return err
		}
		fmt.Printf("\n=== RECORDINGS (%d) ===\n", len(recordings))
		for _, r := range recordings {
			fmt.Printf("%s  %9s  %s\n", r.ModTimeHuman, r.SizeHuman, r.Name)
		}
		return nil
	},
}

func backendList() string {
	var names []string
	for _, b := range platform.AvailableBackends() {
		names = append(names, string(b))
	}
	return strings.Join(names, ", ")
}

func orDefault(s string) string {
	if s == "" {
		return "(default)"
	}
	return s
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
