package cmd

import (
	"fmt"

	"github.com/audiolibrelab/mixcapture/internal/play"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [name]",
	Short: "Play a saved recording",
	Long: `Play a recording from the output directory, or any WAV file path.
Uses the first of vlc, mpv, ffplay or aplay that is installed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := play.New(cfg.Output.Directory).Play(args[0]); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
