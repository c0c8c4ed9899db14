package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/mixcapture/internal/config"
	"github.com/audiolibrelab/mixcapture/internal/platform"
	"github.com/audiolibrelab/mixcapture/internal/service"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "mixcapture",
	Short: "Record the microphone, the desktop audio, or both mixed together",
	Long: `MixCapture records live audio from a microphone and/or a desktop audio
source. When both are selected they are mixed into a single stereo track.

Recordings can be paused and resumed; the paused time is not part of the
recording. Input levels are shown while recording and the result is saved
as a 44.1 kHz stereo WAV file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		if cfgFile == "" {
			cfgFile = config.DefaultPath()
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		slog.Debug("Configuration loaded", "file", cfgFile, "profile", cfg.Profile)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/mixcapture.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_profile from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=max tracing")

	// Add subcommands
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(sourcesCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serveCmd)
}

// newService builds the recording service on the real capture backends
func newService() service.Service {
	return service.New(cfg, cfgFile, platform.New(cfg))
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	slogLevel := slog.LevelInfo
	if level >= 1 {
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	slog.SetDefault(slog.New(handler))

	// Maximum tracing also turns on PipeWire's own debug output
	if level >= 2 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
}
