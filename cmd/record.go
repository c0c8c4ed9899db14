package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/audiolibrelab/mixcapture/internal/monitor"
	"github.com/audiolibrelab/mixcapture/internal/service"

	"github.com/spf13/cobra"
)

// levelInterval throttles the terminal level display
const levelInterval = 100 * time.Millisecond

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Record the microphone, desktop audio or both",
	Long: `Record from the configured inputs until Ctrl+C or 'q'.

While recording, type 'p' + Enter to pause and 'r' + Enter to resume.
The recording is saved to the output directory as <name>.wav; without a
name a timestamp is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}

		source, _ := cmd.Flags().GetString("source")
		mic, _ := cmd.Flags().GetString("mic")
		system, _ := cmd.Flags().GetString("system")
		duration, _ := cmd.Flags().GetDuration("duration")
		playAfter, _ := cmd.Flags().GetBool("play")
		if out, _ := cmd.Flags().GetString("output"); out != "" {
			cfg.Output.Directory = out
		}

		svc := newService()
		defer svc.Close()

		display := &levelDisplay{}
		svc.OnLevels(display.update)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		req := service.StartRequest{Source: source, Microphone: mic, System: system}
		if err := svc.StartRecording(ctx, req); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
		slog.Info("Recording... p=pause, r=resume, q=stop (or Ctrl+C)")

		waitForStop(ctx, svc, duration)
		display.clear()

		slog.Info("Stopping recording...")
		payload, err := svc.StopRecording(context.Background())
		if err != nil {
			return fmt.Errorf("failed to stop recording: %w", err)
		}

		path, err := svc.SaveRecording(name, payload)
		if err != nil {
			return err
		}
		fmt.Println(path)

		if playAfter {
			return svc.Play(path)
		}
		return nil
	},
}

// waitForStop handles stdin commands until q, ctx cancellation or the
// optional duration limit
func waitForStop(ctx context.Context, svc service.Service, limit time.Duration) {
	commands := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			commands <- strings.TrimSpace(strings.ToLower(scanner.Text()))
		}
	}()

	var timeout <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeout:
			slog.Info("Duration limit reached", "limit", limit)
			return
		case c := <-commands:
			switch c {
			case "p", "pause":
				if err := svc.PauseRecording(); err != nil {
					slog.Warn("Cannot pause", "error", err)
				} else {
					slog.Info("Paused", "duration", svc.GetStatus().Duration.Round(time.Second))
				}
			case "r", "resume":
				if err := svc.ResumeRecording(); err != nil {
					slog.Warn("Cannot resume", "error", err)
				} else {
					slog.Info("Resumed")
				}
			case "q", "quit", "s", "stop":
				return
			case "":
			default:
				slog.Warn("Unknown command (p=pause, r=resume, q=stop)", "command", c)
			}
		}
	}
}

// levelDisplay draws input levels on one terminal line
type levelDisplay struct {
	mu   sync.Mutex
	last time.Time
}

func (d *levelDisplay) update(l monitor.Levels) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if time.Since(d.last) < levelInterval {
		return
	}
	d.last = time.Now()
	fmt.Fprintf(os.Stderr, "\r  mic %s  sys %s ", bar(l.Microphone), bar(l.System))
}

func (d *levelDisplay) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprint(os.Stderr, "\r\033[K")
}

// bar renders a level in [0, 100] as a 20 character meter
func bar(level float64) string {
	n := int(level / 5)
	if n < 0 {
		n = 0
	}
	if n > 20 {
		n = 20
	}
	return fmt.Sprintf("[%s%s] %3.0f", strings.Repeat("#", n), strings.Repeat(" ", 20-n), level)
}

func init() {
	recordCmd.Flags().StringP("source", "s", "", "what to record: microphone, system or both (overrides config)")
	recordCmd.Flags().String("mic", "", "microphone device id or name (overrides config)")
	recordCmd.Flags().String("system", "", "desktop audio source, see 'mixcapture sources' (overrides config)")
	recordCmd.Flags().DurationP("duration", "d", 0, "stop automatically after this long, pauses included")
	recordCmd.Flags().StringP("output", "o", "", "output directory (overrides config)")
	recordCmd.Flags().Bool("play", false, "play the recording once saved")
}
