package play

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// players in order of preference
var players = []string{"vlc", "mpv", "ffplay", "aplay"}

type Player struct {
	dir      string
	lookPath func(string) (string, error)
	command  func(name string, args ...string) *exec.Cmd
}

// New creates a player resolving bare recording names inside dir
func New(dir string) *Player {
	return &Player{dir: dir, lookPath: exec.LookPath, command: exec.Command}
}

// Resolve maps a recording name or path onto an existing WAV file
func (p *Player) Resolve(name string) (string, error) {
	candidates := []string{name}
	if !strings.ContainsRune(name, os.PathSeparator) {
		base := name
		if filepath.Ext(base) == "" {
			base += ".wav"
		}
		candidates = append([]string{filepath.Join(p.dir, base)}, candidates...)
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("audio file not found: %s", name)
}

func (p *Player) Play(name string) error {
	audioFile, err := p.Resolve(name)
	if err != nil {
		return err
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		return fmt.Errorf("no suitable audio player found: %w", err)
	}

	cmd := p.playerCommand(player, audioFile)
	cmd.Stderr = os.Stderr

	slog.Info("Playing", "file", audioFile, "player", player)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("playback failed with %s: %w", player, err)
	}

	slog.Info("Playback completed")
	return nil
}

func (p *Player) playerCommand(player, audioFile string) *exec.Cmd {
	switch player {
	case "vlc":
		return p.command("vlc", "--play-and-exit", audioFile)
	case "mpv":
		return p.command("mpv", "--no-video", audioFile)
	case "ffplay":
		return p.command("ffplay", "-nodisp", "-autoexit", audioFile)
	default:
		// recordings are always WAV, which aplay handles directly
		return p.command("aplay", audioFile)
	}
}

func (p *Player) findAudioPlayer() (string, error) {
	for _, player := range players {
		if _, err := p.lookPath(player); err == nil {
			return player, nil
		}
	}
	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
