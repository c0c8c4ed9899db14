package play

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "take_1.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	p := New(dir)
	for _, name := range []string{"take_1", "take_1.wav", path} {
		got, err := p.Resolve(name)
		if err != nil {
			t.Errorf("Resolve(%q) failed: %v", name, err)
			continue
		}
		if got != path {
			t.Errorf("Resolve(%q) = %s, want %s", name, got, path)
		}
	}

	if _, err := p.Resolve("missing"); err == nil {
		t.Error("Expected error for missing recording")
	}
}

func TestFindAudioPlayer(t *testing.T) {
	p := New(t.TempDir())
	p.lookPath = func(name string) (string, error) {
		if name == "ffplay" || name == "aplay" {
			return "/usr/bin/" + name, nil
		}
		return "", exec.ErrNotFound
	}

	player, err := p.findAudioPlayer()
	if err != nil {
		t.Fatalf("Expected a player, got: %v", err)
	}
	if player != "ffplay" {
		t.Errorf("Expected ffplay to be preferred over aplay, got %s", player)
	}

	p.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }
	if _, err := p.findAudioPlayer(); err == nil {
		t.Error("Expected error when no player is installed")
	}
}

func TestPlay_RunsPlayer(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "take.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0644); err != nil {
		t.Fatalf("Failed to write fixture: %v", err)
	}

	var gotName string
	var gotArgs []string
	p := New(dir)
	p.lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	p.command = func(name string, args ...string) *exec.Cmd {
		gotName, gotArgs = name, args
		return exec.Command("true")
	}

	if err := p.Play("take"); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if gotName != "vlc" || gotArgs[len(gotArgs)-1] != path {
		t.Errorf("Unexpected player invocation: %s %v", gotName, gotArgs)
	}

	p.command = func(name string, args ...string) *exec.Cmd { return exec.Command("false") }
	var exitErr *exec.ExitError
	if err := p.Play("take"); !errors.As(err, &exitErr) {
		t.Errorf("Expected player exit error, got: %v", err)
	}
}
