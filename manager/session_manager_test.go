package manager

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marutaku/qchat-core/config"
	"github.com/marutaku/qchat-core/paths"
)

const fakeChild = `#!/bin/sh
echo "Welcome to fake q chat"
echo "> "
while IFS= read -r line; do
  case "$line" in
    /quit) exit 0 ;;
    "") ;;
    *)
      echo "pong"
      echo "> "
      ;;
  esac
done
`

func fakeChildConfig(t *testing.T) config.Config {
	t.Helper()
	binary := filepath.Join(t.TempDir(), "fakeq")
	if err := os.WriteFile(binary, []byte(fakeChild), 0755); err != nil {
		t.Fatal(err)
	}
	return config.Config{
		Binary:  binary,
		WorkDir: t.TempDir(),
		Timeouts: config.Timeouts{
			Startup:      2 * time.Second,
			StartupQuiet: 30 * time.Millisecond,
			Poll:         15 * time.Millisecond,
			PromptQuiet:  10 * time.Millisecond,
			DoneSilence:  60 * time.Millisecond,
			KickSilence:  25 * time.Millisecond,
			Turn:         500 * time.Millisecond,
		},
	}
}

func TestGetOrCreate_CreatesFirstSession(t *testing.T) {
	m := New()
	defer m.Close()

	result, err := m.GetOrCreate(fakeChildConfig(t))
	if err != nil {
		t.Fatal(err)
	}
	if !result.Created {
		t.Error("expected Created on first call")
	}
	if !strings.Contains(result.Banner, "Welcome to fake q chat") {
		t.Errorf("banner missing welcome text: %q", result.Banner)
	}
	if m.Current() != result.Session {
		t.Error("Current does not return the created session")
	}
}

func TestGetOrCreate_ReusesMatchingIdentity(t *testing.T) {
	m := New()
	defer m.Close()

	cfg := fakeChildConfig(t)
	first, err := m.GetOrCreate(cfg)
	if err != nil {
		t.Fatal(err)
	}

	// A timeout tweak does not change identity.
	cfg.Timeouts.Turn = time.Minute
	second, err := m.GetOrCreate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if second.Created {
		t.Error("expected reuse, got a new session")
	}
	if second.Session != first.Session {
		t.Error("expected the same session instance")
	}
}

func TestGetOrCreate_RecreatesOnIdentityChange(t *testing.T) {
	m := New()
	defer m.Close()

	cfg := fakeChildConfig(t)
	first, err := m.GetOrCreate(cfg)
	if err != nil {
		t.Fatal(err)
	}

	cfg.TrustWrite = true
	second, err := m.GetOrCreate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Created {
		t.Error("expected a new session after identity change")
	}
	if second.Session.ID() == first.Session.ID() {
		t.Error("expected a different session")
	}
	if first.Session.Alive() {
		t.Error("expected the old session's child to be shut down")
	}
}

func TestGetOrCreate_StartFailure(t *testing.T) {
	m := New()
	defer m.Close()

	cfg := fakeChildConfig(t)
	cfg.Binary = filepath.Join(t.TempDir(), "does-not-exist")

	if _, err := m.GetOrCreate(cfg); err == nil {
		t.Fatal("expected error for missing binary")
	}
	if m.Current() != nil {
		t.Error("failed create must leave no current session")
	}
}

func TestGetOrCreate_DebugOpensTranscript(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_STATE_HOME", "")
	os.Unsetenv("XDG_CONFIG_HOME")
	os.Unsetenv("XDG_STATE_HOME")
	paths.Reset()
	t.Cleanup(paths.Reset)

	m := New()
	defer m.Close()

	cfg := fakeChildConfig(t)
	cfg.Debug = true
	if _, err := m.GetOrCreate(cfg); err != nil {
		t.Fatal(err)
	}
	m.Close()

	transcripts, err := filepath.Glob(filepath.Join(home, ".qchat", "logs", "qchat_*.log"))
	if err != nil {
		t.Fatal(err)
	}
	if len(transcripts) != 1 {
		t.Fatalf("expected 1 transcript file, got %d", len(transcripts))
	}
	data, err := os.ReadFile(transcripts[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "SPAWN:") {
		t.Errorf("transcript missing spawn event:\n%s", data)
	}
}

func TestClose_Idempotent(t *testing.T) {
	m := New()

	cfg := fakeChildConfig(t)
	result, err := m.GetOrCreate(cfg)
	if err != nil {
		t.Fatal(err)
	}

	m.Close()
	if m.Current() != nil {
		t.Error("expected no current session after Close")
	}
	if result.Session.Alive() {
		t.Error("expected child to be shut down")
	}
	m.Close()
}
