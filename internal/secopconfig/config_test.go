package secopconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := c.PollingTimeout(), 60*time.Second; got != want {
		t.Errorf("PollingTimeout = %v, want %v", got, want)
	}
	if got, want := c.DefaultPollInterval(), time.Second; got != want {
		t.Errorf("DefaultPollInterval = %v, want %v", got, want)
	}
	if got, want := c.MaxPollInterval(), time.Hour; got != want {
		t.Errorf("MaxPollInterval = %v, want %v", got, want)
	}
	if got, want := c.MaxLogLines(), 1000; got != want {
		t.Errorf("MaxLogLines = %d, want %d", got, want)
	}
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	t.Setenv("SECOP_POLLING_TIMEOUT", "90s")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := c.PollingTimeout(), 90*time.Second; got != want {
		t.Errorf("PollingTimeout = %v, want %v (env override)", got, want)
	}
}

func TestLoadConfigFileOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	const body = "max_pollinterval: 30m\nlisten_addr: \":12345\"\n"
	if err := os.WriteFile(filepath.Join(dir, "secopd.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := c.MaxPollInterval(), 30*time.Minute; got != want {
		t.Errorf("MaxPollInterval = %v, want %v (config file)", got, want)
	}
	if got, want := c.ListenAddr(), ":12345"; got != want {
		t.Errorf("ListenAddr = %q, want %q", got, want)
	}
	// polling_timeout wasn't in the file, so it keeps its default.
	if got, want := c.PollingTimeout(), 60*time.Second; got != want {
		t.Errorf("PollingTimeout = %v, want %v", got, want)
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	const body = "polling_timeout: 45s\n"
	if err := os.WriteFile(filepath.Join(dir, "secopd.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	t.Setenv("SECOP_POLLING_TIMEOUT", "15s")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := c.PollingTimeout(), 15*time.Second; got != want {
		t.Errorf("PollingTimeout = %v, want %v (env beats file)", got, want)
	}
}

func TestWatchNoFileIsNoop(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	stop, err := c.Watch(func() { t.Fatal("onChange should never fire without a config file") })
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	stop()
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(prev) })
}
