// Package secopconfig loads the tunables spec §6 names into a viper
// instance, the same precedence chain the teacher's internal/config uses:
// file < environment < explicit Set.
package secopconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the tunables a Registry/Node/Worker needs at construction.
// Watch re-reads the config file into the same instance; callers that want
// the new values re-read via the accessor methods rather than holding onto
// stale primitive values.
type Config struct {
	v *viper.Viper
}

// Load builds a Config from, in ascending precedence: built-in defaults,
// secopd.yaml (searched project-cwd-upward, then $XDG_CONFIG_HOME/secopd,
// then ~/.secopd), and SECOP_-prefixed environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("secopd")
	v.SetConfigType("yaml")

	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; ; {
			candidate := filepath.Join(dir, "secopd.yaml")
			if _, statErr := os.Stat(candidate); statErr == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
				break
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			candidate := filepath.Join(configDir, "secopd", "secopd.yaml")
			if _, statErr := os.Stat(candidate); statErr == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
			}
		}
	}
	if !configFileSet {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".secopd", "secopd.yaml")
			if _, statErr := os.Stat(candidate); statErr == nil {
				v.SetConfigFile(candidate)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("SECOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("polling_timeout", "60s")
	v.SetDefault("default_pollinterval", "1s")
	v.SetDefault("max_pollinterval", "1h")
	v.SetDefault("max_log_lines", 1000)
	v.SetDefault("listen_addr", ":10767")
	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.level", "info")

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("secopconfig: reading config file: %w", err)
		}
	}

	return &Config{v: v}, nil
}

// Watch calls onChange every time the loaded config file changes on disk.
// If no config file was found, Watch is a no-op: there is nothing to watch
// and the zero-config defaults-plus-env path never mutates at runtime.
func (c *Config) Watch(onChange func()) (stop func(), err error) {
	path := c.v.ConfigFileUsed()
	if path == "" {
		return func() {}, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("secopconfig: starting watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("secopconfig: watching %s: %w", path, err)
	}
	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := c.v.ReadInConfig(); err == nil {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		close(done)
		w.Close()
	}, nil
}

// PollingTimeout is spec §6's SECOP_POLLING_TIMEOUT: how long the Registry's
// sweeper waits on a stalled in-flight action before timing it out.
func (c *Config) PollingTimeout() time.Duration { return c.v.GetDuration("polling_timeout") }

// DefaultPollInterval is spec §6's SECOP_DEFAULT_POLLINTERVAL: a module's
// polling period when its "pollinterval" property is absent.
func (c *Config) DefaultPollInterval() time.Duration {
	return c.v.GetDuration("default_pollinterval")
}

// MaxPollInterval is spec §6's SECOP_MAX_POLLINTERVAL: the ceiling a
// module's "pollinterval" property is clamped to.
func (c *Config) MaxPollInterval() time.Duration { return c.v.GetDuration("max_pollinterval") }

// MaxLogLines bounds how many lines of recent protocol traffic a node keeps
// for diagnostics, independent of whatever status UI later reads it.
func (c *Config) MaxLogLines() int { return c.v.GetInt("max_log_lines") }

// ListenAddr is the TCP address secopd serve binds its Node listener to.
func (c *Config) ListenAddr() string { return c.v.GetString("listen_addr") }

// LogPath, LogMaxSizeMB, LogMaxBackups, LogMaxAgeDays, LogLevel feed
// internal/seclog's lumberjack-backed sink.
func (c *Config) LogPath() string    { return c.v.GetString("log.path") }
func (c *Config) LogMaxSizeMB() int   { return c.v.GetInt("log.max_size_mb") }
func (c *Config) LogMaxBackups() int  { return c.v.GetInt("log.max_backups") }
func (c *Config) LogMaxAgeDays() int  { return c.v.GetInt("log.max_age_days") }
func (c *Config) LogLevel() string    { return c.v.GetString("log.level") }

// Set overrides a single key, mainly for tests that want to exercise one
// non-default tunable without writing a fixture file.
func (c *Config) Set(key string, value interface{}) { c.v.Set(key, value) }
