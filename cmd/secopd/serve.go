package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/secop-sine2020/secopd/internal/nodedef"
	"github.com/secop-sine2020/secopd/internal/registry"
	"github.com/secop-sine2020/secopd/internal/seclog"
	"github.com/secop-sine2020/secopd/internal/secopconfig"
	"github.com/secop-sine2020/secopd/internal/worker"
)

var (
	serveConfigPath string
	serveNodeDef    string
	serveListenAddr string
)

// A process serves exactly one node on one TCP listener, the way spec §4.6
// binds a Node to a single bind_addr/tcp_port pair; running several nodes
// means running several secopd processes, each on its own port, rather than
// multiplexing nodes behind one accept loop.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a SECoP node over TCP",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "path to a secopd.yaml (defaults to the usual search path)")
	serveCmd.Flags().StringVar(&serveNodeDef, "nodedef", "", "path to a declarative node-definition TOML file (required)")
	serveCmd.Flags().StringVar(&serveListenAddr, "listen", "", "override the configured listen_addr (host:port)")
	_ = serveCmd.MarkFlagRequired("nodedef")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveConfigPath != "" {
		if err := os.Chdir(filepath.Dir(serveConfigPath)); err != nil {
			return fmt.Errorf("secopd: changing to config directory: %w", err)
		}
	}
	cfg, err := secopconfig.Load()
	if err != nil {
		return fmt.Errorf("secopd: loading config: %w", err)
	}

	listenAddr := cfg.ListenAddr()
	if serveListenAddr != "" {
		listenAddr = serveListenAddr
	}

	var log seclog.Logger
	if cfg.LogPath() != "" {
		log = seclog.NewRotating(cfg.LogPath(), cfg.LogMaxSizeMB(), cfg.LogMaxBackups(), cfg.LogMaxAgeDays(), seclog.ParseLevel(cfg.LogLevel()))
	} else {
		log = seclog.New(os.Stderr, seclog.ParseLevel(cfg.LogLevel()))
	}

	lockPath := lockfilePath(listenAddr)
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("secopd: acquiring lock %s: %w", lockPath, err)
	}
	if !locked {
		return fmt.Errorf("secopd: %s is already in use by another secopd serve (lock %s held)", listenAddr, lockPath)
	}
	defer lock.Unlock()

	reg := registry.New(cfg.PollingTimeout())
	node, closeNodeDef, err := nodedef.Load(cmd.Context(), serveNodeDef, reg)
	if err != nil {
		return fmt.Errorf("secopd: loading node definition: %w", err)
	}
	defer func() {
		if err := closeNodeDef(); err != nil {
			log.Warn("error closing wasm handlers", "error", err)
		}
	}()

	if errs := node.Validate(); len(errs) > 0 {
		for _, e := range errs {
			if e.Warning() {
				log.Warn("node_complete warning", "kind", e.Kind, "message", e.Message)
				continue
			}
			log.Error("node_complete error", "kind", e.Kind, "message", e.Message)
		}
		for _, e := range errs {
			if !e.Warning() {
				return fmt.Errorf("secopd: node %s failed node_complete validation", node.ID())
			}
		}
	}

	stopWatch, err := cfg.Watch(func() {
		log.Info("config file changed, re-read (already-built node tree is unaffected)")
	})
	if err != nil {
		return fmt.Errorf("secopd: starting config watcher: %w", err)
	}
	defer stopWatch()

	stopSweep := reg.StartSweeper()
	defer stopSweep()

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("secopd: listening on %s: %w", listenAddr, err)
	}
	log.Info("serving node", "id", node.ID(), "addr", listenAddr)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stopPoll := reg.StartPolling(ctx, cfg.DefaultPollInterval(), cfg.MaxPollInterval())
	defer stopPoll()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("secopd: accept: %w", err)
			}
			g.Go(func() error {
				w := worker.New(node, conn)
				if err := w.Run(gctx); err != nil {
					log.Warn("connection ended", "remote", conn.RemoteAddr(), "error", err)
				}
				return nil
			})
		}
	})

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	log.Info("shutting down")
	return nil
}

// lockfilePath derives a stable lock file name from the listen address, the
// way the teacher's sync lock is derived from the repo's beads directory.
func lockfilePath(listenAddr string) string {
	name := strings.NewReplacer(":", "_", "/", "_").Replace(listenAddr)
	return filepath.Join(os.TempDir(), fmt.Sprintf("secopd-%s.lock", name))
}
