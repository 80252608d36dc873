package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentctl/agentctl/internal/config"
	"github.com/agentctl/agentctl/internal/index"
	"github.com/agentctl/agentctl/internal/model"
	"github.com/agentctl/agentctl/internal/remote"
	"github.com/agentctl/agentctl/internal/supervisor"
	"github.com/agentctl/agentctl/internal/tasks"
	"github.com/agentctl/agentctl/internal/watcher"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the remote control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(cfg)
		},
	}
	config.RegisterServeFlags(cmd.Flags())
	return cmd
}

func runServe(cfg config.Config) error {
	taskDB, err := tasks.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening tasks store: %w", err)
	}
	defer taskDB.Close()

	opencodeDB, err := openOpenCodeDB(cfg.OpenCodeDBPath)
	if err != nil {
		return fmt.Errorf("opening opencode store: %w", err)
	}
	if opencodeDB != nil {
		defer opencodeDB.Close()
	}

	roots := cfg.EngineRoots()
	sup := supervisor.New(cfg.StateDir, roots)

	identity, err := remote.LoadOrCreateIdentity(cfg.IdentityPath())
	if err != nil {
		return fmt.Errorf("loading device identity: %w", err)
	}
	pairing := remote.NewPairingStore(cfg.StateDir)

	sessions := remote.SessionSource{
		Roots:    roots,
		DRelDB:   opencodeDB,
		StateDir: cfg.StateDir,
	}

	indexPath := filepath.Join(cfg.StateDir, "session_index.json")
	idx := index.Load(indexPath)
	var idxMu sync.RWMutex

	refreshIndex := func() {
		all := sessions.ListAllSessions()
		idxMu.Lock()
		idx.Refresh(all)
		if err := idx.Save(indexPath); err != nil {
			log.Printf("agentctl: saving session index: %v", err)
		}
		idxMu.Unlock()
	}
	refreshIndex()

	w, err := watcher.New(refreshIndex)
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	for _, engine := range []model.SessionEngine{model.EngineA, model.EngineB, model.EngineC} {
		root := roots[engine]
		if root == "" {
			continue
		}
		if watched, _, err := w.WatchRecursive(root); err != nil {
			log.Printf("agentctl: watching %s root %s: %v", engine, root, err)
		} else if watched == 0 {
			log.Printf("agentctl: %s root %s has no session directories yet", engine, root)
		}
	}
	w.Start()
	defer w.Stop()

	dispatcher := &remote.Dispatcher{
		Info: remote.Info{
			CcboxID:      identity.DeviceGUID,
			Version:      version,
			Capabilities: []string{"control-v1", "shell-v1"},
		},
		Sessions:   sessions,
		Tasks:      taskDB,
		Supervisor: sup,
		IndexLookup: func(logPath string) (index.Entry, bool) {
			idxMu.RLock()
			defer idxMu.RUnlock()
			e, ok := idx.Entries[logPath]
			return e, ok
		},
	}

	srv := remote.NewServer(identity, pairing, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("agentctl: shutting down")
		cancel()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return srv.Start(ctx, addr)
}
