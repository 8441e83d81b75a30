// Package main is the entry point for the qkdhost backend supervisor.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AnvinX1/qkd-LAB/internal/config"
	"github.com/AnvinX1/qkd-LAB/internal/journal"
	"github.com/AnvinX1/qkd-LAB/internal/server"
	"github.com/AnvinX1/qkd-LAB/internal/sidecar"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	// Parse flags
	var (
		configPath  = flag.String("config", "", "Path to config file")
		backendCmd  = flag.String("backend", "", "Path to the backend executable (default: qkd-backend)")
		host        = flag.String("host", "", "Status server host (default: 127.0.0.1)")
		port        = flag.Int("port", 0, "Status server port (default: 8765)")
		journalPath = flag.String("journal", "", "Path to the event journal file")
		showVersion = flag.Bool("version", false, "Show version and exit")
		initConfig  = flag.Bool("init", false, "Initialize default config and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("qkdhost %s (%s)\n", version, commit)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Override with flags
	if *backendCmd != "" {
		cfg.Backend.Command = *backendCmd
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *journalPath != "" {
		cfg.JournalPath = *journalPath
	}

	if *initConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("Failed to save config: %v", err)
		}
		fmt.Println("Configuration initialized")
		os.Exit(0)
	}

	// Create journal
	jrnl, err := journal.NewFileJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("Failed to create journal: %v", err)
	}

	// Create supervisor
	sup := sidecar.New(sidecar.Config{
		Launcher: &sidecar.ExecLauncher{
			Command: cfg.Backend.Command,
			Args:    cfg.Backend.Args,
			Dir:     cfg.Backend.WorkDir,
		},
		Markers:        cfg.Backend.ReadyMarkers,
		Endpoints:      cfg.ProbeEndpoints(),
		InitialDelay:   cfg.InitialDelay(),
		MaxDelay:       cfg.MaxDelay(),
		MaxAttempts:    cfg.Probe.MaxAttempts,
		ProbeTimeout:   cfg.RequestTimeout(),
		TerminateGrace: cfg.TerminateGrace(),
		Journal:        jrnl,
	})

	// Spawn the backend. A failure here is recoverable by design; the
	// host decides, and this host reports and exits cleanly.
	if err := sup.Start(); err != nil {
		jrnl.Close()
		log.Fatalf("Failed to start backend: %v", err)
	}

	go func() {
		readyCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := sup.WaitReady(readyCtx); err == nil {
			log.Printf("Backend ready: %+v", sup.Status())
		}
	}()

	// Create status server
	srv := server.New(server.Config{
		Addr:       cfg.Address(),
		Supervisor: sup,
		Journal:    jrnl,
		Version:    version,
		Commit:     commit,
	})

	// Handle shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}

		sup.Shutdown()

		if err := jrnl.Close(); err != nil {
			log.Printf("Journal close error: %v", err)
		}
	}()

	// Print startup info
	log.Printf("qkdhost %s starting", version)
	log.Printf("Status endpoint: http://%s/api/status", cfg.Address())
	log.Printf("Ready endpoint:  http://%s/api/ready", cfg.Address())
	log.Printf("Health check:    http://%s/health", cfg.Address())

	// Start server
	if err := srv.Start(); err != nil {
		select {
		case <-ctx.Done():
			// Expected shutdown
		default:
			sup.Shutdown()
			log.Fatalf("Server error: %v", err)
		}
	}
}
