// Package main provides the entry point for CapyDeploy Agent.
// Agent runs on remote devices (handhelds) and exposes a WebSocket endpoint
// for a single Hub at a time to discover, pair with, and deploy through.
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

	"github.com/capydeploy/capydeploy/apps/agent/auth"
	"github.com/capydeploy/capydeploy/apps/agent/config"
	"github.com/capydeploy/capydeploy/apps/agent/server"
	"github.com/capydeploy/capydeploy/apps/agent/steam"
	"github.com/capydeploy/capydeploy/pkg/discovery"
	"github.com/capydeploy/capydeploy/pkg/version"
)

func main() {
	var (
		port    int
		name    string
		verbose bool
		showVer bool
	)

	flag.IntVar(&port, "port", 0, "WebSocket server port (0 = OS assigned)")
	flag.StringVar(&name, "name", "", "Agent name (default: hostname)")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&showVer, "version", false, "Show version information and exit")
	flag.Parse()

	if showVer {
		fmt.Println("CapyDeploy Agent", version.Full())
		os.Exit(0)
	}

	cfgMgr, err := config.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if name == "" {
		name = cfgMgr.GetName()
	}
	if name == "" {
		name = discovery.GetHostname()
	}

	authMgr := auth.NewManager(auth.NewConfigStorage(cfgMgr))
	steamCtrl := steam.NewController()

	// Setup context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	cfg := server.Config{
		Port:     port,
		Name:     name,
		Version:  version.Full(),
		Platform: discovery.GetPlatform(),
		Verbose:  verbose,

		AcceptConnections: func() bool { return true },
		GetInstallPath:    cfgMgr.GetInstallPath,

		OnShortcutChange: func() {
			log.Println("Steam shortcuts changed")
		},
		OnOperation: func(event server.OperationEvent) {
			log.Printf("operation %s/%s: %s (%.0f%%) %s", event.Type, event.Status, event.GameName, event.Progress, event.Message)
		},
		OnHubConnect: func(hubID, hubName, hubIP string) {
			log.Printf("Hub connected: %s (%s) from %s", hubName, hubID, hubIP)
			_ = cfgMgr.UpdateHubLastSeen(hubID, time.Now())
		},
		OnHubDisconnect: func() {
			log.Println("Hub disconnected")
		},

		AuthManager: authMgr,
		OnPairingCode: func(code string, expiresIn time.Duration) {
			log.Printf("Pairing code: %s (expires in %s)", code, expiresIn)
		},
		OnPairingSuccess: func() {
			log.Println("Pairing complete, Hub authorized")
		},
		OnPortAssigned: func(assigned int) {
			log.Printf("Listening on port %d", assigned)
		},

		GetTelemetryEnabled:  cfgMgr.GetTelemetryEnabled,
		GetTelemetryInterval: cfgMgr.GetTelemetryInterval,
		SteamStatusFunc: func() (bool, bool) {
			return steamCtrl.IsRunning(), steamCtrl.IsGamingMode()
		},
	}

	agent, err := server.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating agent: %v\n", err)
		os.Exit(1)
	}

	log.Printf("CapyDeploy Agent %s starting on port %d", version.Full(), port)
	log.Printf("Platform: %s, Name: %s", cfg.Platform, cfg.Name)

	if err := agent.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "Error running agent: %v\n", err)
		os.Exit(1)
	}

	log.Println("Agent stopped")
}
