// Package main provides the entry point for CapyDeploy Hub.
// Hub runs on the operator's machine: it discovers Agents over mDNS, pairs
// with them, and drives deploy operations over the resulting WebSocket
// session.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/capydeploy/capydeploy/apps/hub/auth"
	"github.com/capydeploy/capydeploy/apps/hub/config"
	"github.com/capydeploy/capydeploy/apps/hub/connection"
	"github.com/capydeploy/capydeploy/pkg/discovery"
	"github.com/capydeploy/capydeploy/pkg/protocol"
	"github.com/capydeploy/capydeploy/pkg/version"
)

func main() {
	showVer := flag.Bool("version", false, "Show version information and exit")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	if *showVer {
		fmt.Println("CapyDeploy Hub", version.Full())
		os.Exit(0)
	}

	cfgMgr, err := config.NewManager()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	tokenStore, err := auth.NewTokenStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading token store: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
	}()

	discoClient := discovery.NewClient()
	defer discoClient.Close()
	go discoClient.StartContinuousDiscovery(ctx, 10*time.Second)

	connMgr := connection.NewManager(connection.Config{
		Discovery:  discoClient,
		TokenStore: tokenStore,
		Identity: connection.Identity{
			Name:     cfgMgr.GetName(),
			Version:  version.Full(),
			Platform: cfgMgr.GetPlatform(),
		},
	})
	defer connMgr.Shutdown()

	if *verbose {
		log.Printf("CapyDeploy Hub %s (id %s) starting", version.Full(), tokenStore.GetHubID())
	}

	go logConnectionEvents(connMgr)

	runCommandLoop(ctx, connMgr)
}

// logConnectionEvents drains the Manager's unified event stream to the log,
// standing in for whatever UI surface would otherwise consume it.
func logConnectionEvents(mgr *connection.Manager) {
	for ev := range mgr.Events() {
		switch ev.Type {
		case connection.EventAgentFound:
			log.Printf("discovered agent %s", ev.AgentID)
		case connection.EventAgentLost:
			log.Printf("lost agent %s", ev.AgentID)
		case connection.EventStateChanged:
			log.Printf("agent %s state -> %s", ev.AgentID, ev.State)
		case connection.EventPairingNeeded:
			log.Printf("agent %s requires pairing: run 'pair %s <code>'", ev.AgentID, ev.AgentID)
		case connection.EventReconnecting:
			log.Printf("agent %s reconnecting (attempt %d, next retry in %.1fs)", ev.AgentID, ev.Attempt, ev.NextRetrySecs)
		case connection.EventAgentEvent:
			log.Printf("agent %s event %s: %s", ev.AgentID, ev.EventKind, ev.Message)
		case connection.EventTelemetry:
			if ev.Telemetry != nil {
				log.Printf("agent %s telemetry sample at %d", ev.AgentID, ev.Telemetry.Timestamp)
			}
		case connection.EventConsoleLog:
			if ev.ConsoleLog != nil {
				log.Printf("agent %s console log batch: %d entries (%d dropped)", ev.AgentID, len(ev.ConsoleLog.Entries), ev.ConsoleLog.Dropped)
			}
		}
	}
}

// runCommandLoop is a minimal line-oriented control surface: list discovered
// Agents, connect, confirm pairing codes, and disconnect. It is deliberately
// thin -- a richer TUI/GUI is out of scope here.
func runCommandLoop(ctx context.Context, mgr *connection.Manager) {
	fmt.Println("Commands: list | connect <id> | pair <id> <code> | deploy <id> <localDir> <gameName> [executable] | disconnect <id> | quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if handleCommand(ctx, mgr, line) {
				return
			}
		}
	}
}

func handleCommand(ctx context.Context, mgr *connection.Manager, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "quit", "exit":
		return true

	case "list":
		agents := mgr.DiscoveredAgents()
		if len(agents) == 0 {
			fmt.Println("No agents discovered yet.")
			return false
		}
		for _, a := range agents {
			fmt.Printf("  %s  %-20s %s:%d  (%s)\n", a.Info.ID, a.Info.Name, a.Host, a.Port, mgr.State(a.Info.ID))
		}

	case "connect":
		if len(fields) < 2 {
			fmt.Println("usage: connect <id>")
			return false
		}
		if err := mgr.Connect(ctx, fields[1]); err != nil {
			fmt.Printf("connect failed: %v\n", err)
		}

	case "pair":
		if len(fields) < 3 {
			fmt.Println("usage: pair <id> <code>")
			return false
		}
		if err := mgr.ConfirmPairing(ctx, fields[1], fields[2]); err != nil {
			fmt.Printf("pairing failed: %v\n", err)
		}

	case "deploy":
		if len(fields) < 4 {
			fmt.Println("usage: deploy <id> <localDir> <gameName> [executable]")
			return false
		}
		executable := ""
		if len(fields) >= 5 {
			executable = fields[4]
		}
		config := protocol.UploadConfig{GameName: fields[3], Executable: executable}
		result, err := mgr.Deploy(ctx, fields[1], fields[2], config, false, nil)
		if err != nil {
			fmt.Printf("deploy failed: %v\n", err)
			return false
		}
		fmt.Printf("deployed to %s (appId %d)\n", result.Path, result.AppID)

	case "disconnect":
		if len(fields) < 2 {
			fmt.Println("usage: disconnect <id>")
			return false
		}
		mgr.DisconnectAgent(fields[1])

	default:
		fmt.Printf("unknown command: %s\n", fields[0])
	}

	return false
}
