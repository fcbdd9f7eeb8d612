//go:build windows

package steam

import (
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// IsGamingMode always returns false on Windows; Gaming Mode is a SteamOS/
// Bazzite (gamescope) concept that doesn't apply here.
func (c *Controller) IsGamingMode() bool {
	return false
}

// IsRunning checks if Steam is currently running.
func (c *Controller) IsRunning() bool {
	cmd := exec.Command("tasklist", "/FI", "IMAGENAME eq steam.exe")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(output)), "steam.exe")
}

// Start launches Steam if it's not already running.
func (c *Controller) Start() error {
	if c.IsRunning() {
		return nil
	}

	cmd := exec.Command("cmd", "/C", "start", "", "steam://")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start Steam: %w", err)
	}

	return nil
}

// Shutdown gracefully closes Steam and waits for it to exit.
func (c *Controller) Shutdown() error {
	if !c.IsRunning() {
		return nil
	}

	exec.Command("cmd", "/C", "start", "", "steam://exit").Run()

	deadline := time.Now().Add(shutdownTimeout)
	for time.Now().Before(deadline) {
		if !c.IsRunning() {
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}

	return fmt.Errorf("timeout waiting for Steam to close")
}

// Restart performs a full restart of Steam: shuts it down, waits for it to
// close, starts it again, and waits for CEF.
func (c *Controller) Restart() *RestartResult {
	if err := c.Shutdown(); err != nil {
		exec.Command("taskkill", "/F", "/IM", "steam.exe").Run()
		time.Sleep(2 * time.Second)
	}

	if err := c.Start(); err != nil {
		return &RestartResult{
			Success: false,
			Message: fmt.Sprintf("Failed to start Steam: %v", err),
		}
	}

	if err := c.WaitForCEF(); err != nil {
		return &RestartResult{
			Success: false,
			Message: fmt.Sprintf("Steam started but CEF not available: %v", err),
		}
	}

	return &RestartResult{
		Success: true,
		Message: "Steam restarted successfully",
	}
}
