// Package shortcuts provides Steam shortcut management for the Agent.
package shortcuts

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/capydeploy/capydeploy/apps/agent/artwork"
	agentSteam "github.com/capydeploy/capydeploy/apps/agent/steam"
	"github.com/capydeploy/capydeploy/pkg/protocol"
	"github.com/capydeploy/capydeploy/pkg/steam"
	"github.com/shadowblip/steam-shortcut-manager/pkg/shortcut"
)

// Manager handles Steam shortcut operations locally on the Agent.
//
// CEF-created shortcuts aren't written to shortcuts.vdf until Steam
// restarts, so the on-disk VDF can lag well behind what the Hub was told
// exists. Manager keeps its own tracking file as the source of truth
// between CEF queries: the first List() call seeds it from the VDF (or
// starts empty), and every Create/Delete updates it directly.
type Manager struct {
	paths        *steam.Paths
	trackingPath string

	mu      sync.Mutex
	tracked []protocol.ShortcutInfo
	loaded  bool
}

// NewManager creates a new shortcut manager using the Agent's own config
// directory for shortcut tracking.
func NewManager() (*Manager, error) {
	paths, err := steam.NewPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to detect Steam: %w", err)
	}

	trackingPath := ""
	if configDir, err := os.UserConfigDir(); err == nil {
		trackingPath = filepath.Join(configDir, "capydeploy-agent", "tracked-shortcuts.json")
	}

	return &Manager{paths: paths, trackingPath: trackingPath}, nil
}

// NewManagerWithPaths creates a manager with custom paths and a custom
// tracking file location (for testing).
func NewManagerWithPaths(paths *steam.Paths, trackingPath string) *Manager {
	return &Manager{paths: paths, trackingPath: trackingPath}
}

// List returns all shortcuts for a user.
// Tries CEF API first (instant, reflects live state); on success this also
// refreshes the tracking file. Falls back to the tracked state (seeded from
// VDF on first use) when CEF isn't reachable.
func (m *Manager) List(userID string) ([]protocol.ShortcutInfo, error) {
	if result, err := m.listViaCEF(); err == nil {
		m.mu.Lock()
		m.tracked = result
		m.loaded = true
		persistErr := m.persistLocked()
		m.mu.Unlock()
		if persistErr != nil {
			log.Printf("[shortcuts] warning: failed to persist tracked shortcuts: %v", persistErr)
		}
		return copyShortcuts(result), nil
	} else {
		log.Printf("[shortcuts] CEF list failed, falling back to tracked state: %v", err)
	}
	return m.listTracked(userID)
}

// listTracked returns the tracked shortcut list, seeding it from the VDF
// file on first access.
func (m *Manager) listTracked(userID string) ([]protocol.ShortcutInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLoadedLocked(userID); err != nil {
		return nil, err
	}
	return copyShortcuts(m.tracked), nil
}

// ensureLoadedLocked loads the tracking file if present, otherwise seeds it
// from the VDF file and persists the result. Caller must hold m.mu.
func (m *Manager) ensureLoadedLocked(userID string) error {
	if m.loaded {
		return nil
	}

	if data, err := os.ReadFile(m.trackingPath); err == nil {
		var tracked []protocol.ShortcutInfo
		if err := json.Unmarshal(data, &tracked); err == nil {
			m.tracked = tracked
			m.loaded = true
			return nil
		}
	}

	seeded, err := m.listViaVDF(userID)
	if err != nil {
		return err
	}
	m.tracked = seeded
	m.loaded = true
	return m.persistLocked()
}

// persistLocked writes the tracked shortcut list to disk. Caller must hold
// m.mu.
func (m *Manager) persistLocked() error {
	if m.trackingPath == "" {
		return nil
	}
	if dir := filepath.Dir(m.trackingPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create tracking dir: %w", err)
		}
	}

	tracked := m.tracked
	if tracked == nil {
		tracked = []protocol.ShortcutInfo{}
	}
	data, err := json.MarshalIndent(tracked, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal tracked shortcuts: %w", err)
	}
	return os.WriteFile(m.trackingPath, data, 0600)
}

// copyShortcuts returns a deep copy so callers can't mutate Manager's
// internal state through the returned slice.
func copyShortcuts(src []protocol.ShortcutInfo) []protocol.ShortcutInfo {
	dst := make([]protocol.ShortcutInfo, len(src))
	for i, sc := range src {
		dst[i] = sc
		if sc.Tags != nil {
			dst[i].Tags = append([]string(nil), sc.Tags...)
		}
	}
	return dst
}

// listViaCEF retrieves shortcuts from Steam's CEF API.
func (m *Manager) listViaCEF() ([]protocol.ShortcutInfo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := agentSteam.NewCEFClient()
	cefShortcuts, err := client.GetAllShortcuts(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]protocol.ShortcutInfo, 0, len(cefShortcuts))
	for _, sc := range cefShortcuts {
		result = append(result, agentSteam.CEFShortcutToInfo(sc))
	}

	return result, nil
}

// listViaVDF reads shortcuts from the VDF file on disk.
func (m *Manager) listViaVDF(userID string) ([]protocol.ShortcutInfo, error) {
	shortcutsPath := m.paths.ShortcutsPath(userID)

	// Return empty list if file doesn't exist
	if _, err := os.Stat(shortcutsPath); os.IsNotExist(err) {
		return []protocol.ShortcutInfo{}, nil
	}

	shortcuts, err := shortcut.Load(shortcutsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load shortcuts: %w", err)
	}

	var result []protocol.ShortcutInfo
	for _, sc := range shortcuts.Shortcuts {
		result = append(result, protocol.ShortcutInfo{
			AppID:         uint32(sc.Appid),
			Name:          sc.AppName,
			Exe:           sc.Exe,
			StartDir:      sc.StartDir,
			LaunchOptions: sc.LaunchOptions,
			Tags:          tagsToSlice(sc.Tags),
			LastPlayed:    int64(sc.LastPlayTime),
		})
	}

	return result, nil
}

// Create adds a new shortcut via CEF API (instant, no Steam restart needed).
// The userID parameter is kept for signature compatibility but is not used
// for creation — CEF handles persistence internally.
func (m *Manager) Create(userID string, cfg protocol.ShortcutConfig) (uint32, error) {
	exePath := expandPath(cfg.Exe)
	startDir := expandPath(cfg.StartDir)

	// On Windows, Steam expects quoted paths
	if runtime.GOOS == "windows" {
		exePath = quotePath(exePath)
		startDir = quotePath(startDir)
	}

	if err := agentSteam.EnsureCEFReady(); err != nil {
		return 0, fmt.Errorf("CEF not available: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := agentSteam.NewCEFClient()
	appID, err := client.AddShortcut(ctx, cfg.Name, exePath, startDir, cfg.LaunchOptions)
	if err != nil {
		return 0, fmt.Errorf("failed to create shortcut via CEF: %w", err)
	}

	// AddShortcut ignores the name and uses the executable filename,
	// so we must rename it afterwards.
	if err := client.SetShortcutName(ctx, appID, cfg.Name); err != nil {
		fmt.Printf("Warning: failed to set shortcut name: %v\n", err)
	}

	// On Linux, automatically set Proton as the compatibility tool
	if runtime.GOOS == "linux" {
		if err := client.SpecifyCompatTool(ctx, appID, "proton_experimental"); err != nil {
			log.Printf("[shortcuts] warning: failed to set Proton for appID %d: %v", appID, err)
		}
	}

	info := steam.ConvertToShortcutInfo(cfg)
	info.AppID = appID
	info.Exe = exePath
	info.StartDir = startDir
	m.trackUpsert(userID, info)

	return appID, nil
}

// trackUpsert adds or replaces info in the tracked shortcut list and
// persists it, seeding from the VDF first if nothing has been loaded yet.
func (m *Manager) trackUpsert(userID string, info protocol.ShortcutInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLoadedLocked(userID); err != nil {
		log.Printf("[shortcuts] warning: failed to load tracked shortcuts: %v", err)
	}

	replaced := false
	for i, sc := range m.tracked {
		if sc.AppID == info.AppID {
			m.tracked[i] = info
			replaced = true
			break
		}
	}
	if !replaced {
		m.tracked = append(m.tracked, info)
	}

	if err := m.persistLocked(); err != nil {
		log.Printf("[shortcuts] warning: failed to persist tracked shortcuts: %v", err)
	}
}

// trackRemove deletes appID from the tracked shortcut list and persists it.
func (m *Manager) trackRemove(userID string, appID uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureLoadedLocked(userID); err != nil {
		log.Printf("[shortcuts] warning: failed to load tracked shortcuts: %v", err)
	}

	for i, sc := range m.tracked {
		if sc.AppID == appID {
			m.tracked = append(m.tracked[:i], m.tracked[i+1:]...)
			break
		}
	}

	if err := m.persistLocked(); err != nil {
		log.Printf("[shortcuts] warning: failed to persist tracked shortcuts: %v", err)
	}
}

// CreateWithArtwork creates a shortcut and applies artwork if provided.
func (m *Manager) CreateWithArtwork(userID string, cfg protocol.ShortcutConfig) (uint32, *artwork.ApplyResult, error) {
	appID, err := m.Create(userID, cfg)
	if err != nil {
		return 0, nil, err
	}

	var artResult *artwork.ApplyResult
	if cfg.Artwork != nil {
		artResult, _ = artwork.Apply(userID, appID, cfg.Artwork)
	}

	return appID, artResult, nil
}

// Delete removes a shortcut by AppID via CEF API, and also deletes the game folder.
func (m *Manager) Delete(userID string, appID uint32) error {
	return m.DeleteWithCleanup(userID, appID, true)
}

// DeleteWithCleanup removes a shortcut via CEF API and optionally its game folder.
func (m *Manager) DeleteWithCleanup(userID string, appID uint32, deleteGameFolder bool) error {
	// Look up StartDir before deleting (needed to know which game folder to remove)
	var gameFolderPath string
	shortcuts, err := m.List(userID)
	if err == nil {
		for _, sc := range shortcuts {
			if sc.AppID == appID {
				gameFolderPath = unquotePath(sc.StartDir)
				break
			}
		}
	}

	// Remove shortcut via CEF (instant, no Steam restart needed)
	if err := agentSteam.EnsureCEFReady(); err != nil {
		return fmt.Errorf("CEF not available: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := agentSteam.NewCEFClient()
	if err := client.RemoveShortcut(ctx, appID); err != nil {
		return fmt.Errorf("failed to remove shortcut via CEF: %w", err)
	}

	m.trackRemove(userID, appID)

	// Delete game folder if requested and path is valid
	if deleteGameFolder && gameFolderPath != "" {
		if err := deleteGameDirectory(gameFolderPath); err != nil {
			fmt.Printf("Warning: failed to delete game folder %s: %v\n", gameFolderPath, err)
		}
	}

	// Delete artwork from grid folder (best-effort cleanup of local files)
	if err := m.deleteArtwork(userID, appID); err != nil {
		fmt.Printf("Warning: failed to delete artwork: %v\n", err)
	}

	return nil
}

// deleteArtwork removes all artwork files for an appID from the grid folder.
func (m *Manager) deleteArtwork(userID string, appID uint32) error {
	gridDir := m.paths.GridDir(userID)

	// All possible artwork file patterns
	patterns := []string{
		fmt.Sprintf("%d.*", appID),        // landscape grid
		fmt.Sprintf("%dp.*", appID),       // portrait grid
		fmt.Sprintf("%d_hero.*", appID),   // hero
		fmt.Sprintf("%d_logo.*", appID),   // logo
		fmt.Sprintf("%d_icon.*", appID),   // icon
	}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(gridDir, pattern))
		if err != nil {
			continue
		}
		for _, path := range matches {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				fmt.Printf("Warning: failed to remove %s: %v\n", path, err)
			}
		}
	}

	return nil
}

// tagsToSlice converts VDF tags map to string slice.
func tagsToSlice(tags map[string]interface{}) []string {
	if tags == nil {
		return nil
	}
	var result []string
	for _, v := range tags {
		if s, ok := v.(string); ok {
			result = append(result, s)
		}
	}
	return result
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// quotePath wraps a path in double quotes for Steam on Windows.
// Linux shortcuts must NOT have quotes around paths.
func quotePath(path string) string {
	if runtime.GOOS != "windows" {
		return strings.Trim(path, "\"")
	}
	if strings.HasPrefix(path, "\"") && strings.HasSuffix(path, "\"") {
		return path
	}
	return "\"" + path + "\""
}

// unquotePath removes surrounding double quotes from a path.
func unquotePath(path string) string {
	if strings.HasPrefix(path, "\"") && strings.HasSuffix(path, "\"") {
		return path[1 : len(path)-1]
	}
	return path
}

// deleteGameDirectory safely removes a game installation directory.
// Only deletes if the path looks like a valid game folder (not system paths).
func deleteGameDirectory(path string) error {
	if path == "" {
		return nil
	}

	// Expand path if it uses ~
	path = expandPath(path)

	// Safety checks - don't delete system paths or root directories
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	// Get home directory for validation
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("cannot determine home directory: %w", err)
	}

	// Only allow deletion within user's home directory
	// Use case-insensitive comparison for Windows compatibility
	if !isSubPath(home, absPath) {
		return fmt.Errorf("refusing to delete path outside home directory: %s", absPath)
	}

	// Don't delete the home directory itself or immediate subdirectories like ~/Games
	relPath, err := filepath.Rel(home, absPath)
	if err != nil {
		return fmt.Errorf("cannot determine relative path: %w", err)
	}

	// Must be at least 2 levels deep (e.g., ~/Games/MyGame, not ~/Games)
	parts := strings.Split(relPath, string(filepath.Separator))
	if len(parts) < 2 {
		return fmt.Errorf("refusing to delete top-level directory: %s", absPath)
	}

	// Check if path exists
	info, err := os.Stat(absPath)
	if os.IsNotExist(err) {
		return nil // Already gone, nothing to do
	}
	if err != nil {
		return fmt.Errorf("cannot stat path: %w", err)
	}

	// Must be a directory
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	// Delete the directory and all its contents
	if err := os.RemoveAll(absPath); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}

	return nil
}

// isSubPath checks if child is inside parent directory.
// Uses case-insensitive comparison on Windows.
func isSubPath(parent, child string) bool {
	parent = filepath.Clean(parent)
	child = filepath.Clean(child)

	// Ensure parent ends with separator for proper prefix matching
	if !strings.HasSuffix(parent, string(filepath.Separator)) {
		parent = parent + string(filepath.Separator)
	}

	// On Windows, paths are case-insensitive
	if filepath.Separator == '\\' {
		return strings.HasPrefix(strings.ToLower(child), strings.ToLower(parent))
	}

	return strings.HasPrefix(child, parent)
}
