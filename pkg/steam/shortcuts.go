package steam

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"

	"github.com/capydeploy/capydeploy/pkg/protocol"
)

// shortcutAppIDMask marks a CRC32-derived AppID as belonging to a non-Steam
// shortcut, matching the scheme Steam itself uses for exe+name pairs.
const shortcutAppIDMask = 0x80000000 | 0x02000000

// GenerateAppID derives the deterministic non-Steam shortcut AppID Steam
// would assign for a given executable path and display name.
func GenerateAppID(exePath, gameName string) uint32 {
	crc := crc32.ChecksumIEEE([]byte(exePath + gameName))
	return crc | shortcutAppIDMask
}

// ConvertToShortcutInfo builds the ShortcutInfo Steam would report for a
// shortcut created from cfg, computing its AppID the same way Steam does.
func ConvertToShortcutInfo(cfg protocol.ShortcutConfig) protocol.ShortcutInfo {
	return protocol.ShortcutInfo{
		AppID:         GenerateAppID(cfg.Exe, cfg.Name),
		Name:          cfg.Name,
		Exe:           cfg.Exe,
		StartDir:      cfg.StartDir,
		LaunchOptions: cfg.LaunchOptions,
		Tags:          cfg.Tags,
	}
}

// ShortcutManager is the filesystem-level collaborator for shortcut and
// artwork bookkeeping: everything it does is a Paths lookup plus ordinary
// file I/O, with no Steam process or CEF dependency of its own.
type ShortcutManager struct {
	paths *Paths
}

// NewShortcutManagerWithPaths builds a ShortcutManager over an existing
// Paths resolver.
func NewShortcutManagerWithPaths(paths *Paths) *ShortcutManager {
	return &ShortcutManager{paths: paths}
}

// GetShortcutsPath returns the user's shortcuts.vdf path.
func (s *ShortcutManager) GetShortcutsPath(userID string) string {
	return s.paths.ShortcutsPath(userID)
}

// GetGridDir returns the user's custom-artwork directory.
func (s *ShortcutManager) GetGridDir(userID string) string {
	return s.paths.GridDir(userID)
}

// EnsureGridDir creates the user's grid directory if needed.
func (s *ShortcutManager) EnsureGridDir(userID string) error {
	return s.paths.EnsureGridDir(userID)
}

// artworkTypes lists every slot Steam's library view can show, in stable
// iteration order.
var artworkTypes = []ArtworkType{ArtworkGrid, ArtworkHero, ArtworkLogo, ArtworkIcon, ArtworkPortrait}

// ArtworkPaths returns the path each artwork slot would be written to for
// appID, defaulting every slot to a .png extension.
func (s *ShortcutManager) ArtworkPaths(userID string, appID uint32) map[ArtworkType]string {
	paths := make(map[ArtworkType]string, len(artworkTypes))
	for _, t := range artworkTypes {
		paths[t] = s.paths.ArtworkPath(userID, appID, t, "png")
	}
	return paths
}

// FindExistingArtwork scans the grid directory for files already saved for
// appID, regardless of their extension.
func (s *ShortcutManager) FindExistingArtwork(userID string, appID uint32) (map[ArtworkType]string, error) {
	gridDir := s.GetGridDir(userID)
	entries, err := os.ReadDir(gridDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[ArtworkType]string{}, nil
		}
		return nil, fmt.Errorf("steam: read grid dir: %w", err)
	}

	found := make(map[ArtworkType]string)
	prefix := fmt.Sprintf("%d", appID)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		switch {
		case stem == prefix:
			found[ArtworkGrid] = filepath.Join(gridDir, name)
		case stem == prefix+"_hero":
			found[ArtworkHero] = filepath.Join(gridDir, name)
		case stem == prefix+"_logo":
			found[ArtworkLogo] = filepath.Join(gridDir, name)
		case stem == prefix+"_icon":
			found[ArtworkIcon] = filepath.Join(gridDir, name)
		case stem == prefix+"p":
			found[ArtworkPortrait] = filepath.Join(gridDir, name)
		}
	}
	return found, nil
}

// SaveArtwork writes artwork data to the grid directory, creating it if
// needed and removing any existing file for the same slot first so stale
// artwork in another extension doesn't linger alongside it.
func (s *ShortcutManager) SaveArtwork(userID string, appID uint32, artType ArtworkType, data []byte, ext string) error {
	if err := s.EnsureGridDir(userID); err != nil {
		return fmt.Errorf("steam: ensure grid dir: %w", err)
	}

	ext = strings.TrimPrefix(ext, ".")
	existing, err := s.FindExistingArtwork(userID, appID)
	if err != nil {
		return err
	}
	if old, ok := existing[artType]; ok {
		os.Remove(old)
	}

	dest := s.paths.ArtworkPath(userID, appID, artType, ext)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return fmt.Errorf("steam: write artwork: %w", err)
	}
	return nil
}

// DeleteArtwork removes every artwork file saved for appID, across all
// slots and whatever extension each happens to be stored with.
func (s *ShortcutManager) DeleteArtwork(userID string, appID uint32) error {
	existing, err := s.FindExistingArtwork(userID, appID)
	if err != nil {
		return err
	}
	for _, path := range existing {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("steam: delete artwork: %w", err)
		}
	}
	return nil
}
