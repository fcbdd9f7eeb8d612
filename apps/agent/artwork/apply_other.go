//go:build !windows

package artwork

import (
	"github.com/capydeploy/capydeploy/pkg/protocol"
)

// Apply downloads each provided artwork URL and applies it via ApplyFromData
// (CEF first, filesystem fallback). Unlike Windows, Linux/macOS Steam can
// take artwork through the CEF API without a restart.
func Apply(userID string, appID uint32, cfg *protocol.ArtworkConfig) (*ApplyResult, error) {
	if cfg == nil {
		return &ApplyResult{Applied: []string{}}, nil
	}

	result := &ApplyResult{
		Applied: []string{},
		Failed:  []ArtworkResult{},
	}

	entries := []struct {
		artworkType string
		url         string
	}{
		{"grid", cfg.Grid},
		{"hero", cfg.Hero},
		{"logo", cfg.Logo},
		{"icon", cfg.Icon},
		{"banner", cfg.Banner},
	}

	for _, e := range entries {
		if e.url == "" {
			continue
		}
		if err := applyOne(appID, e.artworkType, e.url); err != nil {
			result.Failed = append(result.Failed, ArtworkResult{Type: e.artworkType, Error: err.Error()})
			continue
		}
		result.Applied = append(result.Applied, e.artworkType)
	}

	return result, nil
}

func applyOne(appID uint32, artworkType, url string) error {
	data, contentType, err := downloadURL(url)
	if err != nil {
		return err
	}
	return ApplyFromData(appID, artworkType, data, contentType)
}
