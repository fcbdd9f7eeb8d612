// Package protocol defines shared types and messages for Hub-Agent communication.
package protocol

import "time"

// AgentInfo contains information about a discovered agent.
type AgentInfo struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Platform              string   `json:"platform"`
	Version               string   `json:"version"`
	AcceptConnections     bool         `json:"acceptConnections"`
	SupportedImageFormats []string     `json:"supportedImageFormats,omitempty"`
	Capabilities          []Capability `json:"capabilities,omitempty"`
}

// HubIdentity is the identity a Hub presents to an Agent (and persists
// locally for itself). HubID is chosen once at install time and never
// regenerated, so an Agent can recognize the same Hub across reconnects.
type HubIdentity struct {
	HubID    string `json:"hubId"`
	Name     string `json:"name"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

// UploadConfig defines the configuration for uploading a game.
type UploadConfig struct {
	GameName      string `json:"gameName"`
	InstallPath   string `json:"installPath"`
	Executable    string `json:"executable"`
	LaunchOptions string `json:"launchOptions,omitempty"`
	Tags          string `json:"tags,omitempty"`
}

// ShortcutConfig defines the configuration for creating a Steam shortcut.
type ShortcutConfig struct {
	Name          string         `json:"name"`
	Exe           string         `json:"exe"`
	StartDir      string         `json:"startDir"`
	LaunchOptions string         `json:"launchOptions,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Artwork       *ArtworkConfig `json:"artwork,omitempty"`
}

// ArtworkConfig defines artwork paths for a shortcut.
type ArtworkConfig struct {
	Grid   string `json:"grid,omitempty"`   // 600x900 portrait
	Hero   string `json:"hero,omitempty"`   // 1920x620 header
	Logo   string `json:"logo,omitempty"`   // transparent logo
	Icon   string `json:"icon,omitempty"`   // square icon
	Banner string `json:"banner,omitempty"` // 460x215 horizontal
}

// ShortcutInfo contains information about an existing shortcut.
type ShortcutInfo struct {
	AppID         uint32   `json:"appId"`
	Name          string   `json:"name"`
	Exe           string   `json:"exe"`
	StartDir      string   `json:"startDir"`
	LaunchOptions string   `json:"launchOptions,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	LastPlayed    int64    `json:"lastPlayed,omitempty"`
}

// UploadStatus represents the current state of an upload.
type UploadStatus string

const (
	UploadStatusPending    UploadStatus = "pending"
	UploadStatusInProgress UploadStatus = "in_progress"
	UploadStatusCompleted  UploadStatus = "completed"
	UploadStatusFailed     UploadStatus = "failed"
	UploadStatusCancelled  UploadStatus = "cancelled"
)

// UploadProgress contains progress information for an active upload.
type UploadProgress struct {
	UploadID       string       `json:"uploadId"`
	Status         UploadStatus `json:"status"`
	TotalBytes     int64        `json:"totalBytes"`
	TransferredBytes int64      `json:"transferredBytes"`
	CurrentFile    string       `json:"currentFile,omitempty"`
	StartedAt      time.Time    `json:"startedAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	Error          string       `json:"error,omitempty"`
}

// Percentage returns the upload progress as a percentage (0-100).
func (p *UploadProgress) Percentage() float64 {
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.TransferredBytes) / float64(p.TotalBytes) * 100
}

// Capability names a feature an Agent can perform for a connected Hub.
type Capability string

const (
	CapFileUpload     Capability = "file_upload"
	CapFileList       Capability = "file_list"
	CapSteamShortcuts Capability = "steam_shortcuts"
	CapSteamArtwork   Capability = "steam_artwork"
	CapSteamUsers     Capability = "steam_users"
	CapSteamRestart   Capability = "steam_restart"
	CapTelemetry      Capability = "telemetry"
	CapConsoleLog     Capability = "console_log"
)

// CurrentProtocolVersion is the protocol version this build advertises at
// handshake time.
const CurrentProtocolVersion uint32 = 1

// VersionCompat describes the result of comparing a peer's protocol version
// against CurrentProtocolVersion.
type VersionCompat int

const (
	// VersionCompatible means the peer speaks a version safe to interoperate with.
	VersionCompatible VersionCompat = iota
	// VersionDeprecated means the peer is behind but still interoperable; a
	// caller should warn and continue.
	VersionDeprecated
	// VersionIncompatible means the peer is far enough out of range that the
	// connection should be closed.
	VersionIncompatible
)

// minSupportedProtocolVersion is the oldest peer version still accepted
// without being refused outright. Versions older than this but still below
// CurrentProtocolVersion are Deprecated, not Incompatible.
const minSupportedProtocolVersion uint32 = 1

// CheckVersion classifies a peer's advertised protocol version relative to
// CurrentProtocolVersion. A peer at version 0 is legacy and always treated
// as Compatible, since it predates version negotiation entirely. A peer
// newer than this build is Incompatible, since this build cannot know what
// it changed.
func CheckVersion(peer uint32) VersionCompat {
	switch {
	case peer == 0:
		return VersionCompatible
	case peer > CurrentProtocolVersion:
		return VersionIncompatible
	case peer < minSupportedProtocolVersion:
		return VersionDeprecated
	default:
		return VersionCompatible
	}
}

// Telemetry payloads. Each metric group is a pointer so a platform that
// can't read a given sensor simply omits it from the wire payload.

type CPUMetrics struct {
	UsagePercent float64 `json:"usagePercent"`
	TempCelsius  float64 `json:"tempCelsius,omitempty"`
	FreqMHz      float64 `json:"freqMHz,omitempty"`
}

type GPUMetrics struct {
	UsagePercent   float64 `json:"usagePercent"`
	TempCelsius    float64 `json:"tempCelsius,omitempty"`
	FreqMHz        float64 `json:"freqMHz,omitempty"`
	MemFreqMHz     float64 `json:"memFreqMHz,omitempty"`
	VRAMUsedBytes  int64   `json:"vramUsedBytes,omitempty"`
	VRAMTotalBytes int64   `json:"vramTotalBytes,omitempty"`
}

type MemoryMetrics struct {
	TotalBytes     int64   `json:"totalBytes"`
	AvailableBytes int64   `json:"availableBytes"`
	UsagePercent   float64 `json:"usagePercent"`
	SwapTotalBytes int64   `json:"swapTotalBytes,omitempty"`
	SwapFreeBytes  int64   `json:"swapFreeBytes,omitempty"`
}

type BatteryMetrics struct {
	Capacity int    `json:"capacity"` // 0-100
	Status   string `json:"status,omitempty"`
}

type PowerMetrics struct {
	TDPWatts   float64 `json:"tdpWatts,omitempty"`
	PowerWatts float64 `json:"powerWatts,omitempty"`
}

type FanMetrics struct {
	RPM int `json:"rpm"`
}

// SteamStatus reports whether Steam is running and in Gaming Mode, as
// observed by the Agent's platform-level process inspection.
type SteamStatus struct {
	Running    bool `json:"running"`
	GamingMode bool `json:"gamingMode"`
}

// TelemetryData is one sampled snapshot of platform metrics, pushed as a
// telemetry_data event at the Agent's configured interval.
type TelemetryData struct {
	Timestamp int64           `json:"timestamp"`
	CPU       *CPUMetrics     `json:"cpu,omitempty"`
	GPU       *GPUMetrics     `json:"gpu,omitempty"`
	Memory    *MemoryMetrics  `json:"memory,omitempty"`
	Battery   *BatteryMetrics `json:"battery,omitempty"`
	Power     *PowerMetrics   `json:"power,omitempty"`
	Fan       *FanMetrics     `json:"fan,omitempty"`
	Steam     *SteamStatus    `json:"steam,omitempty"`
}

// TelemetryStatus reports whether the telemetry collector is running and
// at what interval, in reply to a query or as a push after a config change.
type TelemetryStatus struct {
	Enabled  bool `json:"enabled"`
	Interval int  `json:"interval"` // seconds
}

// ConsoleLogSegment is one styled run of text within a console log entry,
// as produced by the CEF debugger's rich console.log formatting.
type ConsoleLogSegment struct {
	Text  string `json:"text"`
	Style string `json:"style,omitempty"`
}

// ConsoleLogEntry is a single line captured from the game's CEF console.
type ConsoleLogEntry struct {
	Timestamp int64               `json:"timestamp"`
	Level     string              `json:"level"` // "log", "warn", "error", "info"
	Source    string              `json:"source,omitempty"`
	Text      string              `json:"text"`
	Segments  []ConsoleLogSegment `json:"segments,omitempty"`
	URL       string              `json:"url,omitempty"`
	Line      int                 `json:"line,omitempty"`
}

// ConsoleLogBatch is a bounded batch of entries flushed from the Agent's
// ring buffer, with a count of entries dropped since the last flush.
type ConsoleLogBatch struct {
	Entries []ConsoleLogEntry `json:"entries"`
	Dropped int               `json:"dropped,omitempty"`
}

// ConsoleLogStatus reports whether console-log streaming is active.
type ConsoleLogStatus struct {
	Enabled bool   `json:"enabled"`
	Filter  string `json:"filter,omitempty"`
}
