// Package config loads the per-workspace settings for the fsedit core.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// SettingsFile is the path, relative to the workspace sandbox root, of
	// the main settings file.
	SettingsFile = ".fsedit/settings.json"
	// SettingsLocalFile holds overrides that are not meant to be committed.
	SettingsLocalFile = ".fsedit/settings.local.json"
)

// DefaultJournalRingSize bounds the number of committed transactions kept
// per task before the oldest entries are evicted (§3 "bounded ring").
const DefaultJournalRingSize = 50

// DefaultSearchWorkers bounds the C10 search engine's file-parallel worker pool.
const DefaultSearchWorkers = 8

// DefaultSnapshotCompressionThreshold is the byte size above which C6
// snapshot bytes are zstd-compressed before being written to disk.
const DefaultSnapshotCompressionThreshold = 4096

// Settings is the .fsedit/settings.json configuration.
type Settings struct {
	// JournalRingSize bounds the per-task committed-transaction ring (§3).
	JournalRingSize int `json:"journal_ring_size,omitempty"`

	// SearchWorkers bounds C10's file-parallel worker pool.
	SearchWorkers int `json:"search_workers,omitempty"`

	// SnapshotCompression enables zstd compression of large snapshot bytes.
	SnapshotCompression bool `json:"snapshot_compression"`

	// SnapshotCompressionThreshold is the byte size above which compression kicks in.
	SnapshotCompressionThreshold int `json:"snapshot_compression_threshold,omitempty"`

	// ProtectedPathPatterns are additional glob patterns (beyond the
	// built-in VCS-metadata/build-wrapper policy) that C1 rejects.
	ProtectedPathPatterns []string `json:"protected_path_patterns,omitempty"`

	// LogLevel sets logging verbosity (debug, info, warn, error).
	LogLevel string `json:"log_level,omitempty"`

	// Telemetry controls anonymous usage analytics for C12's HUD sink.
	// nil = not asked yet, true = opted in, false = opted out.
	Telemetry *bool `json:"telemetry,omitempty"`

	// ExternalWatch enables the fsnotify-backed proactive external-change
	// detector in C4 (on by default).
	ExternalWatch *bool `json:"external_watch,omitempty"`
}

// Load loads settings from <workspaceRoot>/.fsedit/settings.json, then
// applies any overrides from settings.local.json if present. Returns
// defaults if neither file exists.
func Load(workspaceRoot string) (*Settings, error) {
	settingsPath := filepath.Join(workspaceRoot, SettingsFile)
	localPath := filepath.Join(workspaceRoot, SettingsLocalFile)

	settings, err := loadFromFile(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("reading settings file: %w", err)
	}

	localData, err := os.ReadFile(localPath) //nolint:gosec // path built from validated workspace root
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading local settings file: %w", err)
		}
	} else if err := mergeJSON(settings, localData); err != nil {
		return nil, fmt.Errorf("merging local settings: %w", err)
	}

	applyDefaults(settings)
	return settings, nil
}

func loadFromFile(path string) (*Settings, error) {
	settings := &Settings{}
	data, err := os.ReadFile(path) //nolint:gosec // path built from validated workspace root
	if err != nil {
		if os.IsNotExist(err) {
			applyDefaults(settings)
			return settings, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parsing settings file: %w", err)
	}
	applyDefaults(settings)
	return settings, nil
}

// mergeJSON overrides only the fields present in data, leaving the rest of
// settings untouched.
func mergeJSON(settings *Settings, data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing JSON: %w", err)
	}

	if v, ok := raw["journal_ring_size"]; ok {
		if err := json.Unmarshal(v, &settings.JournalRingSize); err != nil {
			return fmt.Errorf("parsing journal_ring_size: %w", err)
		}
	}
	if v, ok := raw["search_workers"]; ok {
		if err := json.Unmarshal(v, &settings.SearchWorkers); err != nil {
			return fmt.Errorf("parsing search_workers: %w", err)
		}
	}
	if v, ok := raw["snapshot_compression"]; ok {
		if err := json.Unmarshal(v, &settings.SnapshotCompression); err != nil {
			return fmt.Errorf("parsing snapshot_compression: %w", err)
		}
	}
	if v, ok := raw["log_level"]; ok {
		if err := json.Unmarshal(v, &settings.LogLevel); err != nil {
			return fmt.Errorf("parsing log_level: %w", err)
		}
	}
	if v, ok := raw["telemetry"]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return fmt.Errorf("parsing telemetry: %w", err)
		}
		settings.Telemetry = &b
	}
	if v, ok := raw["external_watch"]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return fmt.Errorf("parsing external_watch: %w", err)
		}
		settings.ExternalWatch = &b
	}
	return nil
}

func applyDefaults(s *Settings) {
	if s.JournalRingSize <= 0 {
		s.JournalRingSize = DefaultJournalRingSize
	}
	if s.SearchWorkers <= 0 {
		s.SearchWorkers = DefaultSearchWorkers
	}
	if s.SnapshotCompressionThreshold <= 0 {
		s.SnapshotCompressionThreshold = DefaultSnapshotCompressionThreshold
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.ExternalWatch == nil {
		t := true
		s.ExternalWatch = &t
	}
}
