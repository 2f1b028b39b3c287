package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// ProfilesConfig holds named per-app configuration overrides, for hosts
// that embed the agent into more than one process role (e.g. a web
// frontend and a background worker sharing one base config).
type ProfilesConfig struct {
	Profiles map[string]Config `yaml:"profiles"`
}

// Manager resolves the effective config for a named app profile by
// merging its overrides on top of a shared base config.
type Manager struct {
	base     *Config
	profiles map[string]Config
	mu       sync.RWMutex
}

// NewManager loads the base config and an optional profiles file. A
// missing profiles file is not an error: it just means no profile has
// overrides.
func NewManager(basePath, profilesPath string) (*Manager, error) {
	base, err := LoadConfig(basePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(profilesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manager{base: base, profiles: make(map[string]Config)}, nil
		}
		return nil, err
	}
	defer f.Close()

	var pc ProfilesConfig
	if err := yaml.NewDecoder(f).Decode(&pc); err != nil {
		return nil, err
	}

	return &Manager{base: base, profiles: pc.Profiles}, nil
}

// Get returns the effective config for a named profile, merging its
// overrides on top of the base config field-group by field-group. An
// unknown profileID returns the base config unmodified.
func (m *Manager) Get(profileID string) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := *m.base

	override, ok := m.profiles[profileID]
	if !ok {
		return &effective
	}

	if override.Recorder.ReducedThresholdPerSec != 0 {
		effective.Recorder = override.Recorder
	}
	if override.RingBuffer.CapacityEvents != 0 {
		effective.RingBuffer = override.RingBuffer
	}
	if len(override.Redaction.ExtraFieldPatterns) != 0 {
		effective.Redaction = override.Redaction
	}
	if override.MemoryPressure.PauseBelowFraction != 0 {
		effective.MemoryPressure = override.MemoryPressure
	}
	if override.IPC.SocketPath != "" {
		effective.IPC = override.IPC
	}
	if override.Coordinator.SynchronizationSlack != 0 {
		effective.Coordinator = override.Coordinator
	}
	if override.Recording.AppIdentifier != "" {
		effective.Recording = override.Recording
	}

	return &effective
}
