package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NetworkProfile carries per-network connection defaults shipped alongside
// the binary as network_<name>.yaml. Profiles never carry secrets; they
// pin node endpoints, explorer links, and version expectations so a
// deployment only has to name its network.
type NetworkProfile struct {
	Name            string `yaml:"name" json:"name"`
	Network         string `yaml:"network" json:"network"`
	NodeURL         string `yaml:"node_url" json:"node_url"`
	ExplorerURL     string `yaml:"explorer_url" json:"explorer_url"`
	MinNodeVersion  string `yaml:"min_node_version,omitempty" json:"min_node_version,omitempty"`
	ProtocolVersion int    `yaml:"protocol_version,omitempty" json:"protocol_version,omitempty"`
	FaucetURL       string `yaml:"faucet_url,omitempty" json:"faucet_url,omitempty"`
	Notes           string `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// LoadNetworkProfile loads the profile for one network by name. It reads
// network_<name>.yaml from dir.
func LoadNetworkProfile(dir, network string) (*NetworkProfile, error) {
	network = strings.ToLower(network)
	path := filepath.Join(dir, fmt.Sprintf("network_%s.yaml", network))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load network profile %q: %w", network, err)
	}

	var profile NetworkProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse network profile %q: %w", network, err)
	}

	if profile.Network == "" {
		profile.Network = network
	}

	return &profile, nil
}

// LoadAllNetworkProfiles loads every network_*.yaml file from dir, keyed
// by network name.
func LoadAllNetworkProfiles(dir string) (map[string]*NetworkProfile, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "network_*.yaml"))
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*NetworkProfile, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var profile NetworkProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}

		if profile.Network == "" {
			base := filepath.Base(path)
			profile.Network = strings.TrimSuffix(strings.TrimPrefix(base, "network_"), ".yaml")
		}

		profiles[profile.Network] = &profile
	}

	return profiles, nil
}

// ApplyProfileDir overlays the profile for the configured network, when
// dir holds one. The profile only fills fields the environment left at
// their defaults; an explicitly set variable always wins. A missing
// profile file is not an error.
func (c *Config) ApplyProfileDir(dir string) error {
	p, err := LoadNetworkProfile(dir, c.Ledger.Network)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	if p.NodeURL != "" && os.Getenv("IOTA_NODE_URL") == "" {
		c.Ledger.NodeURL = p.NodeURL
	}
	if p.ExplorerURL != "" && os.Getenv("IOTA_EXPLORER_URL") == "" {
		c.Ledger.ExplorerURL = p.ExplorerURL
	}
	if p.MinNodeVersion != "" && os.Getenv("IOTA_MIN_NODE_VERSION") == "" {
		c.Ledger.MinNodeVersion = p.MinNodeVersion
	}
	return nil
}
