// Package config loads the two JSON configuration documents the daemon
// needs at boot: the node's own GeneralConfiguration and the trusted-peers
// table. Only cmd/hybridkeyd calls into this package — the core components
// (pkg/session, pkg/peermanager, ...) receive already-parsed value objects,
// matching the Non-goal that the core does not itself load configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/hybridkeyd/hybridkeyd/pkg/model"
)

// EnvConfigFile and EnvTrustedPeersInfo are the environment variables the
// upstream wire protocol's documentation names for the two config paths.
const (
	EnvConfigFile       = "CFGFILE"
	EnvTrustedPeersInfo = "TRUSTED_PEERS_INFO"
)

// Load reads and parses a GeneralConfiguration document from path.
func Load(path string) (model.GeneralConfiguration, error) {
	var cfg model.GeneralConfiguration

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.UUID == "" {
		return cfg, fmt.Errorf("config: %s: uuid is required", path)
	}
	return cfg, nil
}

// LoadPeers reads and parses a {peer_uuid: PeerInfo} document from path.
func LoadPeers(path string) (map[string]model.PeerInfo, error) {
	peers := make(map[string]model.PeerInfo)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &peers); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return peers, nil
}

// LoadFromEnv is a convenience wrapper used by cmd/hybridkeyd: it reads both
// documents from the paths named by CFGFILE and TRUSTED_PEERS_INFO.
func LoadFromEnv() (model.GeneralConfiguration, map[string]model.PeerInfo, error) {
	cfgPath := os.Getenv(EnvConfigFile)
	if cfgPath == "" {
		return model.GeneralConfiguration{}, nil, fmt.Errorf("config: %s is not set", EnvConfigFile)
	}
	peersPath := os.Getenv(EnvTrustedPeersInfo)
	if peersPath == "" {
		return model.GeneralConfiguration{}, nil, fmt.Errorf("config: %s is not set", EnvTrustedPeersInfo)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		return model.GeneralConfiguration{}, nil, err
	}
	peers, err := LoadPeers(peersPath)
	if err != nil {
		return model.GeneralConfiguration{}, nil, err
	}
	return cfg, peers, nil
}
