// Copyright 2024 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package config loads the tempcheck configuration. Values are layered with
// increasing priority: built-in defaults, the TOML file, FHESYNC_* environment
// variables and finally command line flags, which the caller applies before
// calling Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mccoysc/fhesync/authz"
)

// Config is the root of the configuration file.
type Config struct {
	Network       Network           `toml:"network"`
	Deployments   map[string]string `toml:"deployments"`
	Relayer       Relayer           `toml:"relayer"`
	Authorization Authorization     `toml:"authorization"`
	API           API               `toml:"api"`
}

type Network struct {
	RPC     string `toml:"rpc"`
	ChainID uint64 `toml:"chainId"`

	// PrivateKey is only read from the environment.
	PrivateKey string `toml:"-"`
}

type Relayer struct {
	URL  string  `toml:"url"`
	RPS  float64 `toml:"rps"`
	Mock bool    `toml:"mock"`
}

type Authorization struct {
	Store             string `toml:"store"`
	Path              string `toml:"path"`
	RedisAddr         string `toml:"redisAddr"`
	DurationDays      uint64 `toml:"durationDays"`
	VerifyingContract string `toml:"verifyingContract"`
}

type API struct {
	Listen      string   `toml:"listen"`
	CORSOrigins []string `toml:"corsOrigins"`
}

var ErrInvalid = errors.New("invalid configuration")

// Default returns the built-in defaults: a local hardhat node with the mock
// FHEVM backend.
func Default() *Config {
	return &Config{
		Network: Network{
			RPC:     "http://127.0.0.1:8545",
			ChainID: 31337,
		},
		Deployments: make(map[string]string),
		Relayer: Relayer{
			URL:  "http://127.0.0.1:8600",
			RPS:  5,
			Mock: true,
		},
		Authorization: Authorization{
			Store:        authz.StoreMemory,
			Path:         "./authz",
			RedisAddr:    "127.0.0.1:6379",
			DurationDays: authz.MaxDurationDays,
		},
		API: API{
			Listen:      "127.0.0.1:8088",
			CORSOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Network.RPC = getEnvOrDefault("FHESYNC_RPC", c.Network.RPC)
	c.Network.PrivateKey = getEnvOrDefault("FHESYNC_PRIVATE_KEY", c.Network.PrivateKey)
	c.Relayer.URL = getEnvOrDefault("FHESYNC_RELAYER_URL", c.Relayer.URL)
	c.Authorization.Store = getEnvOrDefault("FHESYNC_AUTHZ_STORE", c.Authorization.Store)
	c.Authorization.Path = getEnvOrDefault("FHESYNC_AUTHZ_PATH", c.Authorization.Path)
	c.Authorization.RedisAddr = getEnvOrDefault("FHESYNC_REDIS_ADDR", c.Authorization.RedisAddr)
	c.Authorization.VerifyingContract = getEnvOrDefault("FHESYNC_VERIFYING_CONTRACT", c.Authorization.VerifyingContract)
	c.API.Listen = getEnvOrDefault("FHESYNC_API_LISTEN", c.API.Listen)

	var err error
	if v := os.Getenv("FHESYNC_CHAIN_ID"); v != "" {
		if c.Network.ChainID, err = strconv.ParseUint(v, 10, 64); err != nil {
			return fmt.Errorf("%w: FHESYNC_CHAIN_ID=%q", ErrInvalid, v)
		}
	}
	if v := os.Getenv("FHESYNC_RELAYER_RPS"); v != "" {
		if c.Relayer.RPS, err = strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("%w: FHESYNC_RELAYER_RPS=%q", ErrInvalid, v)
		}
	}
	if v := os.Getenv("FHESYNC_RELAYER_MOCK"); v != "" {
		if c.Relayer.Mock, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("%w: FHESYNC_RELAYER_MOCK=%q", ErrInvalid, v)
		}
	}
	return nil
}

// Validate checks the merged configuration.
func (c *Config) Validate() error {
	if c.Network.ChainID == 0 {
		return fmt.Errorf("%w: chain id must not be zero", ErrInvalid)
	}
	if _, err := c.DeploymentMap(); err != nil {
		return err
	}
	switch c.Authorization.Store {
	case authz.StoreMemory, authz.StoreFile, authz.StoreLevelDB, authz.StoreRedis:
	default:
		return fmt.Errorf("%w: %w %q", ErrInvalid, authz.ErrUnknownStoreKind, c.Authorization.Store)
	}
	if c.Authorization.DurationDays == 0 || c.Authorization.DurationDays > authz.MaxDurationDays {
		return fmt.Errorf("%w: durationDays must be in [1, %d], got %d", ErrInvalid, authz.MaxDurationDays, c.Authorization.DurationDays)
	}
	if v := c.Authorization.VerifyingContract; v != "" && !common.IsHexAddress(v) {
		return fmt.Errorf("%w: verifyingContract %q is not an address", ErrInvalid, v)
	}
	if !c.Relayer.Mock {
		if c.Relayer.URL == "" {
			return fmt.Errorf("%w: relayer url required unless mock is set", ErrInvalid)
		}
		if c.Relayer.RPS <= 0 {
			return fmt.Errorf("%w: relayer rps must be positive, got %v", ErrInvalid, c.Relayer.RPS)
		}
		if c.VerifyingContractAddress() == (common.Address{}) {
			return fmt.Errorf("%w: verifyingContract required unless mock is set", ErrInvalid)
		}
	}
	return nil
}

// DeploymentMap parses the [deployments] table.
func (c *Config) DeploymentMap() (map[uint64]common.Address, error) {
	out := make(map[uint64]common.Address, len(c.Deployments))
	for key, value := range c.Deployments {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("%w: deployment key %q is not a chain id", ErrInvalid, key)
		}
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("%w: deployment for chain %d: %q is not an address", ErrInvalid, id, value)
		}
		addr := common.HexToAddress(value)
		if addr == (common.Address{}) {
			return nil, fmt.Errorf("%w: deployment for chain %d is the zero address", ErrInvalid, id)
		}
		out[id] = addr
	}
	return out, nil
}

// VerifyingContractAddress returns the EIP-712 verifying contract of
// decryption requests.
func (c *Config) VerifyingContractAddress() common.Address {
	return common.HexToAddress(c.Authorization.VerifyingContract)
}

// StoreConfig returns the authorization store settings.
func (c *Config) StoreConfig() authz.StoreConfig {
	return authz.StoreConfig{
		Kind:      c.Authorization.Store,
		Path:      c.Authorization.Path,
		RedisAddr: c.Authorization.RedisAddr,
	}
}

// getEnvOrDefault retrieves an environment variable or returns a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
