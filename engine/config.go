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

package engine

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// FeverThreshold is 37.5°C in tenths.
	FeverThreshold = 375

	MinTenths = 300
	MaxTenths = 450
)

// Config holds the engine settings.
type Config struct {
	// Deployments maps chain ids to the EncryptedTemperatureCheck address.
	Deployments map[uint64]common.Address

	Threshold uint32
	MinTenths uint32
	MaxTenths uint32

	// SubmitDelay is waited after the "Submitting" status is published and
	// before encryption starts.
	SubmitDelay time.Duration

	// Registerer receives the engine metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer
}

// DefaultConfig contains the default settings.
var DefaultConfig = Config{
	Threshold:   FeverThreshold,
	MinTenths:   MinTenths,
	MaxTenths:   MaxTenths,
	SubmitDelay: 100 * time.Millisecond,
}

func (c *Config) sanitize() Config {
	conf := *c
	if conf.Threshold == 0 {
		conf.Threshold = DefaultConfig.Threshold
	}
	if conf.MinTenths == 0 && conf.MaxTenths == 0 {
		conf.MinTenths, conf.MaxTenths = DefaultConfig.MinTenths, DefaultConfig.MaxTenths
	}
	deployments := make(map[uint64]common.Address, len(conf.Deployments))
	for id, addr := range conf.Deployments {
		if addr != (common.Address{}) {
			deployments[id] = addr
		}
	}
	conf.Deployments = deployments
	return conf
}
