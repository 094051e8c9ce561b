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

package authz

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Store kinds accepted by OpenStore.
const (
	StoreMemory  = "memory"
	StoreFile    = "file"
	StoreLevelDB = "leveldb"
	StoreRedis   = "redis"
)

// StoreConfig selects and configures an authorization store backend.
type StoreConfig struct {
	Kind      string
	Path      string // file and leveldb
	RedisAddr string // redis
}

// OpenStore opens the configured backend. The returned close function is
// never nil.
func OpenStore(cfg StoreConfig) (Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Kind {
	case "", StoreMemory:
		return NewMemoryStore(), noop, nil
	case StoreFile:
		store, err := NewFileStore(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil
	case StoreLevelDB:
		store, err := NewLevelDBStore(cfg.Path)
		if err != nil {
			return nil, noop, err
		}
		return store, store.Close, nil
	case StoreRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return NewRedisStore(client), client.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: %q", ErrUnknownStoreKind, cfg.Kind)
	}
}
