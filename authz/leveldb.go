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
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
)

var levelDBPrefix = []byte("authz-")

// LevelDBStore persists authorizations in a LevelDB database.
type LevelDBStore struct {
	db *leveldb.DB
}

// NewLevelDBStore opens (or creates) a LevelDB database at path.
func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open authorization database: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

// Load implements Store.
func (s *LevelDBStore) Load(ctx context.Context, key Key) (*Authorization, error) {
	data, err := s.db.Get(levelDBKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeAuthorization(data)
}

// Save implements Store.
func (s *LevelDBStore) Save(ctx context.Context, key Key, auth *Authorization) error {
	data, err := json.Marshal(auth)
	if err != nil {
		return err
	}
	return s.db.Put(levelDBKey(key), data, nil)
}

// Delete implements Store.
func (s *LevelDBStore) Delete(ctx context.Context, key Key) error {
	return s.db.Delete(levelDBKey(key), nil)
}

// Close releases the database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func levelDBKey(key Key) []byte {
	return append(append([]byte(nil), levelDBPrefix...), key.String()...)
}
