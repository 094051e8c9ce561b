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
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps one file per authorization under a base directory. The
// files hold ephemeral private keys, so they are written 0600 and overwritten
// with random data before removal.
type FileStore struct {
	mu       sync.RWMutex
	basePath string
}

// NewFileStore creates a file store, creating basePath if needed.
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create authorization directory: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Load implements Store.
func (fs *FileStore) Load(ctx context.Context, key Key) (*Authorization, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read authorization: %w", err)
	}
	return decodeAuthorization(data)
}

// Save implements Store.
func (fs *FileStore) Save(ctx context.Context, key Key, auth *Authorization) error {
	data, err := json.Marshal(auth)
	if err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	file, err := os.OpenFile(fs.path(key), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// Delete implements Store. Deleting a missing key is not an error.
func (fs *FileStore) Delete(ctx context.Context, key Key) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	err := secureDelete(fs.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (fs *FileStore) path(key Key) string {
	return filepath.Join(fs.basePath, key.String()+".json")
}

// secureDelete overwrites a file with random data before removing it.
func secureDelete(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(filePath, os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := io.CopyN(file, rand.Reader, info.Size()); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Remove(filePath)
}
