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
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares authorizations between processes through Redis. Entries
// expire together with the authorization they hold.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore wraps a redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, key Key) (*Authorization, error) {
	data, err := s.client.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization: %w", err)
	}
	return decodeAuthorization(data)
}

// Save implements Store. Already expired authorizations are not written.
func (s *RedisStore) Save(ctx context.Context, key Key, auth *Authorization) error {
	ttl := auth.ExpiresAt().Sub(s.now())
	if ttl <= 0 {
		return ErrExpired
	}
	data, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save authorization: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete authorization: %w", err)
	}
	return nil
}

func redisKey(key Key) string {
	return "fhesync:authz:" + key.String()
}
