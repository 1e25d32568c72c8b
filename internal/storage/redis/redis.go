/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package redis keeps mailbox sequences and aggregate counters in Redis,
// so that several store nodes can share them. INCR and HINCRBY are atomic
// on the server, which is all the allocators need.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
)

const keyPrefix = "yggmailstore:mailbox:"

type Storage struct {
	client   *goredis.Client
	UIDs     *Sequence
	ModSeqs  *Sequence
	Counters *Counters
}

// Open connects to the Redis server at addr and checks it responds.
func Open(ctx context.Context, addr, password string, db int) (*Storage, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Storage{
		client:   client,
		UIDs:     &Sequence{client: client, name: "uid"},
		ModSeqs:  &Sequence{client: client, name: "modseq"},
		Counters: &Counters{client: client},
	}, nil
}

func (s *Storage) Close() error {
	return s.client.Close()
}

// Sequence is a per-mailbox counter held in a plain Redis key.
type Sequence struct {
	client *goredis.Client
	name   string
}

func (s *Sequence) key(mailboxID string) string {
	return keyPrefix + mailboxID + ":" + s.name
}

func (s *Sequence) Increment(ctx context.Context, mailboxID string) (uint64, error) {
	v, err := s.client.Incr(ctx, s.key(mailboxID)).Result()
	if err != nil {
		return 0, fmt.Errorf("INCR %s: %w", s.key(mailboxID), err)
	}
	return uint64(v), nil
}

func (s *Sequence) Current(ctx context.Context, mailboxID string) (uint64, error) {
	v, err := s.client.Get(ctx, s.key(mailboxID)).Uint64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", s.key(mailboxID), err)
	}
	return v, nil
}

// Counters holds the aggregate totals of a mailbox as fields of one hash.
type Counters struct {
	client *goredis.Client
}

func (c *Counters) key(mailboxID string) string {
	return keyPrefix + mailboxID + ":counters"
}

func (c *Counters) Add(ctx context.Context, mailboxID string, counter types.Counter, delta int64) error {
	if err := c.client.HIncrBy(ctx, c.key(mailboxID), counter.String(), delta).Err(); err != nil {
		return fmt.Errorf("HINCRBY %s %s: %w", c.key(mailboxID), counter, err)
	}
	return nil
}

func (c *Counters) Get(ctx context.Context, mailboxID string, counter types.Counter) (int64, error) {
	v, err := c.client.HGet(ctx, c.key(mailboxID), counter.String()).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("HGET %s %s: %w", c.key(mailboxID), counter, err)
	}
	return v, nil
}
