package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPingTimeout = 2 * time.Second

var shared struct {
	mu     sync.RWMutex
	client *redis.Client
	dialed bool
}

// ConnectRedis dials the cache once per process. Redis stays off unless
// REDIS_ENABLED=true and is never dialed under APPENV=test; in both cases the
// client is nil and callers fall back to the database.
func ConnectRedis() (*redis.Client, error) {
	shared.mu.Lock()
	defer shared.mu.Unlock()
	if shared.dialed {
		return shared.client, nil
	}
	shared.dialed = true

	if !strings.EqualFold(os.Getenv("REDIS_ENABLED"), "true") || LoadConfig().IsTest() {
		return nil, nil
	}
	opts, err := redisOptions()
	if err != nil {
		return nil, err
	}
	rdb, err := dialRedis(opts)
	if err != nil {
		return nil, err
	}
	shared.client = rdb
	log.Printf("config: redis ready at %s (db %d)", opts.Addr, opts.DB)
	return rdb, nil
}

// redisOptions prefers REDIS_URL and otherwise assembles the options from
// REDIS_ADDR, REDIS_PASS and REDIS_DB.
func redisOptions() (*redis.Options, error) {
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}

	opts := &redis.Options{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASS"),
	}
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	if n, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil && n >= 0 {
		opts.DB = n
	}
	return opts, nil
}

func dialRedis(opts *redis.Options) (*redis.Client, error) {
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// GetRedisClient returns the shared client, nil when Redis is off.
func GetRedisClient() *redis.Client {
	shared.mu.RLock()
	defer shared.mu.RUnlock()
	return shared.client
}

// SetRedisClient installs client as the shared Redis client, e.g. one built
// against miniredis. nil turns Redis-backed features off.
func SetRedisClient(client *redis.Client) {
	shared.mu.Lock()
	shared.client = client
	shared.dialed = true
	shared.mu.Unlock()
}

// ResetRedis forgets the shared client so the next ConnectRedis dials again.
func ResetRedis() {
	shared.mu.Lock()
	shared.client = nil
	shared.dialed = false
	shared.mu.Unlock()
}
