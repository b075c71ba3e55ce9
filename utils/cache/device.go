package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Device store keys
const (
	KeyUserID              = "userId"
	KeyUserNodeKey         = "userNodeKey"
	KeyNodeKey             = "nodeKey"
	KeyChatsCache          = "chatsCache"
	KeyChatsCacheFetchedAt = "chatsCacheFetchedAt"
	KeyDownloads           = "downloads"
)

// DeviceStore is the key/value storage a single viewer's device would keep locally
type DeviceStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}) error
	HSetJSON(ctx context.Context, key, field string, value interface{}) error
	HGetAllJSON(ctx context.Context, key string, decode func(field string, raw []byte) error) error
	HDel(ctx context.Context, key string, fields ...string) error
	Delete(ctx context.Context, keys ...string) error
}

// Namespace scopes a RedisCache to one device, e.g. "device:<deviceID>:"
type Namespace struct {
	cache  *RedisCache
	prefix string
	ttl    time.Duration
}

// NewNamespace returns the device store for deviceID. A zero ttl keeps keys forever.
func NewNamespace(cache *RedisCache, deviceID string, ttl time.Duration) *Namespace {
	return &Namespace{
		cache:  cache,
		prefix: fmt.Sprintf("device:%s:", deviceID),
		ttl:    ttl,
	}
}

func (n *Namespace) key(k string) string {
	return n.prefix + k
}

func (n *Namespace) Get(ctx context.Context, key string) (string, error) {
	return n.cache.Get(ctx, n.key(key))
}

func (n *Namespace) Set(ctx context.Context, key string, value string) error {
	return n.cache.Set(ctx, n.key(key), value, n.ttl)
}

func (n *Namespace) GetJSON(ctx context.Context, key string, dest interface{}) error {
	return n.cache.GetJSON(ctx, n.key(key), dest)
}

func (n *Namespace) SetJSON(ctx context.Context, key string, value interface{}) error {
	return n.cache.SetJSON(ctx, n.key(key), value, n.ttl)
}

func (n *Namespace) HSetJSON(ctx context.Context, key, field string, value interface{}) error {
	return n.cache.HSetJSON(ctx, n.key(key), field, value)
}

// HGetAllJSON calls decode for every field of the hash
func (n *Namespace) HGetAllJSON(ctx context.Context, key string, decode func(field string, raw []byte) error) error {
	all, err := n.cache.HGetAll(ctx, n.key(key))
	if err != nil {
		return err
	}
	for field, raw := range all {
		if !json.Valid([]byte(raw)) {
			continue
		}
		if err := decode(field, []byte(raw)); err != nil {
			return err
		}
	}
	return nil
}

func (n *Namespace) HDel(ctx context.Context, key string, fields ...string) error {
	return n.cache.HDel(ctx, n.key(key), fields...)
}

func (n *Namespace) Delete(ctx context.Context, keys ...string) error {
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = n.key(k)
	}
	return n.cache.Delete(ctx, full...)
}

var _ DeviceStore = (*Namespace)(nil)
