package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"mcpconnect/internal/kvstore"

	"github.com/klauspost/compress/zstd"
)

// Stats summarizes one cache namespace.
type Stats struct {
	Count     int      `json:"count"`
	ServerIDs []string `json:"serverIds"`
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// namespace is a prefixed, TTL-bound view of a kvstore.Store holding JSON
// values keyed by server id, optionally zstd-compressed.
type namespace struct {
	store    kvstore.Store
	prefix   string
	ttl      time.Duration
	compress bool
}

func (n *namespace) key(serverID string) string {
	return n.prefix + serverID
}

func (n *namespace) put(ctx context.Context, serverID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if n.compress {
		data = zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
	}
	return n.store.Set(ctx, n.key(serverID), data, n.ttl)
}

// get decodes the entry into v. Returns false on a miss; undecodable
// entries are deleted and reported as a miss.
func (n *namespace) get(ctx context.Context, serverID string, v any) (bool, error) {
	data, err := n.store.Get(ctx, n.key(serverID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if n.compress {
		data, err = zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			_ = n.store.Delete(ctx, n.key(serverID))
			return false, nil
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		_ = n.store.Delete(ctx, n.key(serverID))
		return false, nil
	}
	return true, nil
}

func (n *namespace) delete(ctx context.Context, serverID string) error {
	return n.store.Delete(ctx, n.key(serverID))
}

func (n *namespace) serverIDs(ctx context.Context) ([]string, error) {
	keys, err := n.store.Keys(ctx, n.prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, n.prefix))
	}
	sort.Strings(ids)
	return ids, nil
}

func (n *namespace) invalidateAll(ctx context.Context) (int, error) {
	ids, err := n.serverIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := n.delete(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (n *namespace) stats(ctx context.Context) (Stats, error) {
	ids, err := n.serverIDs(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Count: len(ids), ServerIDs: ids}, nil
}
