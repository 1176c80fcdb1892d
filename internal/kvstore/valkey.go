package kvstore

import (
	"context"
	"fmt"
	"time"

	"mcpconnect/pkg/logging"

	"github.com/valkey-io/valkey-go"
)

const scanBatch = 200

// Valkey is a Store backed by a Valkey (or Redis-compatible) server, shared
// across every instance pointed at the same address.
type Valkey struct {
	client valkey.Client
}

// NewValkey connects to the given address.
func NewValkey(address string) (*Valkey, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{address},
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to valkey at %s: %w", address, err)
	}
	logging.Info("KVStore", "Connected to valkey at %s", address)
	return &Valkey{client: client}, nil
}

// NewValkeyFromClient wraps an existing client.
func NewValkeyFromClient(client valkey.Client) *Valkey {
	return &Valkey{client: client}
}

func (v *Valkey) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := v.client.Do(ctx, v.client.B().Get().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("valkey GET %s: %w", key, err)
	}
	return b, nil
}

func (v *Valkey) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var cmd valkey.Completed
	if ttl > 0 {
		cmd = v.client.B().Set().Key(key).Value(valkey.BinaryString(value)).PxMilliseconds(ttl.Milliseconds()).Build()
	} else {
		cmd = v.client.B().Set().Key(key).Value(valkey.BinaryString(value)).Build()
	}
	if err := v.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey SET %s: %w", key, err)
	}
	return nil
}

func (v *Valkey) Delete(ctx context.Context, key string) error {
	if err := v.client.Do(ctx, v.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("valkey DEL %s: %w", key, err)
	}
	return nil
}

// Take uses GETDEL so the read and delete are a single atomic server operation.
func (v *Valkey) Take(ctx context.Context, key string) ([]byte, error) {
	b, err := v.client.Do(ctx, v.client.B().Getdel().Key(key).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("valkey GETDEL %s: %w", key, err)
	}
	return b, nil
}

func (v *Valkey) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		entry, err := v.client.Do(ctx, v.client.B().Scan().Cursor(cursor).Match(prefix+"*").Count(scanBatch).Build()).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("valkey SCAN %s*: %w", prefix, err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (v *Valkey) Close() error {
	v.client.Close()
	return nil
}
