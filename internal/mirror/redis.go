package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"points_ledger/internal/domain"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "ledger:account:"

// putScript writes the snapshot only when its version is newer and publishes
// it on the account channel in the same step.
var putScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'version') or '-1')
if cur >= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'version', ARGV[2])
redis.call('PUBLISH', KEYS[2], ARGV[1])
return 1
`)

type RedisMirror struct {
	rdb *redis.Client
}

func NewRedisMirror(rdb *redis.Client) *RedisMirror {
	return &RedisMirror{rdb: rdb}
}

func accountKey(id string) string     { return keyPrefix + id }
func accountChannel(id string) string { return keyPrefix + id + ":updates" }

func (m *RedisMirror) Put(ctx context.Context, acct *domain.Account) (bool, error) {
	data, err := json.Marshal(acct)
	if err != nil {
		return false, fmt.Errorf("encode snapshot: %w", err)
	}
	n, err := putScript.Run(ctx, m.rdb,
		[]string{accountKey(acct.ID), accountChannel(acct.ID)},
		string(data), strconv.FormatInt(acct.Version, 10),
	).Int()
	if err != nil {
		return false, domain.SyncFailure("mirror put", err)
	}
	return n == 1, nil
}

func (m *RedisMirror) Get(ctx context.Context, accountID string) (*domain.Account, error) {
	data, err := m.rdb.HGet(ctx, accountKey(accountID), "data").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.NotFound("mirrored account", accountID)
	}
	if err != nil {
		return nil, domain.SyncFailure("mirror get", err)
	}
	var a domain.Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &a, nil
}

func (m *RedisMirror) Watch(ctx context.Context, accountID string, onUpdate func(*domain.Account), onError func(error)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	ps := m.rdb.Subscribe(ctx, accountChannel(accountID))
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return nil, domain.SyncFailure("mirror subscribe", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ps.Close()
		for {
			msg, err := ps.Receive(ctx)
			if err != nil {
				if ctx.Err() == nil && onError != nil {
					onError(domain.SyncFailure("mirror watch", err))
				}
				return
			}
			rm, ok := msg.(*redis.Message)
			if !ok {
				continue
			}
			var a domain.Account
			if err := json.Unmarshal([]byte(rm.Payload), &a); err != nil {
				continue
			}
			onUpdate(&a)
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}
