package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/danthegoodman1/icetree/utils"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

type (
	RedisMetaStore struct {
		client *redis.Client
	}
)

func NewRedisMetaStore(ctx context.Context) (*RedisMetaStore, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msg("connecting to redis metastore")
	rms := &RedisMetaStore{
		client: redis.NewClient(&redis.Options{
			Addr:        utils.REDIS_ADDR,
			Password:    utils.REDIS_PASSWORD,
			DB:          0,
			DialTimeout: time.Second * 3,
		}),
	}

	// Ping test first to ensure valid connection
	if utils.GetEnvOrDefaultBool("REDIS_PING_TEST", false) {
		logger.Debug().Msg("running redis ping test")
		s := time.Now()
		_, err := rms.client.Ping(ctx).Result()
		if err != nil {
			rms.client.Close()
			return nil, fmt.Errorf("error pinging redis: %w", err)
		}
		logger.Debug().Msgf("redis ping test successful in %s", time.Since(s))
	}

	return rms, nil
}

func (rms *RedisMetaStore) TableKey(tableName string) string {
	return "t_" + tableName
}

func (rms *RedisMetaStore) partsKey(tableName string) string {
	return rms.TableKey(tableName) + "_parts"
}

func (rms *RedisMetaStore) blockKey(tableName string) string {
	return rms.TableKey(tableName) + "_block"
}

func (rms *RedisMetaStore) GetTableSchema(ctx context.Context, table string) (TableSchema, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("table", table).Msg("getting table schema")
	ts := TableSchema{}
	rawTableSchema, err := rms.client.Get(ctx, rms.TableKey(table)).Result()
	if errors.Is(err, redis.Nil) {
		return ts, fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	if err != nil {
		return ts, fmt.Errorf("error in redis GET: %w", err)
	}

	// Bind JSON string to struct
	err = json.Unmarshal([]byte(rawTableSchema), &ts)
	if err != nil {
		return ts, fmt.Errorf("error in json.Unmarshall: %w", err)
	}

	return ts, nil
}

func (rms *RedisMetaStore) CreateTableSchema(ctx context.Context, ts TableSchema) error {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("table", ts.Name).Msg("creating table schema")
	ts.ID = utils.GenKSortedID("tbl_")
	ts.CreatedAt = time.Now()
	ts.UpdatedAt = ts.CreatedAt

	jsonBytes, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}

	created, err := rms.client.SetNX(ctx, rms.TableKey(ts.Name), string(jsonBytes), 0).Result()
	if err != nil {
		return fmt.Errorf("error in redis SETNX: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrTableExists, ts.Name)
	}

	return nil
}

func (rms *RedisMetaStore) NextBlockNumber(ctx context.Context, table string) (int64, error) {
	n, err := rms.client.Incr(ctx, rms.blockKey(table)).Result()
	if err != nil {
		return 0, fmt.Errorf("error in redis INCR: %w", err)
	}
	return n, nil
}

func (rms *RedisMetaStore) ListParts(ctx context.Context, table string, filters ...FilterOption) ([]PartRecord, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msgf("listing parts with filter options %+v", filters)

	var cursorPos uint64 = 0
	parts := make([]PartRecord, 0)

	// Loop until we have all the results
	for {
		logger.Debug().Msgf("running redis HSCAN with cursor %d", cursorPos)
		rawParts, newCursor, err := rms.client.HScan(ctx, rms.partsKey(table), cursorPos, "", 0).Result()
		if err != nil {
			return nil, fmt.Errorf("error in redis HSCAN: %w", err)
		}

		// HSCAN returns field, value pairs
		for i := 0; i+1 < len(rawParts); i += 2 {
			pr := PartRecord{}
			err = json.Unmarshal([]byte(rawParts[i+1]), &pr)
			if err != nil {
				return nil, fmt.Errorf("error unmarshalling part '%s' under table '%s': %w", rawParts[i], table, err)
			}
			if passFilters(pr, filters) {
				parts = append(parts, pr)
			}
		}

		if newCursor == 0 {
			break
		}
		cursorPos = newCursor
	}

	return parts, nil
}

func (rms *RedisMetaStore) CreatePart(ctx context.Context, table string, p PartRecord) error {
	partJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error json.Marshal(part): %w", err)
	}

	created, err := rms.client.HSetNX(ctx, rms.partsKey(table), p.Name, string(partJSON)).Result()
	if err != nil {
		return fmt.Errorf("error in redis HSETNX: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrPartExists, p.Name)
	}
	return nil
}

// ReplaceParts watches the parts hash so that a concurrent change of the
// catalog aborts and retries the swap
func (rms *RedisMetaStore) ReplaceParts(ctx context.Context, table string, removed []string, added PartRecord) error {
	partJSON, err := json.Marshal(added)
	if err != nil {
		return fmt.Errorf("error json.Marshal(part): %w", err)
	}
	key := rms.partsKey(table)

	swap := func(tx *redis.Tx) error {
		existing, err := tx.HMGet(ctx, key, removed...).Result()
		if err != nil {
			return fmt.Errorf("error in redis HMGET: %w", err)
		}
		for i, v := range existing {
			if v == nil {
				return fmt.Errorf("%w: %s", ErrPartNotFound, removed[i])
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HDel(ctx, key, removed...)
			pipe.HSet(ctx, key, added.Name, string(partJSON))
			return nil
		})
		return err
	}

	cfg := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	return backoff.RetryNotify(func() error {
		err := rms.client.Watch(ctx, swap, key)
		if err == nil || errors.Is(err, redis.TxFailedErr) {
			return err
		}
		return backoff.Permanent(err)
	}, cfg, func(err error, d time.Duration) {
		zerolog.Ctx(ctx).Debug().Err(err).Str("backoff", d.String()).Msg("ReplaceParts retrying")
	})
}

func (rms *RedisMetaStore) Shutdown(_ context.Context) error {
	err := rms.client.Close()
	if err != nil {
		return fmt.Errorf("error closing redis client: %w", err)
	}
	return nil
}
