package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danthegoodman1/tsmover/part"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type (
	RedisMetaStore struct {
		client *redis.Client
	}
)

func NewRedisMetaStore(ctx context.Context, addr, password string) (*RedisMetaStore, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Msg("connecting to redis metastore")
	rms := NewRedisMetaStoreFromClient(redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    password,
		DB:          0,
		DialTimeout: time.Second * 3,
	}))

	// Ping test first to ensure valid connection
	if os.Getenv("REDIS_PING_TEST") != "0" {
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

func NewRedisMetaStoreFromClient(client *redis.Client) *RedisMetaStore {
	return &RedisMetaStore{client: client}
}

func (rms *RedisMetaStore) RunKey(runID string) string {
	return "run_" + runID + "_parts"
}

func (rms *RedisMetaStore) RecordPart(ctx context.Context, p part.Part) error {
	partJSON, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("error json.Marshal(part): %w", err)
	}
	pipe := rms.client.TxPipeline()
	pipe.HSet(ctx, rms.RunKey(p.RunID), p.Name, string(partJSON))
	pipe.SAdd(ctx, "runs", p.RunID)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error in redis pipeline exec: %w", err)
	}
	return nil
}

func (rms *RedisMetaStore) ListParts(ctx context.Context, runID string) ([]part.Part, error) {
	runs := []string{runID}
	if runID == "" {
		var err error
		runs, err = rms.client.SMembers(ctx, "runs").Result()
		if err != nil {
			return nil, fmt.Errorf("error in redis SMEMBERS: %w", err)
		}
	}
	parts := make([]part.Part, 0)
	for _, run := range runs {
		p, err := rms.listRun(ctx, run)
		if err != nil {
			return nil, err
		}
		parts = append(parts, p...)
	}
	return parts, nil
}

func (rms *RedisMetaStore) listRun(ctx context.Context, runID string) ([]part.Part, error) {
	logger := zerolog.Ctx(ctx)
	var cursorPos uint64 = 0
	var returnedCursor uint64 = 1
	parts := make([]part.Part, 0)

	// Loop until we have all the results
	for returnedCursor != 0 {
		logger.Debug().Msgf("running redis HSCAN with cursor %d", cursorPos)
		rawParts, newCursor, err := rms.client.HScan(ctx, rms.RunKey(runID), cursorPos, "", 0).Result()
		if err != nil {
			return nil, fmt.Errorf("error in redis HSCAN: %w", err)
		}

		// HSCAN returns alternating field and value entries
		for i := 0; i+1 < len(rawParts); i += 2 {
			p := part.Part{}
			err = json.Unmarshal([]byte(rawParts[i+1]), &p)
			if err != nil {
				return nil, fmt.Errorf("error unmarshalling part '%s' under run '%s': %w", rawParts[i], runID, err)
			}
			if strings.TrimSpace(p.Name) == "" {
				continue
			}
			parts = append(parts, p)
		}

		returnedCursor = newCursor
		cursorPos = newCursor
	}

	return parts, nil
}

func (rms *RedisMetaStore) Shutdown(_ context.Context) error {
	err := rms.client.Close()
	if err != nil {
		return fmt.Errorf("error closing redis client: %w", err)
	}
	return nil
}
