package localstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-kiosk/internal/config"
	"github.com/stemsi/exstem-kiosk/internal/database"
)

// Open returns the backend selected by cfg.LocalStore. rdb is required for the redis
// backend. The returned func releases what Open acquired.
func Open(ctx context.Context, cfg *config.Config, rdb *redis.Client, log zerolog.Logger) (Storage, func() error, error) {
	switch cfg.LocalStore {
	case config.LocalStoreSQLite:
		db, err := database.NewSQLite(ctx, cfg.LocalDBPath, log)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLite(db), db.Close, nil
	case config.LocalStoreRedis:
		if rdb == nil {
			return nil, nil, errors.New("redis local store needs a redis client")
		}
		return NewRedis(rdb), func() error { return nil }, nil
	case config.LocalStoreMemory:
		log.Warn().Msg("Using in-memory local storage, answers will not survive a restart")
		return NewMemory(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown local store %q", cfg.LocalStore)
	}
}
