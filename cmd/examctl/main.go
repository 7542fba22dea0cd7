// Command examctl inspects and repairs a kiosk's local state, issues tokens and seeds
// demo schedules.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-kiosk/internal/config"
	"github.com/stemsi/exstem-kiosk/internal/database"
	"github.com/stemsi/exstem-kiosk/internal/localstore"
	"github.com/stemsi/exstem-kiosk/internal/logger"
	"golang.org/x/term"
)

// app carries what every subcommand needs.
type app struct {
	cfg *config.Config
	log zerolog.Logger
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "examctl",
		Short:         "Maintenance tool for ExStem kiosks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.cfg = config.Load()
			format := a.cfg.LogFormat
			if !term.IsTerminal(int(os.Stderr.Fd())) {
				format = "json"
			}
			a.log = logger.SetupTo(os.Stderr, a.cfg.LogLevel, format)
		},
	}

	root.AddCommand(
		newQueueCmd(a),
		newBackupCmd(a),
		newTokenCmd(a),
		newSeedCmd(a),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// openLocal opens the configured local store, connecting to Redis when it backs it.
func (a *app) openLocal(ctx context.Context) (localstore.Storage, func(), error) {
	var rdb *redis.Client
	if a.cfg.LocalStore == config.LocalStoreRedis {
		var err error
		rdb, err = database.NewRedisClient(ctx, a.cfg, a.log)
		if err != nil {
			return nil, nil, err
		}
	}
	local, closeLocal, err := localstore.Open(ctx, a.cfg, rdb, a.log)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		return nil, nil, err
	}
	return local, func() {
		closeLocal()
		if rdb != nil {
			rdb.Close()
		}
	}, nil
}
