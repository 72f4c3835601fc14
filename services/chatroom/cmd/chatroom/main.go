package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"roomchat/internal/util"
	"roomchat/pkg/ai"
	"roomchat/pkg/auth"
	"roomchat/pkg/domain"
	"roomchat/pkg/roomsync"
	"roomchat/pkg/storage"
	"roomchat/pkg/store"
	"roomchat/services/chatroom/internal/app"
	"roomchat/services/chatroom/internal/config"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:           "chatroom",
	Short:         "Chat rooms with local or cloud storage",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", config.ConfigPath, "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, cloudCmd, roomCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chatroom: %v\n", err)
		os.Exit(1)
	}
}

// runtime is everything a command needs, built from config.
type runtime struct {
	cfg   config.FileConfig
	log   *slog.Logger
	db    *gorm.DB
	creds *store.LocalCredentialStore
	rooms *roomsync.Adapter
	app   *app.App
}

// bootstrap loads config and wires storage, sessions, the AI responder and
// the export archive. Logs go to logOut.
func bootstrap(ctx context.Context, logOut io.Writer) (*runtime, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	logger := util.InitLogger(cfg.LogLevel, logOut)

	db, err := store.OpenDatabase(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: logger, db: db, creds: store.NewLocalCredentialStore(db)}

	rt.rooms, err = roomsync.New(roomsync.Config{
		Local: func() (store.Backend, error) {
			local, err := store.NewLocalStore(db, store.LocalStoreConfig{PollInterval: cfg.PollEvery(), Logger: logger})
			if err != nil {
				return nil, err
			}
			return local, nil
		},
		Dial: func(ctx context.Context, creds domain.Credentials) (store.Backend, error) {
			cloud, err := store.Dial(ctx, creds, logger)
			if err != nil {
				return nil, err
			}
			return cloud, nil
		},
		Credentials: rt.creds,
		Logger:      logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	if err := rt.rooms.Initialize(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	secret := cfg.SessionSecret
	if secret == "" {
		secret = util.NewID() + util.NewID()
		logger.Warn("sessionSecret not set, sessions end when the process exits")
	}
	sessions, err := auth.NewSessionIssuer(secret, cfg.SessionLifetime(), nil)
	if err != nil {
		rt.Close()
		return nil, err
	}

	generator, err := ai.NewGenerator(ai.GeneratorConfig{
		Provider: cfg.AI.Provider,
		APIKey:   cfg.AI.APIKey,
		BaseURL:  cfg.AI.BaseURL,
		Model:    cfg.AI.Model,
	})
	if err != nil {
		logger.Warn("ai generator unavailable, replies use the fallback text", "err", err)
		generator = nil
	}
	responder := ai.NewResponder(ai.ResponderConfig{
		Generator: generator,
		History:   cfg.AI.History,
		Timeout:   cfg.AI.RequestTimeout(),
		Logger:    logger,
	})

	exports, err := openExports(ctx, cfg.Exports)
	if err != nil {
		logger.Warn("export archive unavailable", "err", err)
		exports = nil
	}

	rt.app, err = app.New(app.Config{
		Rooms:         rt.rooms,
		Sessions:      sessions,
		Responder:     responder,
		Exports:       exports,
		AdminPassword: cfg.AdminPassword,
		Logger:        logger,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func openExports(ctx context.Context, cfg config.ExportConfig) (storage.ObjectStore, error) {
	if cfg.Endpoint != "" {
		minioStore, err := storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			UseSSL:    cfg.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		return minioStore, nil
	}
	fileStore, err := storage.NewFileStore(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return fileStore, nil
}

func (rt *runtime) Close() {
	if rt.rooms != nil {
		if err := rt.rooms.Close(); err != nil {
			rt.log.Warn("close room storage", "err", err)
		}
	}
	if sqlDB, err := rt.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
