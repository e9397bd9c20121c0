package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"partner_portal/internal/config"
	"partner_portal/internal/db"
	"partner_portal/internal/logger"
	"partner_portal/internal/models"
	"partner_portal/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Partner onboarding portal",
	Long: `Partner onboarding portal.

Available subcommands:
  serve - Run the HTTP server (default)
  seed  - Create the admin user, default stages and indexes`,
	SilenceUsage: true,
	RunE:         runServe,
}

func main() {
	rootCmd.AddCommand(serveCmd, seedCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the connections shared by the subcommands.
type app struct {
	cfg   config.Config
	log   *zap.Logger
	gdb   *gorm.DB
	mongo *mongo.Client
	rdb   *redis.Client
	store *store.Store
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, envLoaded, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if !envLoaded {
		log.Info("no .env file found, relying on system env vars")
	}

	gdb, err := db.Connect(cfg.DSN, log)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gdb, models.Tables()...); err != nil {
		return nil, err
	}

	client, mdb, err := db.ConnectMongo(cfg.MongoURI, cfg.MongoDatabase, log)
	if err != nil {
		return nil, err
	}
	st := store.New(mdb)
	if err := st.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	rdb, err := db.ConnectRedis(cfg.RedisURL, log)
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &app{cfg: cfg, log: log, gdb: gdb, mongo: client, rdb: rdb, store: st}, nil
}

func (a *app) close() {
	if err := a.mongo.Disconnect(context.Background()); err != nil {
		a.log.Warn("mongodb disconnect", zap.Error(err))
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if sqlDB, err := a.gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.log.Sync()
}
