package main

import (
	"context"
	"fmt"

	"github.com/cardiocare/cardiocare/internal/config"
	"github.com/cardiocare/cardiocare/internal/domain/chat"
	"github.com/cardiocare/cardiocare/internal/domain/connection"
	"github.com/cardiocare/cardiocare/internal/domain/identity"
	"github.com/cardiocare/cardiocare/internal/domain/prediction"
	"github.com/cardiocare/cardiocare/internal/platform/db"
	"github.com/cardiocare/cardiocare/internal/platform/mongodb"
)

// stores bundles the repositories of one backend with its unit of work and
// health check.
type stores struct {
	backend     string
	users       identity.Repository
	requests    connection.Repository
	predictions prediction.Repository
	messages    chat.Repository
	tx          connection.Transactor
	pinger      db.Pinger
	details     func() interface{}
	close       func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.StoreBackend {
	case config.BackendMongo:
		return openMongo(ctx, cfg)
	default:
		return openPostgres(ctx, cfg)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config) (*stores, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	return &stores{
		backend:     config.BackendPostgres,
		users:       identity.NewUserRepo(pool),
		requests:    connection.NewRequestRepo(pool),
		predictions: prediction.NewPredictionRepo(pool),
		messages:    chat.NewMessageRepo(pool),
		tx:          db.NewTxManager(pool),
		pinger:      pool,
		details:     func() interface{} { return db.GetPoolStats(pool) },
		close:       pool.Close,
	}, nil
}

func openMongo(ctx context.Context, cfg *config.Config) (*stores, error) {
	client, err := mongodb.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, err
	}
	database := client.Database(cfg.MongoDatabase)
	if err := mongodb.CheckServerVersion(ctx, database); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := mongodb.EnsureIndexes(ctx, database); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure mongo indexes: %w", err)
	}
	return &stores{
		backend:     config.BackendMongo,
		users:       identity.NewUserRepoMongo(database),
		requests:    connection.NewRequestRepoMongo(database),
		predictions: prediction.NewPredictionRepoMongo(database),
		messages:    chat.NewMessageRepoMongo(database),
		tx:          mongodb.NewTxManager(client),
		pinger:      mongodb.Pinger{Client: client},
		close:       func() { _ = client.Disconnect(context.Background()) },
	}, nil
}
