package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alfredjeanlab/issuesearch/internal/config"
	"github.com/alfredjeanlab/issuesearch/internal/events"
	"github.com/alfredjeanlab/issuesearch/internal/filter"
	"github.com/alfredjeanlab/issuesearch/internal/handler"
	"github.com/alfredjeanlab/issuesearch/internal/index"
	"github.com/alfredjeanlab/issuesearch/internal/indexer"
	"github.com/alfredjeanlab/issuesearch/internal/model"
	"github.com/alfredjeanlab/issuesearch/internal/permission"
	"github.com/alfredjeanlab/issuesearch/internal/search"
	"github.com/alfredjeanlab/issuesearch/internal/searchctx"
	"github.com/alfredjeanlab/issuesearch/internal/store"
	"github.com/alfredjeanlab/issuesearch/internal/store/memory"
	"github.com/alfredjeanlab/issuesearch/internal/store/postgres"
)

// app holds the components one command invocation works with.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     store.Store
	indexes   *index.Manager
	registry  *handler.Registry
	oracle    permission.Oracle
	provider  *search.Provider
	filters   *filter.Service
	pipeline  *indexer.Pipeline
	publisher events.Publisher
}

func openStore(databaseURL string) (store.Store, error) {
	if databaseURL == config.MemoryDatabaseURL {
		return memory.New(), nil
	}
	s, err := postgres.New(databaseURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// buildRegistry registers the system fields and every custom field the
// store defines.
func buildRegistry(ctx context.Context, st store.Store) (*handler.Registry, error) {
	reg := handler.NewRegistry(nil, handler.SystemHandlers(st)...)
	fields, err := st.ListCustomFields(ctx)
	if err != nil {
		return nil, fmt.Errorf("list custom fields: %w", err)
	}
	for _, cf := range fields {
		h, err := handler.NewCustomFieldHandler(*cf, reg.IsReserved)
		if err != nil {
			return nil, fmt.Errorf("custom field %d: %w", cf.ID, err)
		}
		reg.Register(h)
	}
	return reg, nil
}

// newApp wires the store, indexes, search provider and saved-search
// service. In-memory indexes are rebuilt from the store before returning.
func newApp(ctx context.Context, cfg *config.Config, st store.Store, publisher events.Publisher, logger *slog.Logger) (*app, error) {
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	reg, err := buildRegistry(ctx, st)
	if err != nil {
		return nil, err
	}
	indexes := index.NewManager(logger)
	if err := indexes.Open(cfg.IndexDir, reg.FieldIndexers()); err != nil {
		return nil, err
	}
	oracle := permission.NewStoreOracle(st)
	a := &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		indexes:   indexes,
		registry:  reg,
		oracle:    oracle,
		publisher: publisher,
		provider: search.NewProvider(indexes, reg, oracle, search.Options{
			MaxClauses:  cfg.MaxClauses,
			StreamBatch: cfg.StreamBatch,
			Logger:      logger,
			Contexts:    searchctx.NewFactory(st),
		}),
		filters:  filter.NewService(st, oracle, publisher, logger),
		pipeline: indexer.New(st, indexes, cfg.IndexBatch, logger),
	}
	if cfg.IndexDir == "" {
		if _, err := a.pipeline.Rebuild(ctx); err != nil {
			indexes.Close()
			return nil, fmt.Errorf("rebuild in-memory index: %w", err)
		}
	}
	return a, nil
}

// openApp builds an app from the loaded configuration, first loading the
// --data dataset if one was given.
func openApp(ctx context.Context) (*app, error) {
	st, err := openStore(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if dataFile != "" {
		ds, err := readDatasetFile(dataFile)
		if err == nil {
			_, err = loadDataset(ctx, st, ds)
		}
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("load %s: %w", dataFile, err)
		}
	}
	var publisher events.Publisher = &events.NoopPublisher{}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			st.Close()
			return nil, err
		}
		publisher = pub
	}
	a, err := newApp(ctx, cfg, st, publisher, logger)
	if err != nil {
		publisher.Close()
		st.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Error("error closing publisher", "err", err)
	}
	if err := a.indexes.Close(); err != nil {
		a.logger.Error("error closing indexes", "err", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing store", "err", err)
	}
}

// user resolves key to a stored user. The empty key is the anonymous user.
func (a *app) user(ctx context.Context, key string) (*model.User, error) {
	if key == "" {
		return nil, nil
	}
	u, err := a.store.GetUser(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unknown user %q", key)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %q: %w", key, err)
	}
	return u, nil
}

// withApp opens an app for the duration of fn, passing the user named by
// --user.
func withApp(ctx context.Context, fn func(a *app, user *model.User) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	user, err := a.user(ctx, userKey)
	if err != nil {
		return err
	}
	return fn(a, user)
}
