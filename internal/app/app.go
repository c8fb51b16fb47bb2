// Package app builds probe's long-lived dependencies from configuration. The
// API server and the CLI share it so both run sessions the same way.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/duckmesh/probe/internal/config"
	"github.com/duckmesh/probe/internal/export"
	"github.com/duckmesh/probe/internal/history"
	historypostgres "github.com/duckmesh/probe/internal/history/postgres"
	"github.com/duckmesh/probe/internal/llm"
	"github.com/duckmesh/probe/internal/materialize"
	"github.com/duckmesh/probe/internal/probe"
	"github.com/duckmesh/probe/internal/source"
	s3store "github.com/duckmesh/probe/internal/storage/s3"
)

type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    *s3store.Store
	History  history.Store
	Exporter *export.Exporter

	historyDB   *sql.DB
	historyRepo *historypostgres.Repository
}

// New opens the object store and the history database when they are
// configured. Neither is required.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, History: history.Disabled{}}

	if objectStoreConfigured(cfg) {
		store, err := s3store.New(s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize object store: %w", err)
		}
		a.Store = store
		a.Exporter = export.NewExporter(store)
	} else {
		a.Exporter = export.NewExporter(nil)
	}

	if cfg.History.Enabled {
		db, err := OpenHistoryDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.historyDB = db
		a.historyRepo = historypostgres.NewRepository(db)
		a.History = a.historyRepo
	}
	return a, nil
}

// OpenHistoryDB connects to the configured history database.
func OpenHistoryDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := historypostgres.Open(ctx, historypostgres.DBConfig{
		DSN:             cfg.History.DSN,
		MaxOpenConns:    cfg.History.MaxOpenConns,
		MaxIdleConns:    cfg.History.MaxIdleConns,
		ConnMaxIdleTime: cfg.History.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.History.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	return db, nil
}

// NewAsker builds the session runner. The model client is created here rather
// than in New so that commands which never call a model do not need a key.
func (a *App) NewAsker() (*probe.Asker, error) {
	client, err := llm.New(llm.Config{
		Provider: a.Config.AI.Provider,
		BaseURL:  a.Config.AI.BaseURL,
		APIKey:   a.Config.AI.APIKey,
		Model:    a.Config.AI.Model,
		Timeout:  a.Config.AI.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize model client: %w", err)
	}
	return a.NewAskerWithClient(client)
}

func (a *App) NewAskerWithClient(client llm.Client) (*probe.Asker, error) {
	ai := a.Config.AI
	settings := func(maxTokens int) llm.Settings {
		return llm.Settings{Model: ai.Model, Temperature: ai.Temperature, MaxTokens: maxTokens}
	}
	return probe.NewAsker(probe.Config{
		Client:      client,
		Generate:    settings(ai.GenerateMaxTokens),
		Correct:     settings(ai.CorrectMaxTokens),
		Translate:   settings(ai.TranslateMaxTokens),
		BinderCheck: a.Config.Session.BinderCheck,
		Render: materialize.RenderOptions{
			MaxRows:      a.Config.Session.RenderMaxRows,
			MaxCellWidth: a.Config.Session.RenderMaxCellWidth,
		},
		SampleRows: a.Config.Source.SampleRows,
		History:    a.History,
		Logger:     a.Logger,
	})
}

// SourceOptions returns the options for opening sources. confined applies the
// configured local root and bucket, which the API always does.
func (a *App) SourceOptions(confined bool) source.Options {
	opts := source.Options{}
	if a.Store != nil {
		opts.Store = a.Store
	}
	if confined {
		opts.Root = a.Config.Source.Root
		opts.Bucket = a.Config.ObjectStore.Bucket
	}
	return opts
}

func (a *App) OpenSource(ctx context.Context, raw string, confined bool) (*source.Source, error) {
	return source.Open(ctx, raw, a.SourceOptions(confined))
}

// HealthCheck reports whether the history database is reachable. It passes
// when history is disabled.
func (a *App) HealthCheck(ctx context.Context) error {
	if a.historyRepo == nil {
		return nil
	}
	return a.historyRepo.HealthCheck(ctx)
}

func (a *App) Close() error {
	if a.historyDB == nil {
		return nil
	}
	return a.historyDB.Close()
}

func objectStoreConfigured(cfg config.Config) bool {
	return strings.TrimSpace(cfg.ObjectStore.Endpoint) != "" && strings.TrimSpace(cfg.ObjectStore.Bucket) != ""
}

// ErrHistoryDisabled is returned by commands that need the history database
// when it is not enabled.
var ErrHistoryDisabled = errors.New("history is disabled; set PROBE_HISTORY_ENABLED=true and PROBE_HISTORY_DSN")
