package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"edudesk/internal/app/server/api"
	"edudesk/internal/app/server/config"
	"edudesk/internal/domain/resource"
	"edudesk/internal/infrastructure/storage/memory"
	"edudesk/internal/infrastructure/storage/postgres"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"
)

// App - справочный бэкенд: хранилище, сервис и HTTP API
type App struct {
	config  *config.Config
	log     *slog.Logger
	service *resource.Service
	http    *http.Server
	closer  func() error
}

// New выбирает хранилище (PostgreSQL, если задан DATABASE_URI, иначе память)
// и загружает начальные данные
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*App, error) {
	repo, ping, closer, err := openRepository(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	service := resource.NewService(repo, log)
	if cfg.Server.SeedPath != "" {
		n, err := seed(ctx, service, cfg.Server.SeedPath)
		if err != nil {
			_ = closer()
			return nil, err
		}
		log.Info("seed data loaded", "path", cfg.Server.SeedPath, "created", n)
	}

	handler := api.New(api.Deps{
		Service:   service,
		AuthToken: cfg.Server.AuthToken,
		Ping:      ping,
	}, log)

	return &App{
		config:  cfg,
		log:     log,
		service: service,
		closer:  closer,
		http: &http.Server{
			Addr:         cfg.Server.RunAddress,
			Handler:      handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}, nil
}

func openRepository(ctx context.Context, cfg *config.Config, log *slog.Logger) (resource.Repository, func(context.Context) error, func() error, error) {
	if !cfg.UsePostgres() {
		log.Warn("DATABASE_URI is not set, documents are kept in memory")
		return memory.NewResourceRepository(), nil, func() error { return nil }, nil
	}

	storage, err := postgres.New(ctx, cfg, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	return postgres.NewResourceRepository(storage.Pool(), log), storage.Pool().Ping, storage.Close, nil
}

// seed читает файл вида {"courses": [{...}], "events": [{...}]}
func seed(ctx context.Context, service *resource.Service, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}

	var data map[string][]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	return service.Seed(ctx, data)
}

// Handler возвращает HTTP-обработчик API
func (a *App) Handler() http.Handler {
	return a.http.Handler
}

// Run обслуживает запросы до отмены контекста и корректно останавливает сервер
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("server started", "address", a.config.Server.RunAddress, "env", a.config.Env)
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		defer cancel()

		a.log.Info("shutting down server")
		if err := a.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	if cerr := a.closer(); cerr != nil {
		a.log.Error("failed to close storage", "error", cerr)
	}
	return err
}
