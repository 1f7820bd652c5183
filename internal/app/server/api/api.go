// GET    /api/v1/health                 # Состояние сервиса (публичный)
// GET    /api/v1/{collection}           # Список документов (auth)
// POST   /api/v1/{collection}           # Создать документ (auth)
// GET    /api/v1/{collection}/{id}      # Получить документ (auth)
// PUT    /api/v1/{collection}/{id}      # Заменить документ (auth)
// PATCH  /api/v1/{collection}/{id}      # Изменить поля (auth)
// DELETE /api/v1/{collection}/{id}      # Удалить документ (auth)
//
// Все ответы коллекций в конверте {success, data, error}.

package api

import (
	healthAPI "edudesk/internal/app/server/api/http/health"
	"edudesk/internal/app/server/api/http/middleware"
	"edudesk/internal/app/server/api/http/middleware/auth"
	"edudesk/internal/app/server/api/http/middleware/logger"
	resourceAPI "edudesk/internal/app/server/api/http/resource"
	"edudesk/internal/domain/resource"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"
)

type Handlers struct {
	Health   *healthAPI.Handler
	Resource *resourceAPI.Handler
}

// Deps - зависимости API
type Deps struct {
	Service   resource.Servicer
	AuthToken string
	// Ping проверяет хранилище для /health, может быть nil
	Ping healthAPI.Pinger
}

// New создает *chi.Mux с ВСЕМИ операциями через huma.Register
func New(deps Deps, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()
	mux.Use(chimw.RequestID, chimw.Recoverer)

	config := huma.DefaultConfig("EduDesk API", "1.0.0")
	// без $schema в телах ответов: клиенты ждут чистый конверт
	config.CreateHooks = nil
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
	}

	API := humachi.New(mux, config)

	h := handlers(deps, log)
	h.Health.SetupRoutes(API)
	h.Resource.SetupRoutes(API)

	return mux
}

func handlers(deps Deps, log *slog.Logger) *Handlers {
	authMW := auth.New(deps.AuthToken, log)
	loggerMW := logger.New(log)
	middlewares := middleware.NewContainer()

	middlewares.Add(loggerMW.Middleware())
	healthHandler := healthAPI.NewHandler(log, middlewares.GetAllAndClear(), deps.Ping)

	middlewares.Add(loggerMW.Middleware(), authMW.Middleware())
	resourceHandler := resourceAPI.NewHandler(deps.Service, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health:   healthHandler,
		Resource: resourceHandler,
	}
}
