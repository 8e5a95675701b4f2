package bootstrap

import (
	"flow_server/adapter/in/http"
	"flow_server/adapter/out/messaging"
	"flow_server/config"
	"flow_server/infra/middleware"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
)

// NewAPI builds the fiber app. The returned cleanup closes every backing connection.
func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, err
	}
	return newApp(deps), cleanup, nil
}

// NewAll builds the API and the worker over one shared dependency graph.
func NewAll(cfg *config.Config) (*fiber.App, *Worker, func(), error) {
	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return newApp(deps), newWorker(deps), cleanup, nil
}

func newApp(deps *Dependencies) *fiber.App {
	cfg := deps.Config
	log := deps.Log.With().Str("component", "api").Logger()

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(log),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json: 표준 encoding/json 대비 빠른 직렬화
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:          1 * 1024 * 1024, // 1MB, resync id 목록이면 충분
		ServerHeader:       "",
		DisableDefaultDate: true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover(log))       // 1. Panic recovery
	app.Use(middleware.RequestID())        // 2. Request ID
	app.Use(middleware.RequestLogger(log)) // 3. Request logging
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	// Health, readiness and metrics (no auth required)
	var health *http.HealthHandler
	if deps.RedisCache != nil {
		health = http.NewHealthHandler(deps.DB, deps.RedisCache, deps.RedisCache, deps.Registry)
	} else {
		health = http.NewHealthHandler(deps.DB, nil, nil, deps.Registry)
	}
	health.Register(app)

	opts := []http.FlowHandlerOption{
		http.WithInspector(deps.Engine, deps.EmailRepo),
		http.WithWriteLimit(middleware.UserRateLimit(cfg.WriteRateLimit, cfg.WriteRateWindow)),
	}
	if deps.Redis != nil {
		opts = append(opts, http.WithPublisher(messaging.NewLabelPublisher(deps.Redis, cfg.LabelDeltaStream)))
	}

	http.NewFlowHandler(deps.Flow, opts...).Register(app)

	return app
}
