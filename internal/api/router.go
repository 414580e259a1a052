package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kemiade/salon-stock-engine/internal/api/handler"
	"github.com/kemiade/salon-stock-engine/internal/api/middleware"
	"github.com/kemiade/salon-stock-engine/internal/api/spec"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Router assembles the ops API: health, metrics, listener management, stock
// views, the manual snapshot trigger and the reprocess endpoint.
type Router struct {
	logger    *zap.Logger
	db        *pgxpool.Pool
	redis     redis.Cmdable
	reader    handler.StockReader
	manager   handler.ListenerManager
	snapshots handler.SnapshotRecorder
	processor handler.Reprocessor
	rateRPS   int
	actor     string
}

func NewRouter(
	logger *zap.Logger,
	db *pgxpool.Pool,
	redis redis.Cmdable,
	reader handler.StockReader,
	manager handler.ListenerManager,
	snapshots handler.SnapshotRecorder,
	processor handler.Reprocessor,
	rateRPS int,
	actor string,
) *Router {
	return &Router{
		logger:    logger,
		db:        db,
		redis:     redis,
		reader:    reader,
		manager:   manager,
		snapshots: snapshots,
		processor: processor,
		rateRPS:   rateRPS,
		actor:     actor,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	listenerHandler := handler.NewListenerHandler(api.manager)
	snapshotHandler := handler.NewSnapshotHandler(api.snapshots, api.actor)
	stockHandler := handler.NewStockHandler(api.reader)
	reprocessHandler := handler.NewReprocessHandler(api.processor)

	r.Get("/healthz/live", healthHandler.Live)
	r.Get("/healthz/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.rateRPS))

		r.Get("/v1/listeners", listenerHandler.List)
		r.Post("/v1/listeners/{branchID}", listenerHandler.Subscribe)
		r.Delete("/v1/listeners/{branchID}", listenerHandler.Unsubscribe)
		r.Delete("/v1/listeners", listenerHandler.UnsubscribeAll)

		r.Get("/v1/branches/{branchID}/stocks", stockHandler.ListBranchStocks)
		r.Post("/v1/branches/{branchID}/snapshots", snapshotHandler.Record)

		r.Get("/v1/transactions/{id}", stockHandler.GetTransaction)
		r.Post("/v1/transactions/{id}/reprocess", reprocessHandler.Reprocess)
	})

	return r
}
