package server

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"catalog-desk/internal/config"
	custommiddleware "catalog-desk/internal/middleware"
	"catalog-desk/internal/repository"
	"catalog-desk/internal/service"
	"catalog-desk/internal/transport"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	*http.Server
	config *config.Config
	logger *zap.Logger
	db     *sql.DB
}

// NewServer wires the catalog backend. db is nil when the in-memory
// repository is selected.
func NewServer(cfg *config.Config, logger *zap.Logger, db *sql.DB) *Server {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))
	router.Use(custommiddleware.CORSMiddleware(nil, cfg.Server.Env == "development"))
	router.Use(custommiddleware.LoggingMiddleware(logger))
	router.Use(custommiddleware.ErrorHandlingMiddleware(logger))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	var repo repository.CatalogRepository
	if db != nil {
		repo = repository.NewPostgresRepository(db)
	} else {
		repo = repository.NewMemoryRepository()
	}

	grouping := service.NewGroupingCore(logger)
	sheets := service.NewSpreadsheetService(logger)

	catalogHandler := transport.NewCatalogHandler(repo, grouping, sheets, logger)
	catalogHandler.RegisterRoutes(router)

	uploadHandler := transport.NewUploadHandler(repo, grouping, sheets, logger)
	router.Group(func(r chi.Router) {
		if cfg.Redis.Addr != "" {
			redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
			r.Use(custommiddleware.RateLimitMiddleware(redisClient, custommiddleware.RateLimitConfig{
				RequestsPerWindow: cfg.Redis.UploadsPerMinute,
				Window:            time.Minute,
				KeyPrefix:         "upload_rate",
			}, logger))
		}
		uploadHandler.RegisterRoutes(r)
	})

	server := &Server{
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
			Handler:      router,
			IdleTimeout:  time.Minute,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		config: cfg,
		logger: logger,
		db:     db,
	}

	return server
}

func (s *Server) Close() error {
	s.logger.Info("Closing server resources")

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	s.logger.Sync()
	return nil
}
