package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"catalog-desk/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

// Service owns the database handle for the Postgres-backed catalog.
type Service struct {
	db *sql.DB
}

// New opens a Postgres connection from the given config. An optional .env
// file is loaded first so local overrides apply before viper reads the
// environment.
func New(cfg config.DatabaseConfig) (*Service, error) {
	godotenv.Load()

	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.Schema,
	)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return &Service{db: db}, nil
}

// DB returns the underlying handle.
func (s *Service) DB() *sql.DB {
	return s.db
}

// Health pings the database and reports basic pool stats.
func (s *Service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	health := make(map[string]string)
	if err := s.db.PingContext(ctx); err != nil {
		health["status"] = "down"
		health["error"] = err.Error()
		return health
	}
	stats := s.db.Stats()
	health["status"] = "up"
	health["open_connections"] = fmt.Sprintf("%d", stats.OpenConnections)
	health["in_use"] = fmt.Sprintf("%d", stats.InUse)
	return health
}

// Close closes the pool.
func (s *Service) Close() error {
	return s.db.Close()
}
