// Package postgres implements the repositories on PostgreSQL through gorm. Cart and finalize
// transactions lock the rows they read with SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/naturalily/shop-api/internal/platform/observability"
	"github.com/naturalily/shop-api/internal/repositories"
)

const (
	defaultSlowQueryThreshold = 200 * time.Millisecond
	defaultMaxOpenConns       = 20
)

// Registry owns the gorm handle shared by every Postgres repository.
type Registry struct {
	db *gorm.DB
}

var _ repositories.Registry = (*Registry)(nil)

// Option customises Open.
type Option func(*openConfig)

type openConfig struct {
	logger      *zap.Logger
	autoMigrate bool
}

// WithLogger routes gorm warnings and slow queries to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *openConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithAutoMigrate creates or updates the schema on open.
func WithAutoMigrate() Option {
	return func(cfg *openConfig) { cfg.autoMigrate = true }
}

// Open connects to dsn and returns the registry.
func Open(ctx context.Context, dsn string, opts ...Option) (*Registry, error) {
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	cfg := openConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger: gormlogger.New(observability.NewPrintfAdapter(cfg.logger), gormlogger.Config{
			SlowThreshold:             defaultSlowQueryThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres: sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(defaultMaxOpenConns)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if cfg.autoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("postgres: auto migrate: %w", err)
		}
	}
	return NewRegistry(db), nil
}

// NewRegistry wraps an existing gorm handle.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db}
}

func (r *Registry) Close(context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Registry) Products() repositories.ProductRepository   { return &ProductRepository{db: r.db} }
func (r *Registry) Carts() repositories.CartRepository         { return &CartRepository{db: r.db} }
func (r *Registry) Wishlists() repositories.WishlistRepository { return &WishlistRepository{db: r.db} }
func (r *Registry) Orders() repositories.OrderRepository       { return &OrderRepository{db: r.db} }

func (r *Registry) HealthChecks() []repositories.DependencyCheck {
	return []repositories.DependencyCheck{{
		Name:     "postgres",
		Timeout:  2 * time.Second,
		Critical: true,
		Check: func(ctx context.Context) error {
			sqlDB, err := r.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	}}
}
