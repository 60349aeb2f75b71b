package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLConfig configures the SQL-backed store.
type SQLConfig struct {
	// Driver selects the dialect: postgres, mysql or sqlite.
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the driver-specific connection string
	// (sqlite accepts a file path or ":memory:").
	DSN string `yaml:"dsn" json:"dsn"`
	// PurgeInterval is how often expired rows are swept.
	// <= 0 disables the sweeper; expiry is then enforced lazily on read.
	PurgeInterval time.Duration `yaml:"purge_interval" json:"purge_interval"`
}

// DefaultSQLConfig returns the default SQL store configuration.
func DefaultSQLConfig() SQLConfig {
	return SQLConfig{
		Driver:        "sqlite",
		DSN:           "cacheflow.db",
		PurgeInterval: 10 * time.Minute,
	}
}

// CacheRecord is the persisted shape of one shared-tier entry.
type CacheRecord struct {
	Key       string     `gorm:"column:cache_key;primaryKey;size:128"`
	Value     []byte     `gorm:"column:value"`
	CreatedAt time.Time  `gorm:"column:created_at"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index"` // nil = never expires
}

// TableName maps CacheRecord onto its table.
func (CacheRecord) TableName() string { return "cache_entries" }

// SQLStore is a Store backed by a relational database through GORM.
// It serves deployments that already run postgres/mysql and do not want a
// separate cache service; sqlite covers embedded/single-node setups.
type SQLStore struct {
	db     *gorm.DB
	logger *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSQLStore opens the database for cfg, migrates the cache table and starts
// the expiry sweeper.
func NewSQLStore(cfg SQLConfig, logger *zap.Logger) (*SQLStore, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	s, err := NewSQLStoreFromDB(db, logger)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	if cfg.PurgeInterval > 0 {
		go s.purgeLoop(cfg.PurgeInterval)
	}
	s.logger.Info("sql store ready", zap.String("driver", cfg.Driver))
	return s, nil
}

// NewSQLStoreFromDB wraps an existing GORM handle. The cache table is not
// migrated and no sweeper is started; call Migrate when the table may not
// exist yet.
func NewSQLStoreFromDB(db *gorm.DB, logger *zap.Logger) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("nil gorm db")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStore{
		db:     db,
		logger: logger.With(zap.String("component", "sql_store")),
		stopCh: make(chan struct{}),
	}, nil
}

// Migrate creates or updates the cache table.
func (s *SQLStore) Migrate() error {
	if err := s.db.AutoMigrate(&CacheRecord{}); err != nil {
		return fmt.Errorf("migrate cache table: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var rec CacheRecord
	err := s.db.WithContext(ctx).First(&rec, "cache_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sql get: %w", err)
	}

	if rec.ExpiresAt != nil && time.Now().After(*rec.ExpiresAt) {
		// Lazy expiry: purge best-effort, report absent either way.
		if derr := s.Delete(ctx, key); derr != nil {
			s.logger.Debug("purge expired row failed", zap.String("key", key), zap.Error(derr))
		}
		return nil, ErrNotFound
	}
	return rec.Value, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	rec := CacheRecord{
		Key:       key,
		Value:     value,
		CreatedAt: time.Now(),
	}
	if ttl > 0 {
		expires := time.Now().Add(ttl)
		rec.ExpiresAt = &expires
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("sql set: %w", err)
	}
	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&CacheRecord{}, "cache_key = ?", key).Error; err != nil {
		return fmt.Errorf("sql delete: %w", err)
	}
	return nil
}

// PurgeExpired deletes all rows whose expiry has passed and returns how many
// were removed.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now()).
		Delete(&CacheRecord{})
	if tx.Error != nil {
		return 0, fmt.Errorf("sql purge: %w", tx.Error)
	}
	return tx.RowsAffected, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sql ping: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("sql close: %w", err)
	}
	s.logger.Info("closing sql store")
	return sqlDB.Close()
}

func (s *SQLStore) purgeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			n, err := s.PurgeExpired(ctx)
			cancel()
			if err != nil {
				s.logger.Warn("expiry sweep failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Debug("expiry sweep", zap.Int64("purged", n))
			}
		case <-s.stopCh:
			return
		}
	}
}

func dialectorFor(cfg SQLConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	case "sqlite":
		return sqlite.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unknown sql driver %q (want postgres, mysql or sqlite)", cfg.Driver)
	}
}
