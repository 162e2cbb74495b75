package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stagectl/internal/config"
)

// ErrSessionReleased is returned when a session is released twice
var ErrSessionReleased = errors.New("session already released")

// Session is a unit-of-work scope bound to one stage instance
type Session interface {
	// DB returns the transaction handle; it is invalid after Release.
	DB() *gorm.DB
	// Release commits when err is nil and rolls back otherwise.
	Release(err error) error
}

// Sessions hands out scoped sessions
type Sessions interface {
	Acquire(ctx context.Context) (Session, error)
}

// Store is the gorm backed implementation of Sessions
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the configured database
func Open(cfg config.DatabaseConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	var dialector gorm.Dialector
	maxOpen := cfg.MaxOpenConns
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(sqliteDSN(cfg.DSN))
		if maxOpen == 0 {
			maxOpen = 1
		}
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	level := logger.Silent
	if cfg.Echo {
		level = logger.Info
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	if maxOpen > 0 {
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
		}
		sqlDB.SetMaxOpenConns(maxOpen)
	}

	log.Debug("database_opened", slog.String("driver", cfg.Driver))
	return &Store{db: gdb, logger: log}, nil
}

// sqliteParams are added to every sqlite DSN that does not set them.
// Transactions take the write lock at BEGIN so that sessions of concurrent
// worker processes queue on busy_timeout; a deferred transaction upgrading
// from a read lock fails with SQLITE_BUSY without waiting.
var sqliteParams = []struct{ key, param string }{
	{"busy_timeout", "_pragma=busy_timeout(5000)"},
	{"_txlock", "_txlock=immediate"},
}

func sqliteDSN(dsn string) string {
	for _, p := range sqliteParams {
		if strings.Contains(dsn, p.key) {
			continue
		}
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + p.param
	}
	return dsn
}

// DB exposes the pool for code running outside a session
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Acquire begins a transaction bound to ctx
func (s *Store) Acquire(ctx context.Context) (Session, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &txSession{tx: tx, logger: s.logger}, nil
}

// Scope runs fn inside a session and releases it with fn's error
func (s *Store) Scope(ctx context.Context, fn func(Session) error) (err error) {
	sess, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := sess.Release(err); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(sess)
}

// CreateAll creates the tables for the given models
func (s *Store) CreateAll(ctx context.Context, models ...any) error {
	if len(models) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	s.logger.Info("database_created", slog.Int("models", len(models)))
	return nil
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type txSession struct {
	tx     *gorm.DB
	logger *slog.Logger
	once   sync.Once
}

func (s *txSession) DB() *gorm.DB {
	return s.tx
}

func (s *txSession) Release(err error) error {
	relErr := ErrSessionReleased
	s.once.Do(func() {
		if err != nil {
			relErr = s.tx.Rollback().Error
			s.logger.Debug("session_rolled_back", slog.String("cause", err.Error()))
			return
		}
		relErr = s.tx.Commit().Error
		s.logger.Debug("session_committed")
	})
	return relErr
}
