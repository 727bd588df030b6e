// Package store persists parsed Caddyfiles as relational rows and reconstructs their text.
//
// Every byte of an ingested file is held by exactly one column, so exporting a config that has
// not been edited reproduces the ingested source exactly. Edits operate on rows and keep
// sibling ordering contiguous.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glebarez/sqlite"
	"golang.org/x/xerrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"go.spiff.io/caddyfile/internal/ctxlog"
)

// Store is a Caddyfile database.
type Store struct {
	db      *gorm.DB
	logger  *slog.Logger
	version string
	locks   keyedMutex
}

// Option configures a Store opened by Open.
type Option func(*Store)

// WithLogger sets the logger used by the Store. By default, the logger of the context passed
// to Open is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithVersion sets the application version recorded in the meta table.
func WithVersion(version string) Option {
	return func(s *Store) { s.version = version }
}

// Open opens or creates the SQLite database at path and migrates its schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{
		logger:  ctxlog.FromContext(ctx),
		version: "devel",
	}
	for _, opt := range opts {
		opt(s)
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:          newGormLogger(s.logger),
		CreateBatchSize: 200,
		NowFunc:         func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, xerrors.Errorf("open %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)

	s.db = db
	if err := s.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	s.logger.Debug("Opened database", "path", path, "schema", SchemaVersion)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(models...); err != nil {
		return xerrors.Errorf("migrate: %w", err)
	}
	return db.Transaction(func(tx *gorm.DB) error {
		if err := setMeta(tx, "schema_version", SchemaVersion); err != nil {
			return err
		}
		return setMeta(tx, "app_version", s.version)
	})
}

func setMeta(tx *gorm.DB, key, value string) error {
	err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&Meta{Key: key, Value: value}).Error
	if err != nil {
		return xerrors.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// Meta returns the value of a meta key, or ErrNotFound if it is not set.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var m Meta
	err := s.db.WithContext(ctx).Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", xerrors.Errorf("meta %s: %w", key, ErrNotFound)
	} else if err != nil {
		return "", xerrors.Errorf("meta %s: %w", key, err)
	}
	return m.Value, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormLogger writes gorm's log output to a slog.Logger. Queries are logged at debug level when
// the logger has debug enabled.
type gormLogger struct {
	log   *slog.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newGormLogger(log *slog.Logger) *gormLogger {
	level := gormlogger.Warn
	if log.Enabled(context.Background(), slog.LevelDebug) {
		level = gormlogger.Info
	}
	return &gormLogger{log: log, level: level, slow: 200 * time.Millisecond}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	dup := *l
	dup.level = level
	return &dup
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.InfoContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.WarnContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.ErrorContext(ctx, fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.ErrorContext(ctx, "Query failed", "sql", sql, "rows", rows, "elapsed", elapsed, "error", err)
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.WarnContext(ctx, "Slow query", "sql", sql, "rows", rows, "elapsed", elapsed)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.DebugContext(ctx, "Query", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
