// Package store persists measurements, indicator records and device reference data with gorm.
package store

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Options configure a Store.
type Options struct {
	// ConditionalWrites makes Upsert keep an existing record whose calculated_at is newer than
	// the incoming one. The losing write gets indicator.ErrStaleWrite.
	ConditionalWrites bool
	Logger            zerolog.Logger
}

// Store implements indicator.MeasurementRepository, indicator.IndicatorStore and
// indicator.DeviceDirectory on a single database.
type Store struct {
	db   *gorm.DB
	opts Options
	log  zerolog.Logger
}

// Open opens (or creates) the SQLite database at dsn and migrates the schema.
// ":memory:" gives a private in-memory database.
func Open(dsn string, opts Options) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: newGormLogger(opts.Logger),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; an in-memory database also exists once per connection.
	sqlDB.SetMaxOpenConns(1)

	s, err := New(db, opts)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened gorm handle and migrates the schema.
func New(db *gorm.DB, opts Options) (*Store, error) {
	if err := db.AutoMigrate(&measurementRow{}, &indicatorRow{}, &deviceRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{
		db:   db,
		opts: opts,
		log:  opts.Logger.With().Str("component", "store").Logger(),
	}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}
