// Package usagedb persists per-request usage records to a local SQLite
// database, giving the status command and admin views a history that
// survives restarts.
package usagedb

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// RequestLog is one completed gateway request.
type RequestLog struct {
	ID             uint      `gorm:"primaryKey"`
	CreatedAt      time.Time `gorm:"index"`
	ProviderType   string    `gorm:"index"`
	CredentialUUID string    `gorm:"index"`
	Model          string
	ClientProtocol string
	Stream         bool
	InputTokens    int
	OutputTokens   int
	DurationMS     int64
	Status         string // ok, error, auth_error
	ErrorDetail    string
}

type Store struct {
	db *gorm.DB
}

// Open initializes the database file and runs migrations.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	if err := db.AutoMigrate(&RequestLog{}); err != nil {
		return nil, fmt.Errorf("migrate usage db: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts one request log entry.
func (s *Store) Record(entry *RequestLog) error {
	return s.db.Create(entry).Error
}

// ProviderUsage is aggregated request history for one provider type.
type ProviderUsage struct {
	ProviderType string
	Requests     int64
	Errors       int64
	InputTokens  int64
	OutputTokens int64
}

// UsageByProvider aggregates request history per provider type since a
// cutoff time.
func (s *Store) UsageByProvider(since time.Time) ([]ProviderUsage, error) {
	var out []ProviderUsage
	err := s.db.Model(&RequestLog{}).
		Select(`provider_type,
			count(*) as requests,
			sum(case when status <> 'ok' then 1 else 0 end) as errors,
			sum(input_tokens) as input_tokens,
			sum(output_tokens) as output_tokens`).
		Where("created_at >= ?", since).
		Group("provider_type").
		Order("provider_type").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}
	return out, nil
}

// Recent returns the newest n request logs.
func (s *Store) Recent(n int) ([]RequestLog, error) {
	var out []RequestLog
	err := s.db.Order("id desc").Limit(n).Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("load recent requests: %w", err)
	}
	return out, nil
}
