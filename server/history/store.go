// Package history persists a lightweight audit trail of tunnel runs,
// diagnoses and remediation attempts, adapted from the teacher's
// storage.StorageInterface/NewStorage factory pattern -- same pluggable
// sqlite/postgres/mysql backend selection, trimmed from a multi-tenant
// project/group/host schema down to the handful of tables this broker
// actually needs.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config selects and configures the backing database.
type Config struct {
	Type     string `json:"type" yaml:"type"` // sqlite, postgres, mysql
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	SSLMode  string `json:"ssl_mode" yaml:"ssl_mode"`
}

func DefaultSQLiteConfig() Config {
	return Config{Type: "sqlite", Database: "./data/sockstun.db"}
}

// TunnelRunRecord is one Connect-to-Disconnect lifetime.
type TunnelRunRecord struct {
	ID          string `gorm:"primaryKey"`
	Mode        string
	Hop1Addr    string
	Hop2Addr    string
	LocalPort   int
	StartedAt   time.Time
	EndedAt     *time.Time
	FinalState  string
	LastError   string
	BytesSent   uint64
	BytesRecv   uint64
	CreatedAt   time.Time
}

// DiagnosisRecord is one Diagnose() classification, kept for history
// even though Diagnose itself is a pure function.
type DiagnosisRecord struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	RunID     string
	Reason    string
	Category  string
	Severity  string
	Fixable   bool
	CreatedAt time.Time
}

// RemediationRecord is one remediate.Run phase result.
type RemediationRecord struct {
	ID        uint `gorm:"primaryKey;autoIncrement"`
	RunID     string
	Phase     string
	Success   bool
	Output    string
	CreatedAt time.Time
}

// Store is the persistence boundary the status API reads/writes through.
type Store struct {
	db *gorm.DB
}

// New opens and migrates the store selected by cfg.Type, defaulting to
// SQLite -- the same fallback behavior as the teacher's storage factory.
func New(cfg Config) (*Store, error) {
	var dialector gorm.Dialector

	switch strings.ToLower(cfg.Type) {
	case "postgres", "postgresql":
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.Database, cfg.Username, cfg.Password, orDefault(cfg.SSLMode, "disable"))
		dialector = postgres.Open(dsn)
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		dialector = mysql.Open(dsn)
	default:
		path := cfg.Database
		if path == "" {
			path = "./data/sockstun.db"
		}
		dialector = sqlite.Open(path)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	if err := db.AutoMigrate(&TunnelRunRecord{}, &DiagnosisRecord{}, &RemediationRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history store: %w", err)
	}

	return &Store{db: db}, nil
}

func orDefault(v, d string) string {
	if v == "" {
		return d
	}
	return v
}

func (s *Store) RecordRunStart(ctx context.Context, rec *TunnelRunRecord) error {
	rec.CreatedAt = time.Now()
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *Store) RecordRunEnd(ctx context.Context, runID, finalState, lastError string, bytesSent, bytesRecv uint64) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&TunnelRunRecord{}).Where("id = ?", runID).Updates(map[string]any{
		"ended_at":    &now,
		"final_state": finalState,
		"last_error":  lastError,
		"bytes_sent":  bytesSent,
		"bytes_recv":  bytesRecv,
	}).Error
}

func (s *Store) RecordDiagnosis(ctx context.Context, rec *DiagnosisRecord) error {
	rec.CreatedAt = time.Now()
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *Store) RecordRemediationPhase(ctx context.Context, rec *RemediationRecord) error {
	rec.CreatedAt = time.Now()
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *Store) RecentRuns(ctx context.Context, limit int) ([]TunnelRunRecord, error) {
	var runs []TunnelRunRecord
	err := s.db.WithContext(ctx).Order("started_at desc").Limit(limit).Find(&runs).Error
	return runs, err
}

func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
