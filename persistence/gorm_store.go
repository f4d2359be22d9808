package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// executionModel is the GORM table mapping for execution records.
type executionModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	WorkflowID   string `gorm:"index;size:64"`
	WorkflowName string `gorm:"size:255"`
	Status       string `gorm:"index;size:32"`
	StartedAt    time.Time
	FinishedAt   *time.Time
	UpdatedAt    time.Time
	Snapshot     []byte
}

func (executionModel) TableName() string { return "workflow_executions" }

// logModel is the GORM table mapping for execution log entries.
type logModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ExecutionID string `gorm:"index;size:64"`
	Seq         int
	Timestamp   time.Time
	Level       string `gorm:"size:16"`
	NodeID      string `gorm:"size:128"`
	Message     string `gorm:"size:2048"`
	Fields      []byte
}

func (logModel) TableName() string { return "workflow_execution_logs" }

// GormStore is a SQL-backed implementation of ExecutionStore.
// Suitable for single-node deployments that must survive restarts.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// PoolConfig tunes the sql.DB connection pool behind a GormStore.
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultPoolConfig returns the stock pool limits.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// OpenDialector opens a GORM dialector for the given backend/DSN pair.
// sqlite uses the pure-Go driver so no cgo is required.
func OpenDialector(backend, dsn string) (gorm.Dialector, error) {
	switch backend {
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported sql backend %q", backend)
	}
}

// NewGormStore creates a SQL execution store, applies the connection
// pool limits and migrates its tables. A zero PoolConfig falls back to
// DefaultPoolConfig.
func NewGormStore(dialector gorm.Dialector, pool PoolConfig, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pool == (PoolConfig{}) {
		pool = DefaultPoolConfig()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	if err := db.AutoMigrate(&executionModel{}, &logModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	logger.Info("sql execution store initialized",
		zap.String("component", "persistence"),
		zap.String("dialect", db.Name()),
		zap.Int("max_open_conns", pool.MaxOpenConns),
	)

	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "persistence")),
	}, nil
}

// SaveExecution inserts or replaces an execution record.
func (s *GormStore) SaveExecution(ctx context.Context, rec *ExecutionRecord) error {
	if rec == nil || rec.ID == "" {
		return ErrInvalidInput
	}

	model := executionModel{
		ID:           rec.ID,
		WorkflowID:   rec.WorkflowID,
		WorkflowName: rec.WorkflowName,
		Status:       rec.Status,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
		UpdatedAt:    time.Now(),
		Snapshot:     rec.Snapshot,
	}

	return s.db.WithContext(ctx).Save(&model).Error
}

// LoadExecution retrieves a record by execution ID.
func (s *GormStore) LoadExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	var model executionModel
	err := s.db.WithContext(ctx).First(&model, "id = ?", executionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return modelToRecord(&model), nil
}

// ListExecutions returns records matching the filter, newest first.
func (s *GormStore) ListExecutions(ctx context.Context, filter ListFilter) ([]*ExecutionRecord, error) {
	q := s.db.WithContext(ctx).Model(&executionModel{}).Order("started_at DESC")
	if filter.WorkflowID != "" {
		q = q.Where("workflow_id = ?", filter.WorkflowID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var models []executionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*ExecutionRecord, len(models))
	for i := range models {
		out[i] = modelToRecord(&models[i])
	}
	return out, nil
}

// AppendLog appends one log entry to an execution's log.
func (s *GormStore) AppendLog(ctx context.Context, entry *LogEntry) error {
	if entry == nil || entry.ExecutionID == "" {
		return ErrInvalidInput
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var fields []byte
	if len(entry.Fields) > 0 {
		var err error
		fields, err = json.Marshal(entry.Fields)
		if err != nil {
			return fmt.Errorf("failed to encode log fields: %w", err)
		}
	}

	model := logModel{
		ExecutionID: entry.ExecutionID,
		Seq:         entry.Seq,
		Timestamp:   ts,
		Level:       entry.Level,
		NodeID:      entry.NodeID,
		Message:     entry.Message,
		Fields:      fields,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// LoadLog returns all log entries for an execution in append order.
func (s *GormStore) LoadLog(ctx context.Context, executionID string) ([]*LogEntry, error) {
	var models []logModel
	err := s.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	out := make([]*LogEntry, len(models))
	for i, m := range models {
		entry := &LogEntry{
			ExecutionID: m.ExecutionID,
			Seq:         m.Seq,
			Timestamp:   m.Timestamp,
			Level:       m.Level,
			NodeID:      m.NodeID,
			Message:     m.Message,
		}
		if len(m.Fields) > 0 {
			if err := json.Unmarshal(m.Fields, &entry.Fields); err != nil {
				s.logger.Warn("failed to decode log fields",
					zap.String("execution_id", m.ExecutionID),
					zap.Error(err),
				)
			}
		}
		out[i] = entry
	}
	return out, nil
}

// Ping checks if the store is healthy.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Stats reports connection pool statistics for monitoring.
func (s *GormStore) Stats() sql.DBStats {
	sqlDB, err := s.db.DB()
	if err != nil {
		return sql.DBStats{}
	}
	return sqlDB.Stats()
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func modelToRecord(m *executionModel) *ExecutionRecord {
	return &ExecutionRecord{
		ID:           m.ID,
		WorkflowID:   m.WorkflowID,
		WorkflowName: m.WorkflowName,
		Status:       m.Status,
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
		UpdatedAt:    m.UpdatedAt,
		Snapshot:     m.Snapshot,
	}
}
