// Package postgres persists engine state in PostgreSQL via GORM. Rows carry
// the indexed identity and filter columns as plain columns and the full
// domain record as a jsonb document, so big.Int amounts survive exactly.
package postgres

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config holds the database connection settings.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// Connect opens the database, tunes the pool, and migrates the schema.
func Connect(cfg Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.Host, cfg.User, cfg.Password, cfg.Name, cfg.Port,
	)

	gormConfig := &gorm.Config{
		Logger:      logger.Default.LogMode(logger.Silent),
		PrepareStmt: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := migrateSchema(db); err != nil {
		return nil, err
	}

	return db, nil
}

func migrateSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&WalletRow{},
		&StrategyRow{},
		&ExecutionRow{},
		&FeeRow{},
		&CreatorRow{},
		&AgentRow{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	db.Exec("CREATE INDEX IF NOT EXISTS idx_execution_rows_strategy_seq ON execution_rows(strategy_id, id)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_fee_rows_agent_created ON fee_rows(agent_id, created_at)")

	return nil
}

// WalletRow is one custody wallet.
type WalletRow struct {
	gorm.Model
	AgentID     string `gorm:"size:64;uniqueIndex;not null"`
	CustodyMode string `gorm:"size:20;index"`
	Status      string `gorm:"size:20;index"`
	Data        string `gorm:"type:jsonb;not null"`
}

// StrategyRow is one strategy.
type StrategyRow struct {
	gorm.Model
	StrategyID string `gorm:"size:64;uniqueIndex;not null"`
	AgentID    string `gorm:"size:64;index;not null"`
	Status     string `gorm:"size:20;index"`
	Data       string `gorm:"type:jsonb;not null"`
}

// ExecutionRow is one strategy execution, append-only.
type ExecutionRow struct {
	gorm.Model
	ExecutionID string `gorm:"size:64;uniqueIndex;not null"`
	StrategyID  string `gorm:"size:64;index;not null"`
	Success     bool
	Data        string `gorm:"type:jsonb;not null"`
}

// FeeRow is one fee collection event.
type FeeRow struct {
	gorm.Model
	FeeID   string `gorm:"size:64;uniqueIndex;not null"`
	AgentID string `gorm:"size:64;index;not null"`
	FeeType string `gorm:"size:20;index"`
	Data    string `gorm:"type:jsonb;not null"`
}

// CreatorRow is one creator payout ledger.
type CreatorRow struct {
	gorm.Model
	Address string `gorm:"size:128;uniqueIndex;not null"`
	Data    string `gorm:"type:jsonb;not null"`
}

// AgentRow is one registry entry.
type AgentRow struct {
	gorm.Model
	AgentID string `gorm:"size:64;uniqueIndex;not null"`
	Owner   string `gorm:"size:128;index"`
	Status  string `gorm:"size:20;index"`
	Data    string `gorm:"type:jsonb;not null"`
}
