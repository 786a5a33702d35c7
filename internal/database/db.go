package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	pool     *ConnectionPool
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// ConnectionPool tracks the pool limits applied to the handle
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool applies pool limits to db
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"max_idle_connections": cp.maxIdleConns,
		"max_lifetime_seconds": cp.maxLifetime.Seconds(),
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// NewDB opens (and migrates) deal_health.db inside dataDir
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return Open(filepath.Join(dataDir, "deal_health.db"))
}

// Open opens the database file at path and runs pending migrations
func Open(path string) (*DB, error) {
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", path)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// sqlite serialises writers; a small pool avoids SQLITE_BUSY storms
	pool := NewConnectionPool(db, 8, 4, 30*time.Minute)

	database := &DB{
		DB:       db,
		pool:     pool,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := database.initPreparedStatements(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized",
		"path", path,
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns,
	)
	return database, nil
}

// migrations are applied in order; the index is the schema version
var migrations = []string{
	// 1: entities and interaction sources
	`CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		company_name TEXT NOT NULL DEFAULT '',
		stage TEXT NOT NULL DEFAULT '',
		stage_entered_at TEXT,
		value TEXT NOT NULL DEFAULT '0',
		expected_close_date TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entities_owner ON entities(owner_id, kind);

	CREATE TABLE IF NOT EXISTS meetings (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		start_time TEXT NOT NULL,
		sentiment REAL
	);
	CREATE INDEX IF NOT EXISTS idx_meetings_entity ON meetings(entity_id, start_time);

	CREATE TABLE IF NOT EXISTS communications (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		direction TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		sentiment REAL,
		replied INTEGER NOT NULL DEFAULT 0,
		opened INTEGER NOT NULL DEFAULT 0,
		response_time_hours REAL
	);
	CREATE INDEX IF NOT EXISTS idx_communications_entity ON communications(entity_id, timestamp);

	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activities_entity ON activities(entity_id, timestamp);

	CREATE TABLE IF NOT EXISTS deal_links (
		relationship_kind TEXT NOT NULL,
		relationship_id TEXT NOT NULL,
		deal_id TEXT NOT NULL,
		PRIMARY KEY (relationship_kind, relationship_id, deal_id)
	)`,

	// 2: scores
	`CREATE TABLE IF NOT EXISTS health_scores (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		entity_kind TEXT NOT NULL,
		entity_name TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL,
		overall_score INTEGER NOT NULL,
		status TEXT NOT NULL,
		risk_level TEXT NOT NULL,
		signals TEXT NOT NULL,
		deal_metrics TEXT,
		relationship_metrics TEXT,
		baseline TEXT,
		risk_factors TEXT NOT NULL,
		is_ghost_risk INTEGER NOT NULL DEFAULT 0,
		ghost_probability_percent INTEGER,
		days_until_predicted_ghost INTEGER,
		predicted_days_to_close INTEGER,
		last_calculated_at TEXT NOT NULL,
		UNIQUE (entity_kind, entity_id)
	);
	CREATE INDEX IF NOT EXISTS idx_health_scores_owner ON health_scores(owner_id);

	CREATE TABLE IF NOT EXISTS health_score_history (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		entity_kind TEXT NOT NULL,
		overall_score INTEGER NOT NULL,
		status TEXT NOT NULL,
		signals TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_history_entity ON health_score_history(entity_kind, entity_id, recorded_at DESC)`,

	// 3: rules and alerts
	`CREATE TABLE IF NOT EXISTS alert_rules (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		entity_kind TEXT NOT NULL DEFAULT '',
		rule_type TEXT NOT NULL,
		threshold_value REAL NOT NULL,
		threshold_operator TEXT NOT NULL,
		threshold_unit TEXT NOT NULL,
		severity TEXT NOT NULL,
		title_template TEXT NOT NULL,
		message_template TEXT NOT NULL DEFAULT '',
		suggested_actions TEXT NOT NULL DEFAULT '[]',
		conditions TEXT NOT NULL DEFAULT '[]',
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_alert_rules_owner ON alert_rules(owner_id, is_active);

	CREATE TABLE IF NOT EXISTS alerts (
		id TEXT PRIMARY KEY,
		entity_id TEXT NOT NULL,
		entity_kind TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		health_score_id TEXT NOT NULL DEFAULT '',
		rule_id TEXT NOT NULL DEFAULT '',
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		suggested_actions TEXT NOT NULL DEFAULT '[]',
		action_priority TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		acknowledged_at TEXT,
		resolved_at TEXT,
		notified_at TEXT,
		notification_channels TEXT,
		notification_error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_owner ON alerts(owner_id, status, created_at DESC);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open
		ON alerts(entity_id, alert_type) WHERE status IN ('active', 'acknowledged')`,
}

// migrate applies every migration newer than the stored schema version
func (db *DB) migrate() error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		version := i + 1
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, formatTime(time.Now())); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		slog.Debug("Migration applied", "version", version)
	}
	return nil
}

// SchemaVersion returns the highest applied migration
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}

// Prepared statement names
const (
	stmtGetEntity     = "get_entity"
	stmtUpsertScore   = "upsert_score"
	stmtInsertHistory = "insert_history"
	stmtHasOpenAlert  = "has_open_alert"
	stmtInsertAlert   = "insert_alert"
)

// initPreparedStatements prepares the statements run on every calculation
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		stmtGetEntity: `SELECT ` + entityColumns + ` FROM entities WHERE id = ? AND kind = ?`,

		stmtUpsertScore: `INSERT INTO health_scores (
			id, entity_id, entity_kind, entity_name, owner_id, overall_score, status,
			risk_level, signals, deal_metrics, relationship_metrics, baseline,
			risk_factors, is_ghost_risk, ghost_probability_percent,
			days_until_predicted_ghost, predicted_days_to_close, last_calculated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_kind, entity_id) DO UPDATE SET
			entity_name = excluded.entity_name,
			owner_id = excluded.owner_id,
			overall_score = excluded.overall_score,
			status = excluded.status,
			risk_level = excluded.risk_level,
			signals = excluded.signals,
			deal_metrics = excluded.deal_metrics,
			relationship_metrics = excluded.relationship_metrics,
			baseline = excluded.baseline,
			risk_factors = excluded.risk_factors,
			is_ghost_risk = excluded.is_ghost_risk,
			ghost_probability_percent = excluded.ghost_probability_percent,
			days_until_predicted_ghost = excluded.days_until_predicted_ghost,
			predicted_days_to_close = excluded.predicted_days_to_close,
			last_calculated_at = excluded.last_calculated_at
		RETURNING id`,

		stmtInsertHistory: `INSERT INTO health_score_history (
			id, entity_id, entity_kind, overall_score, status, signals, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,

		stmtHasOpenAlert: `SELECT EXISTS (
			SELECT 1 FROM alerts
			WHERE entity_id = ? AND alert_type = ? AND status IN ('active', 'acknowledged')
		)`,

		stmtInsertAlert: `INSERT INTO alerts (` + alertColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt
	}
	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}
	return stmt, nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// HealthCheck pings the database
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the prepared statements and the connection
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}
