package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb"
	_ "modernc.org/sqlite"

	"structwatch/internal/observability"
	"structwatch/internal/report"
)

const (
	DriverSQLite    = "sqlite"
	DriverSQLServer = "sqlserver"
)

// Repository зеркалирует отчёты в SQL базу для запросов по истории изменений.
// Источником истины остаётся файловый журнал
type Repository struct {
	db             *sql.DB
	driver         string
	commandTimeout time.Duration
	logger         *observability.Logger
}

// Open открывает базу и проверяет соединение
func Open(driver, dsn string, commandTimeout time.Duration, logger *observability.Logger) (*Repository, error) {
	if _, ok := schemas[driver]; !ok {
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		// Один писатель: SQLite сериализует записи
		db.SetMaxOpenConns(1)
	}

	// Тестируем соединение
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if commandTimeout <= 0 {
		commandTimeout = 5 * time.Second
	}

	return &Repository{
		db:             db,
		driver:         driver,
		commandTimeout: commandTimeout,
		logger:         logger,
	}, nil
}

// EnsureSchema создаёт таблицы зеркала, если их ещё нет
func (r *Repository) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	for _, stmt := range schemas[r.driver] {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// SaveReport вставляет проход и его события в одной транзакции
func (r *Repository) SaveReport(ctx context.Context, rep *report.RunReport) error {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			r.logger.Error("Failed to rollback transaction", "error", err.Error())
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO RunReports (RunID, DetectedAt, Status, ChangeCount, Payload)
		VALUES (@RunID, @DetectedAt, @Status, @ChangeCount, @Payload)`,
		sql.Named("RunID", rep.RunID),
		sql.Named("DetectedAt", rep.DetectionTime.UTC()),
		sql.Named("Status", string(rep.Status)),
		sql.Named("ChangeCount", len(rep.DetectedChanges)),
		sql.Named("Payload", string(payload)),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run report: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ChangeEvents (RunID, TargetID, URL, PreviousHash, CurrentHash, DetectedAt)
		VALUES (@RunID, @TargetID, @URL, @PreviousHash, @CurrentHash, @DetectedAt)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() {
		if err := stmt.Close(); err != nil {
			r.logger.Error("Failed to close statement", "error", err.Error())
		}
	}()

	// По строке на каждое событие
	for _, ev := range rep.DetectedChanges {
		_, err := stmt.ExecContext(ctx,
			sql.Named("RunID", rep.RunID),
			sql.Named("TargetID", ev.Page),
			sql.Named("URL", ev.URL),
			sql.Named("PreviousHash", ev.PreviousHash),
			sql.Named("CurrentHash", ev.CurrentHash),
			sql.Named("DetectedAt", ev.DetectedAt.UTC()),
		)
		if err != nil {
			return fmt.Errorf("failed to insert change event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// CountReports число сохранённых проходов
func (r *Repository) CountReports(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM RunReports`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to query database: %w", err)
	}
	return count, nil
}

// ChangesForTarget события изменения цели, от старых к новым
func (r *Repository) ChangesForTarget(ctx context.Context, targetID string) ([]report.ChangeEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.commandTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT TargetID, URL, PreviousHash, CurrentHash, DetectedAt
		FROM ChangeEvents
		WHERE TargetID = @TargetID
		ORDER BY DetectedAt`,
		sql.Named("TargetID", targetID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query database: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("Failed to close rows", "error", err.Error())
		}
	}()

	var events []report.ChangeEvent
	for rows.Next() {
		var ev report.ChangeEvent
		if err := rows.Scan(&ev.Page, &ev.URL, &ev.PreviousHash, &ev.CurrentHash, &ev.DetectedAt); err != nil {
			return nil, fmt.Errorf("failed to scan change event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Close закрывает соединение с БД
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
