package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/sif-factory/sif/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// memoryPath is the SQLite path of a private in-memory database.
const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: is a separate database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database with WAL mode, foreign keys and immediate
// write transactions so that writers are serialized.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)&_txlock=immediate&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// migrator builds a migration instance over the embedded migrations.
func (s *SQLiteStore) migrator() (*migrate.Migrate, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

// Migrate applies all pending migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrateDown reverts all applied migrations.
func (s *SQLiteStore) MigrateDown(_ context.Context) error {
	m, err := s.migrator()
	if err != nil {
		return err
	}
	if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to revert migrations: %w", err)
	}
	return nil
}

// MigrationStatus returns the applied schema version.
func (s *SQLiteStore) MigrationStatus(_ context.Context) (*MigrationStatus, error) {
	m, err := s.migrator()
	if err != nil {
		return nil, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return &MigrationStatus{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read migration version: %w", err)
	}
	return &MigrationStatus{Version: version, Dirty: dirty}, nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// inTx runs fn in a transaction, committing on success.
func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = s.RollbackTx(tx)
		return err
	}
	if err := s.CommitTx(tx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const jobColumns = `id, target_path, components, config, policy, status, error, compensation, created_at, started_at, completed_at`

const stepColumns = `id, job_id, component_id, kind, sequence, dependencies, forward_type, forward_ref,
	compensate_type, compensate_ref, config, status, fingerprint, retries, reused, error, output, started_at, completed_at`

// CreateJob persists a job and its step plan in one transaction.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *engine.Job) error {
	components, err := encodeList(job.Components)
	if err != nil {
		return fmt.Errorf("failed to encode job components: %w", err)
	}
	config, err := encodeJSON(job.Config)
	if err != nil {
		return fmt.Errorf("failed to encode job config: %w", err)
	}
	compensation, err := encodeJSON(job.Compensation)
	if err != nil {
		return fmt.Errorf("failed to encode compensation report: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO provisioning_jobs (` + jobColumns + `, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := tx.ExecContext(ctx, query,
			job.ID,
			job.TargetPath,
			components,
			config,
			job.Policy,
			job.Status,
			nullString(job.Error),
			compensation,
			job.CreatedAt,
			job.StartedAt,
			job.CompletedAt,
			time.Now(),
		)
		if err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}

		for _, step := range job.Steps {
			if err := insertStep(ctx, tx, job.ID, step); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertStep(ctx context.Context, tx *sql.Tx, jobID string, step *engine.Step) error {
	deps, err := encodeList(step.Dependencies)
	if err != nil {
		return fmt.Errorf("failed to encode step dependencies: %w", err)
	}
	config, err := encodeJSON(step.Config)
	if err != nil {
		return fmt.Errorf("failed to encode step config: %w", err)
	}
	output, err := encodeJSON(step.Output)
	if err != nil {
		return fmt.Errorf("failed to encode step output: %w", err)
	}

	query := `
		INSERT INTO provisioning_steps (` + stepColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		step.ID,
		jobID,
		step.ComponentID,
		step.Kind,
		step.Sequence,
		deps,
		step.Forward.Type,
		step.Forward.Reference,
		step.Compensate.Type,
		step.Compensate.Reference,
		config,
		step.Status,
		step.Fingerprint,
		step.Retries,
		step.Reused,
		nullString(step.Error),
		output,
		step.StartedAt,
		step.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create step %s: %w", step.ID, err)
	}
	return nil
}

// GetJob loads a job with its steps in plan order.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*engine.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM provisioning_jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+stepColumns+` FROM provisioning_steps WHERE job_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		job.Steps = append(job.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	return job, nil
}

// UpdateJob persists the job-level fields and the runtime state of every
// step (status, fingerprint, retries, output, timestamps).
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *engine.Job) error {
	config, err := encodeJSON(job.Config)
	if err != nil {
		return fmt.Errorf("failed to encode job config: %w", err)
	}
	compensation, err := encodeJSON(job.Compensation)
	if err != nil {
		return fmt.Errorf("failed to encode compensation report: %w", err)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE provisioning_jobs
			SET config = ?, policy = ?, status = ?, error = ?, compensation = ?,
			    started_at = ?, completed_at = ?, updated_at = ?
			WHERE id = ?
		`
		result, err := tx.ExecContext(ctx, query,
			config,
			job.Policy,
			job.Status,
			nullString(job.Error),
			compensation,
			job.StartedAt,
			job.CompletedAt,
			time.Now(),
			job.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("job %w: %s", ErrNotFound, job.ID)
		}

		for _, step := range job.Steps {
			output, err := encodeJSON(step.Output)
			if err != nil {
				return fmt.Errorf("failed to encode step output: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE provisioning_steps
				SET status = ?, fingerprint = ?, retries = ?, reused = ?, error = ?, output = ?,
				    started_at = ?, completed_at = ?
				WHERE id = ? AND job_id = ?
			`,
				step.Status,
				step.Fingerprint,
				step.Retries,
				step.Reused,
				nullString(step.Error),
				output,
				step.StartedAt,
				step.CompletedAt,
				step.ID,
				job.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to update step %s: %w", step.ID, err)
			}
		}
		return nil
	})
}

// ListJobs lists jobs without their steps, most recent first.
func (s *SQLiteStore) ListJobs(ctx context.Context, limit, offset int) ([]*engine.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM provisioning_jobs
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	return s.queryJobs(ctx, query, limit, offset)
}

// ListJobsByTarget lists a target's jobs without their steps, optionally
// filtered by status, most recent first.
func (s *SQLiteStore) ListJobsByTarget(ctx context.Context, targetPath string, status *engine.JobStatus) ([]*engine.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM provisioning_jobs
		WHERE target_path = ?
		  AND (? IS NULL OR status = ?)
		ORDER BY created_at DESC
	`
	var statusArg interface{}
	if status != nil {
		statusArg = string(*status)
	}
	return s.queryJobs(ctx, query, targetPath, statusArg, statusArg)
}

func (s *SQLiteStore) queryJobs(ctx context.Context, query string, args ...interface{}) ([]*engine.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*engine.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating jobs: %w", err)
	}

	return jobs, nil
}

// DeleteJob deletes a job with its steps and journal.
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM provisioning_jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("job %w: %s", ErrNotFound, id)
	}

	return nil
}

func scanJob(row scanner) (*engine.Job, error) {
	job := &engine.Job{}
	var components string
	var config, errMsg, compensation sql.NullString
	err := row.Scan(
		&job.ID,
		&job.TargetPath,
		&components,
		&config,
		&job.Policy,
		&job.Status,
		&errMsg,
		&compensation,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Error = errMsg.String
	if err := json.Unmarshal([]byte(components), &job.Components); err != nil {
		return nil, fmt.Errorf("decoding components of job %s: %w", job.ID, err)
	}
	if err := decodeJSON(config, &job.Config); err != nil {
		return nil, fmt.Errorf("decoding config of job %s: %w", job.ID, err)
	}
	if compensation.Valid {
		job.Compensation = &engine.CompensationReport{}
		if err := decodeJSON(compensation, job.Compensation); err != nil {
			return nil, fmt.Errorf("decoding compensation of job %s: %w", job.ID, err)
		}
	}
	return job, nil
}

func scanStep(row scanner) (*engine.Step, error) {
	step := &engine.Step{}
	var deps string
	var config, errMsg, output sql.NullString
	err := row.Scan(
		&step.ID,
		&step.JobID,
		&step.ComponentID,
		&step.Kind,
		&step.Sequence,
		&deps,
		&step.Forward.Type,
		&step.Forward.Reference,
		&step.Compensate.Type,
		&step.Compensate.Reference,
		&config,
		&step.Status,
		&step.Fingerprint,
		&step.Retries,
		&step.Reused,
		&errMsg,
		&output,
		&step.StartedAt,
		&step.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	step.Error = errMsg.String
	if err := json.Unmarshal([]byte(deps), &step.Dependencies); err != nil {
		return nil, fmt.Errorf("decoding dependencies of step %s: %w", step.ID, err)
	}
	if err := decodeJSON(config, &step.Config); err != nil {
		return nil, fmt.Errorf("decoding config of step %s: %w", step.ID, err)
	}
	if err := decodeJSON(output, &step.Output); err != nil {
		return nil, fmt.Errorf("decoding output of step %s: %w", step.ID, err)
	}
	return step, nil
}

// Append records a step transition and applies it to the step row in the
// same transaction. The entry's Sequence is set from the journal.
func (s *SQLiteStore) Append(ctx context.Context, entry *engine.JournalEntry) error {
	output, err := encodeJSON(entry.Output)
	if err != nil {
		return fmt.Errorf("failed to encode journal output: %w", err)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT INTO journal (job_id, step_id, from_status, to_status, attempt, reused, error, output, timestamp)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			entry.JobID,
			entry.StepID,
			entry.From,
			entry.To,
			entry.Attempt,
			entry.Reused,
			nullString(entry.Error),
			output,
			entry.Timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to append journal entry: %w", err)
		}

		seq, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get journal sequence: %w", err)
		}

		var query string
		var args []interface{}
		switch entry.To {
		case engine.StepStatusRunning:
			query = `UPDATE provisioning_steps SET status = ?, retries = ?, started_at = COALESCE(started_at, ?) WHERE id = ? AND job_id = ?`
			args = []interface{}{entry.To, entry.Attempt, entry.Timestamp}
		case engine.StepStatusSucceeded:
			query = `UPDATE provisioning_steps SET status = ?, retries = ?, reused = ?, error = NULL, output = ?,
				started_at = COALESCE(started_at, ?), completed_at = ? WHERE id = ? AND job_id = ?`
			args = []interface{}{entry.To, entry.Attempt, entry.Reused, output, entry.Timestamp, entry.Timestamp}
		case engine.StepStatusFailed, engine.StepStatusCompensated:
			query = `UPDATE provisioning_steps SET status = ?, retries = ?, error = COALESCE(?, error), completed_at = ? WHERE id = ? AND job_id = ?`
			args = []interface{}{entry.To, entry.Attempt, nullString(entry.Error), entry.Timestamp}
		default:
			query = `UPDATE provisioning_steps SET status = ?, error = COALESCE(?, error) WHERE id = ? AND job_id = ?`
			args = []interface{}{entry.To, nullString(entry.Error)}
		}
		args = append(args, entry.StepID, entry.JobID)

		updated, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to apply step transition: %w", err)
		}
		rows, err := updated.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("step %w: %s", ErrNotFound, entry.StepID)
		}

		entry.Sequence = seq
		return nil
	})
}

// Entries returns a job's journal in append order.
func (s *SQLiteStore) Entries(ctx context.Context, jobID string) ([]*engine.JournalEntry, error) {
	query := `
		SELECT sequence, job_id, step_id, from_status, to_status, attempt, reused, error, output, timestamp
		FROM journal
		WHERE job_id = ?
		ORDER BY sequence
	`

	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	defer rows.Close()

	entries := []*engine.JournalEntry{}
	for rows.Next() {
		entry := &engine.JournalEntry{}
		var errMsg, output sql.NullString
		err := rows.Scan(
			&entry.Sequence,
			&entry.JobID,
			&entry.StepID,
			&entry.From,
			&entry.To,
			&entry.Attempt,
			&entry.Reused,
			&errMsg,
			&output,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entry.Error = errMsg.String
		if err := decodeJSON(output, &entry.Output); err != nil {
			return nil, fmt.Errorf("decoding journal output: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal: %w", err)
	}

	return entries, nil
}

// GetFingerprint implements engine.FingerprintStore.
func (s *SQLiteStore) GetFingerprint(ctx context.Context, fingerprint string) (*engine.FingerprintRecord, bool, error) {
	query := `
		SELECT fingerprint, step_kind, component_id, target_path, result, last_run_at
		FROM fingerprints
		WHERE fingerprint = ?
	`

	rec, err := scanFingerprint(s.db.QueryRowContext(ctx, query, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	return rec, true, nil
}

// PutFingerprint inserts or replaces a fingerprint record.
func (s *SQLiteStore) PutFingerprint(ctx context.Context, record *engine.FingerprintRecord) error {
	result, err := encodeJSON(record.Result)
	if err != nil {
		return fmt.Errorf("failed to encode fingerprint result: %w", err)
	}
	if record.LastRunAt.IsZero() {
		record.LastRunAt = time.Now()
	}

	query := `
		INSERT INTO fingerprints (fingerprint, step_kind, component_id, target_path, result, last_run_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			step_kind = excluded.step_kind,
			component_id = excluded.component_id,
			target_path = excluded.target_path,
			result = excluded.result,
			last_run_at = excluded.last_run_at
	`

	_, err = s.db.ExecContext(ctx, query,
		record.Fingerprint,
		record.StepKind,
		record.ComponentID,
		record.TargetPath,
		result,
		record.LastRunAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put fingerprint: %w", err)
	}

	return nil
}

// DeleteFingerprint removes a fingerprint. Deleting an absent fingerprint is
// not an error.
func (s *SQLiteStore) DeleteFingerprint(ctx context.Context, fingerprint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("failed to delete fingerprint: %w", err)
	}
	return nil
}

// ListFingerprints lists the fingerprints recorded for a target, most
// recent first.
func (s *SQLiteStore) ListFingerprints(ctx context.Context, targetPath string) ([]*engine.FingerprintRecord, error) {
	query := `
		SELECT fingerprint, step_kind, component_id, target_path, result, last_run_at
		FROM fingerprints
		WHERE target_path = ?
		ORDER BY last_run_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, targetPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	defer rows.Close()

	records := []*engine.FingerprintRecord{}
	for rows.Next() {
		rec, err := scanFingerprint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fingerprints: %w", err)
	}

	return records, nil
}

func scanFingerprint(row scanner) (*engine.FingerprintRecord, error) {
	rec := &engine.FingerprintRecord{}
	var result sql.NullString
	if err := row.Scan(&rec.Fingerprint, &rec.StepKind, &rec.ComponentID, &rec.TargetPath, &result, &rec.LastRunAt); err != nil {
		return nil, err
	}
	if err := decodeJSON(result, &rec.Result); err != nil {
		return nil, fmt.Errorf("decoding fingerprint result: %w", err)
	}
	return rec, nil
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	query := `
		INSERT INTO audit (action, actor, target_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.Timestamp,
	)

	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	// Get the auto-generated ID
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	query := `
		SELECT id, action, actor, target_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR actor = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, actor, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// encodeJSON marshals v into a nullable column. Nil values are stored as NULL.
func encodeJSON(v interface{}) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON(s sql.NullString, v interface{}) error {
	if !s.Valid || s.String == "" {
		return nil
	}
	return json.NewDecoder(strings.NewReader(s.String)).Decode(v)
}

// encodeList marshals a string list for a NOT NULL column.
func encodeList(list []string) (string, error) {
	if list == nil {
		return "[]", nil
	}
	data, err := json.Marshal(list)
	return string(data), err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
