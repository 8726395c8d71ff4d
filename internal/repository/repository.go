// Package repository provides keystroke sample persistence.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/cadence/internal/domain"
)

// SQLRepository stores samples and verification audit records through
// database/sql. Queries are written with ? placeholders and rebound for
// PostgreSQL.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

var openers = map[string]func(domain.RepositoryConfig) (*sql.DB, error){
	"sqlite":   openSQLite,
	"postgres": openPostgres,
	"mysql":    openMySQL,
}

// New opens the configured driver, applies pool limits and creates the
// schema if it is missing.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	open, ok := openers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	db, err := open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}

	if n := cfg.MaxOpenConns; n > 0 {
		db.SetMaxOpenConns(n)
	}
	if n := cfg.MaxIdleConns; n > 0 {
		db.SetMaxIdleConns(n)
	}
	if d := cfg.ConnMaxLifetime; d > 0 {
		db.SetConnMaxLifetime(d)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.Driver, err)
	}
	return repo, nil
}

// verify pings a freshly opened pool and closes it on failure.
func verify(db *sql.DB, driver string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping %s: %w", driver, err)
	}
	return nil
}

func (r *SQLRepository) migrate() error {
	for _, stmt := range Schemas(r.driver) {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AppendSample stores a raw keystroke string. The insert is a single
// auto-committed statement, so it is durable once this returns nil.
func (r *SQLRepository) AppendSample(ctx context.Context, tenantID string, accountID string, raw string) error {
	if tenantID == "" || accountID == "" {
		return fmt.Errorf("%w: tenantID and accountID are required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO keystroke_samples (tenant_id, account_id, signature, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, accountID, raw, time.Now().UTC())
	return err
}

// FetchRecent returns up to limit raw samples for an account, newest first.
func (r *SQLRepository) FetchRecent(ctx context.Context, tenantID string, accountID string, limit int) ([]string, error) {
	if tenantID == "" || accountID == "" {
		return nil, fmt.Errorf("%w: tenantID and accountID are required", domain.ErrInvalidInput)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", domain.ErrInvalidInput)
	}

	query := `
		SELECT signature
		FROM keystroke_samples
		WHERE tenant_id = ? AND account_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []string
	for rows.Next() {
		var sig string
		if err := rows.Scan(&sig); err != nil {
			return nil, err
		}
		samples = append(samples, sig)
	}

	return samples, rows.Err()
}

// DeleteSamples removes every stored sample of an account.
func (r *SQLRepository) DeleteSamples(ctx context.Context, tenantID string, accountID string) (int64, error) {
	if tenantID == "" || accountID == "" {
		return 0, fmt.Errorf("%w: tenantID and accountID are required", domain.ErrInvalidInput)
	}
	res, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM keystroke_samples WHERE tenant_id = ? AND account_id = ?`),
		tenantID, accountID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SaveVerification stores a verification audit record.
func (r *SQLRepository) SaveVerification(ctx context.Context, tenantID string, v *domain.Verification) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO verifications (
			id, tenant_id, account_id, outcome, decision, confidence,
			threshold, observed_distance, history_size, trace_id, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		v.ID, tenantID, v.AccountID, string(v.Outcome), v.Decision, v.Confidence,
		v.Threshold, v.ObservedDistance, v.HistorySize, v.TraceID, v.Timestamp,
	)
	return err
}

// GetVerification retrieves a verification record by ID with tenant isolation.
func (r *SQLRepository) GetVerification(ctx context.Context, tenantID string, verificationID string) (*domain.Verification, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, account_id, outcome, decision, confidence,
			   threshold, observed_distance, history_size, trace_id, timestamp
		FROM verifications
		WHERE tenant_id = ? AND id = ?
	`

	var v domain.Verification
	var outcome string
	var decision, traceID sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, verificationID).Scan(
		&v.ID, &v.TenantID, &v.AccountID, &outcome, &decision, &v.Confidence,
		&v.Threshold, &v.ObservedDistance, &v.HistorySize, &traceID, &v.Timestamp,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	v.Outcome = domain.Outcome(outcome)
	v.Decision = decision.String
	v.TraceID = traceID.String
	return &v, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind numbers ? placeholders as $1, $2, ... on PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := range len(query) {
		if c := query[i]; c != '?' {
			out = append(out, c)
			continue
		}
		n++
		out = append(out, '$')
		out = strconv.AppendInt(out, int64(n), 10)
	}
	return string(out)
}
