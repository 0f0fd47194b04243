package syncjob

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"
)

const jobColumns = `id, queue, entity_type, entity_id, operation, payload, version, state, attempts,
	last_error, error_class, correlation_id, run_at, claimed_at, failed_at, created_at, updated_at`

// PostgresRepo is the durable Store. Jobs share the database of the primary
// records, so the queue survives restarts and index outages.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j         Job
		payload   []byte
		op, state string
		class     string
		claimedAt sql.NullTime
		failedAt  sql.NullTime
	)
	err := row.Scan(&j.ID, &j.Queue, &j.EntityType, &j.EntityID, &op, &payload, &j.Version, &state, &j.Attempts,
		&j.LastError, &class, &j.CorrelationID, &j.RunAt, &claimedAt, &failedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Operation = Operation(op)
	j.State = State(state)
	j.ErrorClass = ErrorClass(class)
	j.Payload = payload
	if claimedAt.Valid {
		j.ClaimedAt = &claimedAt.Time
	}
	if failedAt.Valid {
		j.FailedAt = &failedAt.Time
	}
	return &j, nil
}

func (r *PostgresRepo) Enqueue(ctx context.Context, j *Job) error {
	payload := string(j.Payload)
	if payload == "" {
		payload = "{}"
	}
	query := `INSERT INTO sync_jobs (queue, entity_type, entity_id, operation, payload, version, correlation_id, run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, state, created_at, updated_at`
	var state string
	err := r.db.QueryRowContext(ctx, query, j.Queue, j.EntityType, j.EntityID, string(j.Operation), payload,
		j.Version, j.CorrelationID, j.RunAt).Scan(&j.ID, &state, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return err
	}
	j.State = State(state)
	return nil
}

// Claim uses FOR UPDATE SKIP LOCKED so concurrent workers never receive the same row.
func (r *PostgresRepo) Claim(ctx context.Context, queue string) (*Job, error) {
	query := `UPDATE sync_jobs
		SET state = 'active', attempts = attempts + 1, claimed_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM sync_jobs
			WHERE queue = $1 AND state = 'created' AND run_at <= NOW()
			ORDER BY run_at ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING ` + jobColumns
	j, err := scanJob(r.db.QueryRowContext(ctx, query, queue))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (r *PostgresRepo) transition(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrJobNotActive
	}
	return nil
}

func (r *PostgresRepo) Complete(ctx context.Context, id string) error {
	return r.transition(ctx, `DELETE FROM sync_jobs WHERE id = $1 AND state = 'active'`, id)
}

func (r *PostgresRepo) Requeue(ctx context.Context, id string, runAt time.Time, class ErrorClass, lastErr string) error {
	query := `UPDATE sync_jobs
		SET state = 'created', run_at = $2, error_class = $3, last_error = $4, claimed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND state = 'active'`
	return r.transition(ctx, query, id, runAt, string(class), lastErr)
}

func (r *PostgresRepo) DeadLetter(ctx context.Context, id string, class ErrorClass, lastErr string) error {
	query := `UPDATE sync_jobs
		SET state = 'dead_lettered', error_class = $2, last_error = $3, claimed_at = NULL, failed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND state = 'active'`
	return r.transition(ctx, query, id, string(class), lastErr)
}

func (r *PostgresRepo) Stats(ctx context.Context, queue string) (*Stats, error) {
	query := `SELECT
			COUNT(*) FILTER (WHERE state IN ('created', 'active')),
			COUNT(*) FILTER (WHERE state = 'active'),
			COUNT(*) FILTER (WHERE state = 'dead_lettered'),
			MIN(created_at) FILTER (WHERE state IN ('created', 'active'))
		FROM sync_jobs WHERE queue = $1`
	st := &Stats{Queue: queue}
	var oldest sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, queue).Scan(&st.Pending, &st.Active, &st.Failed, &oldest); err != nil {
		return nil, err
	}
	if oldest.Valid {
		st.OldestPendingAt = &oldest.Time
	}
	return st, nil
}

func (r *PostgresRepo) ListFailed(ctx context.Context, queue string) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM sync_jobs
		WHERE queue = $1 AND state = 'dead_lettered' ORDER BY failed_at DESC`
	rows, err := r.db.QueryContext(ctx, query, queue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepo) count(ctx context.Context, query string, args ...any) (int, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresRepo) PurgeFailed(ctx context.Context, queue string) (int, error) {
	return r.count(ctx, `DELETE FROM sync_jobs WHERE queue = $1 AND state = 'dead_lettered'`, queue)
}

func (r *PostgresRepo) RetryFailed(ctx context.Context, queue string) (int, error) {
	query := `UPDATE sync_jobs
		SET state = 'created', attempts = 0, run_at = NOW(), failed_at = NULL, updated_at = NOW()
		WHERE queue = $1 AND state = 'dead_lettered'`
	return r.count(ctx, query, queue)
}

func (r *PostgresRepo) ReleaseStale(ctx context.Context, olderThan time.Time, maxRetries int) (int, error) {
	query := `UPDATE sync_jobs
		SET state = CASE WHEN attempts > $2 THEN 'dead_lettered' ELSE 'created' END,
			failed_at = CASE WHEN attempts > $2 THEN NOW() ELSE NULL END,
			run_at = NOW(), claimed_at = NULL, last_error = 'claim expired', error_class = 'transient', updated_at = NOW()
		WHERE state = 'active' AND claimed_at < $1`
	return r.count(ctx, query, olderThan, maxRetries)
}

func (r *PostgresRepo) AppliedVersion(ctx context.Context, documentID string) (int64, bool, error) {
	var version int64
	err := r.db.QueryRowContext(ctx, `SELECT version FROM index_watermarks WHERE document_id = $1`, documentID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return version, true, nil
}

func (r *PostgresRepo) MarkApplied(ctx context.Context, documentID string, version int64, deleted bool) error {
	query := `INSERT INTO index_watermarks (document_id, version, deleted, updated_at) VALUES ($1, $2, $3, NOW())
		ON CONFLICT (document_id) DO UPDATE SET version = EXCLUDED.version, deleted = EXCLUDED.deleted, updated_at = NOW()
		WHERE index_watermarks.version <= EXCLUDED.version`
	_, err := r.db.ExecContext(ctx, query, documentID, version, deleted)
	return err
}

// Lock takes session advisory locks keyed by hashtext(document_id) on a
// dedicated connection, so every process sharing the database serializes on
// the same documents. The connection goes back to the pool once unlocked.
func (r *PostgresRepo) Lock(ctx context.Context, documentIDs ...string) (func(), error) {
	ids := lockOrder(documentIDs)
	if len(ids) == 0 {
		return func() {}, nil
	}
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}
	unlock := func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock_all()`); err != nil {
			// a connection still holding locks must not be reused
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}
	for _, id := range ids {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtext($1))`, id); err != nil {
			unlock()
			return nil, fmt.Errorf("lock document %s: %w", id, err)
		}
	}
	return unlock, nil
}
