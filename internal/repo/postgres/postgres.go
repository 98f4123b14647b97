package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

//go:embed schema.sql
var schemaSQL string

var _ repo.Store = (*Store)(nil)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// ---- TargetStore ----

const targetCols = `id, name, url, enabled, interval_s, timeout_s, verify_tls, created_at, updated_at`

func scanTarget(row pgx.Row) (domain.Target, error) {
	var (
		t  domain.Target
		id string
	)
	err := row.Scan(&id, &t.Name, &t.URL, &t.Enabled, &t.IntervalS, &t.TimeoutS, &t.VerifyTLS, &t.CreatedAt, &t.UpdatedAt)
	t.ID = domain.TargetID(id)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, err
}

func (s *Store) Add(ctx context.Context, t *domain.Target) error {
	if t.ID == "" {
		t.ID = domain.TargetID(uuid.NewString())
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO targets (`+targetCols+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		string(t.ID), t.Name, t.URL, t.Enabled, t.IntervalS, t.TimeoutS, t.VerifyTLS, t.CreatedAt, t.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return repo.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func (s *Store) getOne(ctx context.Context, where string, arg any) (*domain.Target, error) {
	t, err := scanTarget(s.pool.QueryRow(ctx, `SELECT `+targetCols+` FROM targets WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return &t, nil
}

func (s *Store) Get(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	return s.getOne(ctx, `id = $1`, string(id))
}

func (s *Store) GetByURL(ctx context.Context, url string) (*domain.Target, error) {
	return s.getOne(ctx, `lower(url) = lower($1)`, url)
}

func (s *Store) List(ctx context.Context) ([]domain.Target, error) {
	return s.listTargets(ctx, `SELECT `+targetCols+` FROM targets ORDER BY created_at, id`)
}

func (s *Store) ListEnabled(ctx context.Context) ([]domain.Target, error) {
	return s.listTargets(ctx, `SELECT `+targetCols+` FROM targets WHERE enabled ORDER BY created_at, id`)
}

func (s *Store) listTargets(ctx context.Context, q string) ([]domain.Target, error) {
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Target, 0)
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, t *domain.Target) error {
	err := s.pool.QueryRow(ctx,
		`UPDATE targets
		    SET name = $2, url = $3, enabled = $4, interval_s = $5, timeout_s = $6, verify_tls = $7, updated_at = now()
		  WHERE id = $1
		RETURNING created_at, updated_at`,
		string(t.ID), t.Name, t.URL, t.Enabled, t.IntervalS, t.TimeoutS, t.VerifyTLS,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return repo.ErrNotFound
	case isUniqueViolation(err):
		return repo.ErrDuplicate
	case err != nil:
		return fmt.Errorf("update target: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id domain.TargetID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM targets WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM alerts WHERE target_id = $1`, string(id)); err != nil {
		s.log.Warn("pg_alert_cleanup_error", zap.String("target_id", string(id)), zap.Error(err))
	}
	return nil
}

// ---- ResultStore ----

const checkCols = `id, target_id, checked_at, up, latency_ms, http_status, error_type, error_message`

func scanCheck(row pgx.Row) (domain.CheckResult, error) {
	var (
		r        domain.CheckResult
		targetID string
		errType  string
	)
	err := row.Scan(&r.ID, &targetID, &r.CheckedAt, &r.Up, &r.LatencyMS, &r.HTTPStatus, &errType, &r.ErrorMessage)
	r.TargetID = domain.TargetID(targetID)
	r.CheckedAt = r.CheckedAt.UTC()
	r.ErrorType = domain.ErrorType(errType)
	return r, err
}

func (s *Store) Append(ctx context.Context, r *domain.CheckResult) error {
	if r.CheckedAt.IsZero() {
		r.CheckedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO checks
		   (target_id, checked_at, up, latency_ms, http_status, error_type, error_message)
		 VALUES
		   ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		string(r.TargetID), r.CheckedAt, r.Up, r.LatencyMS, r.HTTPStatus, string(r.ErrorType), r.ErrorMessage,
	).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert check: %w", err)
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, id domain.TargetID) (*domain.CheckResult, error) {
	r, err := scanCheck(s.pool.QueryRow(ctx,
		`SELECT `+checkCols+` FROM checks WHERE target_id = $1 ORDER BY checked_at DESC, id DESC LIMIT 1`,
		string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest check: %w", err)
	}
	return &r, nil
}

func (s *Store) Query(ctx context.Context, id domain.TargetID, from, to time.Time) ([]domain.CheckResult, error) {
	return s.Search(ctx, repo.HistoryFilter{TargetID: id, From: from, To: to})
}

func (s *Store) Search(ctx context.Context, f repo.HistoryFilter) ([]domain.CheckResult, error) {
	q := `SELECT ` + checkCols + ` FROM checks WHERE 1=1`
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		q += fmt.Sprintf(" AND "+cond, len(args))
	}
	if f.TargetID != "" {
		add("target_id = $%d", string(f.TargetID))
	}
	if f.Up != nil {
		add("up = $%d", *f.Up)
	}
	if !f.From.IsZero() {
		add("checked_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("checked_at <= $%d", f.To)
	}
	q += ` ORDER BY checked_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query checks: %w", err)
	}
	defer rows.Close()

	out := make([]domain.CheckResult, 0)
	for rows.Next() {
		r, err := scanCheck(rows)
		if err != nil {
			return nil, fmt.Errorf("scan check: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes expired checks in batches so concurrent inserts
// never wait on one long-running delete.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		tag, err := s.pool.Exec(ctx, `
WITH doomed AS (
  SELECT id FROM checks WHERE checked_at < $1 LIMIT $2
)
DELETE FROM checks c USING doomed d WHERE c.id = d.id`, cutoff, repo.PruneBatchSize)
		if err != nil {
			return total, fmt.Errorf("prune checks: %w", err)
		}
		n := tag.RowsAffected()
		total += n
		if n < repo.PruneBatchSize {
			return total, nil
		}
	}
}

// ---- StatusReader ----

func (s *Store) LatestAll(ctx context.Context) ([]repo.LatestRow, error) {
	rows, err := s.pool.Query(ctx, `
SELECT t.id, t.name, t.url, t.enabled, t.interval_s, t.timeout_s, t.verify_tls, t.created_at, t.updated_at,
       c.id, c.checked_at, c.up, c.latency_ms, c.http_status, c.error_type, c.error_message
  FROM targets t
  LEFT JOIN LATERAL (
       SELECT id, checked_at, up, latency_ms, http_status, error_type, error_message
         FROM checks
        WHERE target_id = t.id
        ORDER BY checked_at DESC, id DESC
        LIMIT 1
  ) c ON TRUE
 ORDER BY t.created_at, t.id`)
	if err != nil {
		return nil, fmt.Errorf("latest all: %w", err)
	}
	defer rows.Close()

	var out []repo.LatestRow
	for rows.Next() {
		var (
			t         domain.Target
			id        string
			checkID   *int64
			checkedAt *time.Time
			up        *bool
			errType   *string
			c         domain.CheckResult
		)
		if err := rows.Scan(&id, &t.Name, &t.URL, &t.Enabled, &t.IntervalS, &t.TimeoutS, &t.VerifyTLS, &t.CreatedAt, &t.UpdatedAt,
			&checkID, &checkedAt, &up, &c.LatencyMS, &c.HTTPStatus, &errType, &c.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan latest: %w", err)
		}
		t.ID = domain.TargetID(id)
		row := repo.LatestRow{Target: t}
		if checkID != nil {
			c.ID = *checkID
			c.TargetID = t.ID
			c.CheckedAt = checkedAt.UTC()
			c.Up = *up
			c.ErrorType = domain.ErrorType(*errType)
			row.Check = &c
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ---- AlertStore ----

func (s *Store) GetAlert(ctx context.Context, id domain.TargetID) (*repo.AlertRecord, error) {
	rec := repo.AlertRecord{TargetID: id}
	err := s.pool.QueryRow(ctx,
		`SELECT last_state, last_sent_at FROM alerts WHERE target_id = $1`, string(id),
	).Scan(&rec.LastState, &rec.LastSentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &rec, nil
}

func (s *Store) SetAlert(ctx context.Context, id domain.TargetID, lastState bool, sentAt time.Time) error {
	var ts *time.Time
	if !sentAt.IsZero() {
		ts = &sentAt
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO alerts (target_id, last_state, last_sent_at)
VALUES ($1, $2, $3)
ON CONFLICT (target_id)
DO UPDATE SET last_state = EXCLUDED.last_state,
              last_sent_at = EXCLUDED.last_sent_at`,
		string(id), lastState, ts)
	if err != nil {
		return fmt.Errorf("set alert: %w", err)
	}
	return nil
}
