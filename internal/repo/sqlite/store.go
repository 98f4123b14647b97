// Package sqlite is a single-file store for small deployments, backed by the
// pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/hamed0406/uptimemonitor/internal/domain"
	"github.com/hamed0406/uptimemonitor/internal/repo"
)

//go:embed schema.sql
var schemaSQL string

var _ repo.Store = (*Store)(nil)

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; also keeps the pragmas on a single connection
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func ts(t time.Time) int64 { return t.UTC().UnixNano() }

func fromTS(n int64) time.Time { return time.Unix(0, n).UTC() }

func isUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ---- TargetStore ----

const targetCols = `id, name, url, enabled, interval_s, timeout_s, verify_tls, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanTarget(row scanner) (domain.Target, error) {
	var (
		t                domain.Target
		id               string
		created, updated int64
	)
	err := row.Scan(&id, &t.Name, &t.URL, &t.Enabled, &t.IntervalS, &t.TimeoutS, &t.VerifyTLS, &created, &updated)
	if err != nil {
		return t, err
	}
	t.ID = domain.TargetID(id)
	t.CreatedAt = fromTS(created)
	t.UpdatedAt = fromTS(updated)
	return t, nil
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO targets (`+targetCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.ID), t.Name, t.URL, t.Enabled, t.IntervalS, t.TimeoutS, t.VerifyTLS, ts(t.CreatedAt), ts(t.UpdatedAt),
	)
	if isUnique(err) {
		return repo.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert target: %w", err)
	}
	return nil
}

func (s *Store) getOne(ctx context.Context, where string, arg any) (*domain.Target, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+targetCols+` FROM targets WHERE `+where, arg)
	t, err := scanTarget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repo.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	return &t, nil
}

func (s *Store) Get(ctx context.Context, id domain.TargetID) (*domain.Target, error) {
	return s.getOne(ctx, `id = ?`, string(id))
}

func (s *Store) GetByURL(ctx context.Context, url string) (*domain.Target, error) {
	return s.getOne(ctx, `url = ?`, url)
}

func (s *Store) List(ctx context.Context) ([]domain.Target, error) {
	return s.listTargets(ctx, false)
}

func (s *Store) ListEnabled(ctx context.Context) ([]domain.Target, error) {
	return s.listTargets(ctx, true)
}

func (s *Store) listTargets(ctx context.Context, enabledOnly bool) ([]domain.Target, error) {
	q := `SELECT ` + targetCols + ` FROM targets`
	if enabledOnly {
		q += ` WHERE enabled = 1`
	}
	q += ` ORDER BY created_at, id`
	rows, err := s.db.QueryContext(ctx, q)
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
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE targets
		    SET name = ?, url = ?, enabled = ?, interval_s = ?, timeout_s = ?, verify_tls = ?, updated_at = ?
		  WHERE id = ?`,
		t.Name, t.URL, t.Enabled, t.IntervalS, t.TimeoutS, t.VerifyTLS, ts(t.UpdatedAt), string(t.ID),
	)
	if isUnique(err) {
		return repo.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("update target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	cur, err := s.Get(ctx, t.ID)
	if err != nil {
		return err
	}
	t.CreatedAt = cur.CreatedAt
	return nil
}

func (s *Store) Delete(ctx context.Context, id domain.TargetID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE target_id = ?`, string(id)); err != nil {
		s.log.Warn("sqlite_alert_cleanup_error", zap.String("target_id", string(id)), zap.Error(err))
	}
	return nil
}

// ---- ResultStore ----

const checkCols = `id, target_id, checked_at, up, latency_ms, http_status, error_type, error_message`

func scanCheck(row scanner) (domain.CheckResult, error) {
	var (
		r         domain.CheckResult
		targetID  string
		checkedAt int64
		errType   string
	)
	err := row.Scan(&r.ID, &targetID, &checkedAt, &r.Up, &r.LatencyMS, &r.HTTPStatus, &errType, &r.ErrorMessage)
	if err != nil {
		return r, err
	}
	r.TargetID = domain.TargetID(targetID)
	r.CheckedAt = fromTS(checkedAt)
	r.ErrorType = domain.ErrorType(errType)
	return r, nil
}

func (s *Store) Append(ctx context.Context, r *domain.CheckResult) error {
	if r.CheckedAt.IsZero() {
		r.CheckedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO checks (target_id, checked_at, up, latency_ms, http_status, error_type, error_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(r.TargetID), ts(r.CheckedAt), r.Up, r.LatencyMS, r.HTTPStatus, string(r.ErrorType), r.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("insert check: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return nil
}

func (s *Store) Latest(ctx context.Context, id domain.TargetID) (*domain.CheckResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+checkCols+` FROM checks WHERE target_id = ? ORDER BY checked_at DESC, id DESC LIMIT 1`,
		string(id))
	r, err := scanCheck(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	var (
		args []any
		qb   strings.Builder
	)
	qb.WriteString(`SELECT ` + checkCols + ` FROM checks WHERE 1=1`)
	if f.TargetID != "" {
		qb.WriteString(` AND target_id = ?`)
		args = append(args, string(f.TargetID))
	}
	if f.Up != nil {
		qb.WriteString(` AND up = ?`)
		args = append(args, *f.Up)
	}
	if !f.From.IsZero() {
		qb.WriteString(` AND checked_at >= ?`)
		args = append(args, ts(f.From))
	}
	if !f.To.IsZero() {
		qb.WriteString(` AND checked_at <= ?`)
		args = append(args, ts(f.To))
	}
	qb.WriteString(` ORDER BY checked_at DESC, id DESC`)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
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

// DeleteOlderThan deletes in batches of repo.PruneBatchSize so the single
// connection is released between rounds.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM checks WHERE id IN (SELECT id FROM checks WHERE checked_at < ? LIMIT ?)`,
			ts(cutoff), repo.PruneBatchSize)
		if err != nil {
			return total, fmt.Errorf("prune checks: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
		if n < repo.PruneBatchSize {
			return total, nil
		}
	}
}

// ---- StatusReader ----

func (s *Store) LatestAll(ctx context.Context) ([]repo.LatestRow, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT t.id, t.name, t.url, t.enabled, t.interval_s, t.timeout_s, t.verify_tls, t.created_at, t.updated_at,
       c.id, c.checked_at, c.up, c.latency_ms, c.http_status, c.error_type, c.error_message
  FROM targets t
  LEFT JOIN checks c
    ON c.id = (SELECT id FROM checks WHERE target_id = t.id ORDER BY checked_at DESC, id DESC LIMIT 1)
 ORDER BY t.created_at, t.id`)
	if err != nil {
		return nil, fmt.Errorf("latest all: %w", err)
	}
	defer rows.Close()

	out := make([]repo.LatestRow, 0)
	for rows.Next() {
		var (
			t                domain.Target
			id               string
			created, updated int64
			checkID          sql.NullInt64
			checkedAt        sql.NullInt64
			up               sql.NullBool
			errType          sql.NullString
			c                domain.CheckResult
		)
		if err := rows.Scan(&id, &t.Name, &t.URL, &t.Enabled, &t.IntervalS, &t.TimeoutS, &t.VerifyTLS, &created, &updated,
			&checkID, &checkedAt, &up, &c.LatencyMS, &c.HTTPStatus, &errType, &c.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scan latest: %w", err)
		}
		t.ID = domain.TargetID(id)
		t.CreatedAt = fromTS(created)
		t.UpdatedAt = fromTS(updated)
		row := repo.LatestRow{Target: t}
		if checkID.Valid {
			c.ID = checkID.Int64
			c.TargetID = t.ID
			c.CheckedAt = fromTS(checkedAt.Int64)
			c.Up = up.Bool
			c.ErrorType = domain.ErrorType(errType.String)
			row.Check = &c
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ---- AlertStore ----

func (s *Store) GetAlert(ctx context.Context, id domain.TargetID) (*repo.AlertRecord, error) {
	var (
		state bool
		sent  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT last_state, last_sent_at FROM alerts WHERE target_id = ?`, string(id)).Scan(&state, &sent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	rec := &repo.AlertRecord{TargetID: id, LastState: state}
	if sent.Valid {
		at := fromTS(sent.Int64)
		rec.LastSentAt = &at
	}
	return rec, nil
}

func (s *Store) SetAlert(ctx context.Context, id domain.TargetID, lastState bool, sentAt time.Time) error {
	var sent sql.NullInt64
	if !sentAt.IsZero() {
		sent = sql.NullInt64{Int64: ts(sentAt), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO alerts (target_id, last_state, last_sent_at) VALUES (?, ?, ?)
ON CONFLICT(target_id) DO UPDATE SET last_state = excluded.last_state, last_sent_at = excluded.last_sent_at`,
		string(id), lastState, sent)
	if err != nil {
		return fmt.Errorf("set alert: %w", err)
	}
	return nil
}
