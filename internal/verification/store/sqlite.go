package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"kycflow/internal/verification/models"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

//go:embed schema.sql
var schemaSQL string

// migrations[i] upgrades user_version i+1 to i+2. schema.sql is version 1.
var migrations = []string{
	`CREATE INDEX IF NOT EXISTS idx_sync_tasks_parked ON sync_tasks (status, updated_at)`,
}

var currentSchemaVersion = 1 + len(migrations)

// SQLite is the durable device RecordStore. Every write commits in its own
// transaction with synchronous=FULL, so a returned call survives a crash.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

type SQLiteOption func(*SQLite)

// WithSQLiteClock injects the time source.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLite) {
		s.now = now
	}
}

// OpenSQLite opens or creates the database at path and applies pending migrations.
func OpenSQLite(ctx context.Context, path string, opts ...SQLiteOption) (*SQLite, error) {
	q := url.Values{}
	for _, p := range []string{"journal_mode(WAL)", "synchronous(FULL)", "foreign_keys(1)", "busy_timeout(5000)"} {
		q.Add("_pragma", p)
	}
	db, err := sql.Open("sqlite", path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection serializes writers and keeps pragmas on a single handle.
	db.SetMaxOpenConns(1)

	if err := applySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SQLite{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB exposes the handle for health checks and tests.
func (s *SQLite) DB() *sql.DB { return s.db }

func applySchema(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version == 0 {
		if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		version = 1
	}
	for v := version; v < currentSchemaVersion; v++ {
		if _, err := db.ExecContext(ctx, migrations[v-1]); err != nil {
			return fmt.Errorf("migrate to v%d: %w", v+1, err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

func (s *SQLite) CreateSession(ctx context.Context, docType id.DocumentType, lang id.Language) (id.SessionID, error) {
	session, err := models.NewSession(id.NewSessionID(), docType, lang, s.now().UTC())
	if err != nil {
		return id.SessionID{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, document_type, language, status, created_at, sync_status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.ID.String(), string(session.DocumentType), string(session.Language),
		string(session.Status), toNanos(session.CreatedAt), string(session.SyncStatus))
	if err != nil {
		return id.SessionID{}, fmt.Errorf("insert session: %w", err)
	}
	return session.ID, nil
}

const sessionColumns = `id, document_type, language, status, created_at, completed_at,
	overall_score, challenges, failure_reason, sync_status`

func (s *SQLite) GetSession(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID.String())
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("session", sessionID)
	}
	return session, err
}

func (s *SQLite) ListSessions(ctx context.Context, filter models.SessionFilter) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (s *SQLite) SaveChallenges(ctx context.Context, sessionID id.SessionID, challenges []models.ChallengeID) error {
	if err := validateChallenges(challenges); err != nil {
		return err
	}
	encoded, err := json.Marshal(challenges)
	if err != nil {
		return fmt.Errorf("encode challenges: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		session, err := liveSessionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if len(session.Challenges) > 0 {
			if string(mustJSON(session.Challenges)) == string(encoded) {
				return nil
			}
			return ErrChallengesFixed
		}
		_, err = tx.ExecContext(ctx, `UPDATE sessions SET challenges = ? WHERE id = ?`, string(encoded), sessionID.String())
		if err != nil {
			return fmt.Errorf("save challenges: %w", err)
		}
		return nil
	})
}

func (s *SQLite) PutDocumentRecord(ctx context.Context, sessionID id.SessionID, record *models.DocumentRecord) error {
	if record == nil {
		return errNilRecord
	}
	rec := record.Clone()
	rec.SessionID = sessionID
	if err := rec.Validate(); err != nil {
		return err
	}
	fields, err := json.Marshal(nonNilFields(rec.ExtractedFields))
	if err != nil {
		return fmt.Errorf("encode extracted fields: %w", err)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := liveSessionTx(ctx, tx, sessionID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_records (session_id, document_type, image_ref, extracted_fields, quality_score, processed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id) DO UPDATE SET
				document_type = excluded.document_type,
				image_ref = excluded.image_ref,
				extracted_fields = excluded.extracted_fields,
				quality_score = excluded.quality_score,
				processed_at = excluded.processed_at`,
			sessionID.String(), string(rec.DocumentType), string(rec.ImageRef), string(fields),
			rec.QualityScore, toNanos(rec.ProcessedAt))
		if err != nil {
			return fmt.Errorf("upsert document record: %w", err)
		}
		return nil
	})
}

func (s *SQLite) PutFaceRecord(ctx context.Context, sessionID id.SessionID, record *models.FaceRecord) error {
	if record == nil {
		return errNilRecord
	}
	rec := record.Clone()
	rec.SessionID = sessionID
	if err := rec.Validate(); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := liveSessionTx(ctx, tx, sessionID); err != nil {
			return err
		}
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM document_records WHERE session_id = ?`, sessionID.String()).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("face record before document record: %w", ErrInvalidTransition)
		}
		if err != nil {
			return fmt.Errorf("check document record: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO face_records (session_id, image_ref, liveness_score, match_score, challenges, processed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id) DO UPDATE SET
				image_ref = excluded.image_ref,
				liveness_score = excluded.liveness_score,
				match_score = excluded.match_score,
				challenges = excluded.challenges,
				processed_at = excluded.processed_at`,
			sessionID.String(), string(rec.ImageRef), rec.LivenessScore, nullFloat(rec.MatchScore),
			string(mustJSON(rec.Challenges)), toNanos(rec.ProcessedAt))
		if err != nil {
			return fmt.Errorf("upsert face record: %w", err)
		}
		return nil
	})
}

func (s *SQLite) GetDocumentRecord(ctx context.Context, sessionID id.SessionID) (*models.DocumentRecord, error) {
	var (
		rec         models.DocumentRecord
		docType     string
		imageRef    string
		fields      string
		processedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT document_type, image_ref, extracted_fields, quality_score, processed_at
		FROM document_records WHERE session_id = ?`, sessionID.String()).
		Scan(&docType, &imageRef, &fields, &rec.QualityScore, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("document record", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get document record: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &rec.ExtractedFields); err != nil {
		return nil, fmt.Errorf("decode extracted fields: %w", err)
	}
	rec.SessionID = sessionID
	rec.DocumentType = id.DocumentType(docType)
	rec.ImageRef = models.ImageRef(imageRef)
	rec.ProcessedAt = fromNanos(processedAt)
	return &rec, nil
}

func (s *SQLite) GetFaceRecord(ctx context.Context, sessionID id.SessionID) (*models.FaceRecord, error) {
	var (
		rec         models.FaceRecord
		imageRef    string
		match       sql.NullFloat64
		challenges  string
		processedAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT image_ref, liveness_score, match_score, challenges, processed_at
		FROM face_records WHERE session_id = ?`, sessionID.String()).
		Scan(&imageRef, &rec.LivenessScore, &match, &challenges, &processedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("face record", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get face record: %w", err)
	}
	if err := json.Unmarshal([]byte(challenges), &rec.Challenges); err != nil {
		return nil, fmt.Errorf("decode challenges: %w", err)
	}
	if match.Valid {
		v := match.Float64
		rec.MatchScore = &v
	}
	rec.SessionID = sessionID
	rec.ImageRef = models.ImageRef(imageRef)
	rec.ProcessedAt = fromNanos(processedAt)
	return &rec, nil
}

func (s *SQLite) UpdateSessionStatus(ctx context.Context, sessionID id.SessionID, status models.SessionStatus, overall *float64, reason models.FailureReason) error {
	if overall != nil && !models.ValidScore(*overall) {
		return fmt.Errorf("overall score %v: %w", *overall, ErrInvalidTransition)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		session, err := sessionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !session.Status.CanTransitionTo(status) {
			return fmt.Errorf("session %s %s -> %s: %w", sessionID, session.Status, status, ErrInvalidTransition)
		}
		if status == models.SessionCompleted {
			if err := checkCompletableTx(ctx, tx, sessionID); err != nil {
				return err
			}
		}
		if status != models.SessionFailed {
			reason = models.FailureNone
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, completed_at = ?, overall_score = COALESCE(?, overall_score), failure_reason = ?
			WHERE id = ?`,
			string(status), toNanos(s.now().UTC()), nullFloat(overall), string(reason), sessionID.String())
		if err != nil {
			return fmt.Errorf("update session status: %w", err)
		}
		return nil
	})
}

func (s *SQLite) CompleteSession(ctx context.Context, sessionID id.SessionID, overall float64, task *models.SyncTask) error {
	if !models.ValidScore(overall) {
		return fmt.Errorf("overall score %v: %w", overall, ErrInvalidTransition)
	}
	if task == nil || task.SessionID != sessionID {
		return fmt.Errorf("sync task does not belong to session %s: %w", sessionID, ErrInvalidTransition)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		session, err := sessionTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if !session.Status.CanTransitionTo(models.SessionCompleted) {
			return fmt.Errorf("session %s %s -> completed: %w", sessionID, session.Status, ErrInvalidTransition)
		}
		if err := checkCompletableTx(ctx, tx, sessionID); err != nil {
			return err
		}
		now := toNanos(s.now().UTC())
		_, err = tx.ExecContext(ctx, `
			UPDATE sessions SET status = ?, completed_at = ?, overall_score = ?, sync_status = ?
			WHERE id = ?`,
			string(models.SessionCompleted), now, overall, string(models.SyncPending), sessionID.String())
		if err != nil {
			return fmt.Errorf("complete session: %w", err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO sync_tasks (session_id, payload, attempts, last_error, status, next_attempt_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id) DO NOTHING`,
			sessionID.String(), []byte(task.Payload), task.Attempts, task.LastError,
			string(models.SyncTaskPending), toNanos(task.NextAttemptAt), toNanos(task.CreatedAt), now)
		if err != nil {
			return fmt.Errorf("insert sync task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("sync task for %s: %w", sessionID, sentinel.ErrConflict)
		}
		return nil
	})
}

const taskColumns = `session_id, payload, attempts, last_error, status, next_attempt_at, created_at, updated_at, synced_at`

func (s *SQLite) ListPendingSyncTasks(ctx context.Context) ([]*models.SyncTask, error) {
	return s.ListSyncTasks(ctx, models.SyncFilter{Status: models.SyncTaskPending})
}

func (s *SQLite) ListSyncTasks(ctx context.Context, filter models.SyncFilter) ([]*models.SyncTask, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.SessionID != nil {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID.String())
	}
	query := `SELECT ` + taskColumns + ` FROM sync_tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at`
	return s.queryTasks(ctx, query, args...)
}

func (s *SQLite) GetSyncTask(ctx context.Context, sessionID id.SessionID) (*models.SyncTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM sync_tasks WHERE session_id = ?`, sessionID.String())
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("sync task", sessionID)
	}
	return task, err
}

func (s *SQLite) ListDueSyncTasks(ctx context.Context, now time.Time, limit int) ([]*models.SyncTask, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM sync_tasks
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at LIMIT ?`,
		string(models.SyncTaskPending), toNanos(now.UTC()), limit)
}

func (s *SQLite) MarkSyncUploading(ctx context.Context, sessionID id.SessionID) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		task, err := taskTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if task.Status != models.SyncTaskPending {
			return fmt.Errorf("sync task %s %s -> uploading: %w", sessionID, task.Status, ErrInvalidTransition)
		}
		_, err = tx.ExecContext(ctx, `UPDATE sync_tasks SET status = ?, attempts = attempts + 1, updated_at = ? WHERE session_id = ?`,
			string(models.SyncTaskUploading), toNanos(s.now().UTC()), sessionID.String())
		if err != nil {
			return fmt.Errorf("mark uploading: %w", err)
		}
		return setSessionSyncTx(ctx, tx, sessionID, models.SyncTaskUploading)
	})
}

func (s *SQLite) MarkSyncSynced(ctx context.Context, sessionID id.SessionID) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		task, err := taskTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		switch task.Status {
		case models.SyncTaskSynced:
			return nil
		case models.SyncTaskFailed:
			return fmt.Errorf("sync task %s failed -> synced: %w", sessionID, ErrInvalidTransition)
		}
		now := toNanos(s.now().UTC())
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_tasks SET status = ?, updated_at = ?, synced_at = ?, last_error = ''
			WHERE session_id = ?`,
			string(models.SyncTaskSynced), now, now, sessionID.String())
		if err != nil {
			return fmt.Errorf("mark synced: %w", err)
		}
		return setSessionSyncTx(ctx, tx, sessionID, models.SyncTaskSynced)
	})
}

func (s *SQLite) MarkSyncFailedAttempt(ctx context.Context, sessionID id.SessionID, attempts int, lastErr string, nextAttemptAt time.Time, park bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		task, err := taskTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if task.Status == models.SyncTaskSynced {
			return fmt.Errorf("sync task %s already synced: %w", sessionID, ErrInvalidTransition)
		}
		if attempts < task.Attempts {
			return fmt.Errorf("sync task %s attempts %d < %d: %w", sessionID, attempts, task.Attempts, ErrInvalidTransition)
		}
		status := models.SyncTaskPending
		if park {
			status = models.SyncTaskFailed
		}
		now := toNanos(s.now().UTC())
		_, err = tx.ExecContext(ctx, `
			UPDATE sync_tasks SET status = ?, attempts = ?, last_error = ?, next_attempt_at = ?, updated_at = ?
			WHERE session_id = ?`,
			string(status), attempts, lastErr, toNanos(nextAttemptAt.UTC()), now, sessionID.String())
		if err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
		return setSessionSyncTx(ctx, tx, sessionID, status)
	})
}

func (s *SQLite) RequeueSyncTasks(ctx context.Context, filter models.SyncFilter) (int, error) {
	where := []string{"status = ?"}
	args := []any{string(models.SyncTaskFailed)}
	if filter.SessionID != nil {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID.String())
	}
	if !filter.ParkedBefore.IsZero() {
		where = append(where, "updated_at < ?")
		args = append(args, toNanos(filter.ParkedBefore.UTC()))
	}
	return s.moveTasks(ctx, models.SyncTaskPending, true, strings.Join(where, " AND "), args...)
}

func (s *SQLite) ResetStuckUploads(ctx context.Context) (int, error) {
	return s.moveTasks(ctx, models.SyncTaskPending, false, "status = ?", string(models.SyncTaskUploading))
}

// moveTasks sets status on every task matching where and mirrors it on the sessions.
func (s *SQLite) moveTasks(ctx context.Context, status models.SyncTaskStatus, resetSchedule bool, where string, args ...any) (int, error) {
	var n int
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT session_id FROM sync_tasks WHERE `+where, args...)
		if err != nil {
			return fmt.Errorf("select tasks: %w", err)
		}
		var ids []string
		for rows.Next() {
			var sid string
			if err := rows.Scan(&sid); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, sid)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		now := toNanos(s.now().UTC())
		for _, sid := range ids {
			query := `UPDATE sync_tasks SET status = ?, updated_at = ? WHERE session_id = ?`
			args := []any{string(status), now, sid}
			if resetSchedule {
				query = `UPDATE sync_tasks SET status = ?, updated_at = ?, next_attempt_at = ? WHERE session_id = ?`
				args = []any{string(status), now, now, sid}
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("update task %s: %w", sid, err)
			}
			if _, err := tx.ExecContext(ctx, `UPDATE sessions SET sync_status = ? WHERE id = ?`,
				string(status.SyncStatus()), sid); err != nil {
				return fmt.Errorf("update session %s sync status: %w", sid, err)
			}
		}
		n = len(ids)
		return nil
	})
	return n, err
}

func setSessionSyncTx(ctx context.Context, tx *sql.Tx, sessionID id.SessionID, status models.SyncTaskStatus) error {
	_, err := tx.ExecContext(ctx, `UPDATE sessions SET sync_status = ? WHERE id = ?`,
		string(status.SyncStatus()), sessionID.String())
	if err != nil {
		return fmt.Errorf("update session sync status: %w", err)
	}
	return nil
}

func (s *SQLite) queryTasks(ctx context.Context, query string, args ...any) ([]*models.SyncTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sync tasks: %w", err)
	}
	defer rows.Close()
	var out []*models.SyncTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.Session, error) {
	var (
		session     models.Session
		sid         string
		docType     string
		lang        string
		status      string
		createdAt   int64
		completedAt sql.NullInt64
		overall     sql.NullFloat64
		challenges  string
		reason      string
		syncStatus  string
	)
	if err := row.Scan(&sid, &docType, &lang, &status, &createdAt, &completedAt, &overall, &challenges, &reason, &syncStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	parsed, err := id.ParseSessionID(sid)
	if err != nil {
		return nil, fmt.Errorf("scan session id: %w", err)
	}
	if err := json.Unmarshal([]byte(challenges), &session.Challenges); err != nil {
		return nil, fmt.Errorf("decode challenges: %w", err)
	}
	session.ID = parsed
	session.DocumentType = id.DocumentType(docType)
	session.Language = id.Language(lang)
	session.Status = models.SessionStatus(status)
	session.CreatedAt = fromNanos(createdAt)
	if completedAt.Valid {
		t := fromNanos(completedAt.Int64)
		session.CompletedAt = &t
	}
	if overall.Valid {
		v := overall.Float64
		session.OverallScore = &v
	}
	session.FailureReason = models.FailureReason(reason)
	session.SyncStatus = models.SyncStatus(syncStatus)
	return &session, nil
}

func scanTask(row scanner) (*models.SyncTask, error) {
	var (
		task      models.SyncTask
		sid       string
		payload   []byte
		status    string
		next      int64
		createdAt int64
		updatedAt int64
		syncedAt  sql.NullInt64
	)
	if err := row.Scan(&sid, &payload, &task.Attempts, &task.LastError, &status, &next, &createdAt, &updatedAt, &syncedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan sync task: %w", err)
	}
	parsed, err := id.ParseSessionID(sid)
	if err != nil {
		return nil, fmt.Errorf("scan sync task id: %w", err)
	}
	task.SessionID = parsed
	task.Payload = payload
	task.Status = models.SyncTaskStatus(status)
	task.NextAttemptAt = fromNanos(next)
	task.CreatedAt = fromNanos(createdAt)
	task.UpdatedAt = fromNanos(updatedAt)
	if syncedAt.Valid {
		t := fromNanos(syncedAt.Int64)
		task.SyncedAt = &t
	}
	return &task, nil
}

func sessionTx(ctx context.Context, tx *sql.Tx, sessionID id.SessionID) (*models.Session, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID.String())
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("session", sessionID)
	}
	return session, err
}

func liveSessionTx(ctx context.Context, tx *sql.Tx, sessionID id.SessionID) (*models.Session, error) {
	session, err := sessionTx(ctx, tx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, notFound("in-progress session", sessionID)
	}
	return session, nil
}

func taskTx(ctx context.Context, tx *sql.Tx, sessionID id.SessionID) (*models.SyncTask, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM sync_tasks WHERE session_id = ?`, sessionID.String())
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("sync task", sessionID)
	}
	return task, err
}

func checkCompletableTx(ctx context.Context, tx *sql.Tx, sessionID id.SessionID) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM document_records WHERE session_id = ?`, sessionID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("complete %s without document record: %w", sessionID, ErrInvalidTransition)
	}
	if err != nil {
		return fmt.Errorf("check document record: %w", err)
	}
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM face_records WHERE session_id = ? AND match_score IS NOT NULL`, sessionID.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("complete %s without matched face record: %w", sessionID, ErrInvalidTransition)
	}
	if err != nil {
		return fmt.Errorf("check face record: %w", err)
	}
	return nil
}

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nonNilFields(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func mustJSON(v []models.ChallengeID) []byte {
	if v == nil {
		v = []models.ChallengeID{}
	}
	b, _ := json.Marshal(v)
	return b
}
