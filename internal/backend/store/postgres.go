package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"kycflow/internal/backend/models"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
	txcontext "kycflow/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

// Postgres stores verifications and writes the outbox entry in the same
// transaction, so an event exists if and only if the row does.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply backend schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Insert stores v and its ingested event. A second insert for the same
// session id returns ErrDuplicateSession and writes nothing.
func (s *Postgres) Insert(ctx context.Context, v *models.Verification) error {
	payload, err := json.Marshal(v.Event())
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		res, err := s.execer(ctx).ExecContext(ctx, `
			INSERT INTO verifications (
				id, session_id, device_id, platform, document_type, overall_score,
				grade, challenges, payload, completed_at, received_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (session_id) DO NOTHING
		`,
			v.ID,
			v.SessionID.String(),
			v.DeviceID,
			v.Platform,
			string(v.DocumentType),
			v.OverallScore,
			v.Grade,
			pq.Array(v.Challenges),
			[]byte(v.Payload),
			v.CompletedAt,
			v.ReceivedAt,
		)
		if err != nil {
			return fmt.Errorf("insert verification: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("insert verification: %w", err)
		} else if n == 0 {
			return ErrDuplicateSession
		}

		return s.appendOutbox(ctx, v.SessionID.String(), models.EventVerificationIngested, payload, v.ReceivedAt)
	})
}

func (s *Postgres) appendOutbox(ctx context.Context, aggregateID, eventType string, payload []byte, at time.Time) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO outbox (id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), aggregateID, eventType, payload, at)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

func (s *Postgres) FindBySessionID(ctx context.Context, sessionID id.SessionID) (*models.Verification, error) {
	var (
		v          models.Verification
		sid        string
		docType    string
		challenges []string
		payload    []byte
	)
	err := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, session_id, device_id, platform, document_type, overall_score,
		       grade, challenges, payload, completed_at, received_at
		FROM verifications WHERE session_id = $1
	`, sessionID.String()).Scan(
		&v.ID, &sid, &v.DeviceID, &v.Platform, &docType, &v.OverallScore,
		&v.Grade, pq.Array(&challenges), &payload, &v.CompletedAt, &v.ReceivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("verification %s: %w", sessionID, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find verification: %w", err)
	}
	if v.SessionID, err = id.ParseSessionID(sid); err != nil {
		return nil, fmt.Errorf("stored session id: %w", err)
	}
	v.DocumentType = id.DocumentType(docType)
	v.Challenges = challenges
	v.Payload = payload
	return &v, nil
}

// FetchUnpublished returns the oldest unpublished outbox entries.
func (s *Postgres) FetchUnpublished(ctx context.Context, limit int) ([]*models.OutboxEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch outbox: %w", err)
	}
	defer rows.Close()

	var out []*models.OutboxEntry
	for rows.Next() {
		var e models.OutboxEntry
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// MarkPublished stamps the given outbox entries in one statement.
func (s *Postgres) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, v := range ids {
		strs[i] = v.String()
	}
	_, err := s.execer(ctx).ExecContext(ctx,
		`UPDATE outbox SET published_at = $2 WHERE id = ANY($1::uuid[]) AND published_at IS NULL`,
		pq.Array(strs), at)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
