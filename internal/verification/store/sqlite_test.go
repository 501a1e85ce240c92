package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kycflow/internal/verification/models"
	id "kycflow/pkg/domain"
	"kycflow/pkg/platform/sentinel"
)

func TestSQLiteReopenAfterCrashKeepsCommittedDocument(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kyc.db")

	crashed, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = crashed.Close() })

	sid, err := crashed.CreateSession(ctx, id.DocumentPassport, id.LanguageBengali)
	require.NoError(t, err)
	require.NoError(t, crashed.PutDocumentRecord(ctx, sid, &models.DocumentRecord{
		DocumentType:    id.DocumentPassport,
		ImageRef:        "media/passport.jpg",
		ExtractedFields: map[string]string{"number": "P1234567"},
		QualityScore:    0.82,
		ProcessedAt:     time.Now(),
	}))
	// The first handle is never closed cleanly; a second process opens the file.

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	session, err := reopened.GetSession(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, models.SessionInProgress, session.Status)

	doc, err := reopened.GetDocumentRecord(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 0.82, doc.QualityScore)
	assert.Equal(t, "P1234567", doc.ExtractedFields["number"])

	_, err = reopened.GetFaceRecord(ctx, sid)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestSQLitePragmasAndSchemaVersion(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "kyc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var mode string
	require.NoError(t, st.DB().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var sync int
	require.NoError(t, st.DB().QueryRowContext(ctx, "PRAGMA synchronous").Scan(&sync))
	assert.Equal(t, 2, sync, "synchronous=FULL")

	var fk int
	require.NoError(t, st.DB().QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var version int
	require.NoError(t, st.DB().QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)
}

func TestSQLiteMigratesFromVersionOne(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kyc.db")

	st, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, "DROP INDEX idx_sync_tasks_parked")
	require.NoError(t, err)
	_, err = st.DB().ExecContext(ctx, "PRAGMA user_version = 1")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var n int
	require.NoError(t, st.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_sync_tasks_parked'").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLiteRejectsScoresAtTheSchemaLevel(t *testing.T) {
	ctx := context.Background()
	st, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "kyc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sid, err := st.CreateSession(ctx, id.DocumentPAN, id.LanguageEnglish)
	require.NoError(t, err)

	_, err = st.DB().ExecContext(ctx, `
		INSERT INTO document_records (session_id, document_type, image_ref, quality_score, processed_at)
		VALUES (?, 'pan', 'x', 1.2, 0)`, sid.String())
	assert.Error(t, err)
}
