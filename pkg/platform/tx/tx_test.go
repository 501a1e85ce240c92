package tx

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "tx.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE items (name TEXT NOT NULL)`)
	require.NoError(t, err)
	return db
}

func count(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items`).Scan(&n))
	return n
}

func insert(ctx context.Context, name string) error {
	tx, ok := From(ctx)
	if !ok {
		return errors.New("no transaction in context")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES (?)`, name)
	return err
}

func TestRunCommits(t *testing.T) {
	db := openDB(t)
	err := Run(context.Background(), db, func(ctx context.Context) error {
		return insert(ctx, "a")
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, db))
}

func TestRunRollsBackOnError(t *testing.T) {
	db := openDB(t)
	boom := errors.New("boom")
	err := Run(context.Background(), db, func(ctx context.Context) error {
		require.NoError(t, insert(ctx, "a"))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, count(t, db))
}

func TestNestedRunJoinsOuterTransaction(t *testing.T) {
	db := openDB(t)
	boom := errors.New("boom")
	err := Run(context.Background(), db, func(ctx context.Context) error {
		outer, _ := From(ctx)
		require.NoError(t, Run(ctx, db, func(inner context.Context) error {
			tx, _ := From(inner)
			assert.Same(t, outer, tx)
			return insert(inner, "nested")
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, count(t, db), "nested work rolls back with the outer transaction")
}

func TestWithNilTx(t *testing.T) {
	ctx := WithTx(context.Background(), nil)
	_, ok := From(ctx)
	assert.False(t, ok)
}
