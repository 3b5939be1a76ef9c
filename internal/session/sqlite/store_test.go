package sqlite_test

import (
	"context"
	"database/sql"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MJE43/arcade-scoregate/internal/database"
	"github.com/MJE43/arcade-scoregate/internal/session"
	"github.com/MJE43/arcade-scoregate/internal/session/sqlite"
	"github.com/MJE43/arcade-scoregate/internal/session/storetest"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(context.Background(), database.DriverSQLite,
		filepath.Join(t.TempDir(), "sessions.db"),
		database.Options{Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, policy session.Policy) session.Store {
		return sqlite.New(openDB(t), policy)
	})
}
