package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteDefaultsToWorkspaceFile(t *testing.T) {
	ws := t.TempDir()
	conn, err := Open(Config{Workspace: ws})
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Ping())

	_, err = conn.Exec(`CREATE TABLE scratch(id INTEGER)`)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(ws, ".castline", "castline.db"))
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, ".castline", "castline.db"), Path(ws))
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(Config{Dialect: DialectPostgres})
	assert.ErrorContains(t, err, "dsn")

	_, err = Open(Config{Dialect: "oracle"})
	assert.ErrorContains(t, err, "unsupported")
}

func TestRebind(t *testing.T) {
	q := `UPDATE documents SET body=? WHERE collection=? AND id=?`
	assert.Equal(t, q, Rebind(DialectSQLite, q))
	assert.Equal(t, `UPDATE documents SET body=$1 WHERE collection=$2 AND id=$3`, Rebind(DialectPostgres, q))
}
