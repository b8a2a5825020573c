package conn

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresDSN(t *testing.T) {
	dsn, err := Option{
		Driver:   DriverPostgres,
		Host:     "db",
		User:     "audit",
		Password: "secret",
		Database: "trail",
		Params:   map[string]string{"application_name": "auditd", "": "ignored"},
	}.dsn()
	require.NoError(t, err)
	assert.Equal(t, "postgres://audit:secret@db:5432/trail?application_name=auditd&sslmode=disable", dsn)

	dsn, err = Option{ConnString: "postgres://x"}.dsn()
	require.NoError(t, err)
	assert.Equal(t, "postgres://x", dsn)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Option{}.Validate())
	assert.NoError(t, Option{Driver: "Postgres"}.Validate())
	assert.Error(t, Option{Driver: "mysql"}.Validate())
}

func TestOpenSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index.db")
	c, err := New(Option{Path: path})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, DriverSQLite, c.Driver())
	require.NoError(t, c.DB().Exec("CREATE TABLE t (id INTEGER)").Error)
	assert.FileExists(t, path)
}

func TestNilClient(t *testing.T) {
	var c *Client
	assert.Nil(t, c.DB())
	assert.NoError(t, c.Close())
	assert.Empty(t, c.Driver())
}
