package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialsDSNFormatsMySQLStyle(t *testing.T) {
	c := Credentials{Host: "db.internal", Port: 3306, User: "ingest", Password: "secret", Database: "events", ConnectionTimeout: 5}
	assert.Equal(t, "ingest:secret@tcp(db.internal:3306)/events?parseTime=true&timeout=5s", c.DSN())
}

func TestCredentialsDSNDefaultsTimeout(t *testing.T) {
	c := Credentials{Host: "db", Port: 3306, User: "u", Password: "p", Database: "d"}
	assert.Contains(t, c.DSN(), "timeout=10s")
}

func TestApplyEnvOverridesReplacesMatchingFields(t *testing.T) {
	t.Setenv("HOST", "override-host")
	t.Setenv("PORT", "5432")
	creds := Credentials{Host: "original-host", Port: 3306}
	applyEnvOverrides(&creds)
	assert.Equal(t, "override-host", creds.Host)
	assert.Equal(t, 5432, creds.Port)
}

func TestApplyEnvOverridesLeavesUnsetFieldsAlone(t *testing.T) {
	os.Unsetenv("PASSWORD")
	creds := Credentials{Password: "kept"}
	applyEnvOverrides(&creds)
	assert.Equal(t, "kept", creds.Password)
}

func TestSchemaNamePrefixesWhenSet(t *testing.T) {
	c := Credentials{Database: "events", SchemaPrefix: "ingestpipe_"}
	assert.Equal(t, "ingestpipe_events", c.schemaName())
}

func TestSchemaNameFallsBackToDatabase(t *testing.T) {
	c := Credentials{Database: "events"}
	assert.Equal(t, "events", c.schemaName())
}

func TestLoadCredentialsDecodesTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.toml")
	contents := `
[credentials]
host = "db.internal"
port = 3306
user = "ingest"
password = "secret"
database = "events"
schema_prefix = "ingestpipe"
connection_timeout = 15
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "db.internal", creds.Host)
	assert.Equal(t, 3306, creds.Port)
	assert.Equal(t, "ingest", creds.User)
	assert.Equal(t, 15, creds.ConnectionTimeout)
}
