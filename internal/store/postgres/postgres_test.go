package postgres

import (
	"testing"
	"time"

	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "postgres://u:p@db:5432/riskgate?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "riskgate"}))
	assert.Equal(t, "postgres://u:p@db:6543/riskgate?sslmode=require",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Port: 6543, Database: "riskgate", SSLMode: "require"}))
	assert.Equal(t, "postgres://explicit", DSN(ClientConfig{DSN: "postgres://explicit", Host: "ignored"}))
	assert.Equal(t, "postgres://u:p%40ss@db:5432/riskgate?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p@ss", Host: "db", Database: "riskgate"}))
}

func TestBuildAuditQuery(t *testing.T) {
	t.Parallel()

	q, args := buildAuditQuery(domain.ListOpts{})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log ORDER BY created_at DESC", q)
	assert.Empty(t, args)

	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)
	q, args = buildAuditQuery(domain.ListOpts{Since: &since, Until: &until, Limit: 50, Offset: 100})
	assert.Equal(t, "SELECT id, event, detail, created_at FROM audit_log"+
		" WHERE created_at >= $1 AND created_at <= $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4", q)
	assert.Equal(t, []any{since, until, 50, 100}, args)

	q, args = buildAuditQuery(domain.ListOpts{Until: &until})
	assert.Contains(t, q, "WHERE created_at <= $1")
	assert.Len(t, args, 1)
}

func TestMigrationsEmbedded(t *testing.T) {
	t.Parallel()

	names, err := migrationFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_ledger.sql", "002_audit_log.sql"}, names)
}
