package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/rwamarket/internal/domain"
)

func TestAuditQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	q, args := auditQuery(domain.ListOpts{})
	assert.Equal(t, `SELECT id, event, detail, created_at FROM audit_log WHERE TRUE ORDER BY created_at DESC, id DESC`, q)
	assert.Empty(t, args)

	q, args = auditQuery(domain.ListOpts{EventPrefix: "anomaly_", Since: &since, Limit: 50, Offset: 10})
	assert.Equal(t, `SELECT id, event, detail, created_at FROM audit_log WHERE TRUE`+
		` AND event LIKE $1 AND created_at >= $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`, q)
	require.Len(t, args, 4)
	assert.Equal(t, `anomaly\_%`, args[0])
	assert.Equal(t, since, args[1])
	assert.Equal(t, 50, args[2])
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql"}, names)
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/market?sslmode=disable",
		DSN(ClientConfig{User: "u", Password: "p", Host: "db", Database: "market"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}
