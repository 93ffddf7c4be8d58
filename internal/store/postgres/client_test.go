package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/smartexec?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "smartexec", User: "u", Password: "p"}))
	assert.Equal(t, "postgres://u:p@db:6543/x?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6543, Database: "x", User: "u", Password: "p", SSLMode: "require"}))
	assert.Equal(t, "postgres://override", DSN(ClientConfig{DSN: "postgres://override", Host: "ignored"}))
}

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q, args := listQuery("SELECT 1 FROM t WHERE 1=1", "created_at", domain.ListOpts{Since: &since, Limit: 10, Offset: 20})
	assert.Equal(t, "SELECT 1 FROM t WHERE 1=1 AND created_at >= $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3", q)
	assert.Equal(t, []any{since, 10, 20}, args)

	q, args = listQuery("SELECT 1 FROM t WHERE 1=1", "recorded_at", domain.ListOpts{})
	assert.Equal(t, "SELECT 1 FROM t WHERE 1=1 ORDER BY recorded_at DESC", q)
	assert.Empty(t, args)
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationsFS.ReadFile("migrations/001_init.sql")
	assert.NoError(t, err)
	for _, table := range []string{"audit_log", "transactions", "leg_attempts", "cost_samples"} {
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS "+table)
	}
}
