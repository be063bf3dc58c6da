package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/caregiver-booking/internal/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DB{User: "app", Pass: "s3cret", Host: "db", Port: "3306", Name: "care"})
	assert.Equal(t, "app:s3cret@tcp(db:3306)/care?charset=utf8mb4&parseTime=true&loc=UTC", dsn)

	dsn = DSN(config.DB{User: "app", Host: "db", Port: "3306", Name: "care"})
	assert.Equal(t, "app@tcp(db:3306)/care?charset=utf8mb4&parseTime=true&loc=UTC", dsn)
}

func TestMigrateRunsEveryStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	stmts := Statements()
	require.Len(t, stmts, 7)
	for range stmts {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	require.NoError(t, Migrate(context.Background(), db))
	assert.NoError(t, mock.ExpectationsWereMet())
}
