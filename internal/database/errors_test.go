package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uniqueRow struct {
	ID   int64  `gorm:"primaryKey"`
	Code string `gorm:"uniqueIndex"`
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, IsUniqueViolation(nil))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
}

func TestIsUniqueViolation_SQLite(t *testing.T) {
	db, err := Connect("file::memory:")
	require.NoError(t, err)
	require.NoError(t, Migrate(db, &uniqueRow{}))

	require.NoError(t, db.Create(&uniqueRow{Code: "a"}).Error)
	err = db.Create(&uniqueRow{Code: "a"}).Error
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
}
