package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"
)

func TestClassify(t *testing.T) {
	db, _ := setupTestDB(t)

	_, err := db.Exec(`INSERT INTO meal_records (date, meal_type, mood, created_at, updated_at)
		VALUES ('2024-01-15', 'lunch', 'happy', 1, 1)`)
	assert.NoError(t, err)

	_, dup := db.Exec(`INSERT INTO meal_records (date, meal_type, mood, created_at, updated_at)
		VALUES ('2024-01-15', 'lunch', 'happy', 1, 1)`)
	assert.True(t, apperrors.Is(classify("dup", dup), apperrors.ErrConstraint))

	_, check := db.Exec(`INSERT INTO meal_records (date, meal_type, mood, created_at, updated_at)
		VALUES ('2024-01-16', 'brunch', 'happy', 1, 1)`)
	assert.True(t, apperrors.Is(classify("check", check), apperrors.ErrConstraint))

	_, syntax := db.Exec(`SELEC 1`)
	assert.Equal(t, apperrors.ErrDatabase, apperrors.CodeOf(classify("syntax", syntax)))

	assert.Nil(t, classify("nil", nil))
	assert.ErrorIs(t, classify("cancel", context.Canceled), context.Canceled)
	assert.True(t, apperrors.Is(classify("done", sql.ErrConnDone), apperrors.ErrStorageUnavailable))

	app := apperrors.New(apperrors.ErrNotFound, "x")
	assert.Same(t, app, classify("keep", app))

	plain := errors.New("something else")
	assert.Equal(t, apperrors.ErrDatabase, apperrors.CodeOf(classify("plain", plain)))
}
