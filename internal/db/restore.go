package db

import (
	"context"
	"database/sql"
	"errors"

	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"
	"github.com/kimhsiao/threemeal/backend/internal/live"
	"github.com/kimhsiao/threemeal/backend/internal/logging"
	"github.com/kimhsiao/threemeal/backend/internal/models"
)

// RestoreResult reports the rows written by Restore.
type RestoreResult struct {
	FoodCards    int
	Meals        int
	SkippedMeals int // slot held by a record with another id
}

// SnapshotRepository writes rows of both tables together.
type SnapshotRepository struct {
	*store
}

// NewSnapshotRepository creates a SnapshotRepository. A successful Restore
// is announced on bus under both table names.
func NewSnapshotRepository(db *DB, bus *live.Bus) *SnapshotRepository {
	return &SnapshotRepository{store: newStore(db, bus)}
}

// Restore upserts cards and then meals by id in one transaction. Every row
// is checked before the first write, so an invalid row leaves both tables
// untouched. A meal whose slot is held by a record with a different id is
// skipped and counted. Rows are updated in place with their stored ids and
// timestamps.
func (r *SnapshotRepository) Restore(ctx context.Context, cards []*models.FoodCard, meals []*models.MealRecord) (*RestoreResult, error) {
	for i, c := range cards {
		if c == nil {
			return nil, apperrors.Newf(apperrors.ErrValidation, "food card %d is empty", i)
		}
		if err := checkFoodCard(c); err != nil {
			return nil, err
		}
	}
	for i, m := range meals {
		if m == nil {
			return nil, apperrors.Newf(apperrors.ErrValidation, "meal record %d is empty", i)
		}
		if err := checkMealRecord(m); err != nil {
			return nil, err
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify("begin restore", err)
	}
	defer tx.Rollback()

	now := models.NowMillis()
	result := &RestoreResult{}

	for _, c := range cards {
		c.Stamp(now)
		var id int64
		err := tx.QueryRowContext(ctx, insertFoodCardSQL, c.ID, c.Name, c.ImageRef, c.Price, string(c.Type),
			nullString(c.Note), nullString(c.Location), c.CreatedAt, c.UpdatedAt).Scan(&id)
		if err != nil {
			return nil, classify("restore food card", err)
		}
		c.ID = id
		result.FoodCards++
	}

	for _, m := range meals {
		var occupantID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM meal_records WHERE date = ? AND meal_type = ?`,
			string(m.Date), string(m.MealType)).Scan(&occupantID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return nil, classify("find meal record "+m.Slot(), err)
		case occupantID != m.ID:
			result.SkippedMeals++
			continue
		}

		m.Stamp(now)
		var id int64
		err = tx.QueryRowContext(ctx, insertMealRecordSQL, m.ID, string(m.Date), string(m.MealType),
			m.FoodCardIDs, string(m.Mood), nullString(m.Note), m.CreatedAt, m.UpdatedAt).Scan(&id)
		if err != nil {
			return nil, classify("restore meal record "+m.Slot(), err)
		}
		m.ID = id
		result.Meals++
	}

	if err := tx.Commit(); err != nil {
		return nil, classify("commit restore", err)
	}
	if result.FoodCards > 0 {
		r.bus.Publish(TableFoodCards)
	}
	if result.Meals > 0 {
		r.bus.Publish(TableMealRecords)
	}

	logging.Debug("snapshot restored", map[string]interface{}{
		"food_cards":    result.FoodCards,
		"meals":         result.Meals,
		"skipped_meals": result.SkippedMeals,
	})
	return result, nil
}
