package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"
	"github.com/kimhsiao/threemeal/backend/internal/live"
	"github.com/kimhsiao/threemeal/backend/internal/logging"
	"github.com/kimhsiao/threemeal/backend/internal/models"
)

const mealRecordColumns = `id, date, meal_type, food_card_ids, mood, note, created_at, updated_at`

// Result ordering for record lists. meal_type sorts lexically, so a day reads
// breakfast, dinner, lunch; models.SortByDayOrder gives the display order.
const mealRecordOrder = ` ORDER BY date DESC, meal_type ASC`

// MealRecordRepository persists meal records. At most one record exists per
// (date, meal type) slot; Insert and Update report a collision as
// CONSTRAINT_VIOLATION and SaveForSlot overwrites the occupant instead.
type MealRecordRepository struct {
	*store
}

// NewMealRecordRepository creates a MealRecordRepository. Writes are
// announced on bus under TableMealRecords.
func NewMealRecordRepository(db *DB, bus *live.Bus) *MealRecordRepository {
	return &MealRecordRepository{store: newStore(db, bus)}
}

func scanMealRecord(sc rowScanner) (*models.MealRecord, error) {
	var r models.MealRecord
	var date, mealType, mood string
	var note sql.NullString
	if err := sc.Scan(&r.ID, &date, &mealType, &r.FoodCardIDs, &mood, &note,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	mt, err := models.ParseMealType(mealType)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "corrupt meal record row", err)
	}
	m, err := models.ParseMood(mood)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "corrupt meal record row", err)
	}
	r.Date = models.Date(date)
	r.MealType = mt
	r.Mood = m
	r.Note = note.String
	return &r, nil
}

func (r *MealRecordRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*models.MealRecord, error) {
	rows, err := r.query(ctx, op, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*models.MealRecord{}
	for rows.Next() {
		rec, err := scanMealRecord(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return records, nil
}

func validDate(d models.Date) error {
	if _, err := models.ParseDate(string(d)); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid date", err)
	}
	return nil
}

// ListAll returns every record, latest date first.
func (r *MealRecordRepository) ListAll(ctx context.Context) ([]*models.MealRecord, error) {
	return r.list(ctx, "list meal records",
		`SELECT `+mealRecordColumns+` FROM meal_records`+mealRecordOrder)
}

// WatchAll is the reactive form of ListAll.
func (r *MealRecordRepository) WatchAll(ctx context.Context) *live.Subscription[[]*models.MealRecord] {
	return live.Watch(ctx, r.bus, r.ListAll, TableMealRecords)
}

// ListByDate returns the records of one day.
func (r *MealRecordRepository) ListByDate(ctx context.Context, d models.Date) ([]*models.MealRecord, error) {
	if err := validDate(d); err != nil {
		return nil, err
	}
	return r.list(ctx, "list meal records by date",
		`SELECT `+mealRecordColumns+` FROM meal_records WHERE date = ?`+mealRecordOrder, string(d))
}

// WatchByDate is the reactive form of ListByDate.
func (r *MealRecordRepository) WatchByDate(ctx context.Context, d models.Date) *live.Subscription[[]*models.MealRecord] {
	return live.Watch(ctx, r.bus, func(ctx context.Context) ([]*models.MealRecord, error) {
		return r.ListByDate(ctx, d)
	}, TableMealRecords)
}

// ListByDateRange returns the records dated within [start, end], both ends
// included. A start after end yields an empty list.
func (r *MealRecordRepository) ListByDateRange(ctx context.Context, start, end models.Date) ([]*models.MealRecord, error) {
	if err := validDate(start); err != nil {
		return nil, err
	}
	if err := validDate(end); err != nil {
		return nil, err
	}
	return r.list(ctx, "list meal records by range",
		`SELECT `+mealRecordColumns+` FROM meal_records WHERE date >= ? AND date <= ?`+mealRecordOrder,
		string(start), string(end))
}

// WatchByDateRange is the reactive form of ListByDateRange.
func (r *MealRecordRepository) WatchByDateRange(ctx context.Context, start, end models.Date) *live.Subscription[[]*models.MealRecord] {
	return live.Watch(ctx, r.bus, func(ctx context.Context) ([]*models.MealRecord, error) {
		return r.ListByDateRange(ctx, start, end)
	}, TableMealRecords)
}

func (r *MealRecordRepository) dates(ctx context.Context, op, query string, args ...interface{}) ([]models.Date, error) {
	rows, err := r.query(ctx, op, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dates := []models.Date{}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, classify(op, err)
		}
		dates = append(dates, models.Date(d))
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return dates, nil
}

// ListDates returns each date that has at least one record, latest first.
func (r *MealRecordRepository) ListDates(ctx context.Context) ([]models.Date, error) {
	return r.dates(ctx, "list meal dates",
		`SELECT DISTINCT date FROM meal_records ORDER BY date DESC`)
}

// WatchDates is the reactive form of ListDates.
func (r *MealRecordRepository) WatchDates(ctx context.Context) *live.Subscription[[]models.Date] {
	return live.Watch(ctx, r.bus, r.ListDates, TableMealRecords)
}

// ListDatesInMonth returns the recorded dates of one calendar month, latest
// first. The calendar view uses it to mark days.
func (r *MealRecordRepository) ListDatesInMonth(ctx context.Context, year int, month time.Month) ([]models.Date, error) {
	first, last := models.MonthRange(year, month)
	return r.dates(ctx, "list meal dates in month",
		`SELECT DISTINCT date FROM meal_records WHERE date >= ? AND date <= ? ORDER BY date DESC`,
		string(first), string(last))
}

// WatchDatesInMonth is the reactive form of ListDatesInMonth.
func (r *MealRecordRepository) WatchDatesInMonth(ctx context.Context, year int, month time.Month) *live.Subscription[[]models.Date] {
	return live.Watch(ctx, r.bus, func(ctx context.Context) ([]models.Date, error) {
		return r.ListDatesInMonth(ctx, year, month)
	}, TableMealRecords)
}

// GetByID returns the record with the given id, or a NOT_FOUND error.
func (r *MealRecordRepository) GetByID(ctx context.Context, id int64) (*models.MealRecord, error) {
	stmt, err := r.PrepareStmt(ctx, `SELECT `+mealRecordColumns+` FROM meal_records WHERE id = ?`)
	if err != nil {
		return nil, err
	}
	rec, err := scanMealRecord(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("meal record", id)
	}
	if err != nil {
		return nil, classify("get meal record", err)
	}
	return rec, nil
}

// GetByDateAndType returns the record occupying a slot, or a NOT_FOUND error.
func (r *MealRecordRepository) GetByDateAndType(ctx context.Context, d models.Date, mt models.MealType) (*models.MealRecord, error) {
	if err := validDate(d); err != nil {
		return nil, err
	}
	stmt, err := r.PrepareStmt(ctx, `SELECT `+mealRecordColumns+` FROM meal_records WHERE date = ? AND meal_type = ?`)
	if err != nil {
		return nil, err
	}
	rec, err := scanMealRecord(stmt.QueryRowContext(ctx, string(d), string(mt)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("meal record", string(d)+"/"+string(mt))
	}
	if err != nil {
		return nil, classify("get meal record", err)
	}
	return rec, nil
}

func checkMealRecord(rec *models.MealRecord) error {
	if rec.ID < 0 {
		return apperrors.Newf(apperrors.ErrValidation, "invalid meal record id %d", rec.ID)
	}
	if err := rec.Validate(); err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid meal record", err)
	}
	return nil
}

const insertMealRecordSQL = `
	INSERT INTO meal_records (id, date, meal_type, food_card_ids, mood, note, created_at, updated_at)
	VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		date = excluded.date,
		meal_type = excluded.meal_type,
		food_card_ids = excluded.food_card_ids,
		mood = excluded.mood,
		note = excluded.note,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	RETURNING id`

const updateMealRecordSQL = `
	UPDATE meal_records
	SET date = ?, meal_type = ?, food_card_ids = ?, mood = ?, note = ?,
		updated_at = MAX(?, updated_at + 1)
	WHERE id = ?
	RETURNING created_at, updated_at`

// Insert stores rec and returns its id, with the same id rules as
// FoodCardRepository.Insert. A different record already occupying rec's
// slot makes Insert fail with CONSTRAINT_VIOLATION.
func (r *MealRecordRepository) Insert(ctx context.Context, rec *models.MealRecord) (int64, error) {
	if err := checkMealRecord(rec); err != nil {
		return 0, err
	}
	rec.Stamp(models.NowMillis())

	stmt, err := r.PrepareStmt(ctx, insertMealRecordSQL)
	if err != nil {
		return 0, err
	}
	var id int64
	err = stmt.QueryRowContext(ctx, rec.ID, string(rec.Date), string(rec.MealType), rec.FoodCardIDs,
		string(rec.Mood), nullString(rec.Note), rec.CreatedAt, rec.UpdatedAt).Scan(&id)
	if err != nil {
		return 0, classify("insert meal record "+rec.Slot(), err)
	}
	rec.ID = id
	r.bus.Publish(TableMealRecords)

	logging.Debug("meal record inserted", map[string]interface{}{"id": id, "slot": rec.Slot()})
	return id, nil
}

// Update overwrites the record with rec.ID. It returns NOT_FOUND when no such
// record exists and CONSTRAINT_VIOLATION when rec moves onto a slot held by
// another record.
func (r *MealRecordRepository) Update(ctx context.Context, rec *models.MealRecord) error {
	if rec.ID == 0 {
		return apperrors.New(apperrors.ErrValidation, "meal record id is required for update")
	}
	if err := checkMealRecord(rec); err != nil {
		return err
	}

	stmt, err := r.PrepareStmt(ctx, updateMealRecordSQL)
	if err != nil {
		return err
	}
	err = stmt.QueryRowContext(ctx, string(rec.Date), string(rec.MealType), rec.FoodCardIDs,
		string(rec.Mood), nullString(rec.Note), models.NowMillis(), rec.ID).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("meal record", rec.ID)
	}
	if err != nil {
		return classify("update meal record "+rec.Slot(), err)
	}
	r.bus.Publish(TableMealRecords)

	logging.Debug("meal record updated", map[string]interface{}{"id": rec.ID, "slot": rec.Slot()})
	return nil
}

// SaveForSlot stores rec as the record of its slot. When the slot is taken,
// the occupant is overwritten in place: it keeps its id and CreatedAt, and
// rec is updated with them. Otherwise rec is inserted. The lookup and the
// write run in one transaction.
func (r *MealRecordRepository) SaveForSlot(ctx context.Context, rec *models.MealRecord) (int64, error) {
	if err := checkMealRecord(rec); err != nil {
		return 0, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify("begin save meal record", err)
	}
	defer tx.Rollback()

	var occupantID, createdAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT id, created_at FROM meal_records WHERE date = ? AND meal_type = ?`,
		string(rec.Date), string(rec.MealType)).Scan(&occupantID, &createdAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		rec.Stamp(models.NowMillis())
		var id int64
		err = tx.QueryRowContext(ctx, insertMealRecordSQL, rec.ID, string(rec.Date), string(rec.MealType),
			rec.FoodCardIDs, string(rec.Mood), nullString(rec.Note), rec.CreatedAt, rec.UpdatedAt).Scan(&id)
		if err != nil {
			return 0, classify("insert meal record "+rec.Slot(), err)
		}
		rec.ID = id
	case err != nil:
		return 0, classify("find meal record "+rec.Slot(), err)
	default:
		rec.ID = occupantID
		err = tx.QueryRowContext(ctx, updateMealRecordSQL, string(rec.Date), string(rec.MealType),
			rec.FoodCardIDs, string(rec.Mood), nullString(rec.Note), models.NowMillis(), rec.ID).
			Scan(&rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return 0, classify("overwrite meal record "+rec.Slot(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, classify("commit save meal record", err)
	}
	r.bus.Publish(TableMealRecords)

	logging.Debug("meal record saved", map[string]interface{}{
		"id":          rec.ID,
		"slot":        rec.Slot(),
		"overwritten": occupantID != 0,
	})
	return rec.ID, nil
}

// Delete removes rec. Deleting a record that does not exist is not an error.
func (r *MealRecordRepository) Delete(ctx context.Context, rec *models.MealRecord) error {
	_, err := r.exec(ctx, TableMealRecords, "delete meal record",
		`DELETE FROM meal_records WHERE id = ?`, rec.ID)
	return err
}

// DeleteByDate removes every record of a day and returns how many there were.
func (r *MealRecordRepository) DeleteByDate(ctx context.Context, d models.Date) (int64, error) {
	if err := validDate(d); err != nil {
		return 0, err
	}
	return r.exec(ctx, TableMealRecords, "delete meal records by date",
		`DELETE FROM meal_records WHERE date = ?`, string(d))
}

// DeleteByDateRange removes every record dated within [start, end] and
// returns how many there were.
func (r *MealRecordRepository) DeleteByDateRange(ctx context.Context, start, end models.Date) (int64, error) {
	if err := validDate(start); err != nil {
		return 0, err
	}
	if err := validDate(end); err != nil {
		return 0, err
	}
	return r.exec(ctx, TableMealRecords, "delete meal records by range",
		`DELETE FROM meal_records WHERE date >= ? AND date <= ?`, string(start), string(end))
}

// CountByDate returns the number of records of a day.
func (r *MealRecordRepository) CountByDate(ctx context.Context, d models.Date) (int, error) {
	if err := validDate(d); err != nil {
		return 0, err
	}
	return r.count(ctx, "count meal records", `SELECT COUNT(*) FROM meal_records WHERE date = ?`, string(d))
}

// Count returns the number of records.
func (r *MealRecordRepository) Count(ctx context.Context) (int, error) {
	return r.count(ctx, "count meal records", `SELECT COUNT(*) FROM meal_records`)
}
