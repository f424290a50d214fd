package db

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kimhsiao/threemeal/backend/internal/errors"
	"github.com/kimhsiao/threemeal/backend/internal/models"
)

func newRecord(date string, mt models.MealType, ids ...int64) *models.MealRecord {
	return &models.MealRecord{
		Date:        models.MustParseDate(date),
		MealType:    mt,
		FoodCardIDs: models.FoodCardIDs(ids),
		Mood:        models.MoodNormal,
	}
}

func setupMealRecords(t *testing.T) *MealRecordRepository {
	t.Helper()
	db, bus := setupTestDB(t)
	repo := NewMealRecordRepository(db, bus)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func insertAll(t *testing.T, repo *MealRecordRepository, records ...*models.MealRecord) {
	t.Helper()
	for _, r := range records {
		if _, err := repo.Insert(context.Background(), r); err != nil {
			t.Fatalf("Insert(%s) failed: %v", r.Slot(), err)
		}
	}
}

func slots(records []*models.MealRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Slot()
	}
	return out
}

func TestMealRecord_InsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := setupMealRecords(t)

	rec := newRecord("2024-01-15", models.MealLunch, 3, 1, 2)
	rec.Mood = models.MoodHappy
	rec.Note = "with colleagues"

	id, err := repo.Insert(ctx, rec)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, models.FoodCardIDs{3, 1, 2}, got.FoodCardIDs)

	bySlot, err := repo.GetByDateAndType(ctx, "2024-01-15", models.MealLunch)
	require.NoError(t, err)
	assert.Equal(t, id, bySlot.ID)
}

func TestMealRecord_GetMissingIsNotFound(t *testing.T) {
	ctx := context.Background()
	repo := setupMealRecords(t)

	_, err := repo.GetByDateAndType(ctx, "2024-01-15", models.MealDinner)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = repo.GetByID(ctx, 7)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = repo.GetByDateAndType(ctx, "2024-1-15", models.MealDinner)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestMealRecord_EmptyFoodCardIDs(t *testing.T) {
	ctx := context.Background()
	repo := setupMealRecords(t)

	rec := newRecord("2024-01-15", models.MealBreakfast)
	_, err := repo.Insert(ctx, rec)
	require.NoError(t, err)

	var raw string
	require.NoError(t, repo.db.QueryRow(`SELECT food_card_ids FROM meal_records WHERE id = ?`, rec.ID).Scan(&raw))
	assert.Equal(t, "[]", raw)

	got, err := repo.GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, got.FoodCardIDs)
}

// Records list by date descending, then meal type ascending.
func TestMealRecord_ListAllOrdering(t *testing.T) {
	ctx := context.Background()
	repo := setupMealRecords(t)

	insertAll(t, repo,
		newRecord("2024-01-14", models.MealBreakfast),
		newRecord("2024-01-15", models.MealLunch),
		newRecord("2024-01-15", models.MealBreakfast),
		newRecord("2024-01-16", models.MealDinner),
		newRecord("2024-01-15", models.MealDinner),
	)

	records, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"2024-01-16/dinner",
		"2024-01-15/breakfast",
		"2024-01-15/dinner",
		"2024-01-15/lunch",
		"2024-01-14/breakfast",
	}, slots(records))

	assert.True(t, sort.SliceIsSorted(records, func(i, j int) bool {
		return records[i].Date > records[j].Date
	}))

	day, err := repo.ListByDate(ctx, "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-15/breakfast", "2024-01-15/dinner", "2024-01-15/lunch"}, slots(day))

	models.SortByDayOrder(day)
	assert.Equal(t, []string{"2024-01-15/breakfast", "2024-01-15/lunch", "2024-01-15/dinner"}, slots(day))
}

// Range bounds are inclusive on both ends.
func TestMealRecord_ListByDateRange(t *testing.T) {
	ctx := context.Background()
	repo := setupMealRecords(t)

	for _, d := range []string{"2024-01-09", "2024-01-10", "2024-01-12", "2024-01-15", "2024-01-16"} {
		insertAll(t, repo, newRecord(d, models.MealLunch))
	}

	records, err := repo.ListByDateRange(ctx, "2024-01-10", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-15/lunch", "2024-01-12/lunch", "2024-01-10/lunch"}, slots(records))

	empty, err := repo.ListByDateRange(ctx, "2024-01-15", "2024-01-10")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = repo.ListByDateRange(ctx, "2024-01-10", "tomorrow")
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

// Two meals on one day give a single date entry.
func TestMealRecord_ListDatesDistinct(t *testing.T) {
	ctx := context.Background()
	repo := setupMealRecords(t)

	insertAll(t, repo,
		newRecord("2024-01-15", models.MealBreakfast),
		newRecord("2024-01-15", models.MealDinner),
		newRecord("2024-02-01", models.MealLunch),
		newRecord("2023-12-31", models.MealLunch),
	)

	dates, err := repo.ListDates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Date{"2024-02-01", "2024-01-15", "2023-12-31"}, dates)

	jan, err := repo.ListDatesInMonth(ctx, 2024, time.January)
	require.NoError(t, err)
	assert.Equal(t, []models.Date{"2024-01-15"}, jan)
}

func TestMealRecord_InsertSlotCollision(t *testing.T) {
	ctx := context.Background()
	repo := setupMealRecords(t)

	first := newRecord("2024-01-15", models.MealLunch, 1)
	insertAll(t, repo, first)

	_, err := repo.Insert(ctx, newRecord("2024-01-15", models.MealLunch, 2))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConstraint), "Insert() error = %v", err)

	got, err := repo.GetByDateAndType(ctx, "2024-01-15", models.MealLunch)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, models.FoodCardIDs{1}, got.FoodCardIDs)

	// re-inserting the occupant under its own id is an upsert, not a collision
	first.FoodCardIDs = models.FoodCardIDs{1, 4}
	_, err = repo.Insert(ctx, first)
	require.NoError(t, err)
}

func TestMealRecord_Update(t *testing.T) {
	ctx := context.Background()
	repo := setupMealRecords(t)

	lunch := newRecord("2024-01-15", models.MealLunch, 1)
	dinner := newRecord("2024-01-15", models.MealDinner, 2)
	insertAll(t, repo, lunch, dinner)
	prev := lunch.UpdatedAt

	lunch.Mood = models.MoodTerrible
	lunch.FoodCardIDs = models.FoodCardIDs{1, 5}
	require.NoError(t, repo.Update(ctx, lunch))
	assert.Greater(t, lunch.UpdatedAt, prev)

	got, err := repo.GetByID(ctx, lunch.ID)
	require.NoError(t, err)
	assert.Equal(t, lunch, got)

	// moving lunch onto the dinner slot collides
	moved := *lunch
	moved.MealType = models.MealDinner
	err = repo.Update(ctx, &moved)
	assert.True(t, apperrors.Is(err, apperrors.ErrConstraint), "Update() error = %v", err)

	ghost := newRecord("2024-01-20", models.MealLunch)
	ghost.ID = 999
	assert.True(t, apperrors.IsNotFound(repo.Update(ctx, ghost)))
}

func TestMealRecord_SaveForSlot(t *testing.T) {
	ctx := context.Background()
	repo := setupMealRecords(t)

	first := newRecord("2024-01-15", models.MealLunch, 1)
	first.CreatedAt = 1000
	id, err := repo.SaveForSlot(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, id, first.ID)

	second := newRecord("2024-01-15", models.MealLunch, 2, 3)
	second.Mood = models.MoodHappy
	id2, err := repo.SaveForSlot(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, id, id2, "overwrite keeps the occupant's id")
	assert.Equal(t, int64(1000), second.CreatedAt)

	got, err := repo.GetByDateAndType(ctx, "2024-01-15", models.MealLunch)
	require.NoError(t, err)
	assert.Equal(t, models.FoodCardIDs{2, 3}, got.FoodCardIDs)
	assert.Equal(t, models.MoodHappy, got.Mood)

	n, err := repo.CountByDate(ctx, "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMealRecord_Deletes(t *testing.T) {
	ctx := context.Background()
	repo := setupMealRecords(t)

	a := newRecord("2024-01-10", models.MealLunch)
	insertAll(t, repo, a,
		newRecord("2024-01-10", models.MealDinner),
		newRecord("2024-01-11", models.MealLunch),
		newRecord("2024-01-12", models.MealLunch),
		newRecord("2024-01-20", models.MealLunch),
	)

	require.NoError(t, repo.Delete(ctx, a))
	require.NoError(t, repo.Delete(ctx, a))
	n, err := repo.CountByDate(ctx, "2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	removed, err := repo.DeleteByDate(ctx, "2024-01-10")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = repo.DeleteByDateRange(ctx, "2024-01-11", "2024-01-12")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	removed, err = repo.DeleteByDate(ctx, "2024-03-01")
	require.NoError(t, err)
	assert.Zero(t, removed)

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

// A subscriber established before an insert sees the new record.
func TestMealRecord_WatchByDateConverges(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repo := setupMealRecords(t)

	a := repo.WatchByDate(ctx, "2024-01-15")
	defer a.Close()
	b := repo.WatchByDate(ctx, "2024-01-15")
	defer b.Close()

	initial, err := a.Next(ctx)
	require.NoError(t, err)
	require.Empty(t, initial)

	rec := newRecord("2024-01-15", models.MealBreakfast, 9)
	insertAll(t, repo, rec, newRecord("2024-01-16", models.MealBreakfast))

	hasRecord := func(rs []*models.MealRecord) bool { return len(rs) == 1 && rs[0].ID == rec.ID }
	nextMatching(t, ctx, a.Next, hasRecord)
	nextMatching(t, ctx, b.Next, hasRecord)
}

func TestMealRecord_WatchDatesAndRange(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	repo := setupMealRecords(t)

	dates := repo.WatchDates(ctx)
	defer dates.Close()
	rng := repo.WatchByDateRange(ctx, "2024-01-01", "2024-01-31")
	defer rng.Close()
	all := repo.WatchAll(ctx)
	defer all.Close()
	month := repo.WatchDatesInMonth(ctx, 2024, time.January)
	defer month.Close()

	insertAll(t, repo,
		newRecord("2024-01-15", models.MealBreakfast),
		newRecord("2024-01-15", models.MealLunch),
		newRecord("2024-02-02", models.MealLunch),
	)

	nextMatching(t, ctx, dates.Next, func(d []models.Date) bool { return len(d) == 2 })
	nextMatching(t, ctx, rng.Next, func(r []*models.MealRecord) bool { return len(r) == 2 })
	nextMatching(t, ctx, all.Next, func(r []*models.MealRecord) bool { return len(r) == 3 })
	nextMatching(t, ctx, month.Next, func(d []models.Date) bool { return len(d) == 1 })

	_, err := repo.DeleteByDateRange(ctx, "2024-01-01", "2024-12-31")
	require.NoError(t, err)
	nextMatching(t, ctx, dates.Next, func(d []models.Date) bool { return len(d) == 0 })
}

// Writes to food cards do not wake meal record subscriptions.
func TestMealRecord_WatchIgnoresFoodCards(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, bus := setupTestDB(t)
	cards := NewFoodCardRepository(db, bus)
	meals := NewMealRecordRepository(db, bus)
	defer cards.Close()
	defer meals.Close()

	sub := meals.WatchAll(ctx)
	defer sub.Close()
	_, err := sub.Next(ctx)
	require.NoError(t, err)

	_, err = cards.Insert(ctx, newCard("tea", models.FoodTypeTakeout, 3))
	require.NoError(t, err)

	select {
	case r := <-sub.Updates():
		t.Fatalf("unexpected delivery %v", r)
	case <-time.After(100 * time.Millisecond):
	}
}
