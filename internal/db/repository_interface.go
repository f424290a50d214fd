package db

import (
	"context"
	"time"

	"github.com/kimhsiao/threemeal/backend/internal/live"
	"github.com/kimhsiao/threemeal/backend/internal/models"
)

// FoodCardStore defines food card persistence.
// Watch* methods return reactive queries that deliver the current result
// and a new one after every write to food_cards.
type FoodCardStore interface {
	ListAll(ctx context.Context) ([]*models.FoodCard, error)
	WatchAll(ctx context.Context) *live.Subscription[[]*models.FoodCard]

	ListByType(ctx context.Context, t models.FoodType) ([]*models.FoodCard, error)
	WatchByType(ctx context.Context, t models.FoodType) *live.Subscription[[]*models.FoodCard]

	Search(ctx context.Context, q string) ([]*models.FoodCard, error)
	WatchSearch(ctx context.Context, q string) *live.Subscription[[]*models.FoodCard]

	// GetByID returns a NOT_FOUND error when no card has id.
	GetByID(ctx context.Context, id int64) (*models.FoodCard, error)

	Insert(ctx context.Context, c *models.FoodCard) (int64, error)
	Update(ctx context.Context, c *models.FoodCard) error

	Delete(ctx context.Context, c *models.FoodCard) error
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)

	Count(ctx context.Context) (int, error)
}

// MealRecordStore defines meal record persistence.
// Watch* methods return reactive queries that deliver the current result
// and a new one after every write to meal_records.
type MealRecordStore interface {
	ListAll(ctx context.Context) ([]*models.MealRecord, error)
	WatchAll(ctx context.Context) *live.Subscription[[]*models.MealRecord]

	ListByDate(ctx context.Context, d models.Date) ([]*models.MealRecord, error)
	WatchByDate(ctx context.Context, d models.Date) *live.Subscription[[]*models.MealRecord]

	ListByDateRange(ctx context.Context, start, end models.Date) ([]*models.MealRecord, error)
	WatchByDateRange(ctx context.Context, start, end models.Date) *live.Subscription[[]*models.MealRecord]

	ListDates(ctx context.Context) ([]models.Date, error)
	WatchDates(ctx context.Context) *live.Subscription[[]models.Date]
	ListDatesInMonth(ctx context.Context, year int, month time.Month) ([]models.Date, error)

	GetByID(ctx context.Context, id int64) (*models.MealRecord, error)
	// GetByDateAndType returns a NOT_FOUND error when the slot is empty.
	GetByDateAndType(ctx context.Context, d models.Date, mt models.MealType) (*models.MealRecord, error)

	Insert(ctx context.Context, rec *models.MealRecord) (int64, error)
	Update(ctx context.Context, rec *models.MealRecord) error
	SaveForSlot(ctx context.Context, rec *models.MealRecord) (int64, error)

	Delete(ctx context.Context, rec *models.MealRecord) error
	DeleteByDate(ctx context.Context, d models.Date) (int64, error)
	DeleteByDateRange(ctx context.Context, start, end models.Date) (int64, error)

	CountByDate(ctx context.Context, d models.Date) (int, error)
}

// SnapshotStore writes archived rows of both tables atomically.
type SnapshotStore interface {
	Restore(ctx context.Context, cards []*models.FoodCard, meals []*models.MealRecord) (*RestoreResult, error)
}

// Ensure the repositories implement the interfaces at compile time.
var (
	_ FoodCardStore   = (*FoodCardRepository)(nil)
	_ MealRecordStore = (*MealRecordRepository)(nil)
	_ SnapshotStore   = (*SnapshotRepository)(nil)
)
