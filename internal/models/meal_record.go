package models

import (
	"fmt"
	"sort"
	"time"
)

// MealRecord is one logged eating event for a date and meal slot.
type MealRecord struct {
	ID          int64       `db:"id" json:"id"`
	Date        Date        `db:"date" json:"date"`
	MealType    MealType    `db:"meal_type" json:"meal_type"`
	FoodCardIDs FoodCardIDs `db:"food_card_ids" json:"food_card_ids"`
	Mood        Mood        `db:"mood" json:"mood"`
	Note        string      `db:"note" json:"note,omitempty"`
	CreatedAt   int64       `db:"created_at" json:"created_at"` // Unix milliseconds
	UpdatedAt   int64       `db:"updated_at" json:"updated_at"` // Unix milliseconds
}

// TableName returns the table name for MealRecord.
func (MealRecord) TableName() string {
	return "meal_records"
}

// Validate checks the required fields.
func (r *MealRecord) Validate() error {
	if _, err := ParseDate(string(r.Date)); err != nil {
		return err
	}
	if !r.MealType.Valid() {
		return fmt.Errorf("unknown meal type %q", r.MealType)
	}
	if !r.Mood.Valid() {
		return fmt.Errorf("unknown mood %q", r.Mood)
	}
	for _, id := range r.FoodCardIDs {
		if id <= 0 {
			return fmt.Errorf("invalid food card id %d", id)
		}
	}
	return nil
}

// Slot returns the (date, meal type) pair the record occupies.
func (r *MealRecord) Slot() string {
	return string(r.Date) + "/" + string(r.MealType)
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (r *MealRecord) CreatedAtTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (r *MealRecord) UpdatedAtTime() time.Time {
	return time.UnixMilli(r.UpdatedAt)
}

// Stamp sets both timestamps for a new record, keeping a carried CreatedAt.
func (r *MealRecord) Stamp(now int64) {
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
}

// SortByDayOrder sorts records of a day breakfast, lunch, dinner, for display.
// Records of different dates keep date-descending order.
func SortByDayOrder(records []*MealRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date > records[j].Date
		}
		return records[i].MealType.Rank() < records[j].MealType.Rank()
	})
}
