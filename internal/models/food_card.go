package models

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// FoodCard is a reusable record describing one purchasable or preparable food item.
type FoodCard struct {
	ID        int64    `db:"id" json:"id"`
	Name      string   `db:"name" json:"name"`
	ImageRef  string   `db:"image_ref" json:"image_ref"`
	Price     float64  `db:"price" json:"price"`
	Type      FoodType `db:"type" json:"type"`
	Note      string   `db:"note" json:"note,omitempty"`
	Location  string   `db:"location" json:"location,omitempty"` // dine_in only
	CreatedAt int64    `db:"created_at" json:"created_at"`       // Unix milliseconds
	UpdatedAt int64    `db:"updated_at" json:"updated_at"`       // Unix milliseconds
}

// TableName returns the table name for FoodCard.
func (FoodCard) TableName() string {
	return "food_cards"
}

// Validate checks the required fields.
func (c *FoodCard) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("food card name is required")
	}
	if strings.TrimSpace(c.ImageRef) == "" {
		return errors.New("food card image is required")
	}
	if math.IsNaN(c.Price) || math.IsInf(c.Price, 0) || c.Price < 0 {
		return fmt.Errorf("invalid food card price %v", c.Price)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("unknown food type %q", c.Type)
	}
	return nil
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (c *FoodCard) CreatedAtTime() time.Time {
	return time.UnixMilli(c.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (c *FoodCard) UpdatedAtTime() time.Time {
	return time.UnixMilli(c.UpdatedAt)
}

// Stamp sets both timestamps for a new card. A CreatedAt already carried by
// the value (e.g. from an import) is kept.
func (c *FoodCard) Stamp(now int64) {
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

// NowMillis returns the current time in Unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
