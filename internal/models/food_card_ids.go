package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FoodCardIDs is the ordered list of food cards eaten in a meal.
// It is stored as a JSON array of integers, e.g. "[1,2,3]". The ids are not
// checked against food_cards; a card deleted later simply resolves to nothing.
type FoodCardIDs []int64

// Encode returns the on-disk form. A nil list encodes as "[]".
func (ids FoodCardIDs) Encode() string {
	if len(ids) == 0 {
		return "[]"
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	b.WriteByte(']')
	return b.String()
}

// DecodeFoodCardIDs parses the on-disk form. It also accepts the bare
// comma-separated form ("1,2,3") and an empty string.
func DecodeFoodCardIDs(s string) (FoodCardIDs, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		return FoodCardIDs{}, nil
	}
	if strings.HasPrefix(s, "[") {
		var ids []int64
		if err := json.Unmarshal([]byte(s), &ids); err != nil {
			return nil, fmt.Errorf("invalid food card id list %q: %w", s, err)
		}
		return FoodCardIDs(ids), nil
	}
	parts := strings.Split(s, ",")
	ids := make(FoodCardIDs, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid food card id list %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Value implements driver.Valuer.
func (ids FoodCardIDs) Value() (driver.Value, error) {
	return ids.Encode(), nil
}

// Scan implements sql.Scanner.
func (ids *FoodCardIDs) Scan(value interface{}) error {
	var s string
	switch v := value.(type) {
	case nil:
		*ids = FoodCardIDs{}
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into FoodCardIDs", value)
	}
	decoded, err := DecodeFoodCardIDs(s)
	if err != nil {
		return err
	}
	*ids = decoded
	return nil
}

// Contains reports whether id is in the list.
func (ids FoodCardIDs) Contains(id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
